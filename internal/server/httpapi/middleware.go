package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/usersvc/internal/common"
	"github.com/dmitrijs2005/usersvc/internal/logging"
	"github.com/dmitrijs2005/usersvc/internal/server/auth"
	"github.com/go-chi/chi/v5/middleware"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the access token claims stored by requireBearer.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return c, ok
}

func requireBearer(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get(common.AuthorizationHeaderName))
			if !ok || v == nil {
				writeMessage(w, http.StatusUnauthorized, "Missing or malformed access token")
				return
			}

			claims, err := v.Validate(token)
			if err != nil {
				msg := "Invalid access token"
				if errors.Is(err, common.ErrTokenExpired) {
					msg = "Access token expired"
				}
				writeMessage(w, http.StatusUnauthorized, msg)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	if len(value) < len(common.BearerScheme) || !strings.EqualFold(value[:len(common.BearerScheme)], common.BearerScheme) {
		return "", false
	}
	token := strings.TrimSpace(value[len(common.BearerScheme):])
	return token, token != ""
}

// requestLogger logs one line per request. Query strings are left out since
// they can carry an email address.
func requestLogger(l logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				l.Info(r.Context(), "http request",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"remote", r.RemoteAddr,
					"duration", time.Since(start),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
