// Package httpapi exposes the auth flows over JSON/HTTP using chi.
package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/usersvc/internal/logging"
	"github.com/dmitrijs2005/usersvc/internal/server/auth"
	"github.com/dmitrijs2005/usersvc/internal/server/models"
	"github.com/dmitrijs2005/usersvc/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthService is the subset of *services.AuthService the handlers call.
type AuthService interface {
	Register(ctx context.Context, req services.RegisterRequest) services.Result[*models.User]
	Login(ctx context.Context, userName, password string) services.Result[*services.LoginResponse]
	Logout(ctx context.Context, refreshToken string) services.Result[bool]
	RefreshTokens(ctx context.Context, refreshToken string) services.Result[*services.TokenResponse]
	ResetPassword(ctx context.Context, email string) services.Result[string]
}

// TokenValidator checks bearer access tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Pinger reports backend liveness for /healthz. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps are the collaborators of the router. Gatherer and Health may be
// nil, in which case /metrics and the health probe are left out.
type RouterDeps struct {
	Service  AuthService
	Tokens   TokenValidator
	Logger   logging.Logger
	Gatherer prometheus.Gatherer
	Health   Pinger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(d RouterDeps) http.Handler {
	if d.Logger == nil {
		d.Logger = logging.Nop{}
	}
	h := &AuthHandler{service: d.Service}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger.With("module", "http")))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(d.Health))
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh-token", h.RefreshToken)
		r.Post("/reset-password", h.ResetPassword)

		r.With(requireBearer(d.Tokens)).Post("/logout", h.Logout)
	})

	return r
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.PingContext(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
