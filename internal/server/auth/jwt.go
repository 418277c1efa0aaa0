package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/usersvc/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the identity of the token holder on top of the registered
// JWT claims.
type Claims struct {
	UserID   string `json:"uid"`
	UserName string `json:"name"`
	jwt.RegisteredClaims
}

// IssuerConfig is the immutable signing setup for access tokens.
type IssuerConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	// Leeway tolerates clock skew when checking exp/nbf/iat.
	Leeway time.Duration
}

// TokenIssuer signs and validates HMAC-SHA512 access tokens. Validation is
// stateless: no store lookup is involved.
type TokenIssuer struct {
	cfg IssuerConfig
	now func() time.Time
}

// NewTokenIssuer validates cfg and returns an issuer.
func NewTokenIssuer(cfg IssuerConfig) (*TokenIssuer, error) {
	switch {
	case len(cfg.Secret) == 0:
		return nil, fmt.Errorf("%w: empty signing secret", common.ErrInvalidConfig)
	case strings.TrimSpace(cfg.Issuer) == "":
		return nil, fmt.Errorf("%w: empty issuer", common.ErrInvalidConfig)
	case strings.TrimSpace(cfg.Audience) == "":
		return nil, fmt.Errorf("%w: empty audience", common.ErrInvalidConfig)
	case cfg.TTL <= 0:
		return nil, fmt.Errorf("%w: access token ttl must be positive", common.ErrInvalidConfig)
	case cfg.Leeway < 0:
		return nil, fmt.Errorf("%w: negative leeway", common.ErrInvalidConfig)
	}
	return &TokenIssuer{cfg: cfg, now: time.Now}, nil
}

// Issue mints an access token for the user and returns it with its expiry.
func (i *TokenIssuer) Issue(userID, userName string) (string, time.Time, error) {
	now := i.now().UTC()
	expires := now.Add(i.cfg.TTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID:   userID,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})

	signed, err := token.SignedString(i.cfg.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Validate checks signature, algorithm, issuer, audience and expiry and
// returns the embedded claims. Expired tokens yield common.ErrTokenExpired,
// everything else common.ErrInvalidToken.
func (i *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.cfg.Leeway),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.cfg.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
