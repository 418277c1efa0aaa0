// Package services contains server-side business logic. AuthService composes
// the credential store, password hasher, token issuer and refresh token
// manager into register, login, logout, refresh and password reset.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/usersvc/internal/common"
	"github.com/dmitrijs2005/usersvc/internal/dbx"
	"github.com/dmitrijs2005/usersvc/internal/logging"
	"github.com/dmitrijs2005/usersvc/internal/server/auth"
	"github.com/dmitrijs2005/usersvc/internal/server/delivery"
	"github.com/dmitrijs2005/usersvc/internal/server/metrics"
	"github.com/dmitrijs2005/usersvc/internal/server/models"
	"github.com/dmitrijs2005/usersvc/internal/server/repositories/repomanager"
)

// User-visible messages. Login failures share one message whatever the cause.
const (
	MsgCredentialsRequired  = "Username and password are required"
	MsgUsernameExists       = "Username already exists"
	MsgEmailExists          = "Email already exists"
	MsgRegistered           = "User registered successfully"
	MsgRegisterDBError      = "Database error occurred while registering user"
	MsgInvalidCredentials   = "Invalid username or password"
	MsgLoginSuccessful      = "Login successful"
	MsgInvalidRefreshToken  = "Invalid refresh token"
	MsgLoggedOut            = "Logged out successfully"
	MsgTokensRefreshed      = "Tokens refreshed"
	MsgEmailRequired        = "Email address is required."
	MsgEmailNotFound        = "No user found with that email address."
	MsgPasswordReset        = "Password reset successfully. Use the provided password to log in."
	MsgResetPasswordFailure = "An unexpected error occurred while resetting the password."
	MsgUnexpected           = "An unexpected error occurred"
)

// GeneratedPasswordLength is the length of passwords produced by ResetPassword.
const GeneratedPasswordLength = 10

// RegisterRequest is the input of Register. Name, LastName and Email are optional.
type RegisterRequest struct {
	UserName string
	Password string
	Email    string
	Name     string
	LastName string
}

// LoginResponse is returned by a successful Login.
type LoginResponse struct {
	UserID       string
	AccessToken  string
	RefreshToken string
}

// TokenResponse is returned by a successful RefreshTokens.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
}

// AuthDeps are the collaborators of AuthService. Delivery, Logger and Metrics
// are optional.
type AuthDeps struct {
	Hasher   auth.PasswordHasher
	Issuer   *auth.TokenIssuer
	Refresh  *RefreshTokenManager
	Delivery delivery.CredentialDelivery
	Logger   logging.Logger
	Metrics  *metrics.Auth
}

// AuthService holds no per-session state; everything persistent lives in the
// credential store.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      auth.PasswordHasher
	issuer      *auth.TokenIssuer
	refresh     *RefreshTokenManager
	delivery    delivery.CredentialDelivery
	logger      logging.Logger
	metrics     *metrics.Auth

	// dummyHash is verified when the user does not exist so that both
	// login failure paths cost one hash verification.
	dummyHash string
}

// NewAuthService wires the service. It fails if a required collaborator is
// missing.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, deps AuthDeps) (*AuthService, error) {
	switch {
	case db == nil:
		return nil, errors.New("auth service: nil database")
	case m == nil:
		return nil, errors.New("auth service: nil repository manager")
	case deps.Hasher == nil:
		return nil, errors.New("auth service: nil password hasher")
	case deps.Issuer == nil:
		return nil, errors.New("auth service: nil token issuer")
	case deps.Refresh == nil:
		return nil, errors.New("auth service: nil refresh token manager")
	}

	if deps.Delivery == nil {
		deps.Delivery = delivery.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop{}
	}

	dummy, err := common.MakeRandBase64String(16)
	if err != nil {
		return nil, err
	}
	dummyHash, err := deps.Hasher.Hash(dummy)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	return &AuthService{
		db:          db,
		repomanager: m,
		hasher:      deps.Hasher,
		issuer:      deps.Issuer,
		refresh:     deps.Refresh,
		delivery:    deps.Delivery,
		logger:      deps.Logger.With("module", "auth_service"),
		metrics:     deps.Metrics,
		dummyHash:   dummyHash,
	}, nil
}

// Register creates a user. The username pre-check is advisory; the store's
// unique index decides concurrent races.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (res Result[*models.User]) {
	defer s.observe("register", &res.Status)

	if strings.TrimSpace(req.UserName) == "" || strings.TrimSpace(req.Password) == "" {
		return fail[*models.User](StatusBadRequest, MsgCredentialsRequired)
	}

	users := s.repomanager.Users(s.db)

	_, err := users.GetUserByLogin(ctx, req.UserName)
	switch {
	case err == nil:
		return fail[*models.User](StatusConflict, MsgUsernameExists)
	case !errors.Is(err, common.ErrorNotFound):
		s.logger.Error(ctx, "register: user lookup failed", "error", err)
		return fail[*models.User](StatusInternalServerError, MsgRegisterDBError)
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		s.logger.Error(ctx, "register: hashing failed", "error", err)
		return fail[*models.User](StatusInternalServerError, MsgUnexpected)
	}

	user, err := users.Create(ctx, &models.User{
		Name:         strings.TrimSpace(req.Name),
		LastName:     strings.TrimSpace(req.LastName),
		UserName:     req.UserName,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
	})
	switch {
	case errors.Is(err, common.ErrUsernameTaken):
		return fail[*models.User](StatusConflict, MsgUsernameExists)
	case errors.Is(err, common.ErrEmailTaken):
		return fail[*models.User](StatusConflict, MsgEmailExists)
	case err != nil:
		s.logger.Error(ctx, "register: insert failed", "error", err)
		return fail[*models.User](StatusInternalServerError, MsgRegisterDBError)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return Result[*models.User]{Status: StatusCreated, Message: MsgRegistered, Data: user}
}

// Login verifies credentials and returns an access token plus a freshly
// persisted refresh token. Unknown user and wrong password are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, userName, password string) (res Result[*LoginResponse]) {
	defer s.observe("login", &res.Status)

	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_, _ = s.verify(s.dummyHash, password)
			return fail[*LoginResponse](StatusUnauthorized, MsgInvalidCredentials)
		}
		s.logger.Error(ctx, "login: user lookup failed", "error", err)
		return fail[*LoginResponse](StatusInternalServerError, MsgUnexpected)
	}

	verdict, err := s.verify(user.PasswordHash, password)
	if err != nil {
		s.logger.Error(ctx, "login: stored hash unreadable", "user_id", user.ID, "error", err)
		return fail[*LoginResponse](StatusInternalServerError, MsgUnexpected)
	}
	if verdict != auth.VerificationSuccess {
		return fail[*LoginResponse](StatusUnauthorized, MsgInvalidCredentials)
	}

	access, _, err := s.issuer.Issue(user.ID, user.UserName)
	if err != nil {
		s.logger.Error(ctx, "login: access token signing failed", "error", err)
		return fail[*LoginResponse](StatusInternalServerError, MsgUnexpected)
	}

	refresh, err := s.refresh.IssueForUser(ctx, s.db, user.ID)
	if err != nil {
		s.logger.Error(ctx, "login: refresh token issue failed", "error", err)
		return fail[*LoginResponse](StatusInternalServerError, MsgUnexpected)
	}

	s.logger.Info(ctx, "login succeeded", "user_id", user.ID)
	return ok(&LoginResponse{UserID: user.ID, AccessToken: access, RefreshToken: refresh.Token}, MsgLoginSuccessful)
}

// Logout revokes the refresh token. A second call with the same token is a
// BadRequest because the token is gone. Access tokens stay valid until they
// expire.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) (res Result[bool]) {
	defer s.observe("logout", &res.Status)

	if strings.TrimSpace(refreshToken) == "" {
		return fail[bool](StatusBadRequest, MsgInvalidRefreshToken)
	}

	revoked, err := s.refresh.Revoke(ctx, s.db, refreshToken)
	if err != nil {
		s.logger.Error(ctx, "logout: revoke failed", "error", err)
		return fail[bool](StatusInternalServerError, MsgUnexpected)
	}
	if !revoked {
		return fail[bool](StatusBadRequest, MsgInvalidRefreshToken)
	}

	return ok(true, MsgLoggedOut)
}

// RefreshTokens rotates the refresh token and mints a new access token in a
// single transaction. Unknown, expired and concurrently rotated tokens all
// yield BadRequest.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (res Result[*TokenResponse]) {
	defer s.observe("refresh", &res.Status)

	if strings.TrimSpace(refreshToken) == "" {
		return fail[*TokenResponse](StatusBadRequest, MsgInvalidRefreshToken)
	}

	var pair *TokenResponse
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rotated, err := s.refresh.Rotate(ctx, tx, refreshToken)
		if err != nil {
			return err
		}

		userName := ""
		if rotated.User != nil {
			userName = rotated.User.UserName
		}
		access, _, err := s.issuer.Issue(rotated.UserID, userName)
		if err != nil {
			return fmt.Errorf("error signing access token: %w", err)
		}

		pair = &TokenResponse{AccessToken: access, RefreshToken: rotated.Token}
		return nil
	})

	switch {
	case err == nil:
		return ok(pair, MsgTokensRefreshed)
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrRefreshTokenExpired):
		return fail[*TokenResponse](StatusBadRequest, MsgInvalidRefreshToken)
	default:
		s.logger.Error(ctx, "refresh: rotation failed", "error", err)
		return fail[*TokenResponse](StatusInternalServerError, MsgUnexpected)
	}
}

// ResetPassword replaces the password of the user owning email with a random
// alphanumeric one. The new password goes to the delivery channel and is
// also returned once to the caller.
func (s *AuthService) ResetPassword(ctx context.Context, email string) (res Result[string]) {
	defer s.observe("reset_password", &res.Status)

	email = strings.TrimSpace(email)
	if email == "" {
		return fail[string](StatusBadRequest, MsgEmailRequired)
	}

	users := s.repomanager.Users(s.db)

	user, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fail[string](StatusNotFound, MsgEmailNotFound)
		}
		s.logger.Error(ctx, "reset password: user lookup failed", "error", err)
		return fail[string](StatusInternalServerError, MsgResetPasswordFailure)
	}

	password, err := common.MakeRandString(GeneratedPasswordLength, common.AlphaNumeric)
	if err != nil {
		s.logger.Error(ctx, "reset password: generation failed", "error", err)
		return fail[string](StatusInternalServerError, MsgResetPasswordFailure)
	}

	hash, err := s.hash(password)
	if err != nil {
		s.logger.Error(ctx, "reset password: hashing failed", "error", err)
		return fail[string](StatusInternalServerError, MsgResetPasswordFailure)
	}

	if err := users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fail[string](StatusNotFound, MsgEmailNotFound)
		}
		s.logger.Error(ctx, "reset password: update failed", "error", err)
		return fail[string](StatusInternalServerError, MsgResetPasswordFailure)
	}

	if err := s.delivery.DeliverPassword(ctx, user, password); err != nil {
		s.logger.Warn(ctx, "reset password: delivery failed", "user_id", user.ID, "error", err)
	}

	s.logger.Info(ctx, "password reset", "user_id", user.ID)
	return ok(password, MsgPasswordReset)
}

// PurgeExpiredRefreshTokens reclaims rows of dead refresh tokens.
func (s *AuthService) PurgeExpiredRefreshTokens(ctx context.Context) (int64, error) {
	return s.refresh.PurgeExpired(ctx, s.db)
}

func (s *AuthService) hash(password string) (string, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveHashing(time.Since(start)) }()
	return s.hasher.Hash(password)
}

func (s *AuthService) verify(hash, password string) (auth.VerificationResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveHashing(time.Since(start)) }()
	return s.hasher.Verify(hash, password)
}

func (s *AuthService) observe(operation string, status *Status) {
	s.metrics.ObserveOperation(operation, status.String())
}
