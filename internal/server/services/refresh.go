package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/usersvc/internal/common"
	"github.com/dmitrijs2005/usersvc/internal/dbx"
	"github.com/dmitrijs2005/usersvc/internal/server/models"
	"github.com/dmitrijs2005/usersvc/internal/server/repositories/repomanager"
)

// refreshTokenBytes is the entropy of an opaque refresh token.
const refreshTokenBytes = 32

// RefreshTokenPolicy sets refresh token lifetimes.
type RefreshTokenPolicy struct {
	// LoginValidity applies to the token granted at login.
	LoginValidity time.Duration
	// RotatedValidity applies after each successful rotation.
	RotatedValidity time.Duration
}

// RefreshTokenManager creates, rotates and revokes refresh tokens. All calls
// run against the DBTX they are given, so they compose into a caller's
// transaction.
type RefreshTokenManager struct {
	repomanager repomanager.RepositoryManager
	policy      RefreshTokenPolicy
	generate    func() (string, error)
	now         func() time.Time
}

// NewRefreshTokenManager builds a manager with crypto/rand backed tokens.
func NewRefreshTokenManager(m repomanager.RepositoryManager, policy RefreshTokenPolicy) *RefreshTokenManager {
	return &RefreshTokenManager{
		repomanager: m,
		policy:      policy,
		generate:    func() (string, error) { return common.MakeRandBase64String(refreshTokenBytes) },
		now:         time.Now,
	}
}

// IssueForUser persists a new login-grant token for userID.
func (m *RefreshTokenManager) IssueForUser(ctx context.Context, db dbx.DBTX, userID string) (*models.RefreshToken, error) {
	value, err := m.generate()
	if err != nil {
		return nil, fmt.Errorf("error generating refresh token: %w", err)
	}

	token := &models.RefreshToken{
		UserID:    userID,
		Token:     value,
		ExpiresAt: m.now().UTC().Add(m.policy.LoginValidity),
	}

	created, err := m.repomanager.RefreshTokens(db).Create(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("error storing refresh token: %w", err)
	}
	return created, nil
}

// Rotate swaps the presented token for a fresh value valid for
// RotatedValidity. It fails with common.ErrorNotFound when the token is
// unknown or was rotated concurrently, and with common.ErrRefreshTokenExpired
// once its expiry has passed.
func (m *RefreshTokenManager) Rotate(ctx context.Context, db dbx.DBTX, presented string) (*models.RefreshToken, error) {
	repo := m.repomanager.RefreshTokens(db)

	token, err := repo.Find(ctx, presented)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if token.Expired(now) {
		return nil, common.ErrRefreshTokenExpired
	}

	next, err := m.generate()
	if err != nil {
		return nil, fmt.Errorf("error generating refresh token: %w", err)
	}
	expires := now.Add(m.policy.RotatedValidity)

	if err := repo.Rotate(ctx, token.ID, presented, next, expires); err != nil {
		return nil, err
	}

	token.Token = next
	token.ExpiresAt = expires
	return token, nil
}

// Revoke deletes the token and reports whether it existed.
func (m *RefreshTokenManager) Revoke(ctx context.Context, db dbx.DBTX, token string) (bool, error) {
	return m.repomanager.RefreshTokens(db).Delete(ctx, token)
}

// PurgeExpired removes tokens that are already dead. Expired tokens are
// rejected on read regardless; this only reclaims space.
func (m *RefreshTokenManager) PurgeExpired(ctx context.Context, db dbx.DBTX) (int64, error) {
	n, err := m.repomanager.RefreshTokens(db).DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("error purging refresh tokens: %w", err)
	}
	return n, nil
}
