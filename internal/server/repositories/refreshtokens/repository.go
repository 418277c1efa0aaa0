// Package refreshtokens declares the server-side repository contract for
// managing refresh tokens in persistent storage.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/usersvc/internal/server/models"
)

// Repository defines operations for issuing, retrieving, rotating and revoking
// refresh tokens.
type Repository interface {
	// Create stores token and fills in ID (when empty) and CreatedAt.
	Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)

	// Find looks up a refresh token by its opaque token string together with
	// its owning user. Absent tokens yield common.ErrorNotFound.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Rotate replaces the token value and expiry of row id, but only while the
	// row still holds presented. If another rotation got there first nothing
	// is changed and common.ErrorNotFound is returned.
	Rotate(ctx context.Context, id, presented, next string, expiresAt time.Time) error

	// Delete removes a refresh token by its token string and reports whether
	// a row existed.
	Delete(ctx context.Context, token string) (bool, error)

	// DeleteExpired removes every token that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
