// Package users declares the credential store contract for user records and
// its PostgreSQL implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/usersvc/internal/server/models"
)

// Repository defines the user-record operations the auth flows rely on.
// Lookups by username and email are case-insensitive. Missing rows yield
// common.ErrorNotFound.
type Repository interface {
	// Create inserts user and fills in ID and CreatedAt. Uniqueness is enforced
	// by the store: collisions yield common.ErrUsernameTaken or common.ErrEmailTaken.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id string, hash string) error

	// Update overwrites name, last name and username of the user with
	// user.ID. Email and password are changed through their own flows.
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	// Search filters by case-insensitive username and/or email prefix. Empty
	// filters match everything.
	Search(ctx context.Context, userName, email string) ([]*models.User, error)
}
