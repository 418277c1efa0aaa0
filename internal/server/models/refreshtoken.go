package models

import "time"

// RefreshToken is one session's continuation credential. Token is rewritten
// in place on rotation; ExpiresAt is UTC.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time

	// User is set when the row was loaded together with its owner.
	User *User
}

// Expired reports whether the token is dead at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
