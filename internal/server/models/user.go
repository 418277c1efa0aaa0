// Package models holds the persisted records owned by the credential store.
package models

import "time"

// User is an identity record. Name, LastName and Email are optional and
// empty when absent. PasswordHash is an encoded hash, never a raw password.
type User struct {
	ID           string
	Name         string
	LastName     string
	UserName     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
