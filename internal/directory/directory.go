// Package directory describes the durable identity store the auth core talks to.
//
// The core only needs lookups by email and id, an idempotent create, and a
// password update. Everything else about the organizational directory lives
// outside this module.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultRole is assigned to identities created through signup confirmation.
const DefaultRole = "member"

var (
	// ErrIdentityNotFound is returned by lookups that match nothing.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrInvalidIdentity is returned when a create request is missing required fields.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Identity is a durable account record.
type Identity struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	FellowshipID string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Directory is the identity store collaborator.
//
// CreateOrFetch inserts the identity unless one with the same email already
// exists, in which case it returns the existing record and created=false. It
// never reports a conflict as an error.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)
	CreateOrFetch(ctx context.Context, identity *Identity) (*Identity, bool, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// NormalizeEmail trims and lowercases an address for keying and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Prepare fills defaults on a new identity and checks the required fields.
func Prepare(identity *Identity) error {
	if identity == nil {
		return ErrInvalidIdentity
	}
	identity.Email = NormalizeEmail(identity.Email)
	if identity.Email == "" || identity.PasswordHash == "" || strings.TrimSpace(identity.Name) == "" {
		return ErrInvalidIdentity
	}
	if identity.Role == "" {
		identity.Role = DefaultRole
	}
	return nil
}
