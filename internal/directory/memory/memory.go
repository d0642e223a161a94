// Package memory is an in-process directory.Directory for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FebinAugustine/dirauth/internal/directory"
)

var _ directory.Directory = (*Directory)(nil)

type Directory struct {
	mu      sync.RWMutex
	byID    map[string]*directory.Identity
	byEmail map[string]string
	now     func() time.Time
}

func New() *Directory {
	return &Directory{
		byID:    make(map[string]*directory.Identity),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*directory.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byEmail[directory.NormalizeEmail(email)]
	if !ok {
		return nil, directory.ErrIdentityNotFound
	}
	return clone(d.byID[id]), nil
}

func (d *Directory) FindByID(ctx context.Context, id string) (*directory.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	identity, ok := d.byID[id]
	if !ok {
		return nil, directory.ErrIdentityNotFound
	}
	return clone(identity), nil
}

// CreateOrFetch holds the write lock across the existence check and the
// insert, matching the unique-email guarantee of the SQL implementation.
func (d *Directory) CreateOrFetch(ctx context.Context, identity *directory.Identity) (*directory.Identity, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := directory.Prepare(identity); err != nil {
		return nil, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.byEmail[identity.Email]; ok {
		return clone(d.byID[id]), false, nil
	}

	stored := clone(identity)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := d.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	d.byID[stored.ID] = stored
	d.byEmail[stored.Email] = stored.ID
	return clone(stored), true, nil
}

func (d *Directory) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	identity, ok := d.byID[id]
	if !ok {
		return directory.ErrIdentityNotFound
	}
	identity.PasswordHash = passwordHash
	identity.UpdatedAt = d.now().UTC()
	return nil
}

// Len reports the number of stored identities.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

func clone(identity *directory.Identity) *directory.Identity {
	if identity == nil {
		return nil
	}
	c := *identity
	return &c
}
