// Package csrf binds a double-submit anti-forgery value to each session.
package csrf

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/FebinAugustine/dirauth/internal"
	"github.com/FebinAugustine/dirauth/internal/ephemeral"
)

const (
	keyPrefix = "csrf:"
	valueSize = 32
)

// Guard issues and verifies per-session CSRF values.
type Guard struct {
	store *ephemeral.Store
}

func NewGuard(store *ephemeral.Store) *Guard {
	return &Guard{store: store}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// Issue binds a fresh value to the session, replacing any previous one.
func (g *Guard) Issue(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	if sessionID == "" {
		return "", errors.New("csrf: empty session id")
	}
	value, err := internal.NewSecret(valueSize)
	if err != nil {
		return "", fmt.Errorf("csrf: generate value: %w", err)
	}
	if err := g.store.SetTTL(ctx, key(sessionID), []byte(value), ttl); err != nil {
		return "", err
	}
	return value, nil
}

// Verify reports whether submitted matches the session's bound value.
// A missing value on either side is a mismatch.
func (g *Guard) Verify(ctx context.Context, sessionID, submitted string) (bool, error) {
	if sessionID == "" || submitted == "" {
		return false, nil
	}
	stored, err := g.store.Get(ctx, key(sessionID))
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return subtle.ConstantTimeCompare(stored, []byte(submitted)) == 1, nil
}

// Extend keeps the bound value alive for ttl. A session without a value is left alone.
func (g *Guard) Extend(ctx context.Context, sessionID string, ttl time.Duration) error {
	_, err := g.store.Expire(ctx, key(sessionID), ttl)
	return err
}

func (g *Guard) Revoke(ctx context.Context, sessionIDs ...string) error {
	keys := make([]string, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		keys = append(keys, key(sid))
	}
	return g.store.Delete(ctx, keys...)
}
