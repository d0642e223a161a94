package rate

import (
	"context"
	"strings"
	"time"

	"github.com/FebinAugustine/dirauth/internal/ephemeral"
)

// Action names the protected operation a sentinel belongs to.
type Action string

const (
	ActionRegister Action = "register"
	ActionLogin    Action = "login"
	ActionReset    Action = "reset"
)

// DefaultWindow is the cool-down applied when Config.Window is zero.
const DefaultWindow = 60 * time.Second

var sentinel = []byte("1")

// Config holds rate limiter tuning parameters.
type Config struct {
	Window time.Duration
}

// Limiter gates repeated register, login, and reset attempts with presence-only
// sentinels stored in the ephemeral store.
type Limiter struct {
	store  *ephemeral.Store
	config Config
}

// New creates a rate [Limiter] backed by the given store.
func New(store *ephemeral.Store, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Limiter{
		store:  store,
		config: cfg,
	}
}

// Window returns the configured cool-down.
func (l *Limiter) Window() time.Duration {
	return l.config.Window
}

// Check reports whether an attempt for (action, ip, email) is allowed.
func (l *Limiter) Check(ctx context.Context, action Action, ip, email string) (bool, error) {
	blocked, err := l.store.Exists(ctx, Key(action, ip, email))
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// Enforce is Check expressed as an error: ErrRateLimited when blocked.
func (l *Limiter) Enforce(ctx context.Context, action Action, ip, email string) error {
	allowed, err := l.Check(ctx, action, ip, email)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// Mark starts the cool-down window. An active window is not extended.
func (l *Limiter) Mark(ctx context.Context, action Action, ip, email string) error {
	_, err := l.store.SetNX(ctx, Key(action, ip, email), sentinel, l.config.Window)
	return err
}

// Key builds the sentinel key. Emails are case-folded so "A@x.com" and
// "a@x.com" share a window.
func Key(action Action, ip, email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	return string(action) + "-rate-limit:" + ip + ":" + email
}
