package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 2 * time.Second

var (
	// ErrNotFound reports a key that is absent or already expired.
	ErrNotFound = errors.New("ephemeral: key not found")
	// ErrUnavailable reports a store transport failure or timeout. It is retryable.
	ErrUnavailable = errors.New("ephemeral: store unavailable")
	// ErrInvalidTTL reports a write without a positive expiry.
	ErrInvalidTTL = errors.New("ephemeral: ttl must be positive")
)

const takeLua = `
local v = redis.call("GET", KEYS[1])
if not v then
	return false
end
redis.call("DEL", KEYS[1])
return v
`

var takeScript = redis.NewScript(takeLua)

// Option customizes a Store.
type Option func(*Store)

// WithOpTimeout bounds every store call. Non-positive values are ignored.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// Store wraps a Redis client with expiry-only writes and uniform error mapping.
type Store struct {
	redis     redis.UniversalClient
	opTimeout time.Duration
}

// New creates a Store over the given client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		redis:     client,
		opTimeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying client for pipelines that span several keys.
func (s *Store) Client() redis.UniversalClient {
	return s.redis
}

// Bound derives a context limited by the op timeout as well as the caller's deadline.
func (s *Store) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	ctx, cancel := s.Bound(ctx)
	defer cancel()

	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return Unavailable(err)
	}
	return nil
}

// SetNX writes the key only when it is absent and reports whether it did.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	ctx, cancel := s.Bound(ctx)
	defer cancel()

	ok, err := s.redis.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, Unavailable(err)
	}
	return ok, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.Bound(ctx)
	defer cancel()

	v, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, Unavailable(err)
	}
	return v, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.Bound(ctx)
	defer cancel()

	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, Unavailable(err)
	}
	return n > 0, nil
}

// Delete removes keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.Bound(ctx)
	defer cancel()

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return Unavailable(err)
	}
	return nil
}

// Expire resets the expiry of an existing key and reports whether the key existed.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	ctx, cancel := s.Bound(ctx)
	defer cancel()

	ok, err := s.redis.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return false, Unavailable(err)
	}
	return ok, nil
}

// Take atomically reads and deletes key.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	res, err := s.Run(ctx, takeScript, []string{key})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	switch v := res.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("ephemeral: unexpected take result %T", res)
	}
}

// Run executes a Lua script. redis.Nil is returned unwrapped so callers can
// treat a nil script reply as "absent".
func (s *Store) Run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	ctx, cancel := s.Bound(ctx)
	defer cancel()

	res, err := script.Run(ctx, s.redis, keys, args...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, Unavailable(err)
	}
	return res, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.Bound(ctx)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		return Unavailable(err)
	}
	return nil
}

// Unavailable wraps a transport error as ErrUnavailable.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
