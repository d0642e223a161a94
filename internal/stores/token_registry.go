package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FebinAugustine/dirauth/internal"
	"github.com/FebinAugustine/dirauth/internal/ephemeral"
	"github.com/redis/go-redis/v9"
)

// Purpose namespaces one-time tokens. Tokens issued for one purpose never
// redeem under another.
type Purpose string

const (
	PurposeVerify Purpose = "verify"
	PurposeReset  Purpose = "reset"
)

var (
	ErrTokenNotFound = errors.New("one-time token not found")
	ErrInvalidTTL    = errors.New("one-time token ttl must be positive")
)

// redeemWithReceiptLua deletes the record and leaves a receipt with the same
// payload for the rest of the record's lifetime.
// KEYS[1] = record key
// KEYS[2] = receipt key
//
// Returns the payload, or nil when the record is absent.
var redeemWithReceiptLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return false
end
local ttl = redis.call('PTTL', KEYS[1])
redis.call('DEL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[2], data, 'PX', ttl)
end
return data
`)

// RegistryOption customizes a TokenRegistry.
type RegistryOption func(*TokenRegistry)

// WithReceipts keeps a redemption receipt for the given purposes until the
// original token would have expired.
func WithReceipts(purposes ...Purpose) RegistryOption {
	return func(r *TokenRegistry) {
		for _, p := range purposes {
			r.receipts[p] = true
		}
	}
}

// TokenRegistry issues and redeems one-time tokens.
type TokenRegistry struct {
	store    *ephemeral.Store
	receipts map[Purpose]bool
}

func NewTokenRegistry(store *ephemeral.Store, opts ...RegistryOption) *TokenRegistry {
	r := &TokenRegistry{
		store:    store,
		receipts: make(map[Purpose]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func recordKey(p Purpose, digest string) string {
	return string(p) + ":" + digest
}

func receiptKey(p Purpose, digest string) string {
	return string(p) + "-redeemed:" + digest
}

// Issue stores payload under a fresh token that lives for ttl.
func (r *TokenRegistry) Issue(ctx context.Context, p Purpose, payload []byte, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}
	token, err := internal.NewOneTimeToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	digest, err := internal.TokenDigest(token)
	if err != nil {
		return "", err
	}

	if err := r.store.SetTTL(ctx, recordKey(p, digest), payload, ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Redeem atomically returns and deletes the payload. Any later call with the
// same token returns ErrTokenNotFound. Purposes without receipts use the
// store's plain take.
func (r *TokenRegistry) Redeem(ctx context.Context, p Purpose, token string) ([]byte, error) {
	digest, err := internal.TokenDigest(token)
	if err != nil {
		return nil, ErrTokenNotFound
	}

	if !r.receipts[p] {
		data, err := r.store.Take(ctx, recordKey(p, digest))
		if errors.Is(err, ephemeral.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return data, err
	}

	res, err := r.store.Run(ctx, redeemWithReceiptLua, []string{recordKey(p, digest), receiptKey(p, digest)})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return scriptBytes(res)
}

// Receipt returns the payload of an already redeemed token while its receipt lives.
func (r *TokenRegistry) Receipt(ctx context.Context, p Purpose, token string) ([]byte, error) {
	if !r.receipts[p] {
		return nil, ErrTokenNotFound
	}
	digest, err := internal.TokenDigest(token)
	if err != nil {
		return nil, ErrTokenNotFound
	}

	data, err := r.store.Get(ctx, receiptKey(p, digest))
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return data, nil
}

func scriptBytes(res interface{}) ([]byte, error) {
	switch v := res.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected script result %T", res)
	}
}
