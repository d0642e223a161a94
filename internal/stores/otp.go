package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FebinAugustine/dirauth/internal"
	"github.com/FebinAugustine/dirauth/internal/ephemeral"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultOTPDigits      = 6
	DefaultOTPTTL         = 300 * time.Second
	DefaultOTPMaxAttempts = 5
)

var (
	ErrOTPExpired = errors.New("otp expired or not issued")
	ErrOTPInvalid = errors.New("otp mismatch")
	// ErrOTPExhausted reports the mismatch that used up the last attempt.
	// The code is gone afterwards.
	ErrOTPExhausted = errors.New("otp attempts exhausted")
)

// redeemOTPLua compares digests and deletes on match. Mismatches are counted
// next to the code with the same remaining lifetime; the last allowed
// mismatch deletes both keys.
// KEYS[1] = otp key
// KEYS[2] = attempts key
// ARGV[1] = digest of the submitted code
// ARGV[2] = max attempts
//
// Returns 0 absent, 1 mismatch, 2 redeemed, 3 exhausted.
var redeemOTPLua = redis.NewScript(`
local stored = redis.call('GET', KEYS[1])
if not stored then
  return 0
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 2
end
local n = redis.call('INCR', KEYS[2])
if n >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 3
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// OTPOption customizes an OTPStore.
type OTPOption func(*OTPStore)

// WithMaxAttempts sets how many wrong codes burn the outstanding one.
func WithMaxAttempts(n int) OTPOption {
	return func(s *OTPStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// OTPStore holds at most one outstanding step-up code per email.
type OTPStore struct {
	store       *ephemeral.Store
	digits      int
	ttl         time.Duration
	maxAttempts int
}

func NewOTPStore(store *ephemeral.Store, digits int, ttl time.Duration, opts ...OTPOption) *OTPStore {
	if digits == 0 {
		digits = DefaultOTPDigits
	}
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	s := &OTPStore{
		store:       store,
		digits:      digits,
		ttl:         ttl,
		maxAttempts: DefaultOTPMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func otpKey(email string) string {
	return "otp:" + strings.ToLower(strings.TrimSpace(email))
}

func otpAttemptsKey(email string) string {
	return "otp-attempts:" + strings.ToLower(strings.TrimSpace(email))
}

// TTL returns how long an issued code stays redeemable.
func (s *OTPStore) TTL() time.Duration {
	return s.ttl
}

// MaxAttempts returns the number of wrong codes that burns the outstanding one.
func (s *OTPStore) MaxAttempts() int {
	return s.maxAttempts
}

// Issue replaces any outstanding code for email and returns the new one.
// The new code starts with a fresh attempt count.
func (s *OTPStore) Issue(ctx context.Context, email string) (string, error) {
	code, err := internal.NewOTP(s.digits)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	if err := s.store.Delete(ctx, otpAttemptsKey(email)); err != nil {
		return "", err
	}
	if err := s.store.SetTTL(ctx, otpKey(email), []byte(internal.CodeDigest(code)), s.ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Redeem consumes the code on an exact match. A mismatch leaves the
// outstanding code in place until MaxAttempts mismatches have been seen.
func (s *OTPStore) Redeem(ctx context.Context, email, code string) error {
	res, err := s.store.Run(ctx, redeemOTPLua,
		[]string{otpKey(email), otpAttemptsKey(email)},
		internal.CodeDigest(code), s.maxAttempts,
	)
	if err != nil {
		return err
	}

	status, ok := res.(int64)
	if !ok {
		return fmt.Errorf("unexpected otp script result %T", res)
	}
	switch status {
	case 0:
		return ErrOTPExpired
	case 1:
		return ErrOTPInvalid
	case 3:
		return ErrOTPExhausted
	default:
		return nil
	}
}
