// Package ephemeral is the TTL-governed key-value substrate shared by every
// short-lived record in dirauth: rate-limit sentinels, one-time tokens, OTP
// challenges, sessions, and CSRF values.
//
// # Guarantees
//
//   - Every write carries an explicit expiry.
//   - Take is an atomic GET+DEL; two concurrent callers never both observe the value.
//   - Every call is bounded by the caller's deadline and the store op timeout.
//   - Transport failures wrap ErrUnavailable; a missing key is ErrNotFound.
//
// # What this package must NOT do
//
//   - Interpret record payloads.
//   - Retry on failure (callers surface ErrUnavailable as retryable).
package ephemeral
