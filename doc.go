// Package dirauth is the authentication core of the organizational
// directory: email-confirmed signup, password login with a mailed one-time
// code, JWT sessions backed by Redis records, CSRF binding, and password
// reset.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Every method returns either its result or an [*Error]
// whose [Kind] the transport maps to a status code.
//
// # State
//
// Short-lived state (pending registrations, login codes, rate-limit marks,
// sessions, CSRF values) lives in Redis with TTLs. Durable identities live
// behind the [Directory] collaborator.
//
// # What this package must NOT do
//
//   - Echo tokens, codes, or internal error detail into an [Error] message.
//   - Reveal through responses whether an email is registered.
//   - Perform durable writes before a one-time token or code is redeemed.
//
// The client IP used for rate-limit keys and audit events is carried on the
// context; set it with [WithClientIP].
package dirauth
