// Package stores provides the Redis-backed, short-lived record stores used by the
// signup, password reset, and second-factor flows.
//
// # Design
//
// TokenRegistry maps random 256-bit tokens to opaque payloads under a purpose
// namespace. OTPStore binds a 6-digit code to an email. Both redeem through a
// single Lua script so a record is deleted in the same step that reports
// success; concurrent redeemers see at most one success.
//
// Keys never contain plaintext secrets: registry keys use the SHA-256 of the
// token and OTP records store the SHA-256 of the code.
//
// # What this package must NOT do
//
//   - Make authentication decisions (the engine owns flows).
//   - Log or expose plaintext tokens or codes.
package stores
