// Package session provides Redis-backed session records, the server-side authority
// for refresh-token validity.
//
// # Layout
//
//   - session:<sid>          versioned binary record, TTL = refresh lifetime
//   - session-index:<uid>    SET of the identity's session ids, for revoke-all
//
// Touch and Revoke run as Lua scripts so overlapping refresh and logout calls
// never interleave into a corrupted record, and a touch never resurrects a
// revoked session.
//
// # What this package must NOT do
//
//   - Import dirauth or jwt (no upward imports).
//   - Interpret tokens or decide authentication policy.
package session
