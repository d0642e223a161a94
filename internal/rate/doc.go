// Package rate implements the per-(action, client-ip, email) cool-down sentinel.
//
// # Window semantics
//
// Fixed window: the first Mark writes the sentinel with SET NX and the window TTL;
// later marks inside the window do not extend it. Only presence is checked. Keys:
//   - register-rate-limit:<ip>:<email>
//   - login-rate-limit:<ip>:<email>
//   - reset-rate-limit:<ip>:<email>
//
// # What this package must NOT do
//
//   - Decide when an attempt counts (the engine marks after the protected work).
//   - Be imported outside the dirauth module.
package rate
