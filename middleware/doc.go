// Package middleware guards HTTP routes with the engine's access token check.
//
// [Guard] reads the access token from the access cookie or a bearer header,
// calls Authenticate, and stores the resulting principal on the request
// context for [PrincipalFromContext]. It makes no store calls of its own.
package middleware
