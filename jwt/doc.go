// Package jwt mints and validates the signed access and refresh tokens carried by
// dirauth clients. Both token types embed the identity id, session id, a type tag,
// and an absolute expiry; validation failures collapse into ErrInvalidToken.
package jwt
