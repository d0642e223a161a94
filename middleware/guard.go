package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/FebinAugustine/dirauth"
)

// AccessCookieName is the cookie carrying the access token.
const AccessCookieName = "access_token"

// Authenticator validates an access token. *dirauth.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (dirauth.Principal, error)
}

// ErrorWriter renders a rejected request.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type principalContextKey struct{}

// PrincipalFromContext returns the principal Guard stored on the request.
func PrincipalFromContext(ctx context.Context) (dirauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(dirauth.Principal)
	return p, ok
}

// WithPrincipal stores p on ctx the way Guard does.
func WithPrincipal(ctx context.Context, p dirauth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard admits requests carrying a valid access token, taken from the
// access cookie or an Authorization bearer header. The cookie wins when both
// are present. Rejections go to onError, or a plain 401 when it is nil.
func Guard(auth Authenticator, onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := AccessToken(r)
			if !ok || auth == nil {
				onError(w, r, dirauth.ErrUnauthenticated)
				return
			}

			p, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// AccessToken extracts the access token from the request.
func AccessToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(AccessCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
