package http

import (
	"net/http"
	"time"

	"github.com/FebinAugustine/dirauth/middleware"
)

const (
	accessCookie  = middleware.AccessCookieName
	refreshCookie = "refresh_token"
	csrfCookie    = "csrf_token"

	// CSRFHeader carries the echoed csrf cookie value on state-changing calls.
	CSRFHeader = "X-CSRF-Token"
)

// CookieConfig controls the attributes shared by every auth cookie.
type CookieConfig struct {
	Secure bool
	Domain string
}

type cookieJar struct {
	cfg CookieConfig
	now func() time.Time
}

func (c cookieJar) set(w http.ResponseWriter, name, value string, expires time.Time, httpOnly bool) {
	maxAge := int(expires.Sub(c.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.cfg.Domain,
		MaxAge:   maxAge,
		Expires:  expires.UTC(),
		Secure:   c.cfg.Secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c cookieJar) setAccess(w http.ResponseWriter, value string, expires time.Time) {
	c.set(w, accessCookie, value, expires, true)
}

func (c cookieJar) setRefresh(w http.ResponseWriter, value string, expires time.Time) {
	c.set(w, refreshCookie, value, expires, true)
}

// setCSRF is script-readable so the client can echo it in CSRFHeader.
func (c cookieJar) setCSRF(w http.ResponseWriter, value string, expires time.Time) {
	c.set(w, csrfCookie, value, expires, false)
}

// clear expires all three auth cookies together.
func (c cookieJar) clear(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie, csrfCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   c.cfg.Domain,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0).UTC(),
			Secure:   c.cfg.Secure,
			HttpOnly: name != csrfCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
