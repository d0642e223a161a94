package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FebinAugustine/dirauth"
	"github.com/FebinAugustine/dirauth/internal/logger"
	"github.com/FebinAugustine/dirauth/jwt"
)

// stubService returns err from every call, or canned values when err is nil.
type stubService struct {
	err       error
	grant     dirauth.SessionGrant
	principal dirauth.Principal
	refreshed dirauth.Refreshed
	created   bool

	gotCSRF  string
	gotToken string
}

func (s *stubService) Register(context.Context, dirauth.RegisterRequest) (dirauth.Accepted, error) {
	return dirauth.Accepted{Message: "ok"}, s.err
}

func (s *stubService) Confirm(_ context.Context, token string) (dirauth.Confirmation, error) {
	s.gotToken = token
	return dirauth.Confirmation{Created: s.created}, s.err
}

func (s *stubService) Login(context.Context, dirauth.LoginRequest) (dirauth.Accepted, error) {
	return dirauth.Accepted{Message: "ok"}, s.err
}

func (s *stubService) VerifyOTP(context.Context, dirauth.OTPRequest) (dirauth.SessionGrant, error) {
	return s.grant, s.err
}

func (s *stubService) Authenticate(_ context.Context, token string) (dirauth.Principal, error) {
	if token == "" {
		return dirauth.Principal{}, dirauth.ErrUnauthenticated
	}
	return s.principal, s.err
}

func (s *stubService) Refresh(_ context.Context, token string) (dirauth.Refreshed, error) {
	s.gotToken = token
	return s.refreshed, s.err
}

func (s *stubService) Logout(_ context.Context, token, csrf string) (dirauth.LoggedOut, error) {
	s.gotToken, s.gotCSRF = token, csrf
	return dirauth.LoggedOut{RevokedSessions: 1}, s.err
}

func (s *stubService) RefreshCSRF(context.Context, string) (dirauth.CSRFGrant, error) {
	return dirauth.CSRFGrant{Token: "c2", ExpiresAt: time.Now().Add(time.Hour)}, s.err
}

func (s *stubService) ForgotPassword(context.Context, dirauth.ForgotPasswordRequest) (dirauth.Accepted, error) {
	return dirauth.Accepted{Message: "ok"}, s.err
}

func (s *stubService) ResetPassword(_ context.Context, token string, _ dirauth.ResetPasswordRequest) (dirauth.Accepted, error) {
	s.gotToken = token
	return dirauth.Accepted{Message: "ok"}, s.err
}

func (s *stubService) Me(_ context.Context, p dirauth.Principal) (dirauth.Me, error) {
	return dirauth.Me{SessionID: p.SessionID}, s.err
}

func newStubRouter(t *testing.T, svc *stubService, cfg RouterConfig) http.Handler {
	t.Helper()
	h := NewHandler(svc, cfg.Cookies, logger.Discard())
	return NewRouter(h, svc, NewHealth(), prometheus.NewRegistry(), cfg, logger.Discard())
}

func do(t *testing.T, router http.Handler, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return *body.Error
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func requireCleared(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	cookies := cookiesByName(rec)
	for _, name := range []string{accessCookie, refreshCookie, csrfCookie} {
		c, ok := cookies[name]
		require.True(t, ok, "cookie %s not cleared", name)
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		kind   dirauth.Kind
		status int
	}{
		{dirauth.KindValidation, http.StatusBadRequest},
		{dirauth.KindRateLimited, http.StatusTooManyRequests},
		{dirauth.KindCredentialInvalid, http.StatusUnauthorized},
		{dirauth.KindTokenExpired, http.StatusBadRequest},
		{dirauth.KindSessionInvalid, http.StatusUnauthorized},
		{dirauth.KindUnauthenticated, http.StatusUnauthorized},
		{dirauth.KindCSRFInvalid, http.StatusForbidden},
		{dirauth.KindUnavailable, http.StatusServiceUnavailable},
		{dirauth.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			svc := &stubService{err: &dirauth.Error{Kind: tt.kind, Err: errors.New("redis: secret detail")}}
			router := newStubRouter(t, svc, RouterConfig{})

			rec := do(t, router, http.MethodPost, "/login", `{"email":"a@x.com","password":"pw"}`)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotContains(t, rec.Body.String(), "secret detail")
			body := decodeError(t, rec)
			assert.Equal(t, tt.kind.String(), body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestWriteError_ForeignErrorIsInternal(t *testing.T) {
	svc := &stubService{err: errors.New("boom")}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodPost, "/password/forgot", `{"email":"a@x.com"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestWriteError_ValidationFields(t *testing.T) {
	svc := &stubService{err: &dirauth.Error{
		Kind:    dirauth.KindValidation,
		Message: "Validation failed.",
		Fields:  []dirauth.FieldError{{Field: "email", Message: "must be a valid email"}},
	}}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodPost, "/register", `{"email":"nope"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "email", body.Fields[0].Field)
}

func TestWriteError_UnavailableSetsRetryAfter(t *testing.T) {
	svc := &stubService{err: dirauth.ErrUnavailable}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodPost, "/register", `{}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestRefresh_MissingCookieClearsCarriers(t *testing.T) {
	svc := &stubService{}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodGet, "/session/refresh", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_expired", decodeError(t, rec).Code)
	requireCleared(t, rec)
}

func TestRefresh_InvalidSessionClearsCarriers(t *testing.T) {
	svc := &stubService{err: dirauth.ErrSessionInvalid}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodGet, "/session/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: "r1"})
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "r1", svc.gotToken)
	requireCleared(t, rec)
}

func TestRefresh_UnavailableKeepsCarriers(t *testing.T) {
	svc := &stubService{err: dirauth.ErrUnavailable}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodGet, "/session/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: "r1"})
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestRefresh_SetsAccessCookie(t *testing.T) {
	expires := time.Now().Add(15 * time.Minute)
	svc := &stubService{refreshed: dirauth.Refreshed{Access: jwt.Token{Value: "a2", ExpiresAt: expires}}}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodGet, "/session/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: "r1"})
	})

	require.Equal(t, http.StatusOK, rec.Code)
	c := cookiesByName(rec)[accessCookie]
	require.NotNil(t, c)
	assert.Equal(t, "a2", c.Value)
	assert.True(t, c.HttpOnly)
	assert.InDelta(t, 15*60, c.MaxAge, 2)
}

func TestVerifyOTP_SetsCookieAttributes(t *testing.T) {
	now := time.Now()
	svc := &stubService{grant: dirauth.SessionGrant{
		SessionID: "s1",
		CSRFToken: "c1",
		Access:    jwt.Token{Value: "a1", ExpiresAt: now.Add(15 * time.Minute)},
		Refresh:   jwt.Token{Value: "r1", ExpiresAt: now.Add(7 * 24 * time.Hour)},
	}}
	cfg := RouterConfig{Cookies: CookieConfig{Secure: true, Domain: "api.example.org"}}
	rec := do(t, newStubRouter(t, svc, cfg), http.MethodPost, "/otp/verify", `{"email":"a@x.com","code":"123456"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := cookiesByName(rec)

	access := cookies[accessCookie]
	require.NotNil(t, access)
	assert.Equal(t, "a1", access.Value)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, "api.example.org", access.Domain)

	refresh := cookies[refreshCookie]
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)
	assert.InDelta(t, 7*24*3600, refresh.MaxAge, 2)

	csrf := cookies[csrfCookie]
	require.NotNil(t, csrf)
	assert.Equal(t, "c1", csrf.Value)
	assert.False(t, csrf.HttpOnly)

	assert.NotContains(t, rec.Body.String(), "a1")
	assert.NotContains(t, rec.Body.String(), "r1")
	assert.Contains(t, rec.Body.String(), `"csrf_token":"c1"`)
}

func TestLogout_PassesHeaderAndClears(t *testing.T) {
	svc := &stubService{}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodPost, "/logout", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: accessCookie, Value: "a1"})
		r.Header.Set(CSRFHeader, "c1")
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a1", svc.gotToken)
	assert.Equal(t, "c1", svc.gotCSRF)
	requireCleared(t, rec)
}

func TestLogout_CSRFRejectedKeepsCarriers(t *testing.T) {
	svc := &stubService{err: dirauth.ErrCSRFInvalid}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodPost, "/logout", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer a1")
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "a1", svc.gotToken)
	assert.Empty(t, rec.Result().Cookies())
}

func TestConfirm_StatusReflectsCreation(t *testing.T) {
	svc := &stubService{created: true}
	router := newStubRouter(t, svc, RouterConfig{})

	rec := do(t, router, http.MethodPost, "/confirm/tok123", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "tok123", svc.gotToken)

	svc.created = false
	rec = do(t, router, http.MethodPost, "/confirm/tok123", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetPassword_PassesPathToken(t *testing.T) {
	svc := &stubService{}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodPost, "/password/reset/rt1", `{"password":"new-password-1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rt1", svc.gotToken)
}

func TestRefreshCSRF_SetsReadableCookie(t *testing.T) {
	svc := &stubService{}
	rec := do(t, newStubRouter(t, svc, RouterConfig{}), http.MethodPost, "/csrf/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: accessCookie, Value: "a1"})
	})

	require.Equal(t, http.StatusOK, rec.Code)
	c := cookiesByName(rec)[csrfCookie]
	require.NotNil(t, c)
	assert.Equal(t, "c2", c.Value)
	assert.False(t, c.HttpOnly)
}

func TestMe_RequiresAccessToken(t *testing.T) {
	svc := &stubService{principal: dirauth.Principal{IdentityID: "u1", SessionID: "s1"}}
	router := newStubRouter(t, svc, RouterConfig{})

	rec := do(t, router, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, rec).Code)

	rec = do(t, router, http.MethodGet, "/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer a1")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session_id":"s1"`)
}

func TestDecode_RejectsMalformedBodies(t *testing.T) {
	router := newStubRouter(t, &stubService{}, RouterConfig{BodyLimit: 64})

	rec := do(t, router, http.MethodPost, "/login", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Code)

	rec = do(t, router, http.MethodPost, "/login", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/login", `{"email":"a@x.com","password":"pw","admin":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/login", `{"email":"`+strings.Repeat("a", 128)+`@x.com","password":"pw"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	h := recovery(logger.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Code)
	assert.NotContains(t, rec.Body.String(), "kaboom")
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	rec := do(t, newStubRouter(t, &stubService{}, RouterConfig{}), http.MethodGet, "/health/live", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestThrottle_RejectsBurstPerIP(t *testing.T) {
	cfg := RouterConfig{Throttle: ThrottleConfig{RPS: 0.001, Burst: 2}}
	router := newStubRouter(t, &stubService{}, cfg)

	from := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.RemoteAddr = ip + ":5555" }
	}
	body := `{"email":"a@x.com"}`

	assert.Equal(t, http.StatusAccepted, do(t, router, http.MethodPost, "/password/forgot", body, from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusAccepted, do(t, router, http.MethodPost, "/password/forgot", body, from("10.0.0.1")).Code)

	rec := do(t, router, http.MethodPost, "/password/forgot", body, from("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Code)

	assert.Equal(t, http.StatusAccepted, do(t, router, http.MethodPost, "/password/forgot", body, from("10.0.0.2")).Code)

	// health checks are never throttled
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health/live", "", from("10.0.0.1")).Code)
}

func TestVisitors_EvictsLeastRecentlySeen(t *testing.T) {
	v := newVisitors(ThrottleConfig{RPS: 1, Burst: 1, MaxClients: 2})

	a := v.get("a")
	v.get("b")
	assert.Same(t, a, v.get("a"))

	v.get("c")
	assert.Equal(t, 2, v.len())

	// b was least recently seen and got a fresh limiter
	_, ok := v.entries["b"]
	assert.False(t, ok)
	assert.Same(t, a, v.get("a"))
}

func TestHealth_Ready(t *testing.T) {
	health := NewHealth()
	health.Register("redis", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	health.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	health.Register("postgres", func(context.Context) error { return errors.New("dial tcp: refused") })
	rec = httptest.NewRecorder()
	health.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, statusDown, body.Status)
	assert.Equal(t, statusUp, body.Checks["redis"])
	assert.Equal(t, statusDown, body.Checks["postgres"])
	assert.NotContains(t, rec.Body.String(), "refused")
}

func TestMetricsEndpoint_ExposesTransportMetrics(t *testing.T) {
	router := newStubRouter(t, &stubService{}, RouterConfig{})
	do(t, router, http.MethodPost, "/password/forgot", `{"email":"a@x.com"}`)

	rec := do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dirauth_http_requests_total{method="POST",route="/password/forgot",status="202"} 1`)
}
