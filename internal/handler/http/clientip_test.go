package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		proxy      ProxyConfig
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "192.168.1.100:12345",
			want:       "192.168.1.100",
		},
		{
			name:       "forwarded headers ignored without trust",
			remoteAddr: "192.168.1.100:12345",
			xff:        "203.0.113.1",
			xRealIP:    "203.0.113.2",
			want:       "192.168.1.100",
		},
		{
			name:       "one trusted proxy takes the rightmost entry",
			remoteAddr: "10.0.0.1:12345",
			xff:        "198.51.100.9, 203.0.113.1",
			proxy:      ProxyConfig{TrustProxy: true, TrustedProxyCount: 1},
			want:       "203.0.113.1",
		},
		{
			name:       "zero count behaves as one",
			remoteAddr: "10.0.0.1:12345",
			xff:        "198.51.100.9, 203.0.113.1",
			proxy:      ProxyConfig{TrustProxy: true},
			want:       "203.0.113.1",
		},
		{
			name:       "two trusted proxies",
			remoteAddr: "10.0.0.1:12345",
			xff:        "198.51.100.9, 203.0.113.1, 10.0.0.2",
			proxy:      ProxyConfig{TrustProxy: true, TrustedProxyCount: 2},
			want:       "203.0.113.1",
		},
		{
			name:       "fewer entries than proxies falls back to peer",
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1",
			proxy:      ProxyConfig{TrustProxy: true, TrustedProxyCount: 2},
			want:       "10.0.0.1",
		},
		{
			name:       "whitespace trimmed",
			remoteAddr: "10.0.0.1:12345",
			xff:        " 203.0.113.1 ",
			proxy:      ProxyConfig{TrustProxy: true, TrustedProxyCount: 1},
			want:       "203.0.113.1",
		},
		{
			name:       "invalid entry falls back to peer",
			remoteAddr: "10.0.0.1:12345",
			xff:        "not-an-ip",
			proxy:      ProxyConfig{TrustProxy: true, TrustedProxyCount: 1},
			want:       "10.0.0.1",
		},
		{
			name:       "x-real-ip behind trusted proxy",
			remoteAddr: "10.0.0.1:12345",
			xRealIP:    "203.0.113.1",
			proxy:      ProxyConfig{TrustProxy: true, TrustedProxyCount: 1},
			want:       "203.0.113.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.168.1.100",
			want:       "192.168.1.100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}
			assert.Equal(t, tt.want, clientIP(r, tt.proxy))
		})
	}
}

func TestThrottle_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	cfg := RouterConfig{Throttle: ThrottleConfig{RPS: 0.001, Burst: 1}}
	router := newStubRouter(t, &stubService{}, cfg)
	body := `{"email":"a@x.com"}`

	forged := func(xff string) func(*http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = "10.0.0.7:5555"
			r.Header.Set("X-Forwarded-For", xff)
		}
	}

	assert.Equal(t, http.StatusAccepted, do(t, router, http.MethodPost, "/password/forgot", body, forged("198.51.100.1")).Code)
	for _, xff := range []string{"198.51.100.2", "198.51.100.3", "198.51.100.4"} {
		assert.Equal(t, http.StatusTooManyRequests, do(t, router, http.MethodPost, "/password/forgot", body, forged(xff)).Code, xff)
	}
}

func TestThrottle_KeysOnForwardedClientBehindTrustedProxy(t *testing.T) {
	cfg := RouterConfig{
		Throttle: ThrottleConfig{RPS: 0.001, Burst: 1},
		Proxy:    ProxyConfig{TrustProxy: true, TrustedProxyCount: 1},
	}
	router := newStubRouter(t, &stubService{}, cfg)
	body := `{"email":"a@x.com"}`

	via := func(xff string) func(*http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = "10.0.0.1:5555"
			r.Header.Set("X-Forwarded-For", xff)
		}
	}

	assert.Equal(t, http.StatusAccepted, do(t, router, http.MethodPost, "/password/forgot", body, via("203.0.113.1")).Code)
	assert.Equal(t, http.StatusAccepted, do(t, router, http.MethodPost, "/password/forgot", body, via("203.0.113.2")).Code)
	// a prefix written by the caller does not change the key
	assert.Equal(t, http.StatusTooManyRequests, do(t, router, http.MethodPost, "/password/forgot", body, via("198.51.100.50, 203.0.113.1")).Code)
}
