package http

import (
	"net"
	"net/http"
	"strings"
)

// ProxyConfig says which forwarding headers may name the client.
//
// With TrustProxy unset the peer address is the client and X-Forwarded-For
// and X-Real-IP are ignored. With it set, TrustedProxyCount is the number of
// proxies we run in front of the service (zero counts as one). Each of them
// appends the address it received the request from, so the client is the
// TrustedProxyCount-th entry from the right. Entries further left were
// written by the caller and never used.
type ProxyConfig struct {
	TrustProxy        bool
	TrustedProxyCount int
}

// clientIP resolves the address used for rate-limit keys and the throttle.
func clientIP(r *http.Request, cfg ProxyConfig) string {
	if cfg.TrustProxy {
		if ip := ipFromXFF(r.Header.Get("X-Forwarded-For"), cfg.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := ipFromXRealIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

func ipFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	ips := strings.Split(xff, ",")
	idx := len(ips) - trustedProxyCount
	if idx < 0 {
		// fewer hops than configured proxies, header is not ours
		return ""
	}
	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func ipFromXRealIP(xri string) string {
	xri = strings.TrimSpace(xri)
	if net.ParseIP(xri) == nil {
		return ""
	}
	return xri
}

func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
