package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FebinAugustine/dirauth/middleware"
)

// RouterConfig tunes the transport middleware.
type RouterConfig struct {
	Cookies   CookieConfig
	BodyLimit int64
	Throttle  ThrottleConfig
	Proxy     ProxyConfig
}

// NewRouter wires every endpoint onto a chi router. Transport metrics are
// registered on reg, which /metrics also serves.
func NewRouter(h *Handler, auth middleware.Authenticator, health *Health, reg *prometheus.Registry, cfg RouterConfig, logger *slog.Logger) http.Handler {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}
	metrics := newHTTPMetrics(reg)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(requestContext(cfg.Proxy))
	r.Use(recovery(logger))
	r.Use(requestLogging(logger))
	r.Use(metrics.middleware)
	r.Use(securityHeaders)

	r.Get("/health/live", health.Live)
	r.Get("/health/ready", health.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Group(func(r chi.Router) {
		r.Use(throttle(cfg.Throttle, cfg.Proxy, logger))
		r.Use(bodyLimit(cfg.BodyLimit))

		r.Post("/register", h.Register)
		r.Post("/confirm/{token}", h.Confirm)
		r.Post("/login", h.Login)
		r.Post("/otp/verify", h.VerifyOTP)
		r.Get("/session/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/csrf/refresh", h.RefreshCSRF)
		r.Post("/password/forgot", h.ForgotPassword)
		r.Post("/password/reset/{token}", h.ResetPassword)

		r.With(middleware.Guard(auth, h.writeError)).Get("/me", h.Me)
	})

	return r
}
