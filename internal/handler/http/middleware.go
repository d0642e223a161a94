package http

import (
	"container/list"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/FebinAugustine/dirauth"
	"github.com/FebinAugustine/dirauth/internal/logger"
)

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// recovery turns a handler panic into a 500 envelope.
func recovery(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.WithContext(r.Context(), l).Error("panic recovered",
						slog.Any("panic", rec),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
					)
					writeJSON(w, http.StatusInternalServerError, response{Error: &errorResponse{
						Code:    dirauth.KindInternal.String(),
						Message: dirauth.PublicMessage(dirauth.ErrInternal),
					}})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestContext copies the chi request id and the resolved client address
// onto the context read by the logger and the engine's rate limits.
// It must run after chimw.RequestID.
func requestContext(proxy ProxyConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := chimw.GetReqID(ctx); id != "" {
				w.Header().Set(chimw.RequestIDHeader, id)
				ctx = logger.WithRequestID(ctx, id)
			}
			ip := clientIP(r, proxy)
			ctx = logger.WithClientIP(ctx, ip)
			ctx = dirauth.WithClientIP(ctx, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogging logs one line per request once it completes.
func requestLogging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			if rw.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.WithContext(r.Context(), l).Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// securityHeaders sets the response headers every endpoint shares.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// bodyLimit caps request bodies at n bytes.
func bodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// httpMetrics holds the transport collectors registered on one registry.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	factory := promauto.With(reg)
	return &httpMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dirauth_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dirauth_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dirauth_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		}),
	}
}

func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := strconv.Itoa(rw.status)
		m.requests.WithLabelValues(r.Method, route, status).Inc()
		m.duration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// ThrottleConfig sizes the per-IP token bucket.
type ThrottleConfig struct {
	RPS        float64
	Burst      int
	MaxClients int
}

// visitors keeps one limiter per client IP. Once MaxClients addresses are
// tracked the least recently seen one is evicted.
type visitors struct {
	mu      sync.Mutex
	cfg     ThrottleConfig
	order   *list.List
	entries map[string]*list.Element
}

type visitor struct {
	ip      string
	limiter *rate.Limiter
}

func newVisitors(cfg ThrottleConfig) *visitors {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	return &visitors{
		cfg:     cfg,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (v *visitors) get(ip string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()

	if el, ok := v.entries[ip]; ok {
		v.order.MoveToFront(el)
		return el.Value.(*visitor).limiter
	}

	for v.order.Len() >= v.cfg.MaxClients {
		oldest := v.order.Back()
		v.order.Remove(oldest)
		delete(v.entries, oldest.Value.(*visitor).ip)
	}

	vis := &visitor{ip: ip, limiter: rate.NewLimiter(rate.Limit(v.cfg.RPS), v.cfg.Burst)}
	v.entries[ip] = v.order.PushFront(vis)
	return vis.limiter
}

func (v *visitors) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.order.Len()
}

// throttle rejects bursts from one address before they reach the engine.
// A zero RPS disables it.
func throttle(cfg ThrottleConfig, proxy ProxyConfig, l *slog.Logger) func(http.Handler) http.Handler {
	if cfg.RPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	store := newVisitors(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, proxy)
			if !store.get(ip).Allow() {
				logger.WithContext(r.Context(), l).Warn("throttled",
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, response{Error: &errorResponse{
					Code:    dirauth.KindRateLimited.String(),
					Message: dirauth.PublicMessage(dirauth.ErrRateLimited),
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
