package http

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Checker reports whether one dependency is reachable.
type Checker func(ctx context.Context) error

type healthStatus string

const (
	statusUp   healthStatus = "up"
	statusDown healthStatus = "down"
)

type healthResponse struct {
	Status    healthStatus            `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]healthStatus `json:"checks,omitempty"`
}

// Health serves the liveness and readiness endpoints.
type Health struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
}

func NewHealth() *Health {
	return &Health{checkers: make(map[string]Checker), timeout: 3 * time.Second}
}

// Register adds a named readiness check.
func (h *Health) Register(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = c
}

// Live always reports up while the process serves requests.
func (h *Health) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: statusUp, Timestamp: time.Now().UTC()})
}

// Ready runs every registered check. Failures are reported by name only.
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	resp := healthResponse{Status: statusUp, Checks: make(map[string]healthStatus, len(names))}
	for _, name := range names {
		if err := checkers[name](ctx); err != nil {
			resp.Checks[name] = statusDown
			resp.Status = statusDown
			continue
		}
		resp.Checks[name] = statusUp
	}
	resp.Timestamp = time.Now().UTC()

	status := http.StatusOK
	if resp.Status == statusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
