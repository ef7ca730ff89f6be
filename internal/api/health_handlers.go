package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/panotour/internal/health"
)

// readyTimeout bounds the dependency checks of one readiness probe.
const readyTimeout = 5 * time.Second

// HealthHandlers provides health and readiness check endpoints for Kubernetes probes.
type HealthHandlers struct {
	checkers map[string]health.Checker
	now      func() time.Time
}

// NewHealthHandlers creates health handlers over the named dependency
// checkers. Unconfigured dependencies are simply absent from the map.
func NewHealthHandlers(checkers map[string]health.Checker) *HealthHandlers {
	if checkers == nil {
		checkers = map[string]health.Checker{}
	}
	return &HealthHandlers{checkers: checkers, now: time.Now}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
// Returns 200 while the process can serve requests.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe).
// Checks every configured dependency and returns 503 if any is unavailable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := map[string]string{"metrics": "ok"}
	healthy := true
	for _, res := range health.RunAll(ctx, h.checkers) {
		if res.Err != nil {
			checks[res.Name] = "error"
			healthy = false
			slog.WarnContext(ctx, "health check failed", "check", res.Name, "error", res.Err)
			continue
		}
		checks[res.Name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}
