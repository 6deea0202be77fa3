package handler

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// HealthChecker is the slice of a dependency the probes care about.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the Kubernetes probes. Either dependency may
// be nil, which reports as "not configured" without failing readiness.
type HealthHandler struct {
	db    HealthChecker
	cache HealthChecker
}

func NewHealthHandler(db, cache HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// HealthResponse is the probe payload.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe: the process is up, nothing more.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz is the readiness probe. Any failing dependency answers 503
// so the load balancer stops routing here until it recovers.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"postgres": pingCheck(ctx, h.db),
		"redis":    pingCheck(ctx, h.cache),
	}

	status, statusCode := "ok", http.StatusOK
	for _, result := range checks {
		if strings.HasPrefix(result, "error") {
			status, statusCode = "unhealthy", http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, statusCode, HealthResponse{Status: status, Checks: checks})
}

func pingCheck(ctx context.Context, dep HealthChecker) string {
	if dep == nil {
		return "not configured"
	}
	if err := dep.Ping(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
