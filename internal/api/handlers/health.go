package handlers

import (
	"net/http"
	"time"

	"github.com/lockboxhq/lockbox/pkg/vault/store"
)

// HealthCheckTimeout is the maximum time allowed for health check probes,
// preventing a slow database from blocking them indefinitely.
const HealthCheckTimeout = 5 * time.Second

// healthResponse is the body of health probe responses.
type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Can the server reach its store?
type HealthHandler struct {
	store     *store.GORMStore
	startTime time.Time
}

// NewHealthHandler creates a new health handler. The store may be nil, in
// which case readiness reports unavailable.
func NewHealthHandler(s *store.GORMStore) *HealthHandler {
	return &HealthHandler{
		store:     s,
		startTime: time.Now(),
	}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. Designed for Kubernetes
// liveness probes; succeeds as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"service":    "lockbox",
			"started_at": h.startTime.UTC().Format(time.RFC3339),
			"uptime":     uptime.Round(time.Second).String(),
			"uptime_sec": int64(uptime.Seconds()),
		},
	})
}

// Readiness handles GET /health/ready - readiness probe.
// Returns 200 OK if the store answers a ping within the timeout.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Error:     "store not initialized",
		})
		return
	}

	sqlDB, err := h.store.DB().DB()
	if err == nil {
		ctx, cancel := contextWithTimeout(r, HealthCheckTimeout)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Error:     err.Error(),
		})
		return
	}

	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}
