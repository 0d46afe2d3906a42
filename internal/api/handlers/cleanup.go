package handlers

import (
	"net/http"
	"time"

	"github.com/lockboxhq/lockbox/internal/logger"
	"github.com/lockboxhq/lockbox/pkg/metrics"
	"github.com/lockboxhq/lockbox/pkg/vault/sweeper"
)

// CleanupHandler triggers reconciliation sweeps on demand.
type CleanupHandler struct {
	sweeper *sweeper.Sweeper
	metrics metrics.SweepMetrics
}

// NewCleanupHandler creates a cleanup handler. metrics may be nil.
func NewCleanupHandler(s *sweeper.Sweeper, m metrics.SweepMetrics) *CleanupHandler {
	return &CleanupHandler{sweeper: s, metrics: m}
}

// cleanupRequest is the body for PUT /v1/cleanup. The body is optional.
type cleanupRequest struct {
	// ExpirationPeriodInDays overrides how long a record must have been
	// detached before its key deletion is scheduled. Defaults to 30.
	ExpirationPeriodInDays *int `json:"expiration_period_in_days"`
}

// Cleanup handles PUT /v1/cleanup (admin only). Runs both sweep passes
// synchronously and answers 204.
func (h *CleanupHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	thresholdDays := sweeper.DefaultThresholdDays
	if r.Body != nil && r.ContentLength != 0 {
		var req cleanupRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if req.ExpirationPeriodInDays != nil {
			if *req.ExpirationPeriodInDays < 0 {
				BadRequest(w, "expiration_period_in_days must not be negative")
				return
			}
			thresholdDays = *req.ExpirationPeriodInDays
		}
	}

	start := time.Now()
	stats, err := h.sweeper.Sweep(r.Context(), thresholdDays)
	if err != nil {
		logger.ErrorCtx(r.Context(), "cleanup sweep failed", "error", err)
		InternalServerError(w, "Cleanup failed")
		return
	}

	if h.metrics != nil {
		h.metrics.RecordSweep(time.Since(start),
			stats.Transitioned, stats.Deleted, stats.RolesDeleted, stats.Errors)
	}

	WriteNoContent(w)
}
