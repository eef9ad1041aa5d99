package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the liveness endpoint the dashboard polls.
type HealthHandler struct {
	logger    *slog.Logger
	simForced bool
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler reporting the effective
// trading mode.
func NewHealthHandler(simForced bool, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger:    logger,
		simForced: simForced,
		startedAt: time.Now().UTC(),
	}
}

// HealthCheck reports liveness, whether trades are forced through the
// demo ledger, and uptime. GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"simulated":     h.simForced,
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}
