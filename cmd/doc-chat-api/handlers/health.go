package handlers

import (
	"net/http"
	"time"
)

// HealthHandler reports liveness.
type HealthHandler struct {
	service string
	started time.Time
	models  []string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(service string, models []string) *HealthHandler {
	return &HealthHandler{service: service, started: time.Now(), models: models}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        h.service,
		"models":         h.models,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}
