package handlers

import (
	"net/http"

	"github.com/civiclens/civiclens/backend/pkg/config"
)

// HealthHandler reports service identity
type HealthHandler struct {
	app config.AppConfig
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(app config.AppConfig) *HealthHandler {
	return &HealthHandler{app: app}
}

// Health handles GET /health and GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"app_name":    h.app.Name,
		"version":     h.app.Version,
		"environment": h.app.Environment,
	})
}
