package handlers

import (
	"net/http"

	"github.com/wtsi-hgi/irobot/pkg/api"
	"github.com/wtsi-hgi/irobot/pkg/precache/manager"
)

// HealthHandler handles the unauthenticated liveness probe exposed
// alongside the precache's own status endpoint.
type HealthHandler struct {
	manager *manager.Manager
}

// NewHealthHandler creates a health handler. manager may be nil, in which
// case Liveness still reports healthy (the HTTP server itself is up) but
// does not attempt to query the precache.
func NewHealthHandler(mgr *manager.Manager) *HealthHandler {
	return &HealthHandler{manager: mgr}
}

// Liveness handles GET /healthz — a liveness probe with no precache
// interaction, so it never blocks on a slow tracking-index query.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, api.HealthyResponse(map[string]string{"service": "irobotd"}))
}
