package handlers

import (
	"net/http"

	"github.com/wtsi-hgi/irobot/pkg/api"
	"github.com/wtsi-hgi/irobot/pkg/config"
)

// ConfigHandler serves the broker's effective configuration, for
// operator visibility into the defaults and overrides actually in
// effect.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler creates a ConfigHandler bound to cfg.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// Get handles GET /config. The tracking index's Postgres password, if
// configured, is never included in the response.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	redacted := *h.cfg
	redacted.Precache.IndexPostgres.Password = ""
	api.JSON(w, http.StatusOK, api.OKResponse(redacted))
}
