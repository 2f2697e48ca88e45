package handlers

import (
	"net/http"

	"github.com/wtsi-hgi/irobot/pkg/api"
	"github.com/wtsi-hgi/irobot/pkg/precache/manager"
)

// StatusHandler serves the precache-wide GET /status endpoint.
type StatusHandler struct {
	manager *manager.Manager
}

// NewStatusHandler creates a StatusHandler bound to mgr.
func NewStatusHandler(mgr *manager.Manager) *StatusHandler {
	return &StatusHandler{manager: mgr}
}

type statusResponse struct {
	Commitment uint64  `json:"commitment"`
	Capacity   uint64  `json:"capacity"`
	RateBps    float64 `json:"rate_bytes_per_second"`
	RateStderr float64 `json:"rate_stderr"`
	Samples    int     `json:"rate_samples"`
}

// Get handles GET /status.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, api.OKResponse(statusResponse{
		Commitment: st.Commitment,
		Capacity:   st.Capacity,
		RateBps:    st.Rate.MeanBps,
		RateStderr: st.Rate.StderrBps,
		Samples:    st.Rate.Samples,
	}))
}
