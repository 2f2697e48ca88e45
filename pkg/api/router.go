package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/pkg/api/handlers"
	"github.com/wtsi-hgi/irobot/pkg/config"
	"github.com/wtsi-hgi/irobot/pkg/precache/manager"
)

// NewRouter builds the precache broker's HTTP surface: the Request
// Workflow's data-object routes plus the operational endpoints (health,
// status, manifest, config, metrics).
//
// Routes:
//   - GET|HEAD /*    - fetch a data object (202 with an ETA while it is not yet ready), or its metadata
//     representation via Accept negotiation
//   - POST /*        - force a re-fetch of a tracked object
//   - DELETE /*      - evict a tracked object
//   - GET /status    - precache-wide commitment, capacity and rate
//   - GET /manifest  - per-datatype state of a single tracked object
//   - GET /config    - the broker's effective, non-secret configuration
//   - GET /healthz   - liveness probe
//   - GET /metrics   - Prometheus exposition, when enabled
//
// reg is the registry the precache's own gauges and counters were
// registered against (see pkg/metrics/prometheus.NewPrecacheMetrics); it
// is only consulted when cfg.Metrics.Enabled is true, and may be nil
// otherwise.
func NewRouter(mgr *manager.Manager, cfg *config.Config, requestTimeout time.Duration, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	healthHandler := handlers.NewHealthHandler(mgr)
	r.Get("/healthz", healthHandler.Liveness)

	if cfg.Metrics.Enabled && reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	statusHandler := handlers.NewStatusHandler(mgr)
	r.Get("/status", statusHandler.Get)

	configHandler := handlers.NewConfigHandler(cfg)
	r.Get("/config", configHandler.Get)

	dataHandler := handlers.NewDataHandler(mgr)
	r.Get("/manifest/*", dataHandler.Manifest)

	r.Get("/*", dataHandler.Get)
	r.Head("/*", dataHandler.Get)
	r.Post("/*", dataHandler.Post)
	r.Delete("/*", dataHandler.Delete)

	return r
}

// requestLogger logs each request's method, path, status and duration
// through internal/logger, the same shape as the teacher's request
// middleware.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("irobot request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("irobot request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
