package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wtsi-hgi/irobot/internal/logger"
)

// Server is the precache broker's HTTP server: the Request Workflow's
// transport. It supports graceful shutdown with a configurable timeout,
// mirroring the teacher's server lifecycle shape.
type Server struct {
	server       *http.Server
	config       ServerConfig
	shutdownOnce sync.Once
}

// NewServer creates a new HTTP server wrapping handler. The server is
// created in a stopped state; call Start to begin serving requests.
func NewServer(config ServerConfig, handler http.Handler) *Server {
	config.applyDefaults()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.BindAddress, config.Port),
		Handler:      handler,
		ReadTimeout:  config.RequestTimeout,
		WriteTimeout: config.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{server: server, config: config}
}

// Start listens and serves until ctx is cancelled, then performs a
// graceful shutdown bounded by config.ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("irobot http server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("irobot http server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("irobot http server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("irobot http server shutdown error: %w", err)
			logger.Error("irobot http server shutdown error", "error", err)
		} else {
			logger.Info("irobot http server stopped gracefully")
		}
	})
	return shutdownErr
}

// Addr returns the address the server is configured to listen on.
func (s *Server) Addr() string {
	return s.server.Addr
}
