package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wtsi-hgi/irobot/internal/bytesize"
	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/pkg/api"
	"github.com/wtsi-hgi/irobot/pkg/config"
	"github.com/wtsi-hgi/irobot/pkg/metrics"
	metricsprom "github.com/wtsi-hgi/irobot/pkg/metrics/prometheus"
	"github.com/wtsi-hgi/irobot/pkg/precache/index"
	"github.com/wtsi-hgi/irobot/pkg/precache/invalidator"
	"github.com/wtsi-hgi/irobot/pkg/precache/manager"
	"github.com/wtsi-hgi/irobot/pkg/precache/ratetracker"
	"github.com/wtsi-hgi/irobot/pkg/precache/workerpool"
	"github.com/wtsi-hgi/irobot/pkg/upstream"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the irobotd precache broker",
	Long: `Start the irobotd precache broker in the foreground.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/irobot/config.yaml.

Examples:
  # Start with the default configuration
  irobotd start

  # Start with a custom configuration file
  irobotd start --config /etc/irobot/config.yaml

  # Override the log level via environment variable
  IROBOT_LOGGING_LEVEL=DEBUG irobotd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("irobotd starting",
		"config_source", getConfigSource(GetConfigFile()),
		"log_level", cfg.Logging.Level,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx, err := openIndex(cfg)
	if err != nil {
		return fmt.Errorf("failed to open tracking index: %w", err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			logger.Warn("failed to close tracking index", logger.Err(err))
		}
	}()

	report, err := idx.Repair(ctx)
	if err != nil {
		return fmt.Errorf("tracking index repair failed: %w", err)
	}
	logger.Info("tracking index repaired",
		"slots_reset", report.SlotsReset,
		"entities_pruned", report.EntitiesPruned,
	)

	gw := upstream.NewHTTPGateway(upstream.HTTPConfig{
		BaseURL:        cfg.Upstream.BaseURL,
		MaxConnections: cfg.Upstream.MaxConnections,
	})

	fetchPool := workerpool.New("fetch", workerpool.Config{
		Workers:             cfg.Upstream.MaxConnections,
		MaxInFlightUpstream: cfg.Upstream.MaxConnections,
	})
	defer fetchPool.Stop()

	checksumWorkers := cfg.Upstream.ChecksumWorkers
	if checksumWorkers <= 0 {
		checksumWorkers = runtime.NumCPU()
	}
	checksumPool := workerpool.New("checksum", workerpool.Config{Workers: checksumWorkers})
	defer checksumPool.Stop()

	rates := ratetracker.New(0)

	var reg *prometheus.Registry
	var recorder metrics.Recorder
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		recorder = metricsprom.NewPrecacheMetrics(reg)
	}

	mgr := manager.New(manager.Config{
		Root:                    cfg.Precache.Location,
		Capacity:                capacityOf(cfg.Precache.Size),
		ChunkSize:               int64(cfg.Precache.ChunkSize),
		FetchTimeout:            cfg.HTTPD.Timeout,
		ChecksumMismatchRetries: cfg.Precache.ChecksumMismatchRetries,
	}, idx, gw, fetchPool, checksumPool, rates)
	mgr.AttachMetrics(recorder)

	inv := invalidator.New(idx, mgr, invalidator.Config{
		Expiry:        cfg.Precache.Expiry,
		CapacityFloor: cfg.Precache.AgeThreshold,
	})
	inv.AttachMetrics(recorder)
	mgr.AttachInvalidator(inv)
	inv.Start(ctx)
	defer inv.Stop()

	router := api.NewRouter(mgr, cfg, cfg.HTTPD.Timeout, reg)
	server := api.NewServer(api.ServerConfig{
		BindAddress:     cfg.HTTPD.BindAddress,
		Port:            cfg.HTTPD.Listen,
		RequestTimeout:  cfg.HTTPD.Timeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, router)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("irobotd is running",
		"bind_address", cfg.HTTPD.BindAddress,
		"listen", cfg.HTTPD.Listen,
		"upstream", cfg.Upstream.BaseURL,
	)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", logger.Err(err))
			return err
		}
		logger.Info("irobotd stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", logger.Err(err))
			return err
		}
		logger.Info("irobotd stopped")
	}

	return nil
}

// openIndex builds the Tracking Index backend configured by cfg.
func openIndex(cfg *config.Config) (index.Index, error) {
	idxCfg := index.Config{}

	switch cfg.Precache.IndexBackend {
	case "postgres":
		idxCfg.Type = index.BackendPostgres
		idxCfg.Postgres = index.PostgresConfig{
			Host:     cfg.Precache.IndexPostgres.Host,
			Port:     cfg.Precache.IndexPostgres.Port,
			Database: cfg.Precache.IndexPostgres.Database,
			User:     cfg.Precache.IndexPostgres.User,
			Password: cfg.Precache.IndexPostgres.Password,
			SSLMode:  cfg.Precache.IndexPostgres.SSLMode,
		}
	default:
		idxCfg.Type = index.BackendSQLite
		idxCfg.SQLite = index.SQLiteConfig{Path: cfg.Precache.Index}
	}

	return index.New(idxCfg)
}

// capacityOf translates the configured byte budget into the Precache
// Manager's capacity convention, where 0 means unlimited.
func capacityOf(size bytesize.ByteSize) uint64 {
	if size == bytesize.Unlimited {
		return 0
	}
	return uint64(size)
}
