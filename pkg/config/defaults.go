package config

import (
	"runtime"
	"time"

	"github.com/wtsi-hgi/irobot/internal/bytesize"
)

// ApplyDefaults fills in zero-valued fields of cfg with the broker's
// documented defaults. It never overwrites a value the caller (file, env)
// already set.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyPrecacheDefaults(&cfg.Precache)
	applyUpstreamDefaults(&cfg.Upstream)
	applyHTTPDDefaults(&cfg.HTTPD)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyPrecacheDefaults(cfg *PrecacheConfig) {
	if cfg.Location == "" {
		cfg.Location = "/var/lib/irobot/precache"
	}
	if cfg.IndexBackend == "" {
		cfg.IndexBackend = "sqlite"
	}
	if cfg.Index == "" {
		cfg.Index = "/var/lib/irobot/precache/index.db"
	}
	if cfg.Size == 0 {
		cfg.Size = bytesize.Unlimited
	}
	if cfg.AgeThreshold == 0 {
		cfg.AgeThreshold = -1 // unlimited: see internal/duration.Unlimited
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = -1
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 4 * bytesize.MiB
	}
	if cfg.ChecksumMismatchRetries == 0 {
		cfg.ChecksumMismatchRetries = 1
	}
}

func applyUpstreamDefaults(cfg *UpstreamConfig) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:9000"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 30
	}
	if cfg.ChecksumWorkers == 0 {
		cfg.ChecksumWorkers = runtime.NumCPU()
	}
}

func applyHTTPDDefaults(cfg *HTTPDConfig) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "0.0.0.0"
	}
	if cfg.Listen == 0 {
		cfg.Listen = 8080
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config populated entirely with defaults,
// used when no configuration file is found.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
