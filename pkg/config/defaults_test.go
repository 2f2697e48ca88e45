package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/internal/bytesize"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, "stdout", cfg.Logging.Output)

	require.Equal(t, bytesize.Unlimited, cfg.Precache.Size)
	require.Equal(t, time.Duration(-1), cfg.Precache.AgeThreshold)
	require.Equal(t, time.Duration(-1), cfg.Precache.Expiry)
	require.Equal(t, 4*bytesize.MiB, cfg.Precache.ChunkSize)
	require.Equal(t, 1, cfg.Precache.ChecksumMismatchRetries)

	require.Equal(t, 30, cfg.Upstream.MaxConnections)
	require.Equal(t, runtime.NumCPU(), cfg.Upstream.ChecksumWorkers)

	require.Equal(t, "0.0.0.0", cfg.HTTPD.BindAddress)
	require.Equal(t, 8080, cfg.HTTPD.Listen)
	require.Equal(t, 30*time.Second, cfg.HTTPD.Timeout)

	require.Equal(t, 9090, cfg.Metrics.Port)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestApplyDefaults_DoesNotOverrideSetValues(t *testing.T) {
	cfg := &Config{
		Precache: PrecacheConfig{
			Size:      100 * bytesize.GiB,
			ChunkSize: 1 * bytesize.MiB,
		},
		Upstream: UpstreamConfig{MaxConnections: 5},
		HTTPD:    HTTPDConfig{Listen: 1234},
	}
	ApplyDefaults(cfg)

	require.Equal(t, 100*bytesize.GiB, cfg.Precache.Size)
	require.Equal(t, 1*bytesize.MiB, cfg.Precache.ChunkSize)
	require.Equal(t, 5, cfg.Upstream.MaxConnections)
	require.Equal(t, 1234, cfg.HTTPD.Listen)
}

func TestGetDefaultConfig_PassesValidation(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))
}
