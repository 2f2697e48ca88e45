package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/internal/bytesize"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, bytesize.Unlimited, cfg.Precache.Size)
}

func TestLoad_ParsesByteSizeAndDuration(t *testing.T) {
	path := writeConfigFile(t, `
shutdown_timeout: 10s
precache:
  location: /data/precache
  index: /data/precache/index.db
  size: 500Gi
  age_threshold: 2h
  expiry: 7d
  chunk_size: 4Mi
upstream:
  max_connections: 16
httpd:
  bind_address: 127.0.0.1
  listen: 9000
  timeout: 15s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 500*bytesize.GiB, cfg.Precache.Size)
	require.Equal(t, 4*bytesize.MiB, cfg.Precache.ChunkSize)
	require.Equal(t, 16, cfg.Upstream.MaxConnections)
	require.Equal(t, "127.0.0.1", cfg.HTTPD.BindAddress)
	require.Equal(t, 9000, cfg.HTTPD.Listen)
}

func TestLoad_UnlimitedLiteralsParse(t *testing.T) {
	path := writeConfigFile(t, `
shutdown_timeout: 10s
precache:
  location: /data/precache
  index: /data/precache/index.db
  size: unlimited
  age_threshold: unlimited
  expiry: unlimited
  chunk_size: 1Mi
upstream:
  max_connections: 8
httpd:
  bind_address: 0.0.0.0
  listen: 8080
  timeout: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, bytesize.Unlimited, cfg.Precache.Size)
	require.Equal(t, -1, int(cfg.Precache.AgeThreshold))
	require.Equal(t, -1, int(cfg.Precache.Expiry))
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.HTTPD.Listen = 9999

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, loaded.HTTPD.Listen)
}
