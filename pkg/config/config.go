// Package config loads and validates the precache broker's configuration:
// logging, the tracking index location and backend, the precache's
// capacity and expiry thresholds, the upstream connection limit, and the
// HTTP server's bind address and timeout — the string-to-value keys of
// spec §6, adapted from the teacher's Viper + mapstructure + YAML loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wtsi-hgi/irobot/internal/bytesize"
	"github.com/wtsi-hgi/irobot/internal/duration"
)

// Config is the precache broker's static configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (IROBOT_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server and the
	// Invalidator's sweep goroutine.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Precache configures the tracking index, capacity and eviction
	// thresholds, and checksum chunk size.
	Precache PrecacheConfig `mapstructure:"precache" yaml:"precache"`

	// Upstream configures the gateway's connection bound.
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`

	// HTTPD configures the request workflow's HTTP server.
	HTTPD HTTPDConfig `mapstructure:"httpd" yaml:"httpd"`

	// Metrics configures the optional Prometheus exposition endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// PrecacheConfig configures the precache's on-disk footprint: spec §6's
// `precache.location`, `precache.index`, `precache.size`,
// `precache.age_threshold`, `precache.expiry` and `precache.chunk_size`.
type PrecacheConfig struct {
	// Location is the root directory entity directories are created under.
	Location string `mapstructure:"location" validate:"required" yaml:"location"`

	// IndexBackend selects the tracking index's storage engine: "sqlite"
	// (default, single-node) or "postgres" (shared upstream-rate budget
	// across instances).
	IndexBackend string `mapstructure:"index_backend" validate:"omitempty,oneof=sqlite postgres" yaml:"index_backend"`

	// Index is the tracking index's location: a filesystem path for the
	// sqlite backend, or a "host:port/database" pair for postgres (user,
	// password and SSL mode come from IndexPostgres below).
	Index string `mapstructure:"index" validate:"required" yaml:"index"`

	// IndexPostgres supplies connection details when IndexBackend is
	// "postgres"; ignored for sqlite.
	IndexPostgres PostgresConfig `mapstructure:"index_postgres" yaml:"index_postgres,omitempty"`

	// Size is the total commitment budget. The literal "unlimited"
	// disables capacity-driven eviction entirely.
	Size bytesize.ByteSize `mapstructure:"size" yaml:"size"`

	// AgeThreshold is the anti-DoS floor on capacity eviction: entities
	// younger than this are never evicted to free room for a new
	// admission, even under PrecacheFull pressure. Default: unlimited
	// (no entity is ever old enough, so capacity eviction never frees room).
	AgeThreshold time.Duration `mapstructure:"age_threshold" yaml:"age_threshold"`

	// Expiry is the temporal sweep's idle threshold: an entity untouched
	// for longer than this is proactively evicted. Default: unlimited
	// (temporal sweep disabled).
	Expiry time.Duration `mapstructure:"expiry" yaml:"expiry"`

	// ChunkSize is the block size the Checksummer partitions data into,
	// and the alignment boundary for Range responses.
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" validate:"required" yaml:"chunk_size"`

	// ChecksumMismatchRetries bounds how many times a data fetch is
	// retried after a whole-file checksum mismatch before the admission
	// fails with UpstreamError.
	ChecksumMismatchRetries int `mapstructure:"checksum_mismatch_retries" validate:"omitempty,min=0" yaml:"checksum_mismatch_retries"`
}

// PostgresConfig configures the optional PostgreSQL tracking-index backend.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host,omitempty"`
	Port     int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port,omitempty"`
	Database string `mapstructure:"database" yaml:"database,omitempty"`
	User     string `mapstructure:"user" yaml:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode,omitempty"`
}

// UpstreamConfig configures the Upstream Gateway's connection bound.
type UpstreamConfig struct {
	// BaseURL is the upstream object store's root.
	BaseURL string `mapstructure:"base_url" validate:"required,url" yaml:"base_url"`

	// MaxConnections bounds concurrent upstream fetches; also sizes the
	// fetch worker pool.
	MaxConnections int `mapstructure:"max_connections" validate:"required,min=1" yaml:"max_connections"`

	// ChecksumWorkers sizes the checksum worker pool. Default: number of
	// CPUs.
	ChecksumWorkers int `mapstructure:"checksum_workers" validate:"omitempty,min=1" yaml:"checksum_workers"`
}

// HTTPDConfig configures the request workflow's HTTP server.
type HTTPDConfig struct {
	// BindAddress is the interface the server listens on.
	BindAddress string `mapstructure:"bind_address" validate:"required" yaml:"bind_address"`

	// Listen is the TCP port.
	Listen int `mapstructure:"listen" validate:"required,min=1,max=65535" yaml:"listen"`

	// Timeout is the per-request deadline; an open() that doesn't resolve
	// before it elapses yields 504 Gateway Timeout.
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0" yaml:"timeout"`

	// Authentication is the ordered list of authentication schemes tried
	// for each request; authentication itself is an external collaborator
	// (spec §1's "out of scope" list) — this config only orders it.
	Authentication []string `mapstructure:"authentication" yaml:"authentication,omitempty"`
}

// MetricsConfig configures the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, returning a user-friendly error if the
// requested file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize one first:\n"+
				"  irobotd init\n\n"+
				"Or specify a custom config file:\n"+
				"  irobotd start --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create it:\n"+
			"  irobotd init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML, respecting yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitConfig writes a default configuration file to the default location,
// returning the path it was written to. It refuses to overwrite an
// existing file unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file to path, refusing
// to overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}
	return SaveConfig(GetDefaultConfig(), path)
}

// Validate checks cfg against its struct tags plus the cross-field rules
// the tag language can't express (e.g. postgres-only fields).
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.Precache.IndexBackend == "postgres" {
		if cfg.Precache.IndexPostgres.Host == "" || cfg.Precache.IndexPostgres.Database == "" {
			return fmt.Errorf("precache.index_postgres.host and .database are required when precache.index_backend is postgres")
		}
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("IROBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings/numbers to bytesize.ByteSize,
// accepting the "unlimited" literal per spec §6.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings/numbers to time.Duration using the
// extended grammar (h/d/w/y, "unlimited") spec §6 requires, rather than
// bare time.ParseDuration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return duration.Parse(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "irobot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "irobot")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for `config init`).
func GetConfigDir() string {
	return getConfigDir()
}
