package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("expected valid config to pass, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "VERBOSE"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("expected oneof validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log format")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("expected oneof validation error, got: %v", err)
	}
}

func TestValidate_InvalidHTTPDPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTPD.Listen = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for out-of-range httpd.listen")
	}
}

func TestValidate_MissingPrecacheLocation(t *testing.T) {
	cfg := validConfig()
	cfg.Precache.Location = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing precache.location")
	}
}

func TestValidate_ZeroUpstreamMaxConnections(t *testing.T) {
	cfg := validConfig()
	cfg.Upstream.MaxConnections = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for upstream.max_connections == 0")
	}
}

func TestValidate_PostgresBackendRequiresHostAndDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.Precache.IndexBackend = "postgres"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error when postgres backend is missing host/database")
	}

	cfg.Precache.IndexPostgres.Host = "db.internal"
	cfg.Precache.IndexPostgres.Database = "irobot"
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config once host/database are set, got: %v", err)
	}
}
