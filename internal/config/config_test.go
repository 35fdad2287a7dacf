package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"PORT", "SENSOR_HTTP_PORT", "SENSOR_LOG_LEVEL", "SENSOR_LOG_FORMAT", "SENSOR_QUERY_TIMEOUT",
	"SENSOR_PAGE_DEFAULT", "SENSOR_PAGE_MAX", "SENSOR_DB_DRIVER", "SENSOR_DB_URL", "SENSOR_DB_HOST",
	"SENSOR_DB_PORT", "SENSOR_DB_USER", "SENSOR_DB_PASSWORD", "SENSOR_DB_NAME", "SENSOR_DB_PATH",
	"SENSOR_DB_MAX_CONNS", "SENSOR_DB_MIN_CONNS", "SENSOR_DB_INIT_SCHEMA", "SENSOR_MQTT_BROKER",
	"SENSOR_MQTT_TOPIC", "SENSOR_MQTT_CLIENT_ID", "SENSOR_MDNS_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPPort != 5000 {
		t.Errorf("HTTPPort = %d, want 5000", cfg.HTTPPort)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Driver = %q, want %q", cfg.Database.Driver, DriverSQLite)
	}
	if cfg.Database.Path != "data/sensors.db" {
		t.Errorf("Path = %q", cfg.Database.Path)
	}
	if !cfg.Database.InitSchema {
		t.Error("InitSchema should default to true")
	}
	if cfg.QueryTimeout != 5*time.Second {
		t.Errorf("QueryTimeout = %v", cfg.QueryTimeout)
	}
	if cfg.PageDefault != 100 || cfg.PageMax != 1000 {
		t.Errorf("page bounds = %d/%d", cfg.PageDefault, cfg.PageMax)
	}
	if cfg.MQTT.Enabled() {
		t.Error("MQTT should be disabled without a broker")
	}
	if cfg.MQTT.Topic != "sensors/+/readings" {
		t.Errorf("Topic = %q", cfg.MQTT.Topic)
	}
	if !strings.HasPrefix(cfg.MQTT.ClientID, "sensor-server-") {
		t.Errorf("ClientID = %q", cfg.MQTT.ClientID)
	}
	if cfg.MDNSEnabled {
		t.Error("mDNS should be disabled by default")
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != LogFormatText {
		t.Errorf("logging = %v/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8000")
	t.Setenv("SENSOR_HTTP_PORT", "9000")
	t.Setenv("SENSOR_DB_DRIVER", "POSTGRES")
	t.Setenv("SENSOR_DB_HOST", "db.internal")
	t.Setenv("SENSOR_DB_PORT", "6543")
	t.Setenv("SENSOR_DB_USER", "ingest")
	t.Setenv("SENSOR_DB_PASSWORD", "secret")
	t.Setenv("SENSOR_DB_NAME", "telemetry")
	t.Setenv("SENSOR_DB_MAX_CONNS", "4")
	t.Setenv("SENSOR_DB_MIN_CONNS", "1")
	t.Setenv("SENSOR_DB_INIT_SCHEMA", "false")
	t.Setenv("SENSOR_QUERY_TIMEOUT", "750ms")
	t.Setenv("SENSOR_PAGE_DEFAULT", "20")
	t.Setenv("SENSOR_PAGE_MAX", "50")
	t.Setenv("SENSOR_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("SENSOR_MDNS_ENABLED", "true")
	t.Setenv("SENSOR_LOG_LEVEL", "warn")
	t.Setenv("SENSOR_LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPPort != 9000 {
		t.Errorf("HTTPPort = %d, want 9000", cfg.HTTPPort)
	}
	want := Database{
		Driver:   DriverPostgres,
		Host:     "db.internal",
		Port:     6543,
		User:     "ingest",
		Password: "secret",
		Name:     "telemetry",
		Path:     "data/sensors.db",
		MaxConns: 4,
		MinConns: 1,
	}
	if cfg.Database != want {
		t.Errorf("Database = %+v, want %+v", cfg.Database, want)
	}
	if cfg.QueryTimeout != 750*time.Millisecond {
		t.Errorf("QueryTimeout = %v", cfg.QueryTimeout)
	}
	if cfg.PageDefault != 20 || cfg.PageMax != 50 {
		t.Errorf("page bounds = %d/%d", cfg.PageDefault, cfg.PageMax)
	}
	if !cfg.MQTT.Enabled() {
		t.Error("MQTT should be enabled")
	}
	if !cfg.MDNSEnabled {
		t.Error("mDNS should be enabled")
	}
	if cfg.LogLevel != slog.LevelWarn || cfg.LogFormat != LogFormatJSON {
		t.Errorf("logging = %v/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadLogLevelOffsets(t *testing.T) {
	clearEnv(t)
	t.Setenv("SENSOR_LOG_LEVEL", "DEBUG+2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != slog.LevelDebug+2 {
		t.Errorf("LogLevel = %v, want DEBUG+2", cfg.LogLevel)
	}
}

func TestLoadPortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8081")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 8081 {
		t.Errorf("HTTPPort = %d, want 8081", cfg.HTTPPort)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "PORT", "abc"},
		{"port out of range", "SENSOR_HTTP_PORT", "70000"},
		{"bad driver", "SENSOR_DB_DRIVER", "oracle"},
		{"bad db port", "SENSOR_DB_PORT", "five"},
		{"zero max conns", "SENSOR_DB_MAX_CONNS", "0"},
		{"min above max", "SENSOR_DB_MIN_CONNS", "11"},
		{"bad bool", "SENSOR_DB_INIT_SCHEMA", "maybe"},
		{"bad duration", "SENSOR_QUERY_TIMEOUT", "soon"},
		{"negative duration", "SENSOR_QUERY_TIMEOUT", "-1s"},
		{"default above max", "SENSOR_PAGE_DEFAULT", "5000"},
		{"bad mdns flag", "SENSOR_MDNS_ENABLED", "sometimes"},
		{"unknown log level", "SENSOR_LOG_LEVEL", "verbose"},
		{"unknown log format", "SENSOR_LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
