package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database driver names accepted in SENSOR_DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Log output formats accepted in SENSOR_LOG_FORMAT.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config lists the tunable parameters for the sensor server.
type Config struct {
	HTTPPort     int
	LogLevel     slog.Level
	LogFormat    string
	QueryTimeout time.Duration
	PageDefault  int
	PageMax      int
	Database     Database
	MQTT         MQTT
	MDNSEnabled  bool
}

// Database describes how the connection provider reaches storage.
type Database struct {
	Driver     string
	URL        string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	Path       string
	MaxConns   int
	MinConns   int
	InitSchema bool
}

// MQTT holds the optional broker subscription settings. An empty Broker disables it.
type MQTT struct {
	Broker   string
	Topic    string
	ClientID string
}

// Enabled reports whether MQTT ingestion was configured.
func (m MQTT) Enabled() bool {
	return m.Broker != ""
}

const (
	defaultHTTPPort     = 5000
	defaultLogLevel     = slog.LevelInfo
	defaultLogFormat    = LogFormatText
	defaultQueryTimeout = 5 * time.Second
	defaultPageDefault  = 100
	defaultPageMax      = 1000

	defaultDBDriver   = DriverSQLite
	defaultDBHost     = "localhost"
	defaultDBPort     = 5432
	defaultDBUser     = "postgres"
	defaultDBName     = "sensors"
	defaultDBPath     = "data/sensors.db"
	defaultDBMaxConns = 10

	defaultMQTTTopic = "sensors/+/readings"
)

// Load derives configuration values from environment variables, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:     defaultHTTPPort,
		LogLevel:     defaultLogLevel,
		LogFormat:    defaultLogFormat,
		QueryTimeout: defaultQueryTimeout,
		PageDefault:  defaultPageDefault,
		PageMax:      defaultPageMax,
		Database: Database{
			Driver:     defaultDBDriver,
			Host:       defaultDBHost,
			Port:       defaultDBPort,
			User:       defaultDBUser,
			Name:       defaultDBName,
			Path:       defaultDBPath,
			MaxConns:   defaultDBMaxConns,
			InitSchema: true,
		},
		MQTT: MQTT{
			Topic:    defaultMQTTTopic,
			ClientID: defaultClientID(),
		},
	}

	// PORT is honoured for hosting platforms; SENSOR_HTTP_PORT wins when both are set.
	if err := intVar("PORT", &cfg.HTTPPort); err != nil {
		return Config{}, err
	}
	if err := intVar("SENSOR_HTTP_PORT", &cfg.HTTPPort); err != nil {
		return Config{}, err
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return Config{}, fmt.Errorf("invalid http port %d: must be between 1 and 65535", cfg.HTTPPort)
	}

	if v := os.Getenv("SENSOR_LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("invalid SENSOR_LOG_LEVEL: %w", err)
		}
	}
	if v := os.Getenv("SENSOR_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if cfg.LogFormat != LogFormatText && cfg.LogFormat != LogFormatJSON {
		return Config{}, fmt.Errorf("invalid SENSOR_LOG_FORMAT %q: want %s or %s", cfg.LogFormat, LogFormatText, LogFormatJSON)
	}

	if v := os.Getenv("SENSOR_QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SENSOR_QUERY_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid SENSOR_QUERY_TIMEOUT: must be positive")
		}
		cfg.QueryTimeout = d
	}

	if err := intVar("SENSOR_PAGE_DEFAULT", &cfg.PageDefault); err != nil {
		return Config{}, err
	}
	if err := intVar("SENSOR_PAGE_MAX", &cfg.PageMax); err != nil {
		return Config{}, err
	}
	if cfg.PageMax < 1 {
		return Config{}, fmt.Errorf("invalid SENSOR_PAGE_MAX: must be positive")
	}
	if cfg.PageDefault < 1 || cfg.PageDefault > cfg.PageMax {
		return Config{}, fmt.Errorf("invalid SENSOR_PAGE_DEFAULT: must be between 1 and %d", cfg.PageMax)
	}

	if err := loadDatabase(&cfg.Database); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("SENSOR_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("SENSOR_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}
	if v := os.Getenv("SENSOR_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}

	if err := boolVar("SENSOR_MDNS_ENABLED", &cfg.MDNSEnabled); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDatabase(db *Database) error {
	if v := os.Getenv("SENSOR_DB_DRIVER"); v != "" {
		db.Driver = strings.ToLower(v)
	}
	switch db.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("invalid SENSOR_DB_DRIVER %q: want %s or %s", db.Driver, DriverSQLite, DriverPostgres)
	}

	if v := os.Getenv("SENSOR_DB_URL"); v != "" {
		db.URL = v
	}
	if v := os.Getenv("SENSOR_DB_HOST"); v != "" {
		db.Host = v
	}
	if err := intVar("SENSOR_DB_PORT", &db.Port); err != nil {
		return err
	}
	if v := os.Getenv("SENSOR_DB_USER"); v != "" {
		db.User = v
	}
	if v, ok := os.LookupEnv("SENSOR_DB_PASSWORD"); ok {
		db.Password = v
	}
	if v := os.Getenv("SENSOR_DB_NAME"); v != "" {
		db.Name = v
	}
	if v := os.Getenv("SENSOR_DB_PATH"); v != "" {
		db.Path = v
	}
	if err := intVar("SENSOR_DB_MAX_CONNS", &db.MaxConns); err != nil {
		return err
	}
	if err := intVar("SENSOR_DB_MIN_CONNS", &db.MinConns); err != nil {
		return err
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("invalid SENSOR_DB_MAX_CONNS: must be positive")
	}
	if db.MinConns < 0 || db.MinConns > db.MaxConns {
		return fmt.Errorf("invalid SENSOR_DB_MIN_CONNS: must be between 0 and %d", db.MaxConns)
	}

	return boolVar("SENSOR_DB_INIT_SCHEMA", &db.InitSchema)
}

func intVar(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func boolVar(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func defaultClientID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "local"
	}
	return "sensor-server-" + hostname
}
