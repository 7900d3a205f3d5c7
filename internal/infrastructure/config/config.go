package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the INDI watchdog.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	INDI        INDIConfig       `yaml:"indi"`
	DevicesFile string           `yaml:"devices_file"`
	Restart     RestartConfig    `yaml:"restart"`
	INDIServer  INDIServerConfig `yaml:"indiserver"`
	Database    DatabaseConfig   `yaml:"database"`
	MQTT        MQTTConfig       `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig   `yaml:"influxdb"`
	Logging     LoggingConfig    `yaml:"logging"`
	API         APIConfig        `yaml:"api"`
}

// INDIConfig contains the INDI server (broker) connection settings.
type INDIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ConnectTimeout bounds a single connection attempt. It is also the
	// fixed retry window while the server is unreachable.
	// Default: 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// TickInterval is the period of the reconciliation sweep.
	// Default: 5s
	TickInterval time.Duration `yaml:"tick_interval"`
}

// RestartConfig contains driver restart settings.
type RestartConfig struct {
	// TriggerLimit is the number of restart requests needed per fired
	// restart once a driver has fired its first one. Default: 3
	TriggerLimit int `yaml:"trigger_limit"`

	// BinPath is the directory holding the INDI driver executables.
	// Default: "/usr/bin"
	BinPath string `yaml:"bin_path"`

	// FIFOPath is the indiserver control FIFO.
	// Default: "/tmp/indiserverFIFO"
	FIFOPath string `yaml:"fifo_path"`

	// RetryFailed leaves a driver one strike short of the trigger limit
	// when its restart could not be delivered, so the next request fires.
	// Default: true
	RetryFailed bool `yaml:"retry_failed"`
}

// INDIServerConfig contains settings for managing the indiserver process.
type INDIServerConfig struct {
	// Managed indicates whether the watchdog should run indiserver itself.
	// If false, indiserver is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the indiserver executable.
	// Default: "/usr/bin/indiserver"
	Binary string `yaml:"binary"`

	// ExtraArgs are appended after the FIFO and port arguments.
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// RestartDelay is the initial delay before restarting a crashed server.
	// Default: 2s
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite database settings for restart history.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how long restart events are kept. 0 keeps them forever.
	// Default: 2160h (90 days)
	Retention time.Duration `yaml:"retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// APIConfig contains the HTTP status API settings. The same listener
// serves Prometheus metrics and the liveness/readiness probes.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	Auth      APIAuthConfig    `yaml:"auth"`

	// StaleAfter is how long the sweep may go without progress before
	// the liveness check fails. Default: 30s
	StaleAfter time.Duration `yaml:"stale_after"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains the event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// APIAuthConfig protects the state-changing endpoints.
type APIAuthConfig struct {
	// JWTSecret is the HS256 key bearer tokens must be signed with.
	// Empty disables the restart endpoint entirely.
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INDIWATCHDOG_SECTION_KEY
// For example: INDIWATCHDOG_INDI_HOST, INDIWATCHDOG_RESTART_FIFO_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		INDI: INDIConfig{
			Host:           "localhost",
			Port:           7624,
			ConnectTimeout: 5 * time.Second,
			TickInterval:   5 * time.Second,
		},
		DevicesFile: "indi_devices.json",
		Restart: RestartConfig{
			TriggerLimit: 3,
			BinPath:      "/usr/bin",
			FIFOPath:     "/tmp/indiserverFIFO",
			RetryFailed:  true,
		},
		INDIServer: INDIServerConfig{
			Binary:       "/usr/bin/indiserver",
			RestartDelay: 2 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/indiwatchdog.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   90 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "indiwatchdog",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "indiwatchdog",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 9624,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
			StaleAfter: 30 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: INDIWATCHDOG_SECTION_KEY
// Values that fail to parse are ignored and left to Validate.
func applyEnvOverrides(cfg *Config) {
	// INDI server
	if v := os.Getenv("INDIWATCHDOG_INDI_HOST"); v != "" {
		cfg.INDI.Host = v
	}
	if v := os.Getenv("INDIWATCHDOG_INDI_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.INDI.Port = port
		}
	}
	if v := os.Getenv("INDIWATCHDOG_DEVICES_FILE"); v != "" {
		cfg.DevicesFile = v
	}

	// Restart
	if v := os.Getenv("INDIWATCHDOG_RESTART_TRIGGER_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Restart.TriggerLimit = n
		}
	}
	if v := os.Getenv("INDIWATCHDOG_RESTART_BIN_PATH"); v != "" {
		cfg.Restart.BinPath = v
	}
	if v := os.Getenv("INDIWATCHDOG_RESTART_FIFO_PATH"); v != "" {
		cfg.Restart.FIFOPath = v
	}

	// Database
	if v := os.Getenv("INDIWATCHDOG_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("INDIWATCHDOG_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INDIWATCHDOG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INDIWATCHDOG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("INDIWATCHDOG_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("INDIWATCHDOG_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// Logging
	if v := os.Getenv("INDIWATCHDOG_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// INDI validation
	if c.INDI.Host == "" {
		errs = append(errs, "indi.host is required")
	}
	if c.INDI.Port < 1 || c.INDI.Port > 65535 {
		errs = append(errs, "indi.port must be between 1 and 65535")
	}
	if c.INDI.ConnectTimeout <= 0 {
		errs = append(errs, "indi.connect_timeout must be positive")
	}
	if c.INDI.TickInterval <= 0 {
		errs = append(errs, "indi.tick_interval must be positive")
	}
	if c.DevicesFile == "" {
		errs = append(errs, "devices_file is required")
	}

	// Restart validation
	if c.Restart.TriggerLimit < 1 {
		errs = append(errs, "restart.trigger_limit must be at least 1")
	}
	if c.Restart.FIFOPath == "" {
		errs = append(errs, "restart.fifo_path is required")
	}

	if c.INDIServer.Managed && c.INDIServer.Binary == "" {
		errs = append(errs, "indiserver.binary is required when indiserver.managed is true")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}
	if c.Database.Retention < 0 {
		errs = append(errs, "database.retention cannot be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb.enabled is true")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
			errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when api.tls.enabled is true")
		}
		if c.API.Auth.JWTSecret != "" && len(c.API.Auth.JWTSecret) < 32 {
			errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// INDIAddress returns the host:port of the INDI server.
func (c *Config) INDIAddress() string {
	return fmt.Sprintf("%s:%d", c.INDI.Host, c.INDI.Port)
}

// APIAddress returns the listen address of the HTTP API.
func (c *Config) APIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
