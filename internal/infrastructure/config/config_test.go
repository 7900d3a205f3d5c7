package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
indi:
  host: "observatory.local"
  port: 7625
  connect_timeout: 3s
  tick_interval: 2s
devices_file: "/etc/indiwatchdog/devices.json"
restart:
  trigger_limit: 5
  bin_path: "/opt/indi/bin"
  fifo_path: "/run/indi.fifo"
  retry_failed: false
mqtt:
  enabled: true
  broker:
    host: "mqtt.local"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "observatory.local", cfg.INDI.Host)
	assert.Equal(t, 7625, cfg.INDI.Port)
	assert.Equal(t, 3*time.Second, cfg.INDI.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.INDI.TickInterval)
	assert.Equal(t, "/etc/indiwatchdog/devices.json", cfg.DevicesFile)
	assert.Equal(t, 5, cfg.Restart.TriggerLimit)
	assert.Equal(t, "/opt/indi/bin", cfg.Restart.BinPath)
	assert.Equal(t, "/run/indi.fifo", cfg.Restart.FIFOPath)
	assert.False(t, cfg.Restart.RetryFailed)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "mqtt.local", cfg.MQTT.Broker.Host)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1883, cfg.MQTT.Broker.Port)
	assert.Equal(t, "observatory.local:7625", cfg.INDIAddress())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.INDI.Host)
	assert.Equal(t, 7624, cfg.INDI.Port)
	assert.Equal(t, 5*time.Second, cfg.INDI.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.INDI.TickInterval)
	assert.Equal(t, "indi_devices.json", cfg.DevicesFile)
	assert.Equal(t, 3, cfg.Restart.TriggerLimit)
	assert.Equal(t, "/usr/bin", cfg.Restart.BinPath)
	assert.Equal(t, "/tmp/indiserverFIFO", cfg.Restart.FIFOPath)
	assert.True(t, cfg.Restart.RetryFailed)
	assert.False(t, cfg.MQTT.Enabled)
	assert.False(t, cfg.InfluxDB.Enabled)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 90*24*time.Hour, cfg.Database.Retention)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "0.0.0.0:9624", cfg.APIAddress())
	assert.False(t, cfg.INDIServer.Managed)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
restart:
  trigger_limit: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart.trigger_limit")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "empty host",
			mutate:  func(c *Config) { c.INDI.Host = "" },
			wantErr: "indi.host",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.INDI.Port = 70000 },
			wantErr: "indi.port",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.INDI.ConnectTimeout = 0 },
			wantErr: "indi.connect_timeout",
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { c.INDI.TickInterval = 0 },
			wantErr: "indi.tick_interval",
		},
		{
			name:    "empty devices file",
			mutate:  func(c *Config) { c.DevicesFile = "" },
			wantErr: "devices_file",
		},
		{
			name:    "empty fifo",
			mutate:  func(c *Config) { c.Restart.FIFOPath = "" },
			wantErr: "restart.fifo_path",
		},
		{
			name: "managed indiserver without binary",
			mutate: func(c *Config) {
				c.INDIServer.Managed = true
				c.INDIServer.Binary = ""
			},
			wantErr: "indiserver.binary",
		},
		{
			name: "database enabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: "database.path",
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Database.Retention = -time.Hour },
			wantErr: "database.retention",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name: "api enabled with bad port",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 0
			},
			wantErr: "api.port",
		},
		{
			name: "api tls without certificate",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.TLS.Enabled = true
			},
			wantErr: "api.tls.cert_file",
		},
		{
			name: "short jwt secret",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Auth.JWTSecret = "short"
			},
			wantErr: "api.auth.jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.INDI.Host = ""
	cfg.Restart.TriggerLimit = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indi.host")
	assert.Contains(t, err.Error(), "restart.trigger_limit")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("INDIWATCHDOG_INDI_HOST", "env-host")
	t.Setenv("INDIWATCHDOG_INDI_PORT", "7000")
	t.Setenv("INDIWATCHDOG_DEVICES_FILE", "/env/devices.json")
	t.Setenv("INDIWATCHDOG_RESTART_TRIGGER_LIMIT", "7")
	t.Setenv("INDIWATCHDOG_RESTART_FIFO_PATH", "/env/fifo")
	t.Setenv("INDIWATCHDOG_MQTT_PASSWORD", "secret")
	t.Setenv("INDIWATCHDOG_LOGGING_LEVEL", "debug")
	t.Setenv("INDIWATCHDOG_API_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "env-host", cfg.INDI.Host)
	assert.Equal(t, 7000, cfg.INDI.Port)
	assert.Equal(t, "/env/devices.json", cfg.DevicesFile)
	assert.Equal(t, 7, cfg.Restart.TriggerLimit)
	assert.Equal(t, "/env/fifo", cfg.Restart.FIFOPath)
	assert.Equal(t, "secret", cfg.MQTT.Auth.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.API.Auth.JWTSecret)
}

func TestApplyEnvOverrides_InvalidNumberIgnored(t *testing.T) {
	t.Setenv("INDIWATCHDOG_INDI_PORT", "not-a-port")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, 7624, cfg.INDI.Port)
}
