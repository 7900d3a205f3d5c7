package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/indi-watchdog/internal/infrastructure/config"
	"github.com/nerrad567/indi-watchdog/internal/infrastructure/logging"
	"github.com/nerrad567/indi-watchdog/internal/infrastructure/mqtt"
)

const testDevices = `{
  // comments and trailing commas are accepted
  "indiDevices": [
    {
      "indiDeviceName": "EQMod Mount",
      "linuxDeviceName": "/dev/nonexistent-mount",
      "indiDeviceDriverName": "indi_eqmod_telescope",
      "enableAutoConnect": true,
    },
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestParseFlags(t *testing.T) {
	t.Setenv("INDIWATCHDOG_CONFIG", "")

	opts, err := parseFlags([]string{
		"--config", "/etc/indiwatchdog.yaml",
		"-d", "devices.json",
		"--hostname", "astro.local",
		"--port", "7625",
		"--timeout", "3s",
		"-vv",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "/etc/indiwatchdog.yaml", opts.configPath)
	assert.Equal(t, "devices.json", opts.devices)
	assert.Equal(t, "astro.local", opts.hostname)
	assert.Equal(t, 7625, opts.port)
	assert.Equal(t, 3*time.Second, opts.timeout)
	assert.Equal(t, 2, opts.verbosity)
	assert.True(t, opts.set["hostname"])
	assert.True(t, opts.set["verbose"])
}

func TestParseFlags_ConfigFromEnv(t *testing.T) {
	t.Setenv("INDIWATCHDOG_CONFIG", "/opt/watchdog.yaml")

	opts, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/opt/watchdog.yaml", opts.configPath)
	assert.Empty(t, opts.set)
}

func TestParseFlags_HelpAndVersion(t *testing.T) {
	for _, arg := range []string{"--help", "-h", "--version"} {
		t.Run(arg, func(t *testing.T) {
			var out bytes.Buffer
			_, err := parseFlags([]string{arg}, &out)
			assert.ErrorIs(t, err, errHelp)
			assert.Contains(t, out.String(), "indiwatchdog")
		})
	}
}

func TestParseFlags_Errors(t *testing.T) {
	_, err := parseFlags([]string{"--port", "seventy"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = parseFlags([]string{"extra"}, &bytes.Buffer{})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, errHelp))
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
indi:
  host: "indi.example"
  port: 7624
devices_file: "from-file.json"
logging:
  level: warn
  format: text
`)
	opts, err := parseFlags([]string{"-c", path, "--port", "7700", "--timeout", "2s", "-v"}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg, err := loadConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, "indi.example", cfg.INDI.Host)
	assert.Equal(t, 7700, cfg.INDI.Port)
	assert.Equal(t, 2*time.Second, cfg.INDI.ConnectTimeout)
	assert.Equal(t, "from-file.json", cfg.DevicesFile)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_InvalidFlag(t *testing.T) {
	opts, err := parseFlags([]string{"--port", "70000"}, &bytes.Buffer{})
	require.NoError(t, err)

	_, err = loadConfig(opts)
	assert.Error(t, err)
}

func TestRun_InvalidConfig(t *testing.T) {
	err := run(context.Background(), options{configPath: "/nonexistent/path/config.yaml"})
	assert.Error(t, err)
}

func TestRun_MissingDevices(t *testing.T) {
	opts := options{
		devices: filepath.Join(t.TempDir(), "missing.json"),
		set:     map[string]bool{"devices": true},
	}
	err := run(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading device list")
}

// TestRun_StopsOnCancel runs the full wiring against an unreachable INDI
// server with restart history enabled and checks for a clean shutdown.
func TestRun_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	devices := writeFile(t, "devices.json", testDevices)
	path := writeFile(t, "config.yaml", `
indi:
  host: "127.0.0.1"
  connect_timeout: 50ms
  tick_interval: 50ms
restart:
  fifo_path: "`+filepath.Join(dir, "fifo")+`"
database:
  enabled: true
  path: "`+filepath.Join(dir, "watchdog.db")+`"
logging:
  level: error
  format: text
  output: stderr
`)

	opts, err := parseFlags([]string{
		"-c", path,
		"-d", devices,
		"--port", strconv.Itoa(closedPort(t)),
	}, &bytes.Buffer{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, opts) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	_, err = os.Stat(filepath.Join(dir, "watchdog.db"))
	assert.NoError(t, err)
}

type fakeUnsubscriber struct {
	topics []string
	err    error
}

func (f *fakeUnsubscriber) Unsubscribe(topic string) error {
	f.topics = append(f.topics, topic)
	return f.err
}

func TestStopRestartCommands(t *testing.T) {
	topic := mqtt.Topics{}.RestartCommand()

	tests := []struct {
		name    string
		err     error
		wantLog string
	}{
		{"unsubscribed", nil, "stopped accepting restart commands"},
		{"broker gone", mqtt.ErrNotConnected, "restart commands dropped while disconnected"},
		{"broker error", mqtt.ErrUnsubscribeFailed, "unsubscribing restart commands"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logging.NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, "test", &buf)
			client := &fakeUnsubscriber{err: tt.err}

			stopRestartCommands(client, topic, log)

			assert.Equal(t, []string{topic}, client.topics)
			assert.Contains(t, buf.String(), tt.wantLog)
		})
	}
}
