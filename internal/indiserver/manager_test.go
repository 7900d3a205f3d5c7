package indiserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(script string) Config {
	return Config{
		Binary:          "/bin/sh",
		Args:            []string{"-c", script},
		RestartDelay:    10 * time.Millisecond,
		MaxRestartDelay: 20 * time.Millisecond,
		GracefulTimeout: time.Second,
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Binary: "/usr/bin/indiserver"})

	assert.Equal(t, 2*time.Second, m.config.RestartDelay)
	assert.Equal(t, time.Minute, m.config.MaxRestartDelay)
	assert.Equal(t, 2*time.Minute, m.config.StableThreshold)
	assert.Equal(t, 10*time.Second, m.config.GracefulTimeout)
	assert.Equal(t, StatusStopped, m.Status())
	assert.Zero(t, m.PID())
}

func TestServerArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-f", "/tmp/indiserverFIFO", "-p", "7624"},
		ServerArgs("/tmp/indiserverFIFO", 7624, nil),
	)
	assert.Equal(t,
		[]string{"-f", "/run/indi.fifo", "-p", "7625", "-v", "-m", "100"},
		ServerArgs("/run/indi.fifo", 7625, []string{"-v", "-m", "100"}),
	)
}

func TestEnsureFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indiserverFIFO")

	require.NoError(t, EnsureFIFO(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeNamedPipe)

	// existing pipe is reused
	require.NoError(t, EnsureFIFO(path))
}

func TestEnsureFIFO_RegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-fifo")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	err := EnsureFIFO(path)
	assert.ErrorIs(t, err, ErrNotFIFO)
}

func TestStartStop(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "fifo")
	cfg := shell("sleep 30")
	cfg.FIFOPath = fifo
	m := NewManager(cfg)

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.IsRunning())
	assert.NotZero(t, m.PID())

	_, err := os.Stat(fifo)
	assert.NoError(t, err)

	require.NoError(t, m.Stop())
	assert.Equal(t, StatusStopped, m.Status())
	assert.Zero(t, m.PID())

	// second stop is a no-op
	assert.NoError(t, m.Stop())
}

func TestStart_AlreadyRunning(t *testing.T) {
	m := NewManager(shell("sleep 30"))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Stop() })

	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)
}

func TestStart_MissingBinary(t *testing.T) {
	m := NewManager(Config{Binary: filepath.Join(t.TempDir(), "indiserver")})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, m.Status())
	assert.Error(t, m.LastError())
}

func TestStart_BadFIFOPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg := shell("sleep 30")
	cfg.FIFOPath = path
	m := NewManager(cfg)

	assert.ErrorIs(t, m.Start(context.Background()), ErrNotFIFO)
	assert.Equal(t, StatusFailed, m.Status())
}

func TestRestartsAfterCrash(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran-once")
	// First run exits immediately; the restarted run stays up.
	m := NewManager(shell(`if [ -e ` + marker + ` ]; then sleep 30; else touch ` + marker + `; exit 1; fi`))
	t.Cleanup(func() { m.Stop() })

	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool {
		return m.RestartCount() == 1 && m.IsRunning()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Error(t, m.LastError())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := shell("exit 3")
	cfg.MaxRestartAttempts = 2
	m := NewManager(cfg)
	t.Cleanup(func() { m.Stop() })

	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool {
		return errors.Is(m.LastError(), ErrTooManyRestarts)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusFailed, m.Status())
	assert.Equal(t, 2, m.RestartCount())
}

func TestContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(shell("sleep 30"))
	require.NoError(t, m.Start(ctx))
	pid := m.PID()

	cancel()

	require.Eventually(t, func() bool {
		return m.Status() == StatusStopped
	}, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH)
}

func TestStop_EscalatesToKill(t *testing.T) {
	cfg := shell(`trap "" TERM; sleep 30`)
	cfg.GracefulTimeout = 100 * time.Millisecond
	m := NewManager(cfg)
	require.NoError(t, m.Start(context.Background()))
	// give the shell time to install the trap
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Stop())

	assert.Equal(t, StatusStopped, m.Status())
	assert.Less(t, time.Since(start), 5*time.Second)
}
