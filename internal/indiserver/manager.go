package indiserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status represents the current state of the managed server.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Config holds configuration for the managed server.
type Config struct {
	// Binary is the path to the indiserver executable.
	Binary string

	// Args are passed to the binary, usually built with ServerArgs.
	Args []string

	// FIFOPath is created as a named pipe before the first start when set.
	FIFOPath string

	// RestartDelay is the first back-off interval after an unexpected exit.
	RestartDelay time.Duration

	// MaxRestartDelay caps the back-off interval.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last for the back-off to reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// ServerArgs builds the indiserver command line: the control FIFO, the
// listen port, then any extra arguments.
func ServerArgs(fifoPath string, port int, extra []string) []string {
	args := []string{"-f", fifoPath, "-p", strconv.Itoa(port)}
	return append(args, extra...)
}

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one indiserver process.
type Manager struct {
	config Config
	logger Logger

	mu           sync.RWMutex
	cmd          *exec.Cmd
	status       Status
	restartCount int
	lastError    error
	startTime    time.Time
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewManager creates a manager. Zero durations take defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start creates the FIFO, launches the server and supervises it until ctx
// is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.status = StatusStarting
	m.restartCount = 0
	m.mu.Unlock()

	if m.config.FIFOPath != "" {
		if err := EnsureFIFO(m.config.FIFOPath); err != nil {
			m.fail(err)
			return err
		}
	}

	cmd, err := m.startProcess()
	if err != nil {
		m.fail(err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.monitor(runCtx, cmd, done)
	return nil
}

// startProcess launches the binary in a new process group.
func (m *Manager) startProcess() (*exec.Cmd, error) {
	m.logger.Info("starting indiserver", "binary", m.config.Binary, "args", m.config.Args)

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // Binary comes from validated config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting indiserver: %w", err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	m.logger.Info("indiserver started", "pid", cmd.Process.Pid)
	return cmd, nil
}

// captureOutput logs the server's output line by line.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.logger.Debug("indiserver output", "stream", stream, "line", scanner.Text())
	}
}

// monitor waits for the process and restarts it until ctx is done.
func (m *Manager) monitor(ctx context.Context, cmd *exec.Cmd, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.RestartDelay
	b.MaxInterval = m.config.MaxRestartDelay
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		exitCh := make(chan error, 1)
		go func() { exitCh <- cmd.Wait() }()

		var err error
		select {
		case err = <-exitCh:
		case <-ctx.Done():
			m.terminate(cmd, exitCh)
			m.setStatus(StatusStopped, nil)
			m.logger.Info("indiserver stopped")
			return
		}

		if m.uptime() >= m.config.StableThreshold {
			b.Reset()
			m.mu.Lock()
			m.restartCount = 0
			m.mu.Unlock()
		}
		if err == nil {
			err = errors.New("exited with status 0")
		}
		m.logger.Warn("indiserver exited unexpectedly", "error", err)
		m.setStatus(StatusFailed, err)

		next, rerr := m.restart(ctx, b)
		if rerr != nil {
			if ctx.Err() != nil {
				m.setStatus(StatusStopped, nil)
				return
			}
			m.logger.Error("giving up on indiserver", "error", rerr)
			m.setStatus(StatusFailed, rerr)
			return
		}
		cmd = next
	}
}

// restart waits out the back-off and starts the process again, retrying
// failed starts on the same schedule.
func (m *Manager) restart(ctx context.Context, b backoff.BackOff) (*exec.Cmd, error) {
	var next *exec.Cmd

	delay := b.NextBackOff()
	m.logger.Info("restarting indiserver", "delay", delay)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	op := func() error {
		m.mu.Lock()
		if m.config.MaxRestartAttempts > 0 && m.restartCount >= m.config.MaxRestartAttempts {
			m.mu.Unlock()
			return backoff.Permanent(fmt.Errorf("%w (%d)", ErrTooManyRestarts, m.config.MaxRestartAttempts))
		}
		m.restartCount++
		m.mu.Unlock()

		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		cmd, err := m.startProcess()
		if err != nil {
			return err
		}
		next = cmd
		return nil
	}
	notify := func(err error, d time.Duration) {
		m.logger.Warn("indiserver restart failed", "error", err, "retry_in", d)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return next, nil
}

// terminate sends SIGTERM to the process group and escalates to SIGKILL
// after GracefulTimeout.
func (m *Manager) terminate(cmd *exec.Cmd, exitCh <-chan error) {
	pid := cmd.Process.Pid
	m.logger.Info("stopping indiserver", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "error", err)
	}

	select {
	case <-exitCh:
		return
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Error("failed to kill process group", "error", err)
	}
	<-exitCh
}

// Stop stops the server and waits for the supervisor goroutine to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (m *Manager) fail(err error) {
	m.setStatus(StatusFailed, err)
}

func (m *Manager) setStatus(status Status, err error) {
	m.mu.Lock()
	m.status = status
	if err != nil {
		m.lastError = err
	}
	m.mu.Unlock()
}

func (m *Manager) uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// Status returns the current status of the server.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the server is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error from the last unexpected exit or failed start.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of restart attempts since the last
// stable run.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// EnsureFIFO creates a named pipe at path unless one already exists.
func EnsureFIFO(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%w: %s", ErrNotFIFO, path)
		}
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("checking fifo %s: %w", path, err)
	}

	if err := syscall.Mkfifo(path, 0o660); err != nil {
		return fmt.Errorf("creating fifo %s: %w", path, err)
	}
	return nil
}
