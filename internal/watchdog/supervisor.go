package watchdog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nerrad567/indi-watchdog/internal/bus"
	"github.com/nerrad567/indi-watchdog/internal/device"
	"github.com/nerrad567/indi-watchdog/internal/reconcile"
	"github.com/nerrad567/indi-watchdog/internal/restart"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultTickInterval   = 5 * time.Second
	defaultPollInterval   = 100 * time.Millisecond
)

// Logger defines the logging interface used by the Supervisor.
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

// Config holds supervisor timing.
type Config struct {
	// ConnectTimeout bounds one connection attempt and spaces retries.
	ConnectTimeout time.Duration
	// TickInterval is the pause between reconciliation sweeps.
	TickInterval time.Duration
	// PollInterval is how often readiness is checked while connecting.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State     string          `json:"state"`
	SessionID string          `json:"session_id,omitempty"`
	LastTick  time.Time       `json:"last_tick,omitempty"`
	Devices   []device.Status `json:"devices"`
}

// Supervisor keeps a broker session alive and reconciles every monitored
// device on each tick.
//
// Lifecycle:
//   - Run dials a session and connects, retrying until the context ends.
//   - While connected, every TickInterval the registry is swept under its
//     lock and each device is reconciled.
//   - A fired restart aborts the sweep. The session is then closed and a
//     new one dialled, since the restarted driver re-registers its devices.
//   - A lost connection drops back to connecting on the same session.
//
// Thread Safety:
//   - Run must be called once. Status, ForceRestart and the accessors are
//     safe to call from any goroutine.
type Supervisor struct {
	cfg         Config
	registry    *device.Registry
	engine      *reconcile.Engine
	coordinator *restart.Coordinator
	dial        bus.Dialer
	logger      Logger
	observer    Observers
	now         func() time.Time

	mu        sync.Mutex
	session   bus.Session
	sessionID string

	// generation tags handler sets; events from older sessions are dropped.
	generation atomic.Uint64
	state      atomic.Int32
	running    atomic.Bool
	lastTick   atomic.Int64
	connected  atomic.Int64
	connFailed chan error
}

// New creates a supervisor. The engine must use coordinator as its
// restarter so that session teardown and forced restarts share counters.
func New(cfg Config, registry *device.Registry, engine *reconcile.Engine, coordinator *restart.Coordinator, dial bus.Dialer) *Supervisor {
	return &Supervisor{
		cfg:         cfg.withDefaults(),
		registry:    registry,
		engine:      engine,
		coordinator: coordinator,
		dial:        dial,
		logger:      noopLogger{},
		now:         time.Now,
		connFailed:  make(chan error, 1),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// AddObserver registers an observer. Call before Run.
func (s *Supervisor) AddObserver(o Observer) {
	s.observer = append(s.observer, o)
}

// Run supervises until ctx is cancelled. It returns nil on cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.newSession(false)
	defer s.shutdown()

	for {
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		rebuild := s.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if rebuild {
			s.newSession(true)
			continue
		}
		s.setState(StateDisconnected, false, nil)
	}
}

// connect retries the current session until it is ready. Attempts start
// one ConnectTimeout apart.
func (s *Supervisor) connect(ctx context.Context) error {
	s.setState(StateConnecting, false, nil)
	session, _ := s.current()

	window := newWindowBackOff(s.cfg.ConnectTimeout, s.now)
	attempt := 0
	op := func() error {
		attempt++
		window.mark()
		s.drainFailures()
		session.Connect()
		return s.awaitReady(ctx, session)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("INDI server not reachable, retrying",
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(window, ctx), notify); err != nil {
		return err
	}

	s.logger.Info("connected to INDI server", "attempts", attempt)
	s.connected.Store(s.now().UnixNano())
	s.setState(StateConnected, false, nil)
	return nil
}

func (s *Supervisor) awaitReady(ctx context.Context, session bus.Session) error {
	deadline := time.NewTimer(s.cfg.ConnectTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	for {
		if session.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case err := <-s.connFailed:
			return err
		case <-deadline.C:
			return ErrConnectTimeout
		case <-poll.C:
		}
	}
}

// serve runs sweeps until the link drops, ctx ends or a restart fires.
// It reports whether the session must be rebuilt.
func (s *Supervisor) serve(ctx context.Context) bool {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-s.connFailed:
			s.logger.Warn("INDI server connection lost", "error", err)
			return false
		case <-ticker.C:
		}

		session, id := s.current()
		if !session.IsConnected() {
			s.logger.Warn("INDI server connection lost")
			return false
		}

		report := s.sweep(session, id)
		s.publish(report)
		if report.Aborted {
			s.logger.Info("driver restarted, rebuilding INDI session")
			return true
		}
	}
}

// sweep reconciles every device under the registry lock.
func (s *Supervisor) sweep(session bus.Session, id string) TickReport {
	report := TickReport{SessionID: id, Started: s.now()}

	s.registry.ForEach(func(d *device.Device) bool {
		out := s.engine.Reconcile(d, session)
		report.Outcomes = append(report.Outcomes, out)
		if out.RestartFired() {
			report.Aborted = true
			return false
		}
		return true
	})

	end := s.now()
	report.Duration = end.Sub(report.Started)
	s.lastTick.Store(end.UnixNano())
	return report
}

func (s *Supervisor) publish(report TickReport) {
	s.observer.OnTick(report)
	for _, out := range report.Outcomes {
		if !out.RestartRequested {
			continue
		}
		s.observer.OnRestart(RestartReport{
			Event: restartEvent(out, report.SessionID),
			Fired: out.Restart.Fired,
		})
	}
}

// newSession replaces the current session with a freshly dialled one.
func (s *Supervisor) newSession(rebuilt bool) {
	gen := s.generation.Add(1)

	s.mu.Lock()
	old := s.session
	s.session = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("closing INDI session", "error", err)
		}
	}
	s.registry.ResetRemoteHandles()
	s.drainFailures()

	session := s.dial(s.handlersFor(gen))
	id := uuid.NewString()

	s.mu.Lock()
	s.session = session
	s.sessionID = id
	s.mu.Unlock()

	s.logger.Debug("INDI session created", "session_id", id, "rebuilt", rebuilt)
	s.setState(StateDisconnected, rebuilt, nil)
}

func (s *Supervisor) shutdown() {
	s.generation.Add(1)

	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			s.logger.Warn("closing INDI session", "error", err)
		}
	}
	s.registry.ResetRemoteHandles()
	s.coordinator.Reset()
	s.setState(StateStopped, false, nil)
	s.logger.Info("watchdog stopped")
}

func (s *Supervisor) current() (bus.Session, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.sessionID
}

func (s *Supervisor) drainFailures() {
	for {
		select {
		case <-s.connFailed:
		default:
			return
		}
	}
}

func (s *Supervisor) setState(state State, rebuilt bool, err error) {
	s.state.Store(int32(state))
	_, id := s.current()
	ev := SessionEvent{
		SessionID: id,
		State:     state,
		StateName: state.String(),
		Rebuilt:   rebuilt,
		At:        s.now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.observer.OnSession(ev)
}

// ForceRestart restarts a driver at once, bypassing its strike counter.
// name may be a device name or a driver serving a monitored device.
//
// The session is left alone; the restarted driver's devices are picked up
// again through the normal reconciliation.
func (s *Supervisor) ForceRestart(name string) (restart.Result, error) {
	driver, deviceName := name, ""
	if d, ok := s.registry.DriverOf(name); ok {
		driver, deviceName = d, name
	} else if !s.registry.HasDriver(name) {
		return restart.Result{}, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}

	res := s.coordinator.RequestImmediateRestart(driver)
	_, id := s.current()

	ev := restart.Event{
		Driver:    driver,
		Device:    deviceName,
		Reason:    restart.ReasonForced,
		Immediate: true,
		Strikes:   res.Strikes,
		SessionID:  id,
		CreatedAt:  res.At,
		DriverPath: res.DriverPath,
		PIDs:       res.PIDs,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	s.observer.OnRestart(RestartReport{Event: ev, Fired: true})

	if res.Err != nil {
		return res, fmt.Errorf("forcing restart of %s: %w", driver, res.Err)
	}
	s.logger.Info("forced driver restart", "driver", driver, "device", deviceName)
	return res, nil
}

// State returns the current session state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// BrokerConnected reports whether the supervisor holds a ready session.
func (s *Supervisor) BrokerConnected() bool {
	return s.State() == StateConnected
}

// LastTick returns when the last sweep finished, or the zero time.
func (s *Supervisor) LastTick() time.Time {
	return unixTime(s.lastTick.Load())
}

func unixTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// ConnectedSince returns when the current session became ready, or the
// zero time.
func (s *Supervisor) ConnectedSince() time.Time {
	if !s.BrokerConnected() {
		return time.Time{}
	}
	return unixTime(s.connected.Load())
}

// Status returns the supervisor state and a snapshot of every device.
func (s *Supervisor) Status() Status {
	_, id := s.current()
	return Status{
		State:     s.State().String(),
		SessionID: id,
		LastTick:  s.LastTick(),
		Devices:   s.registry.Snapshot(),
	}
}
