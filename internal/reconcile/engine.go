package reconcile

import (
	"fmt"
	"os"

	"github.com/nerrad567/indi-watchdog/internal/bus"
	"github.com/nerrad567/indi-watchdog/internal/device"
	"github.com/nerrad567/indi-watchdog/internal/restart"
)

// Logger defines the logging interface used by the Engine.
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

// Prober reports whether a local hardware node exists.
type Prober interface {
	Exists(path string) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(path string) bool

// Exists calls f(path).
func (f ProberFunc) Exists(path string) bool {
	return f(path)
}

// FileProber checks device nodes on the local filesystem.
type FileProber struct{}

// Exists reports whether path can be stat'ed.
func (FileProber) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Commander sends connection requests to the broker. bus.Session
// satisfies it.
type Commander interface {
	SendConnection(h bus.RemoteHandle, connect bool) error
}

// Restarter accepts restart requests. *restart.Coordinator satisfies it.
type Restarter interface {
	Request(driver string) restart.Result
}

// Outcome is the result of reconciling one device.
type Outcome struct {
	Device      string
	Driver      string
	Observation Observation
	Action      Action

	// SendErr is the error from a failed connect or disconnect request.
	SendErr error

	// RestartRequested is set when the coordinator was asked for a restart;
	// Restart then holds its answer and Reason why it was asked.
	RestartRequested bool
	Restart          restart.Result
	Reason           string
}

// RestartFired reports whether this outcome fired a driver restart.
func (o Outcome) RestartFired() bool {
	return o.RestartRequested && o.Restart.Fired
}

// Engine applies the decision table to devices.
type Engine struct {
	prober    Prober
	restarter Restarter
	logger    Logger
}

// NewEngine creates an engine.
func NewEngine(prober Prober, restarter Restarter) *Engine {
	return &Engine{
		prober:    prober,
		restarter: restarter,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Observe gathers the inputs of the decision table for d.
func (e *Engine) Observe(d *device.Device) Observation {
	return Observation{
		LocalNodeExists: e.prober.Exists(d.NodePath),
		RemoteValid:     d.RemoteValid(),
		RemoteConnected: d.RemoteConnected(),
		AutoConnect:     d.AutoConnect,
	}
}

// Reconcile observes d, decides, and performs at most one action.
//
// It must be called while the registry lock is held (inside
// Registry.ForEach), since it reads and clears d's remote handle. cmd may
// be nil when no session is available, in which case any send fails.
//
// A connect or disconnect is only a request; the new state is observed on
// a later tick. A send that cannot be made escalates to a restart request.
// The handle is cleared whenever a restart is requested and on every
// disconnect attempt.
func (e *Engine) Reconcile(d *device.Device, cmd Commander) Outcome {
	out := Outcome{
		Device:      d.Name,
		Driver:      d.Driver,
		Observation: e.Observe(d),
	}
	out.Action = Decide(out.Observation)

	switch out.Action {
	case ActionRestart:
		e.logger.Info("device not registered with server", "device", d.Name, "node", d.NodePath)
		e.requestRestart(d, &out, restart.ReasonNotRegistered)

	case ActionConnect:
		e.logger.Info("connecting device", "device", d.Name)
		if err := send(cmd, d.Remote(), true); err != nil {
			out.SendErr = err
			e.logger.Warn("connect request failed", "device", d.Name, "error", err)
			e.requestRestart(d, &out, restart.ReasonConnectFailed)
		}

	case ActionDisconnect:
		e.logger.Info("local node gone, disconnecting device", "device", d.Name, "node", d.NodePath)
		err := send(cmd, d.Remote(), false)
		d.ClearRemote()
		if err != nil {
			out.SendErr = err
			e.logger.Warn("disconnect request failed", "device", d.Name, "error", err)
			e.requestRestart(d, &out, restart.ReasonDisconnectFailed)
		}

	case ActionNone:
		e.logger.Debug("device in desired state", "device", d.Name,
			"local", out.Observation.LocalNodeExists,
			"connected", out.Observation.RemoteConnected,
		)
	}

	return out
}

func (e *Engine) requestRestart(d *device.Device, out *Outcome, reason string) {
	out.RestartRequested = true
	out.Reason = reason
	out.Restart = e.restarter.Request(d.Driver)
	d.ClearRemote()
}

func send(cmd Commander, h bus.RemoteHandle, connect bool) error {
	if cmd == nil {
		return bus.ErrNotConnected
	}
	if h == nil {
		return bus.ErrInvalidHandle
	}
	if err := cmd.SendConnection(h, connect); err != nil {
		return fmt.Errorf("sending connection request: %w", err)
	}
	return nil
}
