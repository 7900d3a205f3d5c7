package watchdog

import (
	"time"

	"github.com/nerrad567/indi-watchdog/internal/reconcile"
	"github.com/nerrad567/indi-watchdog/internal/restart"
)

// State is the supervisor's session state.
type State int32

// Supervisor states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "disconnected"
	}
}

// SessionEvent reports a state transition of the broker session.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"-"`
	StateName string    `json:"state"`
	Rebuilt   bool      `json:"rebuilt,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// TickReport summarises one reconciliation sweep.
type TickReport struct {
	SessionID string
	Started   time.Time
	Duration  time.Duration
	Outcomes  []reconcile.Outcome
	// Aborted is set when a fired restart cut the sweep short.
	Aborted bool
}

// RestartReport is one restart request, fired or suppressed.
type RestartReport struct {
	Event restart.Event
	Fired bool
}

// Observer receives reports after the registry lock has been released.
// Implementations must not block and must be safe for concurrent use:
// forced restarts are reported from the caller's goroutine.
type Observer interface {
	OnSession(ev SessionEvent)
	OnTick(report TickReport)
	OnRestart(report RestartReport)
}

// Observers fans reports out to several observers.
type Observers []Observer

func (o Observers) OnSession(ev SessionEvent) {
	for _, obs := range o {
		obs.OnSession(ev)
	}
}

func (o Observers) OnTick(report TickReport) {
	for _, obs := range o {
		obs.OnTick(report)
	}
}

func (o Observers) OnRestart(report RestartReport) {
	for _, obs := range o {
		obs.OnRestart(report)
	}
}

// NopObserver ignores every report. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) OnSession(SessionEvent)  {}
func (NopObserver) OnTick(TickReport)       {}
func (NopObserver) OnRestart(RestartReport) {}

// restartEvent converts a tick outcome into a restart event.
func restartEvent(o reconcile.Outcome, sessionID string) restart.Event {
	ev := restart.Event{
		Driver:    o.Driver,
		Device:    o.Device,
		Reason:    o.Reason,
		Immediate: o.Restart.Immediate,
		Strikes:   o.Restart.Strikes,
		SessionID:  sessionID,
		CreatedAt:  o.Restart.At,
		DriverPath: o.Restart.DriverPath,
		PIDs:       o.Restart.PIDs,
	}
	if o.Restart.Err != nil {
		ev.Error = o.Restart.Err.Error()
	}
	return ev
}
