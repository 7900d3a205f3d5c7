package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/indi-watchdog/internal/infrastructure/mqtt"
	"github.com/nerrad567/indi-watchdog/internal/reconcile"
	"github.com/nerrad567/indi-watchdog/internal/restart"
	"github.com/nerrad567/indi-watchdog/internal/watchdog"
)

// ErrInvalidCommand is returned for unparseable restart commands.
var ErrInvalidCommand = errors.New("telemetry: invalid restart command")

// Publisher sends MQTT messages without blocking. *mqtt.Client
// satisfies it.
type Publisher interface {
	PublishAsync(topic string, payload []byte, retained bool) error
}

// Forcer forces an immediate driver restart. *watchdog.Supervisor
// satisfies it.
type Forcer interface {
	ForceRestart(name string) (restart.Result, error)
}

// DeviceState is the retained payload of a device state topic.
type DeviceState struct {
	Device      string                `json:"device"`
	Driver      string                `json:"driver"`
	Action      string                `json:"action"`
	Observation reconcile.Observation `json:"observation"`
	SessionID   string                `json:"session_id"`
	Timestamp   string                `json:"timestamp"`
}

// RestartMessage is the payload of the restart event topic.
type RestartMessage struct {
	restart.Event
	Fired bool `json:"fired"`
}

// RestartCommand is the payload accepted on the restart command topic.
// Driver may also name a monitored device.
type RestartCommand struct {
	Driver string `json:"driver"`
	Device string `json:"device,omitempty"`
}

// MQTTReporter publishes watchdog activity to MQTT. Device state is only
// republished when it changes.
type MQTTReporter struct {
	pub    Publisher
	topics mqtt.Topics
	logger Logger

	mu   sync.Mutex
	last map[string]deviceKey
}

type deviceKey struct {
	action      reconcile.Action
	observation reconcile.Observation
}

// NewMQTTReporter creates a reporter publishing through pub.
func NewMQTTReporter(pub Publisher) *MQTTReporter {
	return &MQTTReporter{
		pub:    pub,
		logger: noopLogger{},
		last:   make(map[string]deviceKey),
	}
}

// SetLogger sets the logger for the reporter.
func (r *MQTTReporter) SetLogger(logger Logger) {
	r.logger = logger
}

// OnSession publishes the session event, retained, and forgets device
// states when the session is rebuilt or stopped.
func (r *MQTTReporter) OnSession(ev watchdog.SessionEvent) {
	if ev.Rebuilt || ev.State == watchdog.StateStopped {
		// Device states from the previous session no longer hold.
		r.mu.Lock()
		r.last = make(map[string]deviceKey)
		r.mu.Unlock()
	}
	r.publish(r.topics.SessionEvents(), ev, true)
}

// OnTick publishes the retained state of each device whose action or
// observation changed since its last publish.
func (r *MQTTReporter) OnTick(report watchdog.TickReport) {
	ts := report.Started.UTC().Format(time.RFC3339)
	for _, out := range report.Outcomes {
		if !r.changed(out) {
			continue
		}
		r.publish(r.topics.DeviceState(out.Device), DeviceState{
			Device:      out.Device,
			Driver:      out.Driver,
			Action:      out.Action.String(),
			Observation: out.Observation,
			SessionID:   report.SessionID,
			Timestamp:   ts,
		}, true)
	}
}

// OnRestart publishes every restart request, fired or suppressed.
func (r *MQTTReporter) OnRestart(report watchdog.RestartReport) {
	r.publish(r.topics.RestartEvents(), RestartMessage{Event: report.Event, Fired: report.Fired}, false)
}

func (r *MQTTReporter) changed(out reconcile.Outcome) bool {
	key := deviceKey{action: out.Action, observation: out.Observation}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, seen := r.last[out.Device]
	if seen && prev == key {
		return false
	}
	r.last[out.Device] = key
	return true
}

func (r *MQTTReporter) publish(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("encoding MQTT payload", "topic", topic, "error", err)
		return
	}
	if err := r.pub.PublishAsync(topic, payload, retained); err != nil {
		r.logger.Debug("MQTT publish skipped", "topic", topic, "error", err)
	}
}

// RestartCommandHandler returns an MQTT handler that forces the restart
// named in each command message.
func RestartCommandHandler(forcer Forcer, logger Logger) mqtt.MessageHandler {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(topic string, payload []byte) error {
		var cmd RestartCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}

		name := strings.TrimSpace(cmd.Driver)
		if name == "" {
			name = strings.TrimSpace(cmd.Device)
		}
		if name == "" {
			return fmt.Errorf("%w: driver or device is required", ErrInvalidCommand)
		}

		logger.Info("restart command received", "topic", topic, "name", name)
		if _, err := forcer.ForceRestart(name); err != nil {
			return fmt.Errorf("restart command for %q: %w", name, err)
		}
		return nil
	}
}
