package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/indi-watchdog/internal/infrastructure/influxdb"
	"github.com/nerrad567/indi-watchdog/internal/reconcile"
	"github.com/nerrad567/indi-watchdog/internal/restart"
	"github.com/nerrad567/indi-watchdog/internal/watchdog"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) PublishAsync(topic string, payload []byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func connectOutcome() reconcile.Outcome {
	return reconcile.Outcome{
		Device:      "CCD Simulator",
		Driver:      "indi_simulator_ccd",
		Action:      reconcile.ActionConnect,
		Observation: reconcile.Observation{LocalNodeExists: true, RemoteValid: true, AutoConnect: true},
	}
}

func TestMQTTReporter_DeviceStateOnlyOnChange(t *testing.T) {
	pub := &fakePublisher{}
	r := NewMQTTReporter(pub)

	report := watchdog.TickReport{SessionID: "s1", Started: time.Now(), Outcomes: []reconcile.Outcome{connectOutcome()}}
	r.OnTick(report)
	r.OnTick(report)

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "indiwatchdog/device/CCD Simulator/state", msgs[0].topic)
	assert.True(t, msgs[0].retained)

	var st DeviceState
	require.NoError(t, json.Unmarshal(msgs[0].payload, &st))
	assert.Equal(t, "connect", st.Action)
	assert.Equal(t, "s1", st.SessionID)
	assert.True(t, st.Observation.LocalNodeExists)

	changed := connectOutcome()
	changed.Action = reconcile.ActionNone
	changed.Observation.RemoteConnected = true
	r.OnTick(watchdog.TickReport{Outcomes: []reconcile.Outcome{changed}})
	assert.Len(t, pub.messages(), 2)
}

func TestMQTTReporter_RebuildRepublishes(t *testing.T) {
	pub := &fakePublisher{}
	r := NewMQTTReporter(pub)
	report := watchdog.TickReport{Outcomes: []reconcile.Outcome{connectOutcome()}}

	r.OnTick(report)
	r.OnSession(watchdog.SessionEvent{State: watchdog.StateDisconnected, StateName: "disconnected", Rebuilt: true})
	r.OnTick(report)

	msgs := pub.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "indiwatchdog/event/session", msgs[1].topic)
	assert.True(t, msgs[1].retained)
	assert.Equal(t, "indiwatchdog/device/CCD Simulator/state", msgs[2].topic)
}

func TestMQTTReporter_OnRestart(t *testing.T) {
	pub := &fakePublisher{}
	r := NewMQTTReporter(pub)

	r.OnRestart(watchdog.RestartReport{
		Event: restart.Event{Driver: "indi_simulator_ccd", Reason: restart.ReasonNotRegistered, Strikes: 1},
		Fired: false,
	})

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "indiwatchdog/event/restart", msgs[0].topic)
	assert.False(t, msgs[0].retained)
	assert.JSONEq(t, `{
		"id": 0,
		"driver": "indi_simulator_ccd",
		"reason": "not_registered",
		"immediate": false,
		"strikes": 1,
		"created_at": "0001-01-01T00:00:00Z",
		"fired": false
	}`, string(msgs[0].payload))
}

func TestMQTTReporter_PublishErrorIgnored(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	r := NewMQTTReporter(pub)

	assert.NotPanics(t, func() {
		r.OnRestart(watchdog.RestartReport{Fired: true})
	})
}

type fakeForcer struct {
	names []string
	err   error
}

func (f *fakeForcer) ForceRestart(name string) (restart.Result, error) {
	f.names = append(f.names, name)
	return restart.Result{Driver: name, Fired: true, Immediate: true}, f.err
}

func TestRestartCommandHandler(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		forcerErr error
		wantName  string
		wantErr   error
	}{
		{name: "driver", payload: `{"driver":"indi_simulator_ccd"}`, wantName: "indi_simulator_ccd"},
		{name: "device", payload: `{"device":"CCD Simulator"}`, wantName: "CCD Simulator"},
		{name: "trimmed", payload: `{"driver":"  indi_moonlite "}`, wantName: "indi_moonlite"},
		{name: "invalid json", payload: `{driver`, wantErr: ErrInvalidCommand},
		{name: "empty", payload: `{}`, wantErr: ErrInvalidCommand},
		{name: "unknown driver", payload: `{"driver":"indi_x"}`, forcerErr: watchdog.ErrUnknownDriver, wantName: "indi_x", wantErr: watchdog.ErrUnknownDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forcer := &fakeForcer{err: tt.forcerErr}
			handler := RestartCommandHandler(forcer, nil)

			err := handler("indiwatchdog/command/restart", []byte(tt.payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			if tt.wantName == "" {
				assert.Empty(t, forcer.names)
			} else {
				assert.Equal(t, []string{tt.wantName}, forcer.names)
			}
		})
	}
}

type fakeWriter struct {
	reconciles []influxdb.Reconcile
	restarts   []influxdb.Restart
}

func (w *fakeWriter) WriteReconcile(r influxdb.Reconcile) { w.reconciles = append(w.reconciles, r) }
func (w *fakeWriter) WriteRestart(r influxdb.Restart)     { w.restarts = append(w.restarts, r) }

func TestInfluxReporter(t *testing.T) {
	w := &fakeWriter{}
	r := NewInfluxReporter(w)
	started := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	r.OnTick(watchdog.TickReport{Started: started, Outcomes: []reconcile.Outcome{connectOutcome()}})
	r.OnRestart(watchdog.RestartReport{
		Event: restart.Event{Driver: "indi_simulator_ccd", Reason: restart.ReasonForced, Immediate: true, Error: "boom"},
		Fired: true,
	})
	r.OnSession(watchdog.SessionEvent{})

	require.Len(t, w.reconciles, 1)
	assert.Equal(t, influxdb.Reconcile{
		Device:          "CCD Simulator",
		Driver:          "indi_simulator_ccd",
		Action:          "connect",
		LocalNodeExists: true,
		RemoteValid:     true,
		At:              started,
	}, w.reconciles[0])

	require.Len(t, w.restarts, 1)
	assert.True(t, w.restarts[0].Fired)
	assert.True(t, w.restarts[0].Immediate)
	assert.True(t, w.restarts[0].Failed)
}

type memHistory struct {
	mu     sync.Mutex
	events []restart.Event
}

func (m *memHistory) Record(_ context.Context, ev restart.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memHistory) List(context.Context, string, int) ([]restart.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]restart.Event(nil), m.events...), nil
}

func (m *memHistory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestHistoryRecorder(t *testing.T) {
	hist := &memHistory{}
	rec := NewHistoryRecorder(hist)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.OnRestart(watchdog.RestartReport{Event: restart.Event{Driver: "indi_a"}, Fired: true})
	rec.OnRestart(watchdog.RestartReport{Event: restart.Event{Driver: "indi_b"}, Fired: false})

	require.Eventually(t, func() bool { return hist.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	events, err := hist.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, "indi_a", events[0].Driver)
}

func TestHistoryRecorder_DrainsOnShutdown(t *testing.T) {
	hist := &memHistory{}
	rec := NewHistoryRecorder(hist)

	for i := 0; i < 3; i++ {
		rec.OnRestart(watchdog.RestartReport{Event: restart.Event{Driver: "indi_a"}, Fired: true})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Equal(t, 3, hist.count())
}

func TestHistoryRecorder_QueueFull(t *testing.T) {
	hist := &memHistory{}
	rec := NewHistoryRecorder(hist)

	for i := 0; i < historyQueueSize+5; i++ {
		rec.OnRestart(watchdog.RestartReport{Event: restart.Event{Driver: "indi_a"}, Fired: true})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Equal(t, historyQueueSize, hist.count())
}

type countingPruner struct {
	mu    sync.Mutex
	calls []time.Duration
	err   error
}

func (p *countingPruner) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, olderThan)
	return 2, p.err
}

func (p *countingPruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestHistoryRecorder_Retention(t *testing.T) {
	pruner := &countingPruner{}
	rec := NewHistoryRecorder(&memHistory{})
	rec.SetRetention(pruner, 72*time.Hour)
	rec.pruneEvery = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pruner.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	pruner.mu.Lock()
	defer pruner.mu.Unlock()
	assert.Equal(t, 72*time.Hour, pruner.calls[0])
}

func TestHistoryRecorder_RetentionDisabled(t *testing.T) {
	pruner := &countingPruner{err: errors.New("locked")}
	rec := NewHistoryRecorder(&memHistory{})
	rec.SetRetention(pruner, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Zero(t, pruner.count())
}

func TestHistoryRecorder_PruneErrorKeepsRunning(t *testing.T) {
	hist := &memHistory{}
	pruner := &countingPruner{err: errors.New("locked")}
	rec := NewHistoryRecorder(hist)
	rec.SetRetention(pruner, time.Hour)

	rec.OnRestart(watchdog.RestartReport{Event: restart.Event{Driver: "indi_a"}, Fired: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Equal(t, 1, pruner.count())
	assert.Equal(t, 1, hist.count())
}
