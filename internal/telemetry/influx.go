package telemetry

import (
	"github.com/nerrad567/indi-watchdog/internal/infrastructure/influxdb"
	"github.com/nerrad567/indi-watchdog/internal/watchdog"
)

// PointWriter accepts telemetry points. *influxdb.Client satisfies it.
type PointWriter interface {
	WriteReconcile(r influxdb.Reconcile)
	WriteRestart(r influxdb.Restart)
}

// InfluxReporter writes one point per device per sweep and one per
// restart request.
type InfluxReporter struct {
	watchdog.NopObserver
	w PointWriter
}

// NewInfluxReporter creates a reporter writing to w.
func NewInfluxReporter(w PointWriter) *InfluxReporter {
	return &InfluxReporter{w: w}
}

// OnTick writes a device_reconcile point for every outcome of the sweep.
func (r *InfluxReporter) OnTick(report watchdog.TickReport) {
	for _, out := range report.Outcomes {
		r.w.WriteReconcile(influxdb.Reconcile{
			Device:          out.Device,
			Driver:          out.Driver,
			Action:          out.Action.String(),
			LocalNodeExists: out.Observation.LocalNodeExists,
			RemoteValid:     out.Observation.RemoteValid,
			RemoteConnected: out.Observation.RemoteConnected,
			At:              report.Started,
		})
	}
}

// OnRestart writes a driver_restart point.
func (r *InfluxReporter) OnRestart(report watchdog.RestartReport) {
	ev := report.Event
	r.w.WriteRestart(influxdb.Restart{
		Driver:    ev.Driver,
		Device:    ev.Device,
		Reason:    ev.Reason,
		Fired:     report.Fired,
		Immediate: ev.Immediate,
		Failed:    ev.Error != "",
		Strikes:   ev.Strikes,
		At:        ev.CreatedAt,
	})
}
