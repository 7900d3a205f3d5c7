package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementReconcile = "device_reconcile"
	measurementRestart   = "driver_restart"
)

// Reconcile is one device's result from one sweep.
type Reconcile struct {
	Device          string
	Driver          string
	Action          string
	LocalNodeExists bool
	RemoteValid     bool
	RemoteConnected bool
	At              time.Time
}

// Restart is one driver restart request.
type Restart struct {
	Driver    string
	Device    string
	Reason    string
	Fired     bool
	Immediate bool
	Failed    bool
	Strikes   int
	At        time.Time
}

// WriteReconcile records a device's observation and chosen action.
// The write is non-blocking; points are batched.
//
// Example line:
//
//	device_reconcile,action=connect,device=CCD\ Simulator,driver=indi_simulator_ccd connected=0i,local=1i,valid=1i
func (c *Client) WriteReconcile(r Reconcile) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(reconcilePoint(r))
}

// WriteRestart records a restart request, fired or suppressed.
func (c *Client) WriteRestart(r Restart) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(restartPoint(r))
}

func reconcilePoint(r Reconcile) *write.Point {
	return write.NewPoint(
		measurementReconcile,
		map[string]string{
			"device": r.Device,
			"driver": r.Driver,
			"action": r.Action,
		},
		map[string]interface{}{
			"local":     boolField(r.LocalNodeExists),
			"valid":     boolField(r.RemoteValid),
			"connected": boolField(r.RemoteConnected),
		},
		stamp(r.At),
	)
}

func restartPoint(r Restart) *write.Point {
	tags := map[string]string{
		"driver": r.Driver,
		"reason": r.Reason,
	}
	if r.Device != "" {
		tags["device"] = r.Device
	}
	return write.NewPoint(
		measurementRestart,
		tags,
		map[string]interface{}{
			"fired":     boolField(r.Fired),
			"immediate": boolField(r.Immediate),
			"failed":    boolField(r.Failed),
			"strikes":   int64(r.Strikes),
		},
		stamp(r.At),
	)
}

// boolField stores flags as integers so they can be summed in queries.
func boolField(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
