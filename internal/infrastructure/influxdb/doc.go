// Package influxdb writes watchdog telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements are
// written:
//
//   - device_reconcile: one point per device per sweep, tagged with the
//     device, driver and chosen action, with local/valid/connected flags
//   - driver_restart: one point per restart request, tagged with driver and
//     reason, with fired/immediate/failed flags and the strike count
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRestart(influxdb.Restart{Driver: "indi_simulator_ccd", Reason: "forced", Fired: true})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; batch errors are
// delivered to the SetOnError callback.
package influxdb
