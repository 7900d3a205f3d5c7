// Package watchdog runs the supervision loop of the INDI watchdog.
//
// A Supervisor owns the broker session. It keeps the session connected,
// binds broker events to the device registry and sweeps the registry on a
// fixed tick, handing each device to the reconcile engine. When a sweep
// fires a driver restart the session is discarded and rebuilt, so the
// restarted driver's devices are announced afresh.
//
// Observers receive session transitions, tick reports and restart reports.
// The MQTT, InfluxDB, history and metrics integrations all hang off this
// interface.
//
// Usage:
//
//	sup := watchdog.New(watchdog.Config{TickInterval: 5 * time.Second},
//	    registry, engine, coordinator, indi.NewDialer(indiCfg, logger))
//	sup.SetLogger(logger)
//	sup.AddObserver(metrics)
//	if err := sup.Run(ctx); err != nil {
//	    return err
//	}
package watchdog
