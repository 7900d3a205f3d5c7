// Package telemetry connects watchdog observers to the outside world.
//
//   - MQTTReporter publishes session, device state and restart events, and
//     RestartCommandHandler turns command messages into forced restarts
//   - InfluxReporter writes device_reconcile and driver_restart points
//   - HistoryRecorder persists fired restarts to the SQLite history
//
// Every reporter returns promptly: MQTT and InfluxDB writes are
// asynchronous and history writes go through a queue.
package telemetry
