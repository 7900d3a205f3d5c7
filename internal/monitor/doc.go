// Package monitor exports watchdog metrics and health checks.
//
// Metrics is a watchdog.Observer that keeps Prometheus counters and gauges
// for sweeps, actions, restart requests and session state. NewHealth
// builds the /live and /ready handlers. Both are mounted by the HTTP API.
package monitor
