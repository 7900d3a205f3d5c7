// Package api provides the watchdog's HTTP API and WebSocket event stream.
//
// Endpoints:
//
//	GET  /live, /ready                       liveness and readiness probes
//	GET  /metrics                            Prometheus exposition
//	GET  /api/v1/health                      server health and version
//	GET  /api/v1/status                      supervisor state and all devices
//	GET  /api/v1/devices                     monitored devices
//	GET  /api/v1/devices/{name}              one device
//	GET  /api/v1/restarts?driver=&limit=     restart history
//	POST /api/v1/drivers/{name}/restart      force a restart (bearer JWT)
//	GET  /api/v1/ws                          live session/tick/restart events
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
