// Package api implements the HTTP REST API and WebSocket server of the bridge.
//
// This package provides:
//   - REST endpoints for the device identity, snapshot, sensors and actors
//   - Actor commands (set state, toggle) and on-demand refresh
//   - Poll and command history backed by the history repository
//   - WebSocket hub broadcasting every new snapshot
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server reads exclusively through the coordinator. Reads are served
// from the cached snapshot unless ?live=true is given, in which case the
// point is fetched from the device without touching the cache. Commands go
// through the coordinator so that the snapshot refreshes after every write.
//
// # Endpoints
//
//	GET  /api/v1/health                 200 when ready, 503 otherwise
//	GET  /api/v1/metrics                runtime, coordinator, MQTT and DB counters
//	GET  /api/v1/device                 device identity read at startup
//	GET  /api/v1/snapshot               cached snapshot
//	POST /api/v1/refresh                poll now (concurrent callers share the poll)
//	GET  /api/v1/sensors[/{id}]         sensors, ?live=true reads the device
//	GET  /api/v1/actors[/{id}]          actors, ?live=true reads the device
//	PUT  /api/v1/actors/{id}/state      {"on": true}
//	POST /api/v1/actors/{id}/toggle     invert the cached state
//	GET  /api/v1/history/polls          ?limit=
//	GET  /api/v1/history/commands       ?actor=&limit=
//	GET  /api/v1/ws                     WebSocket, channel "snapshot.updated"
//
// # Graceful Degradation
//
// History endpoints answer 503 when no history repository is configured.
// MQTT and database metrics are omitted when those components are disabled.
package api
