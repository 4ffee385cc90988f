// Package history keeps a local audit trail of device polls and actor
// commands, and exports snapshot telemetry.
//
// The Recorder listens to the polling coordinator through its OnPoll and
// OnCommand hooks and writes one row per event to SQLite via Repository.
// Writes happen on a background worker so the hooks never block polling.
// When a MetricsWriter is configured, every installed snapshot is also
// exported point by point (numeric sensors and actor states). A
// SnapshotMirror receives the whole snapshot for key-value readers.
//
// The history is never read back into the coordinator. A restarted bridge
// starts with an empty snapshot regardless of what is stored here.
//
// # Retention
//
// Rows older than the configured retention are pruned hourly. A retention
// of zero keeps everything.
package history
