// Package valkey mirrors the latest Allnet snapshot into Valkey (or Redis)
// for dashboards that prefer a key-value read over the HTTP API.
//
// # Keys
//
//	<prefix>:<device>:snapshot     JSON snapshot, TTL
//	<prefix>:<device>:sensor:<id>  hash {name, value, unit, fetched_at}, TTL
//
// Keys expire after the configured TTL so a stopped bridge does not leave
// stale values behind indefinitely. The mirror is write-only from the
// bridge's point of view; the bridge never restores state from it.
package valkey
