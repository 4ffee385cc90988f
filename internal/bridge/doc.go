// Package bridge republishes the Allnet device over MQTT.
//
// The bridge sits between the polling coordinator and the broker:
//
//	┌──────────────┐  Subscribe   ┌──────────────┐   MQTT   ┌──────────────┐
//	│ Coordinator  │─────────────►│    Bridge    │◄────────►│  Consumers   │
//	│ (snapshots)  │◄─────────────│  (this pkg)  │          │  (HA, etc.)  │
//	└──────────────┘ SetActorState└──────────────┘          └──────────────┘
//
// # Responsibilities
//
//   - Publish a retained state message per sensor and actor when it changes
//   - Publish a retained discovery message when the inventory changes
//   - Accept on/off/toggle commands and acknowledge them
//   - Answer refresh, read_state and status requests
//   - Publish health status periodically
//
// # Topics
//
//	{prefix}/state/allnet/sensor-1        retained sensor state
//	{prefix}/state/allnet/actor-3         retained actor state
//	{prefix}/command/allnet/actor-3       commands in
//	{prefix}/ack/allnet/actor-3           command acknowledgements
//	{prefix}/request/allnet/{request_id}  requests in
//	{prefix}/response/allnet/{request_id} responses
//	{prefix}/health/allnet                retained health
//	{prefix}/discovery/allnet             retained inventory
//
// Commands accept a JSON object or a bare word:
//
//	{"id": "c-1", "command": "toggle"}
//	ON
package bridge
