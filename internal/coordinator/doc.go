// Package coordinator owns the cached snapshot of an Allnet device and
// keeps it fresh.
//
// A Coordinator polls the device on a fixed interval and on demand. Each
// successful poll produces one Snapshot that replaces the previous one as a
// whole. A failed poll leaves the previous Snapshot in place (last known
// good) and is recorded in Status.
//
// # Coalescing
//
// At most one poll is in flight at any time. A scheduled tick or a
// RequestRefresh that arrives while a poll is running joins that poll and
// receives its result, so N concurrent callers cause one device round-trip.
// The poll itself runs on the coordinator's own context: a caller that
// gives up only stops waiting.
//
// # Commands
//
// SetActorState writes the actor, waits a settling delay for the relay to
// switch, then refreshes so the cached snapshot reflects the device. Write
// errors are returned; a failed refresh after an accepted write is logged.
//
// # Consumers
//
// CurrentSnapshot is a non-blocking read. Subscribe delivers every newly
// installed Snapshot on a channel; a subscriber that falls behind misses
// snapshots rather than blocking the poll.
//
// # Lifecycle
//
//	c, err := coordinator.New(coordinator.Options{Inventory: disc, Writer: client})
//	if err := c.Start(ctx); err != nil {
//	    // device unreachable at startup
//	}
//	defer c.Stop()
package coordinator
