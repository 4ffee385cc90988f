package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/allnet-bridge/internal/allnet"
)

// SetActorState switches an actor and refreshes the snapshot.
//
// The write goes to the device first. When it is accepted the call waits
// the settling delay, then waits for a poll that started after the write.
// A refresh failure at that point is logged and not returned: the device
// accepted the command, only the confirmation is missing.
//
// If ctx ends during the settling delay nil is returned and the refresh
// runs in the background once the delay has passed.
//
// Returns:
//   - error: ErrCommandFailed wrapping the device error, ErrNotReady, ErrStopped
func (c *Coordinator) SetActorState(ctx context.Context, id int, on bool) error {
	if err := c.checkReady(); err != nil {
		return err
	}

	err := c.writer.WriteActor(ctx, id, on)
	writtenAt := time.Now()
	origin := OriginFrom(ctx)
	c.recordCommand(origin, id, on, writtenAt, err)
	if err != nil {
		c.logWarn("actor command rejected", "actor", id, "on", on, "source", origin.Source, "error", err)
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	c.logInfo("actor command accepted", "actor", id, "on", on, "source", origin.Source)

	timer := time.NewTimer(c.settleDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		// Caller gave up; the cache still has to catch up.
		c.refreshAfterSettle(id, writtenAt)
		return nil
	}

	if _, err := c.refreshSince(ctx, writtenAt); err != nil {
		c.logWarn("refresh after actor command failed", "actor", id, "error", err)
	}
	return nil
}

// refreshAfterSettle waits out the rest of the settling delay, then
// refreshes with a poll that started after writtenAt. It is bound to the
// coordinator's lifetime, not the caller's.
func (c *Coordinator) refreshAfterSettle(id int, writtenAt time.Time) {
	remaining := c.settleDelay - time.Since(writtenAt)
	time.AfterFunc(remaining, func() {
		_, err := c.refreshSince(c.ctx, writtenAt)
		switch {
		case err == nil:
		case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled):
			c.logDebug("background refresh abandoned", "actor", id, "error", err)
		default:
			c.logWarn("background refresh after actor command failed", "actor", id, "error", err)
		}
	})
}

// Toggle inverts the cached state of an actor.
//
// Returns:
//   - bool: The state that was requested (true = on)
//   - error: ErrUnknownActor if id is not in the cached snapshot, or any
//     SetActorState error
func (c *Coordinator) Toggle(ctx context.Context, id int) (bool, error) {
	snap, ok := c.CurrentSnapshot()
	if !ok {
		return false, ErrNotReady
	}

	actor, found := snap.Actor(id)
	if !found {
		return false, fmt.Errorf("%w: %d", ErrUnknownActor, id)
	}

	desired := !actor.IsOn()
	if err := c.SetActorState(ctx, id, desired); err != nil {
		return false, err
	}
	return desired, nil
}

// ReadSensor reads one sensor directly from the device without touching
// the cached snapshot.
func (c *Coordinator) ReadSensor(ctx context.Context, id int) (allnet.SensorReading, bool, error) {
	if err := c.checkReady(); err != nil {
		return allnet.SensorReading{}, false, err
	}
	return c.inventory.Sensor(ctx, id)
}

// ReadActor reads one actor directly from the device without touching the
// cached snapshot.
func (c *Coordinator) ReadActor(ctx context.Context, id int) (allnet.ActorState, bool, error) {
	if err := c.checkReady(); err != nil {
		return allnet.ActorState{}, false, err
	}
	return c.inventory.Actor(ctx, id)
}

// Origin identifies who issued an actor command.
type Origin struct {
	Source    string // "api", "mqtt", ...
	RequestID string
}

type originKey struct{}

// WithOrigin attaches the command origin to ctx. It is reported through
// the OnCommand hook.
func WithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin attached with WithOrigin. Commands without
// one are reported with Source "internal".
func OriginFrom(ctx context.Context) Origin {
	if origin, ok := ctx.Value(originKey{}).(Origin); ok && origin.Source != "" {
		return origin
	}
	return Origin{Source: "internal"}
}

func (c *Coordinator) recordCommand(origin Origin, id int, on bool, at time.Time, err error) {
	c.mu.Lock()
	c.commands++
	c.mu.Unlock()

	c.hookMu.RLock()
	onCommand := c.onCommand
	c.hookMu.RUnlock()

	if onCommand != nil {
		onCommand(CommandResult{
			ActorID:   id,
			On:        on,
			At:        at,
			Source:    origin.Source,
			RequestID: origin.RequestID,
			Err:       err,
		})
	}
}
