package bridge

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/allnet-bridge/internal/coordinator"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/mqtt"
)

// Point kinds.
const (
	KindSensor = "sensor"
	KindActor  = "actor"
)

// publishSnapshot publishes the state of every point that changed since
// the last snapshot, clears the retained state of points that disappeared
// and republishes discovery when the inventory changed.
func (b *Bridge) publishSnapshot(snap coordinator.Snapshot) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	seen := make(map[string]struct{}, len(snap.Sensors)+len(snap.Actors))

	for _, r := range snap.Sensors {
		address := mqtt.SensorAddress(r.ID)
		seen[address] = struct{}{}
		b.publishState(KindSensor, address, SensorState(r), snap.FetchedAt)
	}
	for _, a := range snap.Actors {
		address := mqtt.ActorAddress(a.ID)
		seen[address] = struct{}{}
		b.publishState(KindActor, address, ActorStateMap(a), snap.FetchedAt)
	}

	b.clearVanished(seen)
	b.publishDiscovery(snap)
}

// publishState publishes one retained state message unless it matches the cache.
func (b *Bridge) publishState(kind, address string, state map[string]any, at time.Time) {
	if b.stateUnchanged(address, state) {
		return
	}

	payload, err := json.Marshal(NewStateMessage(kind, address, state, at))
	if err != nil {
		b.forget(address)
		b.logError("failed to marshal state", "address", address, "error", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.State(address), payload, b.qos, true); err != nil {
		// Retry with the next snapshot.
		b.forget(address)
		b.publishFailures.Add(1)
		b.logWarn("failed to publish state", "address", address, "error", err)
		return
	}
	b.statesPublished.Add(1)
}

// clearVanished removes the retained state of points missing from the
// latest snapshot by publishing an empty retained payload.
func (b *Bridge) clearVanished(seen map[string]struct{}) {
	b.stateCacheMu.Lock()
	var vanished []string
	for address := range b.stateCache {
		if _, ok := seen[address]; !ok {
			vanished = append(vanished, address)
			delete(b.stateCache, address)
		}
	}
	b.stateCacheMu.Unlock()

	for _, address := range vanished {
		if err := b.mqtt.Publish(b.topics.State(address), nil, b.qos, true); err != nil {
			b.publishFailures.Add(1)
			b.logWarn("failed to clear retained state", "address", address, "error", err)
			continue
		}
		b.logInfo("point no longer reported", "address", address)
	}
}

// publishDiscovery publishes the retained inventory when the set of points,
// their names or their units changed.
func (b *Bridge) publishDiscovery(snap coordinator.Snapshot) {
	key := inventoryKey(snap)

	b.stateCacheMu.Lock()
	unchanged := key == b.inventoryKey
	b.stateCacheMu.Unlock()
	if unchanged {
		return
	}

	msg := b.buildDiscovery(snap)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", "error", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.Discovery(), payload, 1, true); err != nil {
		b.publishFailures.Add(1)
		b.logWarn("failed to publish discovery", "error", err)
		return
	}

	b.stateCacheMu.Lock()
	b.inventoryKey = key
	b.stateCacheMu.Unlock()

	b.logInfo("published discovery",
		"sensors", len(msg.Sensors),
		"actors", len(msg.Actors))
}

// buildDiscovery describes every point in the snapshot.
func (b *Bridge) buildDiscovery(snap coordinator.Snapshot) DiscoveryMessage {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.id,
		Device:    b.device,
		Sensors:   make([]DiscoveredPoint, 0, len(snap.Sensors)),
		Actors:    make([]DiscoveredPoint, 0, len(snap.Actors)),
	}

	for _, r := range snap.Sensors {
		address := mqtt.SensorAddress(r.ID)
		c := r.Classification()
		caps := []string{"read"}
		if c.Measurement() {
			caps = append(caps, string(c.Category))
		}
		msg.Sensors = append(msg.Sensors, DiscoveredPoint{
			ID:           r.ID,
			Address:      address,
			Name:         r.Name,
			Category:     string(c.Category),
			Unit:         c.Unit,
			StateTopic:   b.topics.State(address),
			Capabilities: caps,
		})
	}

	for _, a := range snap.Actors {
		address := mqtt.ActorAddress(a.ID)
		msg.Actors = append(msg.Actors, DiscoveredPoint{
			ID:           a.ID,
			Address:      address,
			Name:         a.Name,
			StateTopic:   b.topics.State(address),
			CommandTopic: b.topics.Command(address),
			Capabilities: []string{"read", "on_off", "toggle"},
		})
	}

	return msg
}

// inventoryKey fingerprints the identity of every point in a snapshot.
// Values are excluded so that readings do not trigger rediscovery.
func inventoryKey(snap coordinator.Snapshot) string {
	var sb strings.Builder
	for _, r := range snap.Sensors {
		sb.WriteString("s")
		sb.WriteString(strconv.Itoa(r.ID))
		sb.WriteByte(0)
		sb.WriteString(r.Name)
		sb.WriteByte(0)
		sb.WriteString(r.Unit)
		sb.WriteByte(0)
	}
	for _, a := range snap.Actors {
		sb.WriteString("a")
		sb.WriteString(strconv.Itoa(a.ID))
		sb.WriteByte(0)
		sb.WriteString(a.Name)
		sb.WriteByte(0)
	}
	return sb.String()
}

// stateUnchanged reports whether state matches the cached state of address,
// and records it when it does not.
func (b *Bridge) stateUnchanged(address string, state map[string]any) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if cached, ok := b.stateCache[address]; ok && maps.Equal(cached, state) {
		return true
	}
	b.stateCache[address] = state
	return false
}

// forget drops address from the cache so that it is published again.
func (b *Bridge) forget(address string) {
	b.stateCacheMu.Lock()
	delete(b.stateCache, address)
	b.stateCacheMu.Unlock()
}
