package allnet

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Fetcher is the raw-record side of the protocol. *Client implements it;
// tests substitute an in-memory fake.
type Fetcher interface {
	FetchSensorList(ctx context.Context) ([]RawSensor, error)
	FetchActorList(ctx context.Context) ([]RawActor, error)
	FetchSensor(ctx context.Context, id int) (RawSensor, bool, error)
	FetchActor(ctx context.Context, id int) (RawActor, bool, error)
}

// listDroppedValues are the exact values the device uses in its list
// documents for sensors that carry no reading. Matching is case-sensitive.
var listDroppedValues = map[string]struct{}{
	"disabled":          {},
	"error":             {},
	"":                  {},
	"no recorded value": {},
}

// pointDroppedValues applies to single-sensor reads. "error" is kept so
// that a live read shows a faulted sensor instead of reporting it missing.
var pointDroppedValues = map[string]struct{}{
	"disabled":          {},
	"":                  {},
	"no recorded value": {},
}

// Discovery builds the normalised inventory from the device's list
// endpoints.
//
// Thread Safety: All methods are safe for concurrent use.
type Discovery struct {
	fetcher Fetcher

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDiscovery creates a discovery layer on top of the given fetcher.
func NewDiscovery(fetcher Fetcher) *Discovery {
	return &Discovery{fetcher: fetcher}
}

// SetLogger sets the logger for discovery warnings.
func (d *Discovery) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// ListSensors returns every usable sensor in device order.
//
// Records with an empty name, a sentinel value or an unparsable id are
// dropped. A malformed list document is logged and yields an empty slice.
//
// Returns:
//   - []SensorReading: Filtered readings (never nil on success)
//   - error: Wraps ErrConnection when the device is unreachable
func (d *Discovery) ListSensors(ctx context.Context) ([]SensorReading, error) {
	raws, err := d.fetcher.FetchSensorList(ctx)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			d.logWarn("sensor list unreadable, treating as empty", "error", err)
			return []SensorReading{}, nil
		}
		return nil, err
	}

	readings := make([]SensorReading, 0, len(raws))
	seen := make(map[int]struct{}, len(raws))
	for _, raw := range raws {
		reading, ok := d.normaliseSensor(raw, listDroppedValues)
		if !ok {
			continue
		}
		if _, dup := seen[reading.ID]; dup {
			d.logDebug("duplicate sensor id dropped", "id", reading.ID, "name", reading.Name)
			continue
		}
		seen[reading.ID] = struct{}{}
		readings = append(readings, reading)
	}
	return readings, nil
}

// ListActors returns every usable actor in device order.
// Records with an empty name, an empty state or an unparsable id are dropped.
func (d *Discovery) ListActors(ctx context.Context) ([]ActorState, error) {
	raws, err := d.fetcher.FetchActorList(ctx)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			d.logWarn("actor list unreadable, treating as empty", "error", err)
			return []ActorState{}, nil
		}
		return nil, err
	}

	actors := make([]ActorState, 0, len(raws))
	seen := make(map[int]struct{}, len(raws))
	for _, raw := range raws {
		actor, ok := d.normaliseActor(raw)
		if !ok {
			continue
		}
		if _, dup := seen[actor.ID]; dup {
			d.logDebug("duplicate actor id dropped", "id", actor.ID, "name", actor.Name)
			continue
		}
		seen[actor.ID] = struct{}{}
		actors = append(actors, actor)
	}
	return actors, nil
}

// Sensor reads a single sensor through the point endpoint.
// The bool result is false when the device has no usable reading for id.
// Unlike ListSensors, a value of "error" is returned as the reading.
func (d *Discovery) Sensor(ctx context.Context, id int) (SensorReading, bool, error) {
	raw, found, err := d.fetcher.FetchSensor(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			d.logWarn("sensor document unreadable", "id", id, "error", err)
			return SensorReading{}, false, nil
		}
		return SensorReading{}, false, err
	}
	if !found {
		return SensorReading{}, false, nil
	}
	reading, ok := d.normaliseSensor(raw, pointDroppedValues)
	return reading, ok, nil
}

// Actor reads a single actor through the point endpoint.
// The bool result is false when the device has no usable state for id.
func (d *Discovery) Actor(ctx context.Context, id int) (ActorState, bool, error) {
	raw, found, err := d.fetcher.FetchActor(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			d.logWarn("actor document unreadable", "id", id, "error", err)
			return ActorState{}, false, nil
		}
		return ActorState{}, false, err
	}
	if !found {
		return ActorState{}, false, nil
	}
	actor, ok := d.normaliseActor(raw)
	return actor, ok, nil
}

func (d *Discovery) normaliseSensor(raw RawSensor, dropped map[string]struct{}) (SensorReading, bool) {
	name := strings.TrimSpace(raw.Name)
	value := strings.TrimSpace(raw.Current)
	if name == "" {
		return SensorReading{}, false
	}
	if _, drop := dropped[value]; drop {
		return SensorReading{}, false
	}

	id, ok := d.parseID("sensor", raw.ID)
	if !ok {
		return SensorReading{}, false
	}

	return SensorReading{
		ID:    id,
		Name:  name,
		Value: value,
		Unit:  strings.TrimSpace(raw.Unit),
	}, true
}

func (d *Discovery) normaliseActor(raw RawActor) (ActorState, bool) {
	name := strings.TrimSpace(raw.Name)
	state := strings.TrimSpace(raw.State)
	if name == "" || state == "" {
		return ActorState{}, false
	}

	id, ok := d.parseID("actor", raw.ID)
	if !ok {
		return ActorState{}, false
	}

	return ActorState{ID: id, Name: name, State: state}, true
}

func (d *Discovery) parseID(kind, text string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		d.logDebug("record with unparsable id dropped", "kind", kind, "id", text)
		return 0, false
	}
	return id, true
}

func (d *Discovery) logWarn(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (d *Discovery) logDebug(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
