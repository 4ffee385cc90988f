package coordinator

import (
	"time"

	"github.com/nerrad567/allnet-bridge/internal/allnet"
)

// Snapshot is the result of one successful poll. It is replaced as a whole,
// never patched.
type Snapshot struct {
	Sensors   []allnet.SensorReading `json:"sensors"`
	Actors    []allnet.ActorState    `json:"actors"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// Clone returns a deep copy so callers cannot mutate the cached value.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{FetchedAt: s.FetchedAt}
	if s.Sensors != nil {
		out.Sensors = make([]allnet.SensorReading, len(s.Sensors))
		copy(out.Sensors, s.Sensors)
	}
	if s.Actors != nil {
		out.Actors = make([]allnet.ActorState, len(s.Actors))
		copy(out.Actors, s.Actors)
	}
	return out
}

// Sensor returns the reading with the given id.
func (s Snapshot) Sensor(id int) (allnet.SensorReading, bool) {
	for _, r := range s.Sensors {
		if r.ID == id {
			return r, true
		}
	}
	return allnet.SensorReading{}, false
}

// Actor returns the actor with the given id.
func (s Snapshot) Actor(id int) (allnet.ActorState, bool) {
	for _, a := range s.Actors {
		if a.ID == id {
			return a, true
		}
	}
	return allnet.ActorState{}, false
}

// IsZero reports whether the snapshot has never been filled.
func (s Snapshot) IsZero() bool {
	return s.FetchedAt.IsZero()
}
