package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/allnet-bridge/internal/allnet"
	"github.com/nerrad567/allnet-bridge/internal/coordinator"
)

// SensorView is the API representation of a sensor reading.
type SensorView struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Numeric  *float64 `json:"numeric,omitempty"`
	RawUnit  string   `json:"raw_unit"`
	Unit     string   `json:"unit"`
	Category string   `json:"category"`
}

// ActorView is the API representation of an actor.
type ActorView struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
	On    bool   `json:"on"`
}

// SnapshotView is the API representation of a snapshot.
type SnapshotView struct {
	FetchedAt time.Time    `json:"fetched_at"`
	Sensors   []SensorView `json:"sensors"`
	Actors    []ActorView  `json:"actors"`
}

// SetStateRequest is the body of PUT /actors/{id}/state.
type SetStateRequest struct {
	On *bool `json:"on"`
}

func sensorView(r allnet.SensorReading) SensorView {
	c := r.Classification()
	v := SensorView{
		ID:       r.ID,
		Name:     r.Name,
		Value:    r.Value,
		RawUnit:  r.Unit,
		Unit:     c.Unit,
		Category: string(c.Category),
	}
	if f, ok := r.Numeric(); ok {
		v.Numeric = &f
	}
	return v
}

func actorView(a allnet.ActorState) ActorView {
	return ActorView{
		ID:    a.ID,
		Name:  a.Name,
		State: a.State,
		On:    a.IsOn(),
	}
}

func sensorViews(readings []allnet.SensorReading) []SensorView {
	out := make([]SensorView, 0, len(readings))
	for _, r := range readings {
		out = append(out, sensorView(r))
	}
	return out
}

func actorViews(actors []allnet.ActorState) []ActorView {
	out := make([]ActorView, 0, len(actors))
	for _, a := range actors {
		out = append(out, actorView(a))
	}
	return out
}

func snapshotView(snap coordinator.Snapshot) SnapshotView {
	return SnapshotView{
		FetchedAt: snap.FetchedAt.UTC(),
		Sensors:   sensorViews(snap.Sensors),
		Actors:    actorViews(snap.Actors),
	}
}

// handleGetDevice returns the identity reported by the device at startup.
func (s *Server) handleGetDevice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.device)
}

// handleGetSnapshot returns the cached snapshot.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.coord.CurrentSnapshot()
	if !ok {
		writeServiceUnavailable(w, coordinator.ErrNotReady.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(snap))
}

// handleRefresh polls the device and returns the resulting snapshot.
// Concurrent callers share the same poll.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.RequestRefresh(r.Context())
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(snap))
}

// handleListSensors returns every sensor of the cached snapshot.
func (s *Server) handleListSensors(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.coord.CurrentSnapshot()
	if !ok {
		writeServiceUnavailable(w, coordinator.ErrNotReady.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensors":    sensorViews(snap.Sensors),
		"count":      len(snap.Sensors),
		"fetched_at": snap.FetchedAt.UTC(),
	})
}

// handleGetSensor returns one sensor. With ?live=true the value is read
// from the device instead of the cached snapshot.
func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	id, ok := pointID(w, r)
	if !ok {
		return
	}

	var (
		reading allnet.SensorReading
		found   bool
	)
	if isLive(r) {
		var err error
		reading, found, err = s.coord.ReadSensor(r.Context(), id)
		if err != nil {
			writeCoordinatorError(w, err)
			return
		}
	} else {
		snap, ready := s.coord.CurrentSnapshot()
		if !ready {
			writeServiceUnavailable(w, coordinator.ErrNotReady.Error())
			return
		}
		reading, found = snap.Sensor(id)
	}

	if !found {
		writeNotFound(w, "sensor not found")
		return
	}
	writeJSON(w, http.StatusOK, sensorView(reading))
}

// handleListActors returns every actor of the cached snapshot.
func (s *Server) handleListActors(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.coord.CurrentSnapshot()
	if !ok {
		writeServiceUnavailable(w, coordinator.ErrNotReady.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actors":     actorViews(snap.Actors),
		"count":      len(snap.Actors),
		"fetched_at": snap.FetchedAt.UTC(),
	})
}

// handleGetActor returns one actor, optionally read live (?live=true).
func (s *Server) handleGetActor(w http.ResponseWriter, r *http.Request) {
	id, ok := pointID(w, r)
	if !ok {
		return
	}

	var (
		actor allnet.ActorState
		found bool
	)
	if isLive(r) {
		var err error
		actor, found, err = s.coord.ReadActor(r.Context(), id)
		if err != nil {
			writeCoordinatorError(w, err)
			return
		}
	} else {
		snap, ready := s.coord.CurrentSnapshot()
		if !ready {
			writeServiceUnavailable(w, coordinator.ErrNotReady.Error())
			return
		}
		actor, found = snap.Actor(id)
	}

	if !found {
		writeNotFound(w, "actor not found")
		return
	}
	writeJSON(w, http.StatusOK, actorView(actor))
}

// handleSetActorState switches an actor on or off.
//
// The response is sent once the device accepted the write and the
// follow-up refresh finished, so the returned actor reflects the new state
// when the device reported it in time.
func (s *Server) handleSetActorState(w http.ResponseWriter, r *http.Request) {
	id, ok := pointID(w, r)
	if !ok {
		return
	}

	var req SetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, "on is required")
		return
	}

	ctx := coordinator.WithOrigin(r.Context(), coordinator.Origin{
		Source:    SourceAPI,
		RequestID: requestID(r.Context()),
	})
	if err := s.coord.SetActorState(ctx, id, *req.On); err != nil {
		writeCoordinatorError(w, err)
		return
	}

	s.writeCommandResult(w, id, *req.On)
}

// handleToggleActor inverts the cached state of an actor.
func (s *Server) handleToggleActor(w http.ResponseWriter, r *http.Request) {
	id, ok := pointID(w, r)
	if !ok {
		return
	}

	ctx := coordinator.WithOrigin(r.Context(), coordinator.Origin{
		Source:    SourceAPI,
		RequestID: requestID(r.Context()),
	})
	on, err := s.coord.Toggle(ctx, id)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	s.writeCommandResult(w, id, on)
}

func (s *Server) writeCommandResult(w http.ResponseWriter, id int, requested bool) {
	body := map[string]any{
		"id":        id,
		"requested": requested,
		"accepted":  true,
	}
	if snap, ok := s.coord.CurrentSnapshot(); ok {
		if actor, found := snap.Actor(id); found {
			body["actor"] = actorView(actor)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// pointID parses the {id} URL parameter, writing a 400 when it is invalid.
func pointID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeBadRequest(w, "id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

func isLive(r *http.Request) bool {
	live, err := strconv.ParseBool(r.URL.Query().Get("live"))
	return err == nil && live
}
