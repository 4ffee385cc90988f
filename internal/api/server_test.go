package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/allnet-bridge/internal/allnet"
	"github.com/nerrad567/allnet-bridge/internal/bridge"
	"github.com/nerrad567/allnet-bridge/internal/coordinator"
	"github.com/nerrad567/allnet-bridge/internal/history"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/logging"
)

// fakeCoordinator is an in-memory Coordinator.
type fakeCoordinator struct {
	mu       sync.Mutex
	snapshot coordinator.Snapshot
	ready    bool
	status   coordinator.Status

	setErr     error
	refreshErr error
	liveErr    error
	origins    []coordinator.Origin
	writes     map[int]bool

	subs []chan coordinator.Snapshot
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		snapshot: testSnapshot(),
		ready:    true,
		status:   coordinator.Status{Ready: true, Sensors: 2, Actors: 2, Polls: 3},
		writes:   make(map[int]bool),
	}
}

func (f *fakeCoordinator) CurrentSnapshot() (coordinator.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot.Clone(), f.ready
}

func (f *fakeCoordinator) RequestRefresh(_ context.Context) (coordinator.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return coordinator.Snapshot{}, f.refreshErr
	}
	f.snapshot.FetchedAt = f.snapshot.FetchedAt.Add(time.Minute)
	return f.snapshot.Clone(), nil
}

func (f *fakeCoordinator) SetActorState(ctx context.Context, id int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return coordinator.ErrNotReady
	}
	f.origins = append(f.origins, coordinator.OriginFrom(ctx))
	if f.setErr != nil {
		return f.setErr
	}
	f.writes[id] = on
	for i := range f.snapshot.Actors {
		if f.snapshot.Actors[i].ID == id {
			f.snapshot.Actors[i].State = map[bool]string{true: "1", false: "0"}[on]
		}
	}
	return nil
}

func (f *fakeCoordinator) Toggle(ctx context.Context, id int) (bool, error) {
	snap, ok := f.CurrentSnapshot()
	if !ok {
		return false, coordinator.ErrNotReady
	}
	actor, found := snap.Actor(id)
	if !found {
		return false, fmt.Errorf("%w: %d", coordinator.ErrUnknownActor, id)
	}
	desired := !actor.IsOn()
	return desired, f.SetActorState(ctx, id, desired)
}

func (f *fakeCoordinator) ReadSensor(_ context.Context, id int) (allnet.SensorReading, bool, error) {
	if f.liveErr != nil {
		return allnet.SensorReading{}, false, f.liveErr
	}
	if id == 1 {
		return allnet.SensorReading{ID: 1, Name: "Outdoor", Value: "-3.5", Unit: "°C"}, true, nil
	}
	return allnet.SensorReading{}, false, nil
}

func (f *fakeCoordinator) ReadActor(_ context.Context, id int) (allnet.ActorState, bool, error) {
	if f.liveErr != nil {
		return allnet.ActorState{}, false, f.liveErr
	}
	if id == 10 {
		return allnet.ActorState{ID: 10, Name: "Pump", State: "1"}, true, nil
	}
	return allnet.ActorState{}, false, nil
}

func (f *fakeCoordinator) Subscribe(buffer int) (<-chan coordinator.Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan coordinator.Snapshot, buffer)
	f.subs = append(f.subs, ch)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, c := range f.subs {
				if c == ch {
					f.subs = append(f.subs[:i], f.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

func (f *fakeCoordinator) Status() coordinator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// push publishes snap to every subscriber.
func (f *fakeCoordinator) push(snap coordinator.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snap
	for _, ch := range f.subs {
		ch <- snap
	}
}

func (f *fakeCoordinator) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// fakeHistory is an in-memory history.Repository.
type fakeHistory struct {
	polls    []history.PollEntry
	commands []history.CommandEntry
	lastCmd  history.CommandFilter
	err      error
}

func (h *fakeHistory) RecordPoll(_ context.Context, e history.PollEntry) error {
	h.polls = append(h.polls, e)
	return nil
}

func (h *fakeHistory) RecordCommand(_ context.Context, e history.CommandEntry) error {
	h.commands = append(h.commands, e)
	return nil
}

func (h *fakeHistory) ListPolls(_ context.Context, limit int) ([]history.PollEntry, error) {
	if h.err != nil {
		return nil, h.err
	}
	if limit < len(h.polls) {
		return h.polls[:limit], nil
	}
	return h.polls, nil
}

func (h *fakeHistory) ListCommands(_ context.Context, f history.CommandFilter) ([]history.CommandEntry, error) {
	h.lastCmd = f
	if h.err != nil {
		return nil, h.err
	}
	var out []history.CommandEntry
	for _, c := range h.commands {
		if f.HasActor && c.ActorID != f.ActorID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (h *fakeHistory) Prune(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

type staticChecker struct{ err error }

func (c staticChecker) HealthCheck(_ context.Context) error { return c.err }

type staticTelemetry struct{}

func (staticTelemetry) Stats() influxdb.WriteStats {
	return influxdb.WriteStats{SensorPoints: 12, ActorPoints: 4, FailedBatches: 1, LastError: "bad point"}
}

type staticBridge struct{}

func (staticBridge) Metrics() bridge.Metrics {
	return bridge.Metrics{Connected: true, StatesPublished: 7}
}

func testSnapshot() coordinator.Snapshot {
	return coordinator.Snapshot{
		Sensors: []allnet.SensorReading{
			{ID: 1, Name: "Outdoor", Value: "21.5", Unit: "°C"},
			{ID: 2, Name: "Status", Value: "ok", Unit: ""},
		},
		Actors: []allnet.ActorState{
			{ID: 10, Name: "Pump", State: "0"},
			{ID: 11, Name: "Light", State: "1"},
		},
		FetchedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}
}

// testServer creates a Server backed by a fake coordinator and history.
func testServer(t *testing.T) (*Server, *fakeCoordinator, *fakeHistory) {
	t.Helper()

	coord := newFakeCoordinator()
	hist := &fakeHistory{}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS:          testWSConfig(),
		Logger:      testLogger(),
		Coordinator: coord,
		Device:      allnet.DeviceInfo{Model: "ALL3500", MAC: "00:11:22:33:44:55", Firmware: "2.9"},
		History:     hist,
		Bridge:      staticBridge{},
		Telemetry:   staticTelemetry{},
		Checks: map[string]HealthChecker{
			"mqtt":   staticChecker{},
			"valkey": staticChecker{err: errors.New("connection refused")},
		},
		DroppedRecords: func() int { return 2 },
		Version:        "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return srv, coord, hist
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Coordinator: newFakeCoordinator()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without coordinator should fail")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Ready   bool              `json:"ready"`
		Checks  map[string]string `json:"checks"`
	}
	decode(t, w, &resp)

	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if !resp.Ready {
		t.Error("ready = false, want true")
	}
	if resp.Checks["mqtt"] != "ok" {
		t.Errorf("checks[mqtt] = %q, want ok", resp.Checks["mqtt"])
	}
	if resp.Checks["valkey"] != "connection refused" {
		t.Errorf("checks[valkey] = %q, want connection refused", resp.Checks["valkey"])
	}
}

func TestHealth_NotReady(t *testing.T) {
	srv, coord, _ := testServer(t)
	coord.status.Ready = false
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/health", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_RejectsUnknownOrigin(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Snapshot and Point Tests ──────────────────────────────────────

func TestGetDevice(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/device", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var info allnet.DeviceInfo
	decode(t, w, &info)
	if info.Model != "ALL3500" {
		t.Errorf("model = %q, want ALL3500", info.Model)
	}
}

func TestGetSnapshot(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var view SnapshotView
	decode(t, w, &view)

	if len(view.Sensors) != 2 || len(view.Actors) != 2 {
		t.Fatalf("got %d sensors, %d actors, want 2 and 2", len(view.Sensors), len(view.Actors))
	}

	temp := view.Sensors[0]
	if temp.Category != string(allnet.CategoryTemperature) {
		t.Errorf("category = %q, want temperature", temp.Category)
	}
	if temp.Numeric == nil || *temp.Numeric != 21.5 {
		t.Errorf("numeric = %v, want 21.5", temp.Numeric)
	}

	status := view.Sensors[1]
	if status.Numeric != nil {
		t.Errorf("non-numeric value reported numeric %v", *status.Numeric)
	}
	if status.Value != "ok" {
		t.Errorf("value = %q, want ok", status.Value)
	}

	if view.Actors[0].On || !view.Actors[1].On {
		t.Errorf("actor on flags = %v/%v, want false/true", view.Actors[0].On, view.Actors[1].On)
	}
}

func TestGetSnapshot_NonFiniteValues(t *testing.T) {
	srv, coord, _ := testServer(t)
	coord.snapshot.Sensors = append(coord.snapshot.Sensors,
		allnet.SensorReading{ID: 3, Name: "Boiler A", Value: "NaN", Unit: "°C"},
		allnet.SensorReading{ID: 4, Name: "Boiler B", Value: "inf", Unit: "°C"},
	)
	router := srv.buildRouter()

	for _, path := range []string{"/api/v1/snapshot", "/api/v1/sensors"} {
		w := serve(router, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, w.Code)
		}

		var body struct {
			Sensors []SensorView `json:"sensors"`
		}
		decode(t, w, &body)

		if len(body.Sensors) != 4 {
			t.Fatalf("GET %s returned %d sensors, want 4", path, len(body.Sensors))
		}
		for _, s := range body.Sensors[2:] {
			if s.Numeric != nil {
				t.Errorf("GET %s sensor %d numeric = %v, want nil", path, s.ID, *s.Numeric)
			}
		}
		if body.Sensors[2].Value != "NaN" || body.Sensors[3].Value != "inf" {
			t.Errorf("GET %s values = %q/%q, want raw text", path, body.Sensors[2].Value, body.Sensors[3].Value)
		}
	}
}

func TestGetSnapshot_NotReady(t *testing.T) {
	srv, coord, _ := testServer(t)
	coord.ready = false
	router := srv.buildRouter()

	for _, path := range []string{"/api/v1/snapshot", "/api/v1/sensors", "/api/v1/actors", "/api/v1/sensors/1"} {
		w := serve(router, http.MethodGet, path, "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, w.Code)
		}
	}
}

func TestRefresh(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodPost, "/api/v1/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var view SnapshotView
	decode(t, w, &view)
	want := testSnapshot().FetchedAt.Add(time.Minute)
	if !view.FetchedAt.Equal(want) {
		t.Errorf("fetched_at = %v, want %v", view.FetchedAt, want)
	}
}

func TestRefresh_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not ready", coordinator.ErrNotReady, http.StatusServiceUnavailable},
		{"stopped", coordinator.ErrStopped, http.StatusServiceUnavailable},
		{"unreachable", fmt.Errorf("poll: %w", allnet.ErrConnection), http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, coord, _ := testServer(t)
			coord.refreshErr = tt.err
			router := srv.buildRouter()

			w := serve(router, http.MethodPost, "/api/v1/refresh", "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}

			var apiErr Error
			decode(t, w, &apiErr)
			if apiErr.Status != tt.want {
				t.Errorf("body status = %d, want %d", apiErr.Status, tt.want)
			}
		})
	}
}

func TestGetSensor(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantValue string
	}{
		{"cached", "/api/v1/sensors/1", http.StatusOK, "21.5"},
		{"live", "/api/v1/sensors/1?live=true", http.StatusOK, "-3.5"},
		{"unknown", "/api/v1/sensors/99", http.StatusNotFound, ""},
		{"unknown live", "/api/v1/sensors/99?live=1", http.StatusNotFound, ""},
		{"invalid id", "/api/v1/sensors/abc", http.StatusBadRequest, ""},
		{"negative id", "/api/v1/sensors/-1", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := testServer(t)
			router := srv.buildRouter()

			w := serve(router, http.MethodGet, tt.path, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantValue == "" {
				return
			}

			var view SensorView
			decode(t, w, &view)
			if view.Value != tt.wantValue {
				t.Errorf("value = %q, want %q", view.Value, tt.wantValue)
			}
		})
	}
}

func TestGetSensor_LiveDeviceError(t *testing.T) {
	srv, coord, _ := testServer(t)
	coord.liveErr = fmt.Errorf("fetch: %w", allnet.ErrConnection)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/sensors/1?live=true", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestListActors(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/actors", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Actors []ActorView `json:"actors"`
		Count  int         `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 2 || len(resp.Actors) != 2 {
		t.Errorf("count = %d (%d actors), want 2", resp.Count, len(resp.Actors))
	}
}

func TestGetActor(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/actors/10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var view ActorView
	decode(t, w, &view)
	if view.On {
		t.Error("cached actor 10 should be off")
	}

	w = serve(router, http.MethodGet, "/api/v1/actors/10?live=true", "")
	decode(t, w, &view)
	if !view.On {
		t.Error("live actor 10 should be on")
	}
}

// ─── Command Tests ─────────────────────────────────────────────────

func TestSetActorState(t *testing.T) {
	srv, coord, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/actors/10/state", strings.NewReader(`{"on": true}`))
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ID        int        `json:"id"`
		Requested bool       `json:"requested"`
		Accepted  bool       `json:"accepted"`
		Actor     *ActorView `json:"actor"`
	}
	decode(t, w, &resp)

	if resp.ID != 10 || !resp.Requested || !resp.Accepted {
		t.Errorf("response = %+v", resp)
	}
	if resp.Actor == nil || !resp.Actor.On {
		t.Errorf("actor = %+v, want on", resp.Actor)
	}
	if !coord.writes[10] {
		t.Error("coordinator did not receive the write")
	}
	if len(coord.origins) != 1 || coord.origins[0] != (coordinator.Origin{Source: SourceAPI, RequestID: "req-42"}) {
		t.Errorf("origins = %+v", coord.origins)
	}
}

func TestSetActorState_Validation(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing on", "/api/v1/actors/10/state", `{}`, http.StatusBadRequest},
		{"invalid json", "/api/v1/actors/10/state", `not json`, http.StatusBadRequest},
		{"wrong type", "/api/v1/actors/10/state", `{"on":"yes"}`, http.StatusBadRequest},
		{"invalid id", "/api/v1/actors/x/state", `{"on":true}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, coord, _ := testServer(t)
			router := srv.buildRouter()

			w := serve(router, http.MethodPut, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if len(coord.writes) != 0 {
				t.Errorf("writes = %v, want none", coord.writes)
			}
		})
	}
}

func TestSetActorState_DeviceRejects(t *testing.T) {
	srv, coord, _ := testServer(t)
	coord.setErr = fmt.Errorf("%w: %w", coordinator.ErrCommandFailed, allnet.ErrProtocol)
	router := srv.buildRouter()

	w := serve(router, http.MethodPut, "/api/v1/actors/10/state", `{"on":false}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}

	var apiErr Error
	decode(t, w, &apiErr)
	if apiErr.Code != ErrCodeDeviceError {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeDeviceError)
	}
}

func TestToggleActor(t *testing.T) {
	srv, coord, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodPost, "/api/v1/actors/11/toggle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Requested bool `json:"requested"`
	}
	decode(t, w, &resp)
	if resp.Requested {
		t.Error("toggling an on actor should request off")
	}
	if on, ok := coord.writes[11]; !ok || on {
		t.Errorf("writes[11] = %v, %v; want false, true", on, ok)
	}
}

func TestToggleActor_Unknown(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodPost, "/api/v1/actors/99/toggle", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── History Tests ─────────────────────────────────────────────────

func TestListPolls(t *testing.T) {
	srv, _, hist := testServer(t)
	for i := range 3 {
		hist.polls = append(hist.polls, history.PollEntry{ID: int64(i + 1), Device: "dev", Success: true})
	}
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/history/polls?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Polls []history.PollEntry `json:"polls"`
		Count int                 `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestListPolls_Empty(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/history/polls", "")
	if !strings.Contains(w.Body.String(), `"polls":[]`) {
		t.Errorf("body = %s, want empty polls array", w.Body.String())
	}
}

func TestListCommands(t *testing.T) {
	srv, _, hist := testServer(t)
	hist.commands = []history.CommandEntry{
		{ID: "a", ActorID: 10, On: true, Source: "api"},
		{ID: "b", ActorID: 11, On: false, Source: "mqtt"},
	}
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/history/commands?actor=11", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Commands []history.CommandEntry `json:"commands"`
	}
	decode(t, w, &resp)
	if len(resp.Commands) != 1 || resp.Commands[0].ID != "b" {
		t.Errorf("commands = %+v, want only b", resp.Commands)
	}
	if hist.lastCmd.Limit != defaultHistoryLimit {
		t.Errorf("limit = %d, want %d", hist.lastCmd.Limit, defaultHistoryLimit)
	}
}

func TestHistory_BadRequests(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	for _, path := range []string{
		"/api/v1/history/polls?limit=0",
		"/api/v1/history/polls?limit=abc",
		"/api/v1/history/commands?actor=x",
	} {
		w := serve(router, http.MethodGet, path, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, w.Code)
		}
	}
}

func TestHistory_Disabled(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.history = nil
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/history/commands", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHistory_RepositoryError(t *testing.T) {
	srv, _, hist := testServer(t)
	hist.err = errors.New("disk I/O error")
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/history/polls", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := serve(router, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var m SystemMetrics
	decode(t, w, &m)
	if m.Version != "test" {
		t.Errorf("version = %q, want test", m.Version)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0")
	}
	if m.Coordinator.Polls != 3 {
		t.Errorf("coordinator polls = %d, want 3", m.Coordinator.Polls)
	}
	if m.MQTT == nil || m.MQTT.StatesPublished != 7 {
		t.Errorf("mqtt = %+v, want states_published 7", m.MQTT)
	}
	if m.Database != nil {
		t.Errorf("database = %+v, want nil without DB", m.Database)
	}
	if m.Telemetry == nil || m.Telemetry.SensorPoints != 12 || m.Telemetry.FailedBatches != 1 {
		t.Errorf("telemetry = %+v, want 12 sensor points and 1 failed batch", m.Telemetry)
	}
	if m.DroppedRecords != 2 {
		t.Errorf("dropped = %d, want 2", m.DroppedRecords)
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelSnapshot: {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelSnapshot, snapshotView(testSnapshot()))

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != ChannelSnapshot {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, ChannelSnapshot)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"other": {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelSnapshot, map[string]any{"x": 1})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not close the channel again
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── WebSocket Integration Tests ───────────────────────────────────

// startServer starts srv on an ephemeral port and returns its address.
func startServer(t *testing.T, srv *Server) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	return srv.Addr()
}

func dialWebSocket(t *testing.T, addr, query string) *websocket.Conn {
	t.Helper()

	url := "ws://" + addr + "/api/v1/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}

	addr := startServer(t, srv)
	if addr == "" {
		t.Fatal("Addr() empty after Start")
	}

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestWebSocket_SubscribeReceivesCurrentSnapshot(t *testing.T) {
	srv, _, _ := testServer(t)
	addr := startServer(t, srv)
	ws := dialWebSocket(t, addr, "")

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelSnapshot}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readMessage(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Errorf("response = %+v, want response sub-1", resp)
	}

	event := readMessage(t, ws)
	if event.Type != WSTypeEvent || event.EventType != ChannelSnapshot {
		t.Errorf("event = %+v, want %s event", event, ChannelSnapshot)
	}
}

func TestWebSocket_RelaysSnapshots(t *testing.T) {
	srv, coord, _ := testServer(t)
	addr := startServer(t, srv)
	ws := dialWebSocket(t, addr, "?channels="+ChannelSnapshot)

	// Initial value for the query subscription.
	readMessage(t, ws)

	deadline := time.Now().Add(2 * time.Second)
	for coord.subscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	next := testSnapshot()
	next.Actors[0].State = "1"
	next.FetchedAt = next.FetchedAt.Add(time.Hour)
	coord.push(next)

	event := readMessage(t, ws)
	if event.EventType != ChannelSnapshot {
		t.Fatalf("event_type = %q, want %q", event.EventType, ChannelSnapshot)
	}

	raw, err := json.Marshal(event.Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var view SnapshotView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !view.Actors[0].On {
		t.Error("relayed snapshot should have actor 10 on")
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _, _ := testServer(t)
	addr := startServer(t, srv)
	ws := dialWebSocket(t, addr, "")

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	resp := readMessage(t, ws)
	if resp.Type != WSTypePong {
		t.Errorf("response type = %s, want pong", resp.Type)
	}
	if resp.ID != "ping-1" {
		t.Errorf("response ID = %s, want ping-1", resp.ID)
	}
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	srv, _, _ := testServer(t)
	addr := startServer(t, srv)
	ws := dialWebSocket(t, addr, "")

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid message: %v", err)
	}

	if resp := readMessage(t, ws); resp.Type != WSTypeError {
		t.Errorf("response type = %s, want error", resp.Type)
	}

	if err := ws.WriteJSON(WSMessage{Type: "bogus", ID: "x"}); err != nil {
		t.Fatalf("write unknown type: %v", err)
	}
	if resp := readMessage(t, ws); resp.Type != WSTypeError {
		t.Errorf("response type = %s, want error", resp.Type)
	}
}
