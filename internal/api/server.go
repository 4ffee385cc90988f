package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/allnet-bridge/internal/allnet"
	"github.com/nerrad567/allnet-bridge/internal/bridge"
	"github.com/nerrad567/allnet-bridge/internal/coordinator"
	"github.com/nerrad567/allnet-bridge/internal/history"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SourceAPI is the command origin recorded for REST requests.
const SourceAPI = "api"

// Coordinator is the subset of *coordinator.Coordinator the API uses.
type Coordinator interface {
	CurrentSnapshot() (coordinator.Snapshot, bool)
	RequestRefresh(ctx context.Context) (coordinator.Snapshot, error)
	SetActorState(ctx context.Context, id int, on bool) error
	Toggle(ctx context.Context, id int) (bool, error)
	ReadSensor(ctx context.Context, id int) (allnet.SensorReading, bool, error)
	ReadActor(ctx context.Context, id int) (allnet.ActorState, bool, error)
	Subscribe(buffer int) (<-chan coordinator.Snapshot, func())
	Status() coordinator.Status
}

// HealthChecker is implemented by every infrastructure client
// (MQTT, SQLite, InfluxDB, Valkey).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BridgeMetricsProvider exposes MQTT bridge counters. *bridge.Bridge implements it.
type BridgeMetricsProvider interface {
	Metrics() bridge.Metrics
}

// TelemetryStatsProvider exposes InfluxDB write counters. *influxdb.Client implements it.
type TelemetryStatsProvider interface {
	Stats() influxdb.WriteStats
}

// DBStatsProvider exposes connection pool statistics. *database.DB implements it.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Coordinator Coordinator
	Device      allnet.DeviceInfo

	// Optional
	History        history.Repository
	Bridge         BridgeMetricsProvider
	DB             DBStatsProvider
	Telemetry      TelemetryStatsProvider
	Checks         map[string]HealthChecker
	DroppedRecords func() int

	Version string
}

// Server is the HTTP API server of the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	coord       Coordinator
	device      allnet.DeviceInfo
	history     history.Repository
	bridge      BridgeMetricsProvider
	db          DBStatsProvider
	telemetry   TelemetryStatsProvider
	checks      map[string]HealthChecker
	dropped     func() int
	version     string
	startTime   time.Time
	hub         *Hub
	server      *http.Server
	listener    net.Listener
	cancel      context.CancelFunc // cancels background goroutines on Close()
	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, coordinator)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		coord:     deps.Coordinator,
		device:    deps.Device,
		history:   deps.History,
		bridge:    deps.Bridge,
		db:        deps.DB,
		telemetry: deps.Telemetry,
		checks:    deps.Checks,
		dropped:   deps.DroppedRecords,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.SetInitial(s.initialEvent)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays coordinator snapshots to WebSocket
// subscribers and launches the HTTP listener in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the background goroutines
//
// Returns:
//   - error: If the listener cannot be opened (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.listener = listener

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	snapshots, unsubscribe := s.coord.Subscribe(wsSnapshotBuffer)
	s.unsubscribe = unsubscribe
	s.wg.Add(1)
	go s.relaySnapshots(srvCtx, snapshots)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", listener.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, snapshot relay)
	if s.cancel != nil {
		s.cancel()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// relaySnapshots broadcasts every new snapshot to WebSocket subscribers.
func (s *Server) relaySnapshots(ctx context.Context, snapshots <-chan coordinator.Snapshot) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			s.hub.Broadcast(ChannelSnapshot, snapshotView(snap))
		}
	}
}

// initialEvent returns the current state of a channel for new subscribers.
func (s *Server) initialEvent(channel string) (any, bool) {
	if channel != ChannelSnapshot {
		return nil, false
	}
	snap, ok := s.coord.CurrentSnapshot()
	if !ok {
		return nil, false
	}
	return snapshotView(snap), true
}
