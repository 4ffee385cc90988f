// Allnet Bridge - ALL3500 poller and MQTT/HTTP gateway
//
// This is the main entry point of the bridge. It polls one Allnet ALL3500
// device over its XML-over-HTTP interface, keeps the latest snapshot of
// sensors and actors, and exposes it:
//   - on MQTT (retained state, discovery, commands, requests, health)
//   - on a REST API and WebSocket feed
//   - as poll/command history in SQLite, with optional InfluxDB and Valkey export
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/allnet-bridge/migrations"

	"github.com/nerrad567/allnet-bridge/internal/allnet"
	"github.com/nerrad567/allnet-bridge/internal/api"
	"github.com/nerrad567/allnet-bridge/internal/bridge"
	"github.com/nerrad567/allnet-bridge/internal/coordinator"
	"github.com/nerrad567/allnet-bridge/internal/history"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/database"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/valkey"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// identifyTimeout bounds the device identity request at startup.
const identifyTimeout = 15 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Allnet bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device client and identity
	client, err := allnet.NewClient(allnet.Config{
		Host:     cfg.Device.Host,
		Username: cfg.Device.Username,
		Password: cfg.Device.Password,
	})
	if err != nil {
		return fmt.Errorf("creating device client: %w", err)
	}

	identifyCtx, identifyCancel := context.WithTimeout(ctx, identifyTimeout)
	info, err := client.Identify(identifyCtx)
	identifyCancel()
	if err != nil {
		return fmt.Errorf("identifying device %s: %w", cfg.Device, err)
	}
	log.Info("device identified",
		"host", cfg.Device.Host,
		"model", info.Model,
		"mac", info.MAC,
		"firmware", info.Firmware,
	)

	discovery := allnet.NewDiscovery(client)
	discovery.SetLogger(log.Component("allnet"))

	coord, err := coordinator.New(coordinator.Options{
		Inventory: discovery,
		Writer:    client,
		Interval:  cfg.GetPollInterval(),
		Logger:    log.Component("coordinator"),
	})
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	// Optional telemetry sinks
	var metricsWriter history.MetricsWriter
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metricsWriter = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	var mirror history.SnapshotMirror
	var valkeyClient *valkey.Client
	if cfg.Valkey.Enabled {
		valkeyClient, err = valkey.Connect(ctx, cfg.Valkey)
		if err != nil {
			return fmt.Errorf("connecting to Valkey: %w", err)
		}
		defer func() {
			log.Info("closing Valkey connection")
			if closeErr := valkeyClient.Close(); closeErr != nil {
				log.Error("error closing Valkey", "error", closeErr)
			}
		}()
		mirror = valkeyClient
		log.Info("Valkey connected", "address", cfg.Valkey.Address)
	} else {
		log.Info("Valkey disabled")
	}

	// History recorder is attached before the first poll so that it is recorded.
	historyRepo := history.NewSQLiteRepository(db.DB)
	recorder, err := history.NewRecorder(history.RecorderOptions{
		Device:     cfg.Device.Host,
		Repository: historyRepo,
		Metrics:    metricsWriter,
		Mirror:     mirror,
		Retention:  time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour,
		Logger:     log.Component("history"),
	})
	if err != nil {
		return fmt.Errorf("creating history recorder: %w", err)
	}
	recorder.Start(ctx, coord)
	defer func() {
		log.Info("stopping history recorder")
		recorder.Stop()
	}()

	if startErr := coord.Start(ctx); startErr != nil {
		return fmt.Errorf("starting coordinator: %w", startErr)
	}
	defer func() {
		log.Info("stopping coordinator")
		coord.Stop()
	}()
	status := coord.Status()
	log.Info("coordinator ready",
		"sensors", status.Sensors,
		"actors", status.Actors,
		"interval", coord.Interval(),
	)

	checks := map[string]api.HealthChecker{"database": db}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}
	if valkeyClient != nil {
		checks["valkey"] = valkeyClient
	}

	// MQTT bridge
	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttBridge, err = startBridge(ctx, cfg, info, coord, mqttClient, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:         cfg.API,
			WS:             cfg.WebSocket,
			Logger:         log.Component("api"),
			Coordinator:    coord,
			Device:         info,
			History:        historyRepo,
			DB:             db,
			Checks:         checks,
			DroppedRecords: recorder.Dropped,
			Version:        version,
		}
		if mqttBridge != nil {
			deps.Bridge = mqttBridge
		}
		if influxClient != nil {
			deps.Telemetry = influxClient
		}

		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, MQTT, coordinator,
	// recorder, Valkey, InfluxDB, database.

	log.Info("Allnet bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ALLNET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ALLNET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - checks: Named health checkers of the enabled components
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, checker := range checks {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// startBridge creates the MQTT bridge and starts it.
//
// The bridge republishes its retained state whenever the broker connection
// is re-established, because a restarted broker may have lost it.
//
// Parameters:
//   - ctx: Context for the bridge lifetime
//   - cfg: Application configuration
//   - info: Device identity for discovery messages
//   - coord: Running coordinator
//   - mqttClient: Connected MQTT client
//   - log: Logger instance
//
// Returns:
//   - *bridge.Bridge: Running bridge
//   - error: If the bridge fails to start
func startBridge(ctx context.Context, cfg *config.Config, info allnet.DeviceInfo, coord *coordinator.Coordinator, mqttClient *mqtt.Client, log *logging.Logger) (*bridge.Bridge, error) {
	br, err := bridge.New(bridge.Options{
		MQTT:           mqttClient,
		Coordinator:    coord,
		Topics:         mqttClient.Topics(),
		Device:         info,
		ID:             cfg.Bridge.ID,
		Version:        version,
		QoS:            byte(cfg.MQTT.QoS),
		HealthInterval: cfg.GetHealthInterval(),
		Logger:         log.Component("bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}

	if err := br.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing state")
		go br.Republish()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT bridge started", "topic_prefix", cfg.MQTT.TopicPrefix)
	return br, nil
}
