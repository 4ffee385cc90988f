package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/allnet-bridge/internal/bridge"
	"github.com/nerrad567/allnet-bridge/internal/coordinator"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/influxdb"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp      string               `json:"timestamp"`
	Version        string               `json:"version"`
	UptimeSeconds  int64                `json:"uptime_seconds"`
	Runtime        RuntimeMetrics       `json:"runtime"`
	WebSocket      WSMetrics            `json:"websocket"`
	Coordinator    coordinator.Status   `json:"coordinator"`
	MQTT           *bridge.Metrics      `json:"mqtt,omitempty"`
	Database       *DatabaseMetrics     `json:"database,omitempty"`
	Telemetry      *influxdb.WriteStats `json:"telemetry,omitempty"`
	DroppedRecords int                  `json:"dropped_records"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Coordinator: s.coord.Status(),
	}

	// MQTT bridge metrics (if available)
	if s.bridge != nil {
		m := s.bridge.Metrics()
		metrics.MQTT = &m
	}

	// Database stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	if s.telemetry != nil {
		stats := s.telemetry.Stats()
		metrics.Telemetry = &stats
	}

	if s.dropped != nil {
		metrics.DroppedRecords = s.dropped()
	}

	writeJSON(w, http.StatusOK, metrics)
}
