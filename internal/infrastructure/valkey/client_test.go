package valkey

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/allnet-bridge/internal/infrastructure/config"
)

// liveConfig returns a config for a local Valkey, skipping the test unless
// ALLNET_TEST_VALKEY names a reachable address.
func liveConfig(t *testing.T) config.ValkeyConfig {
	t.Helper()
	addr := os.Getenv("ALLNET_TEST_VALKEY")
	if addr == "" {
		t.Skip("ALLNET_TEST_VALKEY not set, skipping integration test")
	}
	return config.ValkeyConfig{
		Enabled:   true,
		Address:   addr,
		DB:        15,
		KeyPrefix: "allnet-test",
		TTL:       60,
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.ValkeyConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	_, err = Connect(context.Background(), config.ValkeyConfig{Enabled: true, Address: addr})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		snapshot string
		sensor   string
	}{
		{"configured prefix", "dash", "dash:10.0.0.7:snapshot", "dash:10.0.0.7:sensor:4"},
		{"default prefix", "", "allnet:10.0.0.7:snapshot", "allnet:10.0.0.7:sensor:4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), config.ValkeyConfig{KeyPrefix: tt.prefix, TTL: 30})
			defer c.Close()

			if got := c.SnapshotKey("10.0.0.7"); got != tt.snapshot {
				t.Errorf("SnapshotKey() = %q, want %q", got, tt.snapshot)
			}
			if got := c.SensorKey("10.0.0.7", 4); got != tt.sensor {
				t.Errorf("SensorKey() = %q, want %q", got, tt.sensor)
			}
			if c.ttl != 30*time.Second {
				t.Errorf("ttl = %v, want 30s", c.ttl)
			}
		})
	}
}

func TestMirrorSnapshot_Unencodable(t *testing.T) {
	c := newClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), config.ValkeyConfig{})
	defer c.Close()

	err := c.MirrorSnapshot(context.Background(), "d", map[string]any{"bad": make(chan int)}, nil, time.Now())
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("MirrorSnapshot() error = %v, want ErrWriteFailed", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

func TestMirrorSnapshot_Live(t *testing.T) {
	cfg := liveConfig(t)
	ctx := context.Background()

	c, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	type snap struct {
		Sensors int `json:"sensors"`
	}
	sensors := []SensorValue{{ID: 1, Name: "Temp", Value: "21.5", Unit: "°C"}}
	if err := c.MirrorSnapshot(ctx, "10.0.0.7", snap{Sensors: 1}, sensors, time.Now()); err != nil {
		t.Fatalf("MirrorSnapshot() error = %v", err)
	}

	var got snap
	ok, err := c.LoadSnapshot(ctx, "10.0.0.7", &got)
	if err != nil || !ok || got.Sensors != 1 {
		t.Errorf("LoadSnapshot() = %+v, %v, %v", got, ok, err)
	}

	value, ok, err := c.SensorValue(ctx, "10.0.0.7", 1)
	if err != nil || !ok || value.Value != "21.5" || value.Unit != "°C" {
		t.Errorf("SensorValue() = %+v, %v, %v", value, ok, err)
	}

	if _, ok, _ := c.SensorValue(ctx, "10.0.0.7", 999); ok {
		t.Error("SensorValue(999) found, want missing")
	}
	if ok, _ := c.LoadSnapshot(ctx, "missing-device", &got); ok {
		t.Error("LoadSnapshot(missing) found, want missing")
	}
}
