package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/allnet-bridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultKeyPrefix      = "allnet"
)

// SensorValue is the per-sensor hash written next to the snapshot.
type SensorValue struct {
	ID    int
	Name  string
	Value string
	Unit  string
}

// Client writes snapshot mirrors with go-redis.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Connect creates the client and verifies the server with a ping.
//
// Returns:
//   - *Client: Ready client
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the ping error
func Connect(ctx context.Context, cfg config.ValkeyConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg config.ValkeyConfig) *Client {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Client{
		rdb:    rdb,
		prefix: prefix,
		ttl:    time.Duration(cfg.TTL) * time.Second,
	}
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("valkey health check failed: %w", err)
	}
	return nil
}

// SnapshotKey returns the key holding the JSON snapshot of device.
func (c *Client) SnapshotKey(device string) string {
	return c.prefix + ":" + device + ":snapshot"
}

// SensorKey returns the hash key of one sensor.
func (c *Client) SensorKey(device string, id int) string {
	return c.prefix + ":" + device + ":sensor:" + strconv.Itoa(id)
}

// MirrorSnapshot writes the snapshot and every sensor hash in one
// MULTI/EXEC transaction so readers never see a half-written mirror.
//
// Parameters:
//   - device: device host, part of every key
//   - snapshot: value encoded as the snapshot JSON
//   - sensors: per-sensor hashes
//   - fetchedAt: stored on each sensor hash
func (c *Client) MirrorSnapshot(ctx context.Context, device string, snapshot any, sensors []SensorValue, fetchedAt time.Time) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: encoding snapshot: %w", ErrWriteFailed, err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.SnapshotKey(device), payload, c.ttl)
		for _, s := range sensors {
			key := c.SensorKey(device, s.ID)
			pipe.HSet(ctx, key,
				"name", s.Name,
				"value", s.Value,
				"unit", s.Unit,
				"fetched_at", fetchedAt.UTC().Format(time.RFC3339),
			)
			if c.ttl > 0 {
				pipe.Expire(ctx, key, c.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// LoadSnapshot decodes the mirrored snapshot into v.
// It returns false when the key does not exist (expired or never written).
func (c *Client) LoadSnapshot(ctx context.Context, device string, v any) (bool, error) {
	payload, err := c.rdb.Get(ctx, c.SnapshotKey(device)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("decoding snapshot: %w", err)
	}
	return true, nil
}

// SensorValue returns the mirrored hash of one sensor.
func (c *Client) SensorValue(ctx context.Context, device string, id int) (SensorValue, bool, error) {
	fields, err := c.rdb.HGetAll(ctx, c.SensorKey(device, id)).Result()
	if err != nil {
		return SensorValue{}, false, fmt.Errorf("reading sensor %d: %w", id, err)
	}
	if len(fields) == 0 {
		return SensorValue{}, false, nil
	}
	return SensorValue{
		ID:    id,
		Name:  fields["name"],
		Value: fields["value"],
		Unit:  fields["unit"],
	}, true, nil
}
