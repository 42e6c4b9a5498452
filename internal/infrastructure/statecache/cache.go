// Package statecache mirrors the last known capability values of every
// device into Redis, so other services can read device state without
// talking to the bridge.
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
)

const keyPrefix = "device:capabilities:"

const pingTimeout = 5 * time.Second

// ErrDisabled is returned by Connect when the cache is switched off.
var ErrDisabled = errors.New("statecache: disabled in configuration")

// StateCache stores one Redis hash per device: field = capability id,
// value = JSON encoded capability value.
type StateCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect dials Redis and verifies it answers PING.
func Connect(cfg config.RedisConfig) (*StateCache, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("statecache: ping %s: %w", cfg.Addr, err)
	}

	return New(rdb, cfg.TTLDuration()), nil
}

// New wraps an existing client. A ttl of zero keeps entries forever.
func New(rdb *redis.Client, ttl time.Duration) *StateCache {
	return &StateCache{rdb: rdb, ttl: ttl}
}

func key(id string) string { return keyPrefix + id }

// Set stores one capability value and refreshes the device's TTL.
func (c *StateCache) Set(ctx context.Context, deviceID, capability string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("statecache: encoding %s/%s: %w", deviceID, capability, err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key(deviceID), capability, b)
	if c.ttl > 0 {
		pipe.Expire(ctx, key(deviceID), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("statecache: set %s/%s: %w", deviceID, capability, err)
	}
	return nil
}

// Get returns every cached capability of a device. Unknown devices yield
// an empty map and no error.
func (c *StateCache) Get(ctx context.Context, deviceID string) (map[string]any, error) {
	raw, err := c.rdb.HGetAll(ctx, key(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("statecache: get %s: %w", deviceID, err)
	}
	return decodeValues(raw), nil
}

// Delete drops a device's entry, used when the device is removed.
func (c *StateCache) Delete(ctx context.Context, deviceID string) error {
	return c.rdb.Del(ctx, key(deviceID)).Err()
}

// RemoveAllExcept deletes entries for devices not in keepIDs and returns
// the removed ids. Called at startup to drop devices deleted while the
// bridge was down.
func (c *StateCache) RemoveAllExcept(ctx context.Context, keepIDs []string) ([]string, error) {
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		if id != "" {
			keep[id] = struct{}{}
		}
	}

	var removed []string
	iter := c.rdb.Scan(ctx, 0, key("*"), 100).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		id, ok := strings.CutPrefix(full, keyPrefix)
		if !ok {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		if err := c.rdb.Del(ctx, full).Err(); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	return removed, iter.Err()
}

// Close closes the Redis client.
func (c *StateCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// decodeValues turns the hash fields back into Go values. Fields that are
// not valid JSON are returned as raw strings.
func decodeValues(raw map[string]string) map[string]any {
	out := make(map[string]any, len(raw))
	for field, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			out[field] = s
			continue
		}
		out[field] = v
	}
	return out
}
