package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	activeHubsKey  = "active_hubs"
	connectionsKey = "active_connections"
)

// RedisStore implements StateStore and ActiveHubs on a shared Redis
// instance. All keys are namespaced under the configured prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. An empty prefix defaults to "bars:".
func NewRedis(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "bars:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping verifies connectivity, used by the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get implements StateStore. A missing key returns (nil, nil).
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return data, nil
}

// Put implements StateStore.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Delete implements StateStore.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	return nil
}

// Upsert implements ActiveHubs. Rows live in one hash keyed by hub id,
// so concurrent writers from different processes converge per hub.
func (s *RedisStore) Upsert(ctx context.Context, entry ActiveHubEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal active hub entry: %w", err)
	}
	if err := s.client.HSet(ctx, s.prefix+activeHubsKey, entry.HubID, data).Err(); err != nil {
		return fmt.Errorf("redis HSET active hub: %w", err)
	}
	return nil
}

// Remove implements ActiveHubs.
func (s *RedisStore) Remove(ctx context.Context, hubID string) error {
	if err := s.client.HDel(ctx, s.prefix+activeHubsKey, hubID).Err(); err != nil {
		return fmt.Errorf("redis HDEL active hub: %w", err)
	}
	return nil
}

// Entries implements ActiveHubs. Rows older than PruneHorizon are
// deleted as they are encountered; malformed rows are dropped the same
// way so one bad writer cannot poison the table.
func (s *RedisStore) Entries(ctx context.Context) ([]ActiveHubEntry, error) {
	rows, err := s.client.HGetAll(ctx, s.prefix+activeHubsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL active hubs: %w", err)
	}

	cutoff := time.Now().Add(-PruneHorizon)
	var (
		out   []ActiveHubEntry
		prune []string
	)
	for hubID, raw := range rows {
		var entry ActiveHubEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			slog.Warn("pruning malformed active hub row", "hub_id", hubID, "error", err)
			prune = append(prune, hubID)
			continue
		}
		if entry.UpdatedAt.Before(cutoff) {
			prune = append(prune, hubID)
			continue
		}
		out = append(out, entry)
	}

	if len(prune) > 0 {
		if err := s.client.HDel(ctx, s.prefix+activeHubsKey, prune...).Err(); err != nil {
			slog.Warn("active hub prune failed", "error", err)
		}
	}
	return out, nil
}

// AddConnections implements ActiveHubs.
func (s *RedisStore) AddConnections(ctx context.Context, delta int64) error {
	n, err := s.client.IncrBy(ctx, s.prefix+connectionsKey, delta).Result()
	if err != nil {
		return fmt.Errorf("redis INCRBY connections: %w", err)
	}
	if n < 0 {
		// A crashed process can leak decrements; clamp rather than carry
		// a negative counter forward.
		if err := s.client.Set(ctx, s.prefix+connectionsKey, 0, 0).Err(); err != nil {
			return fmt.Errorf("redis reset connections: %w", err)
		}
	}
	return nil
}
