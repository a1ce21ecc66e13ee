package varsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the shared snapshot when no prefix is given.
const DefaultRedisPrefix = "otreward"

// RedisSource stores snapshots in Redis so learners and actors on different
// hosts can share them. The snapshot lives as a JSON blob under
// "<prefix>:snapshot" and the version counter under "<prefix>:version".
type RedisSource struct {
	client *redis.Client
	prefix string
}

// NewRedisSource creates a source on an existing client. An empty prefix
// selects DefaultRedisPrefix.
func NewRedisSource(client *redis.Client, prefix string) *RedisSource {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSource{client: client, prefix: prefix}
}

// DialRedisSource connects to the Redis server at addr.
func DialRedisSource(ctx context.Context, addr, prefix string) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisSource(client, prefix), nil
}

func (r *RedisSource) snapshotKey() string { return r.prefix + ":snapshot" }
func (r *RedisSource) versionKey() string  { return r.prefix + ":version" }

// Publish implements Publisher. The version is taken from an INCR so
// concurrent publishers never reuse a version.
func (r *RedisSource) Publish(ctx context.Context, values map[string][]float64) (int64, error) {
	version, err := r.client.Incr(ctx, r.versionKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump variable version: %w", err)
	}
	blob, err := json.Marshal(Snapshot{Version: version, Values: values})
	if err != nil {
		return 0, err
	}
	if err := r.client.Set(ctx, r.snapshotKey(), blob, 0).Err(); err != nil {
		return 0, fmt.Errorf("failed to store variables: %w", err)
	}
	return version, nil
}

// Variables implements Source.
func (r *RedisSource) Variables(ctx context.Context, names []string) (Snapshot, error) {
	blob, err := r.client.Get(ctx, r.snapshotKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotReady
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read variables: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(blob, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode variables: %w", err)
	}
	return snapshot.Select(names)
}

// Close closes the Redis client.
func (r *RedisSource) Close() error {
	return r.client.Close()
}
