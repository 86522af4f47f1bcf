package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/erain9/mbocache/pkg/codec"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

var defaultOptions = &RedisOptions{
	Addr:     "localhost:6379",
	Password: "",
	DB:       0,
}

// SetDefaultRedisOptions sets the default options for Redis connections
func SetDefaultRedisOptions(options *RedisOptions) {
	defaultOptions = options
}

// GetRedisClient creates a new Redis client using the default options
func GetRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     defaultOptions.Addr,
		Password: defaultOptions.Password,
		DB:       defaultOptions.DB,
	})
}

// RedisBackend implements core.SnapshotStore on Redis. Each snapshot is a
// binary codec frame under prefix:snapshot:key; the key set is tracked in
// prefix:snapshots so Keys needs no SCAN.
type RedisBackend struct {
	client      *redis.Client
	prefix      string
	snapshotKey string
	indexKey    string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewRedisBackend creates a new instance of RedisBackend. A nil logger is replaced by a no-op logger.
func NewRedisBackend(client *redis.Client, prefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client:      client,
		prefix:      prefix,
		snapshotKey: fmt.Sprintf("%s:snapshot:", prefix),
		indexKey:    fmt.Sprintf("%s:snapshots", prefix),
		logger:      logger,
	}
}

// WithTTL returns a copy of the backend whose snapshots expire after ttl (0 keeps them forever)
func (b *RedisBackend) WithTTL(ttl time.Duration) *RedisBackend {
	clone := *b
	clone.ttl = ttl
	return &clone
}

// Save stores the snapshot and records its key in the index
func (b *RedisBackend) Save(ctx context.Context, key string, snapshot *core.MarketByOrderUpdate) error {
	data := codec.EncodeSnapshot(snapshot)

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.getSnapshotKey(key), data, b.ttl)
	pipe.SAdd(ctx, b.indexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Error("failed to save snapshot",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}

	b.logger.Debug("saved snapshot",
		zap.String("key", key),
		zap.Int64("sequence", snapshot.ExchangeSequence),
		zap.Int("bytes", len(data)))
	return nil
}

// Load fetches and decodes the snapshot stored under key
func (b *RedisBackend) Load(ctx context.Context, key string) (*core.MarketByOrderUpdate, bool, error) {
	data, err := b.client.Get(ctx, b.getSnapshotKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		b.logger.Error("failed to load snapshot",
			zap.String("key", key),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}

	snapshot, err := codec.DecodeSnapshot(data)
	if err != nil {
		b.logger.Error("failed to decode snapshot",
			zap.String("key", key),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return snapshot, true, nil
}

// Delete removes the snapshot and its index entry
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.getSnapshotKey(key))
	pipe.SRem(ctx, b.indexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return nil
}

// Keys returns the indexed keys in sorted order. Index entries whose snapshot
// has expired are pruned.
func (b *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	members, err := b.client.SMembers(ctx, b.indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	pipe := b.client.Pipeline()
	exists := make([]*redis.IntCmd, len(members))
	for i, key := range members {
		exists[i] = pipe.Exists(ctx, b.getSnapshotKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	keys := make([]string, 0, len(members))
	var stale []any
	for i, key := range members {
		if exists[i].Val() > 0 {
			keys = append(keys, key)
		} else {
			stale = append(stale, key)
		}
	}
	if len(stale) > 0 {
		if err := b.client.SRem(ctx, b.indexKey, stale...).Err(); err != nil {
			b.logger.Warn("failed to prune snapshot index", zap.Error(err))
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Close closes the Redis client
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) getSnapshotKey(key string) string {
	return b.snapshotKey + key
}

