package redis

import (
	"context"
	"testing"
	"time"

	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var _ core.SnapshotStore = (*RedisBackend)(nil)

// setupTestBackend returns a backend on a flushed test database.
// The test is skipped when Redis cannot be reached.
func setupTestBackend(t *testing.T, prefix string) *RedisBackend {
	var backend *RedisBackend
	testutil.WithRedis(t, func(redisAddr string) {
		client := redis.NewClient(&redis.Options{Addr: redisAddr, DB: 0})
		require.NoError(t, client.FlushDB(context.Background()).Err(), "Failed to flush Redis DB")
		backend = NewRedisBackend(client, prefix, zaptest.NewLogger(t))
		t.Cleanup(func() { _ = backend.Close() })
	})
	return backend
}

func testSnapshot(symbol string, sequence int64) *core.MarketByOrderUpdate {
	return &core.MarketByOrderUpdate{
		StreamID: 1,
		Exchange: "test",
		Symbol:   symbol,
		Bids: []core.MBOUpdate{
			{OrderID: "b1", Action: core.ActionNew, Price: 100.5, Quantity: 1.25, Priority: 1},
			{OrderID: "b2", Action: core.ActionNew, Price: 100, Quantity: 3, Priority: 2},
		},
		Asks: []core.MBOUpdate{
			{OrderID: "a1", Action: core.ActionNew, Price: 101, Quantity: 2, Priority: 3},
		},
		UpdateType:       core.UpdateTypeSnapshot,
		ExchangeSequence: sequence,
		PriceDecimals:    1,
		QuantityDecimals: 2,
		Checksum:         0xfeedface,
	}
}

func TestNewRedisBackend(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testutil.DefaultRedisAddr})
	defer client.Close()
	backend := NewRedisBackend(client, "test", nil)

	assert.NotNil(t, backend.logger)
	assert.Equal(t, "test:snapshot:", backend.snapshotKey)
	assert.Equal(t, "test:snapshots", backend.indexKey)
	assert.Equal(t, "test:snapshot:ex:sym", backend.getSnapshotKey("ex:sym"))
	assert.Equal(t, time.Minute, backend.WithTTL(time.Minute).ttl)
	assert.Zero(t, backend.ttl)
}

func TestRedisBackend_SaveLoadDelete(t *testing.T) {
	backend := setupTestBackend(t, "test:saveload")
	ctx := context.Background()

	_, found, err := backend.Load(ctx, "test:ABC")
	require.NoError(t, err)
	assert.False(t, found)

	snapshot := testSnapshot("ABC", 7)
	require.NoError(t, backend.Save(ctx, snapshot.Key(), snapshot))

	loaded, found, err := backend.Load(ctx, "test:ABC")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snapshot, loaded)

	// overwrite
	snapshot = testSnapshot("ABC", 8)
	require.NoError(t, backend.Save(ctx, snapshot.Key(), snapshot))
	loaded, _, err = backend.Load(ctx, "test:ABC")
	require.NoError(t, err)
	assert.Equal(t, int64(8), loaded.ExchangeSequence)

	require.NoError(t, backend.Delete(ctx, "test:ABC"))
	_, found, err = backend.Load(ctx, "test:ABC")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisBackend_Keys(t *testing.T) {
	backend := setupTestBackend(t, "test:keys")
	ctx := context.Background()

	keys, err := backend.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, symbol := range []string{"B", "A"} {
		s := testSnapshot(symbol, 1)
		require.NoError(t, backend.Save(ctx, s.Key(), s))
	}
	keys, err = backend.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:A", "test:B"}, keys)

	// an expired snapshot drops out of the index
	require.NoError(t, backend.client.Del(ctx, backend.getSnapshotKey("test:A")).Err())
	keys, err = backend.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:B"}, keys)
	members, err := backend.client.SMembers(ctx, backend.indexKey).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"test:B"}, members)
}

func TestRedisBackend_CorruptSnapshot(t *testing.T) {
	backend := setupTestBackend(t, "test:corrupt")
	ctx := context.Background()

	require.NoError(t, backend.client.Set(ctx, backend.getSnapshotKey("test:ABC"), "garbage", 0).Err())
	_, found, err := backend.Load(ctx, "test:ABC")
	assert.Error(t, err)
	assert.False(t, found)
}

func TestRedisBackend_TTL(t *testing.T) {
	backend := setupTestBackend(t, "test:ttl").WithTTL(time.Hour)
	ctx := context.Background()

	s := testSnapshot("ABC", 1)
	require.NoError(t, backend.Save(ctx, s.Key(), s))
	ttl, err := backend.client.TTL(ctx, backend.getSnapshotKey(s.Key())).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
