package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/erain9/mbocache/config"
	"github.com/erain9/mbocache/pkg/backend/memory"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/messaging"
	"github.com/erain9/mbocache/pkg/server"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	cfg := config.Default()
	logger := zerolog.Nop()

	cfg.Snapshot.Store = config.StoreNone
	store, err := openStore(cfg, logger)
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg.Snapshot.Store = config.StoreMemory
	store, err = openStore(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &memory.MemoryBackend{}, store)

	cfg.Snapshot.Store = config.StorePebble
	cfg.Pebble.Dir = filepath.Join(t.TempDir(), "books")
	store, err = openStore(cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.NoError(t, store.Close())

	cfg.Snapshot.Store = "s3"
	_, err = openStore(cfg, logger)
	assert.Error(t, err)
}

func TestHTTPServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	srv := newHTTPServer(cfg, server.NewCacheManager())
	assert.Equal(t, ":8080", srv.Addr)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTakeSnapshots(t *testing.T) {
	ctx := context.Background()
	manager := server.NewCacheManager()
	_, err := manager.Create(ctx, core.ReferenceData{
		Exchange:          "test",
		Symbol:            "ABC",
		PriceIncrement:    0.5,
		QuantityIncrement: 1,
		PriceDecimals:     1,
		QuantityDecimals:  0,
	})
	require.NoError(t, err)

	store := memory.NewMemoryBackend()
	publisher := messaging.NewMockMessageSender()
	assert.Equal(t, 1, takeSnapshots(ctx, manager, store, publisher, zerolog.Nop()))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:ABC"}, keys)

	published := publisher.Updates()
	require.Len(t, published, 1)
	assert.Equal(t, core.UpdateTypeSnapshot, published[0].UpdateType)
	assert.Equal(t, "test:ABC", published[0].Key())

	stored, ok, err := store.Load(ctx, "test:ABC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stored, published[0])
}

// failingStore rejects every save
type failingStore struct {
	*memory.MemoryBackend
}

func (failingStore) Save(context.Context, string, *core.MarketByOrderUpdate) error {
	return errors.New("disk full")
}

func TestTakeSnapshotsPublishesWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	manager := server.NewCacheManager()
	for _, symbol := range []string{"ABC", "XYZ"} {
		_, err := manager.Create(ctx, core.ReferenceData{Exchange: "test", Symbol: symbol})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	publisher := messaging.NewMockMessageSender()
	store := failingStore{memory.NewMemoryBackend()}
	assert.Equal(t, 2, takeSnapshots(ctx, manager, store, publisher, zerolog.New(&buf)))

	require.Len(t, publisher.Updates(), 2)
	assert.Equal(t, "test:ABC", publisher.Updates()[0].Key())
	assert.Equal(t, "test:XYZ", publisher.Updates()[1].Key())
	assert.Contains(t, buf.String(), "Failed to save snapshot")

	// without any sink the snapshots are still built
	assert.Equal(t, 2, takeSnapshots(ctx, manager, nil, nil, zerolog.Nop()))
}

func TestBrokers(t *testing.T) {
	cfg := config.Default()
	cfg.Kafka.BrokerAddr = "a:9092,b:9092"
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(cfg))
}
