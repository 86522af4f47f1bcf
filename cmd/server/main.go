package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/erain9/mbocache/config"
	"github.com/erain9/mbocache/pkg/backend/memory"
	"github.com/erain9/mbocache/pkg/backend/pebble"
	"github.com/erain9/mbocache/pkg/backend/redis"
	"github.com/erain9/mbocache/pkg/cache"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/db/queue"
	"github.com/erain9/mbocache/pkg/feed"
	"github.com/erain9/mbocache/pkg/logging"
	"github.com/erain9/mbocache/pkg/messaging"
	"github.com/erain9/mbocache/pkg/messaging/kafka"
	"github.com/erain9/mbocache/pkg/otel"
	"github.com/erain9/mbocache/pkg/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	feedCfg, err := feed.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load feed configuration: %v", err)
	}

	// Setup logging
	logging.Setup(logging.Config{
		Level:  cfg.Server.LogLevel,
		Pretty: cfg.Server.LogFormat == "pretty",
		Output: os.Stdout,
	})
	logger := zlog.Logger

	// Create default context with logger
	ctx, stop := signal.NotifyContext(logger.WithContext(context.Background()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	cleanup, err := otel.Init(otel.Config{
		ServiceName:      otel.ServiceCache,
		ServiceVersion:   "1.0.0",
		Endpoint:         cfg.Otel.Endpoint,
		CollectorEnabled: cfg.Otel.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer cleanup()
	if cfg.Otel.Enabled {
		if err := otel.StartRuntimeMetrics(30 * time.Second); err != nil {
			logger.Warn().Err(err).Msg("Failed to start runtime metrics")
		}
	}

	if err := run(ctx, cfg, *feedCfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Servers shutdown complete")
}

// run wires the caches to their feed, stores and HTTP view and blocks until ctx is done
func run(ctx context.Context, cfg *config.Config, feedCfg feed.Config, logger zerolog.Logger) error {
	manager := server.NewCacheManager()
	defer manager.Close()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		restored, err := manager.Restore(ctx, store)
		if err != nil {
			logger.Warn().Err(err).Msg("Some snapshots could not be restored")
		}
		logger.Info().Int("count", restored).Str("store", cfg.Snapshot.Store).Msg("Restored caches")
	}
	if len(manager.Keys()) == 0 && cfg.Kafka.SnapshotTopic != "" {
		restoreFromTopic(ctx, cfg, manager, logger)
	}

	// Canonical deltas are only published by the normalizing instance
	var sender messaging.MessageSender
	if feedCfg.Mode == feed.ModeNormalize && cfg.Kafka.OutputTopic != "" {
		kafkaSender, err := kafka.NewKafkaMessageSender(cfg.Kafka.BrokerAddr, cfg.Kafka.OutputTopic)
		if err != nil {
			return err
		}
		defer kafkaSender.Close()
		sender = kafkaSender
	}

	var publisher messaging.MessageSender
	if cfg.Kafka.SnapshotTopic != "" {
		snapshotPublisher, err := queue.NewSnapshotPublisher(brokers(cfg), cfg.Kafka.SnapshotTopic)
		if err != nil {
			logger.Warn().Err(err).Msg("Snapshot topic unavailable, snapshots are only stored locally")
		} else {
			defer snapshotPublisher.Close()
			publisher = snapshotPublisher
		}
	}

	processor := feed.NewProcessor(manager, sender, feedCfg, logger)
	if err := processor.Init(ctx); err != nil {
		return fmt.Errorf("failed to create default instrument: %w", err)
	}

	consumer := kafka.NewConsumer(cfg.Kafka.BrokerAddr, cfg.Kafka.InputTopic, cfg.Kafka.GroupID, logger)
	defer consumer.Close()
	go func() {
		if err := consumer.Consume(ctx, processor.Handlers()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Kafka consumer stopped")
		}
	}()

	if store != nil || publisher != nil {
		go snapshotLoop(ctx, manager, store, publisher, cfg.Snapshot.Interval, logger)
	}

	httpServer := newHTTPServer(cfg, manager)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	// Create a context with timeout for HTTP server shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Final snapshot so a restart resumes from the latest book
	if store != nil {
		if _, err := manager.SaveSnapshots(shutdownCtx, store); err != nil {
			logger.Error().Err(err).Msg("Final snapshot failed")
		}
	}
	return nil
}

func brokers(cfg *config.Config) []string {
	return strings.Split(cfg.Kafka.BrokerAddr, ",")
}

// openStore opens the configured snapshot store; nil means snapshots are disabled
func openStore(cfg *config.Config, logger zerolog.Logger) (core.SnapshotStore, error) {
	switch cfg.Snapshot.Store {
	case config.StoreNone:
		return nil, nil
	case config.StoreMemory:
		return memory.NewMemoryBackend(), nil
	case config.StorePebble:
		store, err := pebble.Open(cfg.Pebble.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble store: %w", err)
		}
		return store, nil
	case config.StoreRedis:
		redis.SetDefaultRedisOptions(&redis.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		zapLogger, err := zap.NewProduction()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to create redis logger")
			zapLogger = nil
		}
		return redis.NewRedisBackend(redis.GetRedisClient(), cfg.Redis.Prefix, zapLogger).WithTTL(cfg.Redis.TTL), nil
	}
	return nil, fmt.Errorf("invalid snapshot store: %q", cfg.Snapshot.Store)
}

// restoreFromTopic seeds caches from the compacted snapshot topic
func restoreFromTopic(ctx context.Context, cfg *config.Config, manager *server.CacheManager, logger zerolog.Logger) {
	reader, err := queue.NewSnapshotReader(brokers(cfg), cfg.Kafka.SnapshotTopic)
	if err != nil {
		logger.Warn().Err(err).Msg("Snapshot topic unavailable")
		return
	}
	defer reader.Close()

	latest, err := reader.Latest(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read snapshot topic")
		return
	}
	staging := memory.NewMemoryBackend()
	for key, snapshot := range latest {
		if err := staging.Save(ctx, key, snapshot); err != nil {
			logger.Warn().Err(err).Str("instrument", key).Msg("Failed to stage topic snapshot")
		}
	}
	restored, err := manager.Restore(ctx, staging)
	if err != nil {
		logger.Warn().Err(err).Msg("Some topic snapshots could not be restored")
	}
	logger.Info().Int("count", restored).Str("topic", cfg.Kafka.SnapshotTopic).Msg("Restored caches from topic")
}

func newHTTPServer(cfg *config.Config, manager *server.CacheManager) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewHTTPHandler(manager),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// snapshotLoop periodically stores and publishes a snapshot of every cache
func snapshotLoop(ctx context.Context, manager *server.CacheManager, store core.SnapshotStore, publisher messaging.MessageSender, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			takeSnapshots(ctx, manager, store, publisher, logger)
		}
	}
}

// takeSnapshots builds one snapshot per cache and hands that same snapshot to
// the store and the publisher. It returns how many snapshots were built.
func takeSnapshots(ctx context.Context, manager *server.CacheManager, store core.SnapshotStore, publisher messaging.MessageSender, logger zerolog.Logger) int {
	built := 0
	for _, key := range manager.Keys() {
		var snapshot *core.MarketByOrderUpdate
		if err := manager.View(ctx, key, func(c *cache.Cache) error {
			snapshot = c.CreateSnapshot()
			return nil
		}); err != nil {
			// deleted since Keys
			continue
		}
		built++
		if store != nil {
			if err := store.Save(ctx, key, snapshot); err != nil {
				logger.Error().Err(err).Str("instrument", key).Msg("Failed to save snapshot")
			}
		}
		if publisher != nil {
			if err := publisher.SendUpdate(ctx, snapshot); err != nil {
				logger.Error().Err(err).Str("instrument", key).Msg("Failed to publish snapshot")
			}
		}
	}
	logger.Debug().Int("count", built).Msg("Took snapshots")
	return built
}
