package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/erain9/mbocache/pkg/cache"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/logging"
	"github.com/erain9/mbocache/pkg/otel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrCacheExists is returned when trying to create a cache that already exists
	ErrCacheExists = errors.New("cache for this instrument already exists")

	// ErrCacheNotFound is returned when trying to access a non-existent cache
	ErrCacheNotFound = errors.New("cache not found")
)

// CacheInfo contains metadata about a cache
type CacheInfo struct {
	Key       string    `json:"key"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
	MaxDepth  int       `json:"max_depth"`
	BidLevels int       `json:"bid_levels"`
	AskLevels int       `json:"ask_levels"`
	BidOrders int       `json:"bid_orders"`
	AskOrders int       `json:"ask_orders"`
	Sequence  int64     `json:"exchange_sequence"`
	Checksum  uint32    `json:"checksum"`
}

// entry fences one cache behind its own mutex: the writer and every reader
// of an instrument take turns on it
type entry struct {
	mu        sync.Mutex
	cache     *cache.Cache
	createdAt time.Time
}

func (e *entry) info() *CacheInfo {
	bidLevels, askLevels := e.cache.Size()
	bidOrders, askOrders := e.cache.Orders()
	return &CacheInfo{
		Key:       core.InstrumentKey(e.cache.Exchange(), e.cache.Symbol()),
		Exchange:  e.cache.Exchange(),
		Symbol:    e.cache.Symbol(),
		CreatedAt: e.createdAt,
		MaxDepth:  e.cache.MaxDepth(),
		BidLevels: bidLevels,
		AskLevels: askLevels,
		BidOrders: bidOrders,
		AskOrders: askOrders,
		Sequence:  e.cache.ExchangeSequence(),
		Checksum:  e.cache.Checksum(),
	}
}

// CacheManager manages one cache per instrument
type CacheManager struct {
	mu     sync.RWMutex
	caches map[string]*entry
}

// NewCacheManager creates a new CacheManager
func NewCacheManager() *CacheManager {
	return &CacheManager{
		caches: make(map[string]*entry),
	}
}

// Create adds a cache configured from ref
func (m *CacheManager) Create(ctx context.Context, ref core.ReferenceData) (*CacheInfo, error) {
	key := core.InstrumentKey(ref.Exchange, ref.Symbol)
	logger := logging.FromContext(ctx).With().Str("instrument", key).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.caches[key]; exists {
		logger.Error().Msg("Cache already exists")
		return nil, ErrCacheExists
	}

	e := &entry{cache: cache.NewFromReferenceData(ref), createdAt: time.Now()}
	m.caches[key] = e

	logger.Info().Int("max_depth", ref.MaxDepth).Msg("Created new cache")
	return e.info(), nil
}

// Configure applies ref to the instrument's cache, creating it when missing
func (m *CacheManager) Configure(ctx context.Context, ref core.ReferenceData) (*CacheInfo, error) {
	key := core.InstrumentKey(ref.Exchange, ref.Symbol)
	var info *CacheInfo
	err := m.Update(ctx, key, func(c *cache.Cache) error {
		c.ApplyReferenceData(ref)
		return nil
	})
	if errors.Is(err, ErrCacheNotFound) {
		info, err = m.Create(ctx, ref)
		if errors.Is(err, ErrCacheExists) {
			// lost a race with another Configure
			return m.Configure(ctx, ref)
		}
		return info, err
	}
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, key)
}

func (m *CacheManager) lookup(key string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.caches[key]
	return e, ok
}

// Get returns metadata about the cache for key
func (m *CacheManager) Get(ctx context.Context, key string) (*CacheInfo, error) {
	e, ok := m.lookup(key)
	if !ok {
		logger := logging.FromContext(ctx)
		logger.Debug().Str("instrument", key).Msg("Cache not found")
		return nil, ErrCacheNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info(), nil
}

// Update runs fn as the writer of the cache for key
func (m *CacheManager) Update(ctx context.Context, key string, fn func(*cache.Cache) error) error {
	e, ok := m.lookup(key)
	if !ok {
		return ErrCacheNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.cache)
}

// View runs fn with read access to the cache for key. fn must not modify the
// cache or retain it after returning.
func (m *CacheManager) View(ctx context.Context, key string, fn func(*cache.Cache) error) error {
	return m.Update(ctx, key, fn)
}

// Delete removes the cache for key
func (m *CacheManager) Delete(ctx context.Context, key string) error {
	logger := logging.FromContext(ctx).With().Str("instrument", key).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.caches[key]; !exists {
		logger.Debug().Msg("Cache not found")
		return ErrCacheNotFound
	}
	delete(m.caches, key)

	logger.Info().Msg("Deleted cache")
	return nil
}

// Keys returns every instrument key, sorted
func (m *CacheManager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.caches))
	for key := range m.caches {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// List returns information about all caches, sorted by key
func (m *CacheManager) List(ctx context.Context) []*CacheInfo {
	keys := m.Keys()
	result := make([]*CacheInfo, 0, len(keys))
	for _, key := range keys {
		if info, err := m.Get(ctx, key); err == nil {
			result = append(result, info)
		}
	}

	logger := logging.FromContext(ctx)
	logger.Debug().Int("count", len(result)).Msg("Listed caches")
	return result
}

// ClearAll drops the orders of every cache and returns how many were cleared
func (m *CacheManager) ClearAll(ctx context.Context) int {
	count := 0
	for _, key := range m.Keys() {
		if err := m.Update(ctx, key, func(c *cache.Cache) error {
			c.Clear()
			return nil
		}); err == nil {
			count++
		}
	}
	return count
}

// SaveSnapshots stores a snapshot of every cache. It keeps going past
// failures and returns the number saved with the joined errors.
func (m *CacheManager) SaveSnapshots(ctx context.Context, store core.SnapshotStore) (int, error) {
	ctx, span := otel.StartUpdateSpan(ctx, otel.SpanSaveSnapshots)
	logger := logging.FromContext(ctx)

	var errs []error
	saved := 0
	for _, key := range m.Keys() {
		var snapshot *core.MarketByOrderUpdate
		if err := m.View(ctx, key, func(c *cache.Cache) error {
			snapshot = c.CreateSnapshot()
			return nil
		}); err != nil {
			continue
		}
		if err := store.Save(ctx, key, snapshot); err != nil {
			logger.Error().Err(err).Str("instrument", key).Msg("Failed to save snapshot")
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		saved++
	}

	err := errors.Join(errs...)
	otel.AddAttributes(span, attribute.Int(otel.AttributeSnapshotCount, saved))
	otel.EndSpan(span, err)
	logger.Debug().Int("count", saved).Msg("Saved snapshots")
	return saved, err
}

// Restore creates a cache for every snapshot in store that has no cache yet.
// Restored caches carry the snapshot's sequence, so replayed raw updates
// are recognised as stale. Increments arrive with the next reference data.
func (m *CacheManager) Restore(ctx context.Context, store core.SnapshotStore) (int, error) {
	ctx, span := otel.StartUpdateSpan(ctx, otel.SpanRestoreSnapshot)
	logger := logging.FromContext(ctx)

	keys, err := store.Keys(ctx)
	if err != nil {
		otel.EndSpan(span, err)
		return 0, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var errs []error
	restored := 0
	for _, key := range keys {
		if _, exists := m.lookup(key); exists {
			continue
		}
		snapshot, ok, err := store.Load(ctx, key)
		if err != nil {
			logger.Error().Err(err).Str("instrument", key).Msg("Failed to load snapshot")
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if !ok {
			continue
		}
		c, err := restoreCache(snapshot)
		if err != nil {
			logger.Error().Err(err).Str("instrument", key).Msg("Failed to restore snapshot")
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}

		m.mu.Lock()
		if _, exists := m.caches[key]; !exists {
			m.caches[key] = &entry{cache: c, createdAt: time.Now()}
			restored++
		}
		m.mu.Unlock()
		logSnapshot(logger, key, c)
	}

	err = errors.Join(errs...)
	otel.AddAttributes(span, attribute.Int(otel.AttributeSnapshotCount, restored))
	otel.EndSpan(span, err)
	return restored, err
}

func restoreCache(snapshot *core.MarketByOrderUpdate) (*cache.Cache, error) {
	c := cache.NewFromReferenceData(core.ReferenceData{
		StreamID:          snapshot.StreamID,
		Exchange:          snapshot.Exchange,
		Symbol:            snapshot.Symbol,
		MaxDepth:          snapshot.MaxDepth,
		PriceIncrement:    math.NaN(),
		QuantityIncrement: math.NaN(),
		PriceDecimals:     snapshot.PriceDecimals,
		QuantityDecimals:  snapshot.QuantityDecimals,
	})
	if snapshot.ExchangeSequence <= 0 {
		c.ApplySequential(snapshot.Bids, snapshot.Asks)
		return c, nil
	}
	if err := c.ApplyOrderUpdate(snapshot); err != nil {
		return nil, err
	}
	return c, nil
}

// Close drops every cache
func (m *CacheManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.caches)
}

// logSnapshot logs summary information about a restored cache
func logSnapshot(logger zerolog.Logger, key string, c *cache.Cache) {
	bids, asks := c.Orders()
	logger.Info().
		Str("instrument", key).
		Int64("exchange_sequence", c.ExchangeSequence()).
		Int("bid_orders", bids).
		Int("ask_orders", asks).
		Uint32("checksum", c.Checksum()).
		Msg("Restored cache from snapshot")
}
