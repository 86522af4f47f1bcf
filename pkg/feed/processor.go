// Package feed routes feed messages into the per-instrument caches: raw venue
// updates are normalized and republished, canonical updates are replicated.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/erain9/mbocache/pkg/cache"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/logging"
	"github.com/erain9/mbocache/pkg/messaging"
	"github.com/erain9/mbocache/pkg/messaging/kafka"
	"github.com/erain9/mbocache/pkg/otel"
	"github.com/erain9/mbocache/pkg/server"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ErrChecksumMismatch is returned when a replica disagrees with the feed's checksum.
// The replica keeps the applied update; resynchronising is up to the caller.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Processor owns the feed path of every instrument held by a CacheManager
type Processor struct {
	manager *server.CacheManager
	sender  messaging.MessageSender
	metrics *otel.CacheMetrics
	cfg     Config
	logger  zerolog.Logger
}

// NewProcessor creates a processor. sender may be nil when canonical deltas
// are not republished.
func NewProcessor(manager *server.CacheManager, sender messaging.MessageSender, cfg Config, logger zerolog.Logger) *Processor {
	return &Processor{
		manager: manager,
		sender:  sender,
		metrics: otel.GetCacheMetrics(),
		cfg:     cfg,
		logger:  logger.With().Str("component", "feed_processor").Str("mode", cfg.Mode.String()).Logger(),
	}
}

// Init creates the configured default instrument, if any
func (p *Processor) Init(ctx context.Context) error {
	if p.cfg.Exchange == "" {
		return nil
	}
	_, err := p.manager.Configure(ctx, p.defaultReferenceData(p.cfg.Exchange, p.cfg.Symbol))
	return err
}

func (p *Processor) defaultReferenceData(exchange, symbol string) core.ReferenceData {
	return core.ReferenceData{
		Exchange:          exchange,
		Symbol:            symbol,
		MaxDepth:          p.cfg.MaxDepth,
		PriceIncrement:    p.cfg.PriceIncrement,
		QuantityIncrement: p.cfg.QuantityIncrement,
		PriceDecimals:     core.DecimalsUndefined,
		QuantityDecimals:  core.DecimalsUndefined,
	}
}

// Handlers returns consumer handlers dispatching to this processor
func (p *Processor) Handlers() kafka.Handlers {
	return kafka.Handlers{
		ReferenceData: p.HandleReferenceData,
		MarketByOrder: p.HandleUpdate,
		Disconnected:  p.HandleDisconnected,
	}
}

// HandleReferenceData configures the instrument's cache, creating it if needed
func (p *Processor) HandleReferenceData(ctx context.Context, ref core.ReferenceData) error {
	info, err := p.manager.Configure(ctx, ref)
	if err != nil {
		return err
	}
	p.logger.Info().
		Str("instrument", info.Key).
		Int("max_depth", ref.MaxDepth).
		Float64("price_increment", ref.PriceIncrement).
		Float64("quantity_increment", ref.QuantityIncrement).
		Msg("Applied reference data")
	return nil
}

// HandleUpdate dispatches a market-by-order update according to the mode
func (p *Processor) HandleUpdate(ctx context.Context, update *core.MarketByOrderUpdate) error {
	if p.cfg.Mode == ModeReplica {
		return p.HandleCanonical(ctx, update)
	}
	return p.HandleRaw(ctx, update)
}

// ensure makes sure a cache exists for key when auto creation is enabled
func (p *Processor) ensure(ctx context.Context, update *core.MarketByOrderUpdate) error {
	key := update.Key()
	if _, err := p.manager.Get(ctx, key); err == nil {
		return nil
	} else if !p.cfg.AutoCreate {
		return fmt.Errorf("%s: %w", key, err)
	}
	ref := p.defaultReferenceData(update.Exchange, update.Symbol)
	if update.MaxDepth > 0 {
		ref.MaxDepth = update.MaxDepth
	}
	ref.PriceDecimals = update.PriceDecimals
	ref.QuantityDecimals = update.QuantityDecimals
	_, err := p.manager.Create(ctx, ref)
	if errors.Is(err, server.ErrCacheExists) {
		return nil
	}
	return err
}

func (p *Processor) updateContext(ctx context.Context, update *core.MarketByOrderUpdate) context.Context {
	ctx = logging.WithInstrument(ctx, update.Key())
	return logging.WithStreamID(ctx, update.StreamID)
}

func updateAttributes(update *core.MarketByOrderUpdate) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(otel.AttributeInstrument, update.Key()),
		attribute.Int(otel.AttributeStreamID, int(update.StreamID)),
		attribute.Int64(otel.AttributeSequence, update.ExchangeSequence),
		attribute.String(otel.AttributeUpdateType, update.UpdateType.String()),
		attribute.Int(otel.AttributeBidCount, len(update.Bids)),
		attribute.Int(otel.AttributeAskCount, len(update.Asks)),
	}
}

// HandleRaw normalizes a raw venue update into its cache and publishes the
// canonical delta. Stale updates are counted and dropped.
func (p *Processor) HandleRaw(ctx context.Context, update *core.MarketByOrderUpdate) (err error) {
	ctx = p.updateContext(ctx, update)
	ctx, span := otel.StartUpdateSpan(ctx, otel.SpanNormalize, updateAttributes(update)...)
	defer func() { otel.EndSpan(span, err) }()
	logger := logging.FromContext(ctx)

	if err := p.ensure(ctx, update); err != nil {
		return err
	}

	key := update.Key()
	var (
		canonical *core.MarketByOrderUpdate
		stale     bool
	)
	start := time.Now()
	err = p.manager.Update(ctx, key, func(c *cache.Cache) error {
		stale = update.ExchangeSequence > 0 && update.ExchangeSequence <= c.ExchangeSequence()
		c.Normalize(update, func(u *core.MarketByOrderUpdate) { canonical = u })
		return nil
	})
	if err != nil {
		return err
	}
	p.metrics.RecordApplied(ctx, key, otel.ModeNormalize, time.Since(start))
	otel.AddAttributes(span, attribute.Int64(otel.AttributeChecksum, int64(canonical.Checksum)))

	if stale {
		p.metrics.RecordSequenceError(ctx, key)
		logger.Debug().
			Int64("exchange_sequence", update.ExchangeSequence).
			Int64("cache_sequence", canonical.ExchangeSequence).
			Msg("Dropped stale update")
		return nil
	}
	if canonical.Empty() {
		return nil
	}
	p.metrics.RecordDelta(ctx, key, len(canonical.Bids)+len(canonical.Asks))

	return p.publish(ctx, canonical)
}

func (p *Processor) publish(ctx context.Context, canonical *core.MarketByOrderUpdate) (err error) {
	if p.sender == nil {
		return nil
	}
	ctx, span := otel.StartUpdateSpan(ctx, otel.SpanPublishDelta)
	defer func() { otel.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	if err := p.sender.SendUpdate(ctx, canonical); err != nil {
		logger := logging.FromContext(ctx)
		logger.Error().Err(err).
			Int64("exchange_sequence", canonical.ExchangeSequence).
			Msg("Failed to publish canonical update")
		return fmt.Errorf("failed to publish update: %w", err)
	}
	return nil
}

// HandleCanonical applies an already-normalized update to its replica cache.
// With checksum verification on, the resulting checksum must equal the one
// carried by the update.
func (p *Processor) HandleCanonical(ctx context.Context, update *core.MarketByOrderUpdate) (err error) {
	ctx = p.updateContext(ctx, update)
	ctx, span := otel.StartUpdateSpan(ctx, otel.SpanApplyCanonical, updateAttributes(update)...)
	defer func() { otel.EndSpan(span, err) }()
	logger := logging.FromContext(ctx)

	if err := p.ensure(ctx, update); err != nil {
		return err
	}

	key := update.Key()
	var checksum uint32
	start := time.Now()
	err = p.manager.Update(ctx, key, func(c *cache.Cache) error {
		if err := c.ApplyOrderUpdate(update); err != nil {
			return err
		}
		checksum = c.Checksum()
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrSequence) {
			p.metrics.RecordSequenceError(ctx, key)
		}
		logger.Warn().Err(err).Int64("exchange_sequence", update.ExchangeSequence).Msg("Rejected canonical update")
		return err
	}
	p.metrics.RecordApplied(ctx, key, otel.ModeReplica, time.Since(start))

	if p.cfg.VerifyChecksum && checksum != update.Checksum {
		p.metrics.RecordChecksumMismatch(ctx, key)
		logger.Error().
			Int64("exchange_sequence", update.ExchangeSequence).
			Uint32("expected", update.Checksum).
			Uint32("actual", checksum).
			Msg("Checksum mismatch")
		return fmt.Errorf("%w: %s at sequence %d: expected %d, got %d",
			ErrChecksumMismatch, key, update.ExchangeSequence, update.Checksum, checksum)
	}
	return nil
}

// HandleDisconnected clears every cache: book state is not valid across a
// venue disconnect. The next snapshot rebuilds it.
func (p *Processor) HandleDisconnected(ctx context.Context, d core.Disconnected) error {
	cleared := p.manager.ClearAll(ctx)
	p.logger.Warn().
		Uint16("stream_id", d.StreamID).
		Str("order_cancel_policy", d.OrderCancelPolicy.String()).
		Int("caches_cleared", cleared).
		Msg("Feed disconnected")
	return nil
}

// Replay feeds updates through HandleUpdate at no more than the configured
// rate. It stops at the first error and returns how many were handled.
func (p *Processor) Replay(ctx context.Context, updates []*core.MarketByOrderUpdate) (int, error) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if p.cfg.ReplayRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.cfg.ReplayRate), int(math.Max(1, math.Ceil(p.cfg.ReplayRate/10))))
	}

	for i, update := range updates {
		if err := limiter.Wait(ctx); err != nil {
			return i, err
		}
		if err := p.HandleUpdate(ctx, update); err != nil {
			return i, fmt.Errorf("update %d: %w", i, err)
		}
	}
	p.logger.Info().Int("count", len(updates)).Msg("Replay completed")
	return len(updates), nil
}
