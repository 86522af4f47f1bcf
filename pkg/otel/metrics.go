package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/erain9/mbocache/pkg/otel"
)

// Processing modes recorded on applied updates
const (
	ModeNormalize = "normalize"
	ModeReplica   = "replica"
)

var (
	cacheMetrics     *CacheMetrics
	cacheMetricsOnce sync.Once
)

// CacheMetrics holds the instruments for order book cache monitoring
type CacheMetrics struct {
	// Traffic metrics
	updatesApplied metric.Int64Counter
	deltasEmitted  metric.Int64Counter
	ordersEmitted  metric.Int64Counter

	// Error metrics
	sequenceErrors     metric.Int64Counter
	checksumMismatches metric.Int64Counter

	// Latency metrics
	applyLatency metric.Float64Histogram
}

// NewCacheMetrics creates the cache instruments on meter
func NewCacheMetrics(meter metric.Meter) (*CacheMetrics, error) {
	updatesApplied, err := meter.Int64Counter(
		"mbo.cache.updates.applied",
		metric.WithDescription("Total number of updates applied to a cache"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	deltasEmitted, err := meter.Int64Counter(
		"mbo.cache.deltas.emitted",
		metric.WithDescription("Total number of non-empty canonical deltas emitted"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	ordersEmitted, err := meter.Int64Counter(
		"mbo.cache.deltas.orders",
		metric.WithDescription("Total number of order instructions in emitted canonical deltas"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	sequenceErrors, err := meter.Int64Counter(
		"mbo.cache.sequence.errors",
		metric.WithDescription("Total number of updates rejected or dropped for their sequence"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	checksumMismatches, err := meter.Int64Counter(
		"mbo.cache.checksum.mismatches",
		metric.WithDescription("Total number of replica checksum mismatches"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	applyLatency, err := meter.Float64Histogram(
		"mbo.cache.apply.duration",
		metric.WithDescription("Latency (seconds) of applying one update to a cache"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{
		updatesApplied:     updatesApplied,
		deltasEmitted:      deltasEmitted,
		ordersEmitted:      ordersEmitted,
		sequenceErrors:     sequenceErrors,
		checksumMismatches: checksumMismatches,
		applyLatency:       applyLatency,
	}, nil
}

// GetCacheMetrics returns the CacheMetrics singleton built on the global
// meter provider. On failure it returns instruments that record nothing.
func GetCacheMetrics() *CacheMetrics {
	cacheMetricsOnce.Do(func() {
		m, err := NewCacheMetrics(GetMeterProvider().Meter(instrumentationName))
		if err != nil {
			m = &CacheMetrics{}
		}
		cacheMetrics = m
	})
	return cacheMetrics
}

func instrumentAttr(instrument string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(AttributeInstrument, instrument))
}

// RecordApplied records one applied update and how long it took
func (m *CacheMetrics) RecordApplied(ctx context.Context, instrument, mode string, duration time.Duration) {
	if m == nil || m.updatesApplied == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttributeInstrument, instrument),
		attribute.String(AttributeMode, mode),
	)
	m.updatesApplied.Add(ctx, 1, attrs)
	m.applyLatency.Record(ctx, duration.Seconds(), attrs)
}

// RecordDelta records an emitted canonical delta carrying orders instructions
func (m *CacheMetrics) RecordDelta(ctx context.Context, instrument string, orders int) {
	if m == nil || m.deltasEmitted == nil {
		return
	}
	m.deltasEmitted.Add(ctx, 1, instrumentAttr(instrument))
	m.ordersEmitted.Add(ctx, int64(orders), instrumentAttr(instrument))
}

// RecordSequenceError records an update rejected for its sequence number
func (m *CacheMetrics) RecordSequenceError(ctx context.Context, instrument string) {
	if m == nil || m.sequenceErrors == nil {
		return
	}
	m.sequenceErrors.Add(ctx, 1, instrumentAttr(instrument))
}

// RecordChecksumMismatch records a replica whose checksum disagreed with the feed
func (m *CacheMetrics) RecordChecksumMismatch(ctx context.Context, instrument string) {
	if m == nil || m.checksumMismatches == nil {
		return
	}
	m.checksumMismatches.Add(ctx, 1, instrumentAttr(instrument))
}
