package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Span names
	SpanNormalize       = "normalize_update"
	SpanApplyCanonical  = "apply_canonical_update"
	SpanPublishDelta    = "publish_delta"
	SpanSaveSnapshots   = "save_snapshots"
	SpanRestoreSnapshot = "restore_snapshots"

	// Attribute keys
	AttributeInstrument    = "mbo.instrument"
	AttributeMode          = "mbo.mode"
	AttributeStreamID      = "mbo.stream_id"
	AttributeSequence      = "mbo.sequence"
	AttributeUpdateType    = "mbo.update_type"
	AttributeBidCount      = "mbo.bids.count"
	AttributeAskCount      = "mbo.asks.count"
	AttributeChecksum      = "mbo.checksum"
	AttributeSnapshotCount = "mbo.snapshot.count"
)

// StartUpdateSpan starts a new span on the cache tracer. Before Init it
// returns ctx and a nil span, which AddAttributes and EndSpan accept.
func StartUpdateSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetTracer()
	if tracer == nil {
		return ctx, nil
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// EndSpan records err on the span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
