package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erain9/mbocache/pkg/codec"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Reader is the subset of *kafka.Reader used by the consumer
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handlers receives decoded feed messages. Nil handlers drop their kind.
type Handlers struct {
	ReferenceData func(ctx context.Context, ref core.ReferenceData) error
	MarketByOrder func(ctx context.Context, update *core.MarketByOrderUpdate) error
	Disconnected  func(ctx context.Context, d core.Disconnected) error
}

// Consumer reads feed messages from Kafka and dispatches them by kind
type Consumer struct {
	reader Reader
	logger zerolog.Logger
}

// NewConsumer creates a consumer-group reader on topic
func NewConsumer(brokerAddr, topic, groupID string, logger zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  100 * time.Millisecond,
	})
	return NewConsumerWithReader(reader, logger)
}

// NewConsumerWithReader wraps an existing reader
func NewConsumerWithReader(reader Reader, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		logger: logger.With().Str("component", "kafka_consumer").Logger(),
	}
}

// Consume fetches and dispatches messages until ctx is done. Messages that
// cannot be decoded or handled are logged and committed so one bad record
// cannot stall the partition.
func (c *Consumer) Consume(ctx context.Context, h Handlers) error {
	c.logger.Info().Msg("Starting Kafka consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.dispatch(ctx, msg, h); err != nil {
			c.logger.Error().
				Err(err).
				Str("key", string(msg.Key)).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Failed to process message")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message, h Handlers) error {
	switch kind := messageKind(msg); kind {
	case codec.KindReferenceData:
		ref, err := codec.UnmarshalReferenceData(msg.Value)
		if err != nil {
			return err
		}
		if h.ReferenceData != nil {
			return h.ReferenceData(ctx, ref)
		}
	case codec.KindMarketByOrder:
		update, err := codec.UnmarshalUpdate(msg.Value)
		if err != nil {
			return err
		}
		if h.MarketByOrder != nil {
			return h.MarketByOrder(ctx, update)
		}
	case codec.KindDisconnected:
		d, err := codec.UnmarshalDisconnected(msg.Value)
		if err != nil {
			return err
		}
		if h.Disconnected != nil {
			return h.Disconnected(ctx, d)
		}
	default:
		return fmt.Errorf("unknown message kind %q", kind)
	}
	return nil
}

// messageKind reads the kind header; messages without one are book updates
func messageKind(msg kafka.Message) codec.Kind {
	for _, header := range msg.Headers {
		if header.Key == KindHeader {
			return codec.Kind(header.Value)
		}
	}
	return codec.KindMarketByOrder
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
