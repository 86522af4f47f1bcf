package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/erain9/mbocache/pkg/codec"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/messaging"
	"github.com/segmentio/kafka-go"
)

// KindHeader names the message header carrying the payload kind
const KindHeader = "kind"

// sendTimeout bounds a single publish when the caller's context has no deadline
const sendTimeout = 5 * time.Second

// Writer is the subset of *kafka.Writer used by the sender
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMessageSender implements MessageSender using Kafka
type KafkaMessageSender struct {
	writer Writer
	topic  string
}

// NewKafkaMessageSender creates a new Kafka message sender. Messages are keyed
// by instrument and hash-partitioned so each book's updates stay ordered.
func NewKafkaMessageSender(brokerAddr, topic string) (*KafkaMessageSender, error) {
	if brokerAddr == "" || topic == "" {
		return nil, fmt.Errorf("kafka sender needs a broker address and a topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return NewKafkaMessageSenderWithWriter(writer, topic), nil
}

// NewKafkaMessageSenderWithWriter wraps an existing writer
func NewKafkaMessageSenderWithWriter(writer Writer, topic string) *KafkaMessageSender {
	return &KafkaMessageSender{
		writer: writer,
		topic:  topic,
	}
}

// SendUpdate publishes a canonical update as JSON
func (k *KafkaMessageSender) SendUpdate(ctx context.Context, update *core.MarketByOrderUpdate) error {
	data, err := codec.MarshalUpdate(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}
	return k.write(ctx, update.Key(), codec.KindMarketByOrder, data)
}

// SendReferenceData publishes reference data so downstream replicas share the configuration
func (k *KafkaMessageSender) SendReferenceData(ctx context.Context, ref core.ReferenceData) error {
	data, err := codec.MarshalReferenceData(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal reference data: %w", err)
	}
	return k.write(ctx, core.InstrumentKey(ref.Exchange, ref.Symbol), codec.KindReferenceData, data)
}

func (k *KafkaMessageSender) write(ctx context.Context, key string, kind codec.Kind, data []byte) error {
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: []kafka.Header{{Key: KindHeader, Value: []byte(kind)}},
		Time:    time.Now(),
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sendTimeout)
		defer cancel()
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka topic %s: %w", k.topic, err)
	}
	return nil
}

// Close closes the Kafka writer
func (k *KafkaMessageSender) Close() error {
	return k.writer.Close()
}

// Ensure KafkaMessageSender implements MessageSender
var _ messaging.MessageSender = (*KafkaMessageSender)(nil)
