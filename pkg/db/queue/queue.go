// Package queue publishes binary book snapshots to Kafka through sarama and
// reads them back to reseed caches.
package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/erain9/mbocache/pkg/codec"
	"github.com/erain9/mbocache/pkg/core"
)

const (
	// DefaultTopic is the snapshot topic; it should be log-compacted
	DefaultTopic = "mbo-snapshots"
	maxRetry     = 5

	headerSequence = "exchange_sequence"
	headerChecksum = "checksum"
)

// newSyncProducer is swapped out by tests
var newSyncProducer = sarama.NewSyncProducer

// SnapshotPublisher sends snapshots keyed by instrument so a compacted topic
// keeps the latest book per instrument
type SnapshotPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSnapshotPublisher connects a synchronous producer to brokers
func NewSnapshotPublisher(brokers []string, topic string) (*SnapshotPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetry
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := newSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &SnapshotPublisher{producer: producer, topic: topic}, nil
}

// Publish sends one snapshot. The context is only checked before sending
// since sarama's sync producer has no per-call cancellation.
func (p *SnapshotPublisher) Publish(ctx context.Context, snapshot *core.MarketByOrderUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(snapshot.Key()),
		Value: sarama.ByteEncoder(codec.EncodeSnapshot(snapshot)),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerSequence), Value: []byte(strconv.FormatInt(snapshot.ExchangeSequence, 10))},
			{Key: []byte(headerChecksum), Value: []byte(strconv.FormatUint(uint64(snapshot.Checksum), 10))},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish snapshot %s: %w", snapshot.Key(), err)
	}
	return nil
}

// SendUpdate publishes the update as a snapshot, so the publisher can stand in
// wherever a messaging.MessageSender is expected
func (p *SnapshotPublisher) SendUpdate(ctx context.Context, update *core.MarketByOrderUpdate) error {
	return p.Publish(ctx, update)
}

// Close closes the producer
func (p *SnapshotPublisher) Close() error {
	return p.producer.Close()
}

// newClient is swapped out by tests
var newClient = sarama.NewClient

// offsetSource resolves partition offsets; sarama.Client implements it
type offsetSource interface {
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
}

// SnapshotReader replays the snapshot topic
type SnapshotReader struct {
	consumer sarama.Consumer
	offsets  offsetSource
	client   sarama.Client
	topic    string
}

// NewSnapshotReader connects a consumer to brokers
func NewSnapshotReader(brokers []string, topic string) (*SnapshotReader, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	client, err := newClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return &SnapshotReader{consumer: consumer, offsets: client, client: client, topic: topic}, nil
}

// Latest reads every partition from its oldest retained offset up to the
// current end and returns the newest snapshot per instrument
func (r *SnapshotReader) Latest(ctx context.Context) (map[string]*core.MarketByOrderUpdate, error) {
	partitions, err := r.consumer.Partitions(r.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", r.topic, err)
	}

	latest := make(map[string]*core.MarketByOrderUpdate)
	for _, partition := range partitions {
		if err := r.readPartition(ctx, partition, latest); err != nil {
			return nil, err
		}
	}
	return latest, nil
}

func (r *SnapshotReader) readPartition(ctx context.Context, partition int32, latest map[string]*core.MarketByOrderUpdate) error {
	oldest, err := r.offsets.GetOffset(r.topic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("partition %d: %w", partition, err)
	}
	// OffsetNewest is the offset the next message will get
	end, err := r.offsets.GetOffset(r.topic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("partition %d: %w", partition, err)
	}
	if oldest >= end {
		return nil
	}

	pc, err := r.consumer.ConsumePartition(r.topic, partition, oldest)
	if err != nil {
		return fmt.Errorf("failed to consume partition %d: %w", partition, err)
	}
	defer pc.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cerr, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			return fmt.Errorf("partition %d: %w", partition, cerr.Err)
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			snapshot, err := codec.DecodeSnapshot(msg.Value)
			if err != nil {
				return fmt.Errorf("partition %d offset %d: %w", partition, msg.Offset, err)
			}
			if prev, ok := latest[snapshot.Key()]; !ok || snapshot.ExchangeSequence >= prev.ExchangeSequence {
				latest[snapshot.Key()] = snapshot
			}
			if msg.Offset+1 >= end {
				return nil
			}
		}
	}
}

// Close closes the consumer and its client
func (r *SnapshotReader) Close() error {
	err := r.consumer.Close()
	if r.client != nil {
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
