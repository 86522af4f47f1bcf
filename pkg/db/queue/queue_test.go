package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/erain9/mbocache/pkg/codec"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (m *mockConsumer) ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	return &mockPartitionConsumer{
		messages: m.messages,
		errors:   m.errors,
	}, nil
}

func (m *mockConsumer) Topics() ([]string, error) {
	return []string{}, nil
}

func (m *mockConsumer) Partitions(topic string) ([]int32, error) {
	return []int32{0}, nil
}

func (m *mockConsumer) HighWaterMarks() map[string]map[int32]int64 {
	return nil
}

func (m *mockConsumer) Close() error {
	close(m.messages)
	close(m.errors)
	return nil
}

func (m *mockConsumer) Pause(topicPartitions map[string][]int32) {}

func (m *mockConsumer) Resume(topicPartitions map[string][]int32) {}

func (m *mockConsumer) PauseAll() {}

func (m *mockConsumer) ResumeAll() {}

type mockPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (m *mockPartitionConsumer) AsyncClose() {}

func (m *mockPartitionConsumer) Close() error {
	return nil
}

func (m *mockPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage {
	return m.messages
}

func (m *mockPartitionConsumer) Errors() <-chan *sarama.ConsumerError {
	return m.errors
}

func (m *mockPartitionConsumer) HighWaterMarkOffset() int64 {
	return 0
}

func (m *mockPartitionConsumer) IsPaused() bool {
	return false
}

func (m *mockPartitionConsumer) Pause() {}

func (m *mockPartitionConsumer) Resume() {}

// mockOffsets reports a fixed offset range for every partition
type mockOffsets struct {
	oldest, newest int64
}

func (m mockOffsets) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return m.oldest, nil
	}
	return m.newest, nil
}

var _ messaging.MessageSender = (*SnapshotPublisher)(nil)

func testSnapshot(symbol string, sequence int64) *core.MarketByOrderUpdate {
	return &core.MarketByOrderUpdate{
		Exchange:         "test",
		Symbol:           symbol,
		Bids:             []core.MBOUpdate{{OrderID: "b1", Action: core.ActionNew, Price: 100, Quantity: 1, Priority: 1}},
		UpdateType:       core.UpdateTypeSnapshot,
		ExchangeSequence: sequence,
		PriceDecimals:    core.DecimalsUndefined,
		QuantityDecimals: core.DecimalsUndefined,
		Checksum:         uint32(sequence),
	}
}

func TestSnapshotPublisher_Publish(t *testing.T) {
	mockProd := &mockProducer{}

	// Override the producer creation with our mock
	oldNewSyncProducer := newSyncProducer
	defer func() { newSyncProducer = oldNewSyncProducer }()
	var gotConfig *sarama.Config
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		gotConfig = config
		return mockProd, nil
	}

	publisher, err := NewSnapshotPublisher([]string{"localhost:9092"}, DefaultTopic)
	require.NoError(t, err)
	defer publisher.Close()
	assert.True(t, gotConfig.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, gotConfig.Producer.RequiredAcks)

	snapshot := testSnapshot("ABC", 9)
	require.NoError(t, publisher.Publish(context.Background(), snapshot))
	require.NoError(t, publisher.SendUpdate(context.Background(), snapshot))
	sent := mockProd.snapshots()
	require.Len(t, sent, 2)
	assert.Equal(t, DefaultTopic, sent[0].topic)
	assert.Equal(t, "test:ABC", sent[0].key)

	msg := sent[0].msg
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "9", string(msg.Headers[0].Value))

	decoded, err := codec.DecodeSnapshot(msg.Value.(sarama.ByteEncoder))
	require.NoError(t, err)
	assert.Equal(t, snapshot, decoded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, publisher.Publish(ctx, snapshot), context.Canceled)
	assert.Len(t, mockProd.snapshots(), 2)
}

func TestSnapshotPublisher_SendError(t *testing.T) {
	mockProd := &mockProducer{err: sarama.ErrNotLeaderForPartition}
	publisher := &SnapshotPublisher{producer: mockProd, topic: DefaultTopic}

	err := publisher.Publish(context.Background(), testSnapshot("ABC", 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.Contains(t, err.Error(), "test:ABC")

	err = publisher.SendUpdate(context.Background(), testSnapshot("XYZ", 3))
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.Empty(t, mockProd.snapshots())

	// recovers once the broker accepts again
	mockProd.mu.Lock()
	mockProd.err = nil
	mockProd.mu.Unlock()
	require.NoError(t, publisher.Publish(context.Background(), testSnapshot("XYZ", 4)))
	sent := mockProd.snapshots()
	require.Len(t, sent, 1)
	assert.Equal(t, "test:XYZ", sent[0].key)

	require.NoError(t, publisher.Close())
	assert.True(t, mockProd.closed)
}

func TestNewSnapshotPublisherError(t *testing.T) {
	oldNewSyncProducer := newSyncProducer
	defer func() { newSyncProducer = oldNewSyncProducer }()
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		return nil, errors.New("no brokers")
	}

	_, err := NewSnapshotPublisher([]string{"localhost:9092"}, DefaultTopic)
	assert.Error(t, err)
}

func TestSnapshotReader_Latest(t *testing.T) {
	mockConsumer := &mockConsumer{
		messages: make(chan *sarama.ConsumerMessage, 4),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	for i, s := range []*core.MarketByOrderUpdate{
		testSnapshot("ABC", 1),
		testSnapshot("XYZ", 4),
		testSnapshot("ABC", 3),
		testSnapshot("ABC", 2),
	} {
		mockConsumer.messages <- &sarama.ConsumerMessage{Offset: int64(i), Value: codec.EncodeSnapshot(s)}
	}

	reader := &SnapshotReader{
		consumer: mockConsumer,
		offsets:  mockOffsets{oldest: 0, newest: 4},
		topic:    DefaultTopic,
	}

	latest, err := reader.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, int64(3), latest["test:ABC"].ExchangeSequence)
	assert.Equal(t, int64(4), latest["test:XYZ"].ExchangeSequence)

	require.NoError(t, reader.Close())
}

func TestSnapshotReader_EmptyTopic(t *testing.T) {
	reader := &SnapshotReader{
		consumer: &mockConsumer{
			messages: make(chan *sarama.ConsumerMessage),
			errors:   make(chan *sarama.ConsumerError),
		},
		offsets: mockOffsets{oldest: 7, newest: 7},
		topic:   DefaultTopic,
	}

	latest, err := reader.Latest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestSnapshotReader_CorruptRecord(t *testing.T) {
	mockConsumer := &mockConsumer{
		messages: make(chan *sarama.ConsumerMessage, 1),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	mockConsumer.messages <- &sarama.ConsumerMessage{Offset: 0, Value: []byte("bad")}

	reader := &SnapshotReader{
		consumer: mockConsumer,
		offsets:  mockOffsets{oldest: 0, newest: 1},
		topic:    DefaultTopic,
	}
	_, err := reader.Latest(context.Background())
	assert.ErrorIs(t, err, codec.ErrCorruptSnapshot)
}
