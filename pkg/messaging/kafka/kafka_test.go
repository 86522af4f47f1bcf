package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erain9/mbocache/pkg/codec"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a deadline")
	}
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

// mockReader serves queued messages, then blocks until the context is done
type mockReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (m *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *mockReader) Close() error { return nil }

func (m *mockReader) commits() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.committed...)
}

func TestNewKafkaMessageSenderValidates(t *testing.T) {
	_, err := NewKafkaMessageSender("", "topic")
	assert.Error(t, err)
	_, err = NewKafkaMessageSender("localhost:9092", "")
	assert.Error(t, err)

	sender, err := NewKafkaMessageSender("localhost:9092", "mbo-canonical")
	require.NoError(t, err)
	assert.Equal(t, "mbo-canonical", sender.topic)
}

func TestKafkaMessageSender_SendUpdate(t *testing.T) {
	w := &mockWriter{}
	sender := NewKafkaMessageSenderWithWriter(w, "mbo-canonical")

	u := &core.MarketByOrderUpdate{
		Exchange:         "test",
		Symbol:           "ABC",
		Bids:             []core.MBOUpdate{{OrderID: "1", Action: core.ActionNew, Price: 100, Quantity: 2}},
		UpdateType:       core.UpdateTypeIncremental,
		ExchangeSequence: 3,
		PriceDecimals:    core.DecimalsUndefined,
		QuantityDecimals: core.DecimalsUndefined,
		Checksum:         77,
	}
	require.NoError(t, sender.SendUpdate(context.Background(), u))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "test:ABC", string(msg.Key))
	assert.Equal(t, codec.KindMarketByOrder, messageKind(msg))
	decoded, err := codec.UnmarshalUpdate(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, u.Bids, decoded.Bids)
	assert.Equal(t, uint32(77), decoded.Checksum)

	require.NoError(t, sender.SendReferenceData(context.Background(), core.ReferenceData{Exchange: "test", Symbol: "ABC", MaxDepth: 5}))
	require.Len(t, w.messages, 2)
	assert.Equal(t, codec.KindReferenceData, messageKind(w.messages[1]))

	w.err = errors.New("broker down")
	assert.Error(t, sender.SendUpdate(context.Background(), u))

	require.NoError(t, sender.Close())
	assert.True(t, w.closed)
}

func TestConsumer_Dispatch(t *testing.T) {
	update, err := codec.MarshalUpdate(&core.MarketByOrderUpdate{Exchange: "test", Symbol: "ABC", ExchangeSequence: 1})
	require.NoError(t, err)
	ref, err := codec.MarshalReferenceData(core.ReferenceData{Exchange: "test", Symbol: "ABC", MaxDepth: 10})
	require.NoError(t, err)
	disconnected, err := codec.MarshalDisconnected(core.Disconnected{StreamID: 2})
	require.NoError(t, err)

	header := func(kind codec.Kind) []kafka.Header {
		return []kafka.Header{{Key: KindHeader, Value: []byte(kind)}}
	}
	reader := &mockReader{queue: []kafka.Message{
		{Offset: 0, Value: ref, Headers: header(codec.KindReferenceData)},
		{Offset: 1, Value: update},
		{Offset: 2, Value: []byte("garbage")},
		{Offset: 3, Value: disconnected, Headers: header(codec.KindDisconnected)},
		{Offset: 4, Value: update, Headers: header("unknown")},
	}}
	consumer := NewConsumerWithReader(reader, zerolog.Nop())

	var mu sync.Mutex
	var got []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	}
	handlers := Handlers{
		ReferenceData: func(_ context.Context, r core.ReferenceData) error {
			record("ref:" + r.Symbol)
			return nil
		},
		MarketByOrder: func(_ context.Context, u *core.MarketByOrderUpdate) error {
			record("mbo:" + u.Key())
			return nil
		},
		Disconnected: func(_ context.Context, d core.Disconnected) error {
			record("disconnected")
			return errors.New("handler failure is logged")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Consume(ctx, handlers) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ref:ABC", "mbo:test:ABC", "disconnected"}, got)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, reader.commits())
}
