package queue

import (
	"sync"

	"github.com/IBM/sarama"
)

// sentSnapshot is what the mock producer saw for one message
type sentSnapshot struct {
	topic string
	key   string
	msg   *sarama.ProducerMessage
}

// mockProducer is a sarama.SyncProducer that records snapshot messages and
// fails every send with err when it is set
type mockProducer struct {
	mu     sync.Mutex
	err    error
	sent   []sentSnapshot
	closed bool
}

func (m *mockProducer) record(msg *sarama.ProducerMessage) {
	var key string
	if msg.Key != nil {
		if b, err := msg.Key.Encode(); err == nil {
			key = string(b)
		}
	}
	m.sent = append(m.sent, sentSnapshot{topic: msg.Topic, key: key, msg: msg})
}

func (m *mockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return -1, -1, m.err
	}
	m.record(msg)
	return 0, int64(len(m.sent) - 1), nil
}

func (m *mockProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, msg := range msgs {
		m.record(msg)
	}
	return nil
}

// snapshots returns a copy of the recorded messages
func (m *mockProducer) snapshots() []sentSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentSnapshot(nil), m.sent...)
}

func (m *mockProducer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// The publisher never uses transactions.

func (m *mockProducer) TxnStatus() sarama.ProducerTxnStatusFlag { return sarama.ProducerTxnFlagReady }

func (m *mockProducer) BeginTxn() error { return nil }

func (m *mockProducer) CommitTxn() error { return nil }

func (m *mockProducer) AbortTxn() error { return nil }

func (m *mockProducer) AddMessageToTxn(*sarama.ConsumerMessage, string, *string) error { return nil }

func (m *mockProducer) AddOffsetsToTxn(map[string][]*sarama.PartitionOffsetMetadata, string) error {
	return nil
}

func (m *mockProducer) IsTransactional() bool { return false }

var _ sarama.SyncProducer = (*mockProducer)(nil)
