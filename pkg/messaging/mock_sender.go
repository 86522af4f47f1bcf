package messaging

import (
	"context"
	"sync"

	"github.com/erain9/mbocache/pkg/core"
)

// MockMessageSender records every update it is asked to send. Err, when set,
// is returned instead of recording.
type MockMessageSender struct {
	mu      sync.Mutex
	updates []*core.MarketByOrderUpdate
	closed  bool
	Err     error
}

// NewMockMessageSender creates a new MockMessageSender.
func NewMockMessageSender() *MockMessageSender {
	return &MockMessageSender{}
}

// SendUpdate records a copy of update.
func (m *MockMessageSender) SendUpdate(_ context.Context, update *core.MarketByOrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.updates = append(m.updates, update.Clone())
	return nil
}

// Updates returns the recorded updates in send order.
func (m *MockMessageSender) Updates() []*core.MarketByOrderUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*core.MarketByOrderUpdate(nil), m.updates...)
}

// Closed reports whether Close was called.
func (m *MockMessageSender) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the sender closed.
func (m *MockMessageSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MockMessageSender implements MessageSender
var _ MessageSender = (*MockMessageSender)(nil)
