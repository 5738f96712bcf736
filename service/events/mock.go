package events

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	txnEvents    []*TransactionEvent
	jobEvents    []*JobEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishTransaction records the event and returns any configured error.
func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.txnEvents = append(m.txnEvents, event)
	return nil
}

// PublishJob records the event and returns any configured error.
func (m *MockPublisher) PublishJob(ctx context.Context, event *JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.jobEvents = append(m.jobEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// TransactionEvents returns a copy of all published transaction events.
func (m *MockPublisher) TransactionEvents() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TransactionEvent, len(m.txnEvents))
	copy(out, m.txnEvents)
	return out
}

// JobEvents returns a copy of all published job events.
func (m *MockPublisher) JobEvents() []*JobEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*JobEvent, len(m.jobEvents))
	copy(out, m.jobEvents)
	return out
}

// SetPublishError configures the mock to return an error on publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
