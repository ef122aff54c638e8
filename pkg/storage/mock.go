package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/world"
)

// MockStore is an in-memory Store. It backs memory:// DSNs and tests.
type MockStore struct {
	mu     sync.RWMutex
	record *Record
	closed bool

	pingError  error
	readError  error
	writeError error
	resetError error

	writes int
	resets int
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)

// NewMockStore creates a store seeded with the initial record.
func NewMockStore() *MockStore {
	return &MockStore{record: InitialRecord(time.Now())}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetReadError configures the mock to fail on read with the given error
func (m *MockStore) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

// SetWriteError configures the mock to fail on write with the given error
func (m *MockStore) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

// SetResetError configures the mock to fail on reset with the given error
func (m *MockStore) SetResetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetError = err
}

// Seed replaces the stored record without counting as a write.
func (m *MockStore) Seed(r *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = r.Clone()
}

// Writes returns the number of successful writes.
func (m *MockStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Resets returns the number of successful resets.
func (m *MockStore) Resets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resets
}

func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.pingError
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockStore) Read(ctx context.Context) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.readError != nil {
		return nil, m.readError
	}
	return m.record.Clone(), nil
}

func (m *MockStore) Write(ctx context.Context, ws world.WorldState, history []chat.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.writeError != nil {
		return m.writeError
	}
	m.record = &Record{
		WorldState:  ws.Clone(),
		ChatHistory: chat.CloneHistory(history),
		UpdatedAt:   time.Now().UTC(),
	}
	m.writes++
	return nil
}

func (m *MockStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.resetError != nil {
		return m.resetError
	}
	m.record = InitialRecord(time.Now())
	m.resets++
	return nil
}
