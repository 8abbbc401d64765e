package session

import (
	"context"
	"errors"
	"sync"
)

// ErrHistoryClosed is returned when operating on a closed history backend.
var ErrHistoryClosed = errors.New("history backend is closed")

// HistoryBackend mirrors chat transcripts to external storage so other
// tooling (analytics, audit) can read them. The mirror is best-effort:
// ChatStore remains the source of truth for the process, and a backend
// failure never affects in-memory state.
// Implementations must be safe for concurrent use.
type HistoryBackend interface {
	// AppendMessage records one message on a thread (append-only).
	AppendMessage(ctx context.Context, chatID string, msg Message) error

	// LoadMessages retrieves all recorded messages for a thread in order.
	LoadMessages(ctx context.Context, chatID string) ([]Message, error)

	// Close releases any resources held by the backend.
	Close() error
}

// MemoryHistory is an in-memory HistoryBackend, useful for tests and for
// deployments without Redis.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries map[string][]Message
	closed  bool
}

// NewMemoryHistory creates an empty in-memory history backend.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{entries: make(map[string][]Message)}
}

// AppendMessage records one message on a thread.
func (m *MemoryHistory) AppendMessage(_ context.Context, chatID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrHistoryClosed
	}
	m.entries[chatID] = append(m.entries[chatID], msg)
	return nil
}

// LoadMessages retrieves all recorded messages for a thread in order.
func (m *MemoryHistory) LoadMessages(_ context.Context, chatID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrHistoryClosed
	}
	return append([]Message(nil), m.entries[chatID]...), nil
}

// Close marks the backend closed.
func (m *MemoryHistory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
