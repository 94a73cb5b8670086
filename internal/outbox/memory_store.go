package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory outbox for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates a new in-memory outbox store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Enqueue(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *MemoryStore) Due(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*Entry
	for _, e := range m.entries {
		if e.Status == StatusPending && !e.NextAttempt.After(now) {
			cp := *e
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = StatusDelivered
	e.DeliveredAt = &at
	e.LastError = ""
	return nil
}

func (m *MemoryStore) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Attempts = attempts
	e.NextAttempt = next
	e.LastError = lastError
	return nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = StatusFailed
	e.Attempts = attempts
	e.LastError = lastError
	return nil
}

// Get returns one entry, for tests.
func (m *MemoryStore) Get(id string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

var _ Store = (*MemoryStore)(nil)
