package payment

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory payment store for dev and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*Payment
	events   map[string][]*Event // payment id -> ordered events
}

// NewMemoryStore creates a new in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*Payment),
		events:   make(map[string][]*Event),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdateWithEvent(ctx context.Context, p *Payment, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *p
	m.payments[p.ID] = &cp
	if ev != nil {
		ec := *ev
		m.events[p.ID] = append(m.events[p.ID], &ec)
	}
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ec := *ev
	m.events[ev.PaymentID] = append(m.events[ev.PaymentID], &ec)
	return nil
}

func (m *MemoryStore) Events(ctx context.Context, paymentID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.events[paymentID]
	result := make([]*Event, 0, len(src))
	for _, ev := range src {
		ec := *ev
		result = append(result, &ec)
	}
	return result, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Payment
	for _, p := range m.payments {
		if p.Status != status {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
