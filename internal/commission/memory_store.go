package commission

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory commission store for dev and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	recipients map[string]*Recipient
}

// NewMemoryStore creates a new in-memory commission store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recipients: make(map[string]*Recipient)}
}

func (m *MemoryStore) Put(ctx context.Context, r *Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.recipients[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recipients[id]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListByPayment(ctx context.Context, paymentID string) ([]*Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Recipient
	for _, r := range m.recipients {
		if r.PaymentID != paymentID {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt) ||
			(result[i].CreatedAt.Equal(result[j].CreatedAt) && result[i].ID < result[j].ID)
	})
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, r *Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipients[r.ID]; !ok {
		return ErrRecipientNotFound
	}
	cp := *r
	m.recipients[r.ID] = &cp
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
