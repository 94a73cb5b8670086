package dispute

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory dispute store for dev and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*Dispute
	messages map[string][]*Message // dispute id -> thread
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		messages: make(map[string][]*Message),
	}
}

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) OpenByPayment(ctx context.Context, paymentID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.disputes {
		if d.PaymentID == paymentID && d.Status == StatusOpen {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrDisputeNotFound
}

func (m *MemoryStore) ListByPayment(ctx context.Context, paymentID string) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Dispute
	for _, d := range m.disputes {
		if d.PaymentID != paymentID {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.DisputeID] = append(m.messages[msg.DisputeID], &cp)
	return nil
}

func (m *MemoryStore) Messages(ctx context.Context, disputeID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.messages[disputeID]
	result := make([]*Message, 0, len(src))
	for _, msg := range src {
		cp := *msg
		result = append(result, &cp)
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
