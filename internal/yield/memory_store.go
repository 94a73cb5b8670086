package yield

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory yield store for dev and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	activations map[string]*Activation
	earnings    map[string][]*Earning // activation id -> rows
	payouts     map[string]*Payout    // activation id -> payout
}

// NewMemoryStore creates a new in-memory yield store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		activations: make(map[string]*Activation),
		earnings:    make(map[string][]*Earning),
		payouts:     make(map[string]*Payout),
	}
}

func (m *MemoryStore) CreateActivation(ctx context.Context, a *Activation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.activations[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetActivation(ctx context.Context, id string) (*Activation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activations[id]
	if !ok {
		return nil, ErrActivationNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ActivationByPayment(ctx context.Context, paymentID string) (*Activation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.activations {
		if a.PaymentID == paymentID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrActivationNotFound
}

func (m *MemoryStore) UpdateActivation(ctx context.Context, a *Activation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activations[a.ID]; !ok {
		return ErrActivationNotFound
	}
	cp := *a
	m.activations[a.ID] = &cp
	return nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*Activation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Activation
	for _, a := range m.activations {
		if a.Status != StatusActive {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ActivatedAt.Before(result[j].ActivatedAt)
	})
	return result, nil
}

func (m *MemoryStore) InsertEarning(ctx context.Context, e *Earning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.earnings[e.ActivationID] {
		if existing.Date == e.Date {
			return ErrAlreadyAccrued
		}
	}
	cp := *e
	m.earnings[e.ActivationID] = append(m.earnings[e.ActivationID], &cp)
	return nil
}

func (m *MemoryStore) LatestEarning(ctx context.Context, activationID string) (*Earning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.earnings[activationID]
	if len(rows) == 0 {
		return nil, ErrActivationNotFound
	}
	latest := rows[0]
	for _, e := range rows[1:] {
		if e.Date > latest.Date {
			latest = e
		}
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) Earnings(ctx context.Context, activationID string) ([]*Earning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.earnings[activationID]
	result := make([]*Earning, 0, len(src))
	for _, e := range src {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result, nil
}

func (m *MemoryStore) CreatePayout(ctx context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payouts[p.ActivationID] = &cp
	return nil
}

func (m *MemoryStore) PayoutByActivation(ctx context.Context, activationID string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payouts[activationID]
	if !ok {
		return nil, ErrActivationNotFound
	}
	cp := *p
	return &cp, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
