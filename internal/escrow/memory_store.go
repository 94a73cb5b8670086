package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory escrow store for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	escrows   map[string]*Escrow // by id
	byPayment map[string]string  // payment id → escrow id
	leases    map[string]time.Time
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows:   make(map[string]*Escrow),
		byPayment: make(map[string]string),
		leases:    make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetClock overrides the lease clock, for tests.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.escrows[e.ID] = &cp
	m.byPayment[e.PaymentID] = e.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetByPayment(ctx context.Context, paymentID string) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPayment[paymentID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *m.escrows[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[e.ID]; !ok {
		return ErrEscrowNotFound
	}
	cp := *e
	m.escrows[e.ID] = &cp
	return nil
}

// AcquireCreationLease claims the per-payment creation lease if it is
// free or expired. Check and claim happen under one mutex hold, so two
// concurrent callers get exactly one true.
func (m *MemoryStore) AcquireCreationLease(ctx context.Context, paymentID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if expires, held := m.leases[paymentID]; held && expires.After(now) {
		return false, nil
	}
	m.leases[paymentID] = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) ReleaseCreationLease(ctx context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, paymentID)
	return nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Escrow
	for _, e := range m.escrows {
		if e.Status == StatusActive && !e.CustodyEnd.IsZero() && e.CustodyEnd.Before(before) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustodyEnd.Before(out[j].CustodyEnd) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SumActiveCustody totals the locked custody amount across active
// escrows, in centavos.
func (m *MemoryStore) SumActiveCustody(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, e := range m.escrows {
		if e.Status == StatusActive {
			total += e.CustodyCents()
		}
	}
	return total, nil
}

var _ Store = (*MemoryStore)(nil)
