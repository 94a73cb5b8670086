package profile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory profile store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile // keyed by normalized email
}

// NewMemoryStore creates a new in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func (m *MemoryStore) ByEmail(ctx context.Context, email string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[Normalize(email)]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	cp.Email = Normalize(p.Email)
	m.profiles[cp.Email] = &cp
	return nil
}

var _ Store = (*MemoryStore)(nil)
