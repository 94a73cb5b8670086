package multisig

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory multisig store for dev and tests.
type MemoryStore struct {
	mu         sync.Mutex
	wallets    map[string]*WalletConfig
	requests   map[string]*Request
	signatures map[string][]*Signature  // request id -> sigs
	txlog      map[string][]*TxLogEntry // request id -> entries
}

// NewMemoryStore creates a new in-memory multisig store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:    make(map[string]*WalletConfig),
		requests:   make(map[string]*Request),
		signatures: make(map[string][]*Signature),
		txlog:      make(map[string][]*TxLogEntry),
	}
}

func (m *MemoryStore) PutWallet(ctx context.Context, w *WalletConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	cp.Owners = append([]string(nil), w.Owners...)
	m.wallets[w.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWallet(ctx context.Context, id string) (*WalletConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	cp.Owners = append([]string(nil), w.Owners...)
	return &cp, nil
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[r.WalletID]
	if !ok {
		return ErrWalletNotFound
	}
	r.Nonce = w.NextNonce
	w.NextNonce++
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetRequestByPayment(ctx context.Context, paymentID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Request
	for _, r := range m.requests {
		if r.PaymentID != paymentID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrRequestNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; !ok {
		return ErrRequestNotFound
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) AddSignature(ctx context.Context, sig *Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.signatures[sig.RequestID] {
		if existing.Signer == sig.Signer {
			return ErrDuplicateSignature
		}
	}
	cp := *sig
	m.signatures[sig.RequestID] = append(m.signatures[sig.RequestID], &cp)
	return nil
}

func (m *MemoryStore) Signatures(ctx context.Context, requestID string) ([]*Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.signatures[requestID]
	result := make([]*Signature, 0, len(src))
	for _, sig := range src {
		cp := *sig
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) AppendTxLog(ctx context.Context, entry *TxLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.txlog[entry.RequestID] = append(m.txlog[entry.RequestID], &cp)
	return nil
}

func (m *MemoryStore) TxLog(ctx context.Context, requestID string) ([]*TxLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.txlog[requestID]
	result := make([]*TxLogEntry, 0, len(src))
	for _, entry := range src {
		cp := *entry
		result = append(result, &cp)
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
