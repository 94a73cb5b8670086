package rail

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is an in-memory rail for dev and tests. Deposits are queued by
// the caller and drained by DetectDeposits; payouts record their
// reference so repeats are recognized.
type Mock struct {
	mu       sync.Mutex
	pending  []Deposit
	payouts  map[string]string // reference -> payout id
	requests []PayoutRequest
	counter  int
	failNext error
}

// NewMock creates an empty mock rail.
func NewMock() *Mock {
	return &Mock{payouts: make(map[string]string)}
}

// QueueDeposit enqueues a deposit for the next DetectDeposits call.
func (m *Mock) QueueDeposit(d Deposit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now().UTC()
	}
	m.pending = append(m.pending, d)
}

// FailNext makes the next rail call return err once.
func (m *Mock) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Mock) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *Mock) DetectDeposits(ctx context.Context, clabes []string) ([]Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	watch := make(map[string]bool, len(clabes))
	for _, c := range clabes {
		watch[c] = true
	}
	var matched []Deposit
	var rest []Deposit
	for _, d := range m.pending {
		if watch[d.CLABE] {
			matched = append(matched, d)
		} else {
			rest = append(rest, d)
		}
	}
	m.pending = rest
	return matched, nil
}

func (m *Mock) InitiatePayout(ctx context.Context, req PayoutRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return "", err
	}
	if id, ok := m.payouts[req.Reference]; ok {
		return id, nil
	}
	m.counter++
	id := fmt.Sprintf("po_mock_%d", m.counter)
	m.payouts[req.Reference] = id
	m.requests = append(m.requests, req)
	return id, nil
}

func (m *Mock) Redeem(ctx context.Context, amountCents int64, reference string) (string, error) {
	return m.InitiatePayout(ctx, PayoutRequest{
		AmountCents: amountCents,
		Reference:   reference,
		Description: "custody redemption",
	})
}

// Payouts returns every distinct payout request seen, for tests.
func (m *Mock) Payouts() []PayoutRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PayoutRequest(nil), m.requests...)
}

// Compile-time interface check.
var _ Rail = (*Mock)(nil)
