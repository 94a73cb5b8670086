package chain

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Simulated is a CustodyClient that settles instantly in memory. Used
// in dev mode and tests, where no RPC endpoint exists.
type Simulated struct {
	mu      sync.Mutex
	counter uint64
	locked  map[string]*big.Int // payment id -> locked amount
	balance *big.Int
}

// NewSimulated creates a simulated custody client with the given
// starting token balance.
func NewSimulated(balance *big.Int) *Simulated {
	if balance == nil {
		balance = new(big.Int)
	}
	return &Simulated{
		locked:  make(map[string]*big.Int),
		balance: new(big.Int).Set(balance),
	}
}

func (s *Simulated) nextHash(tag string) string {
	s.counter++
	seed := append([]byte(tag), byte(s.counter), byte(s.counter>>8))
	return "0x" + hex.EncodeToString(crypto.Keccak256(seed))
}

func (s *Simulated) CreateEscrow(ctx context.Context, paymentID string, amount *big.Int, deadline time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[paymentID] = new(big.Int).Set(amount)
	return s.nextHash("create" + paymentID), nil
}

func (s *Simulated) Release(ctx context.Context, paymentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, paymentID)
	return s.nextHash("release" + paymentID), nil
}

func (s *Simulated) Refund(ctx context.Context, paymentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, paymentID)
	return s.nextHash("refund" + paymentID), nil
}

func (s *Simulated) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error {
	return nil
}

func (s *Simulated) TokenBalance(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balance), nil
}

// Locked returns the amount currently held for a payment, for tests.
func (s *Simulated) Locked(paymentID string) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.locked[paymentID]; ok {
		return new(big.Int).Set(v)
	}
	return nil
}

// Compile-time interface check.
var _ CustodyClient = (*Simulated)(nil)
