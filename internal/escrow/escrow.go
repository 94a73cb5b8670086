// Package escrow orchestrates the custody lifecycle of a payment.
//
// The Escrow row tracks the on-chain custody leg: how much of the
// payment is locked, until when, and the transaction hashes that moved
// it. The Engine in this package is the state machine that advances a
// payment through its lifecycle in response to events from schedulers,
// webhooks, and operator actions.
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/davigut/pactum/internal/money"
)

var (
	ErrEscrowNotFound = errors.New("escrow not found")
	// ErrLeaseHeld means another worker holds the creation lease.
	ErrLeaseHeld = errors.New("escrow creation lease held")
)

// Status is the custody-leg state of an escrow.
type Status string

const (
	StatusPending  Status = "pending"  // Row exists, nothing on-chain yet
	StatusActive   Status = "active"   // Custody locked on-chain
	StatusReleased Status = "released" // Custody released to the payee
	StatusRefunded Status = "refunded" // Custody returned to the payer
)

// Escrow is the custody record, one per payment.
type Escrow struct {
	ID        string `json:"id"`
	PaymentID string `json:"paymentId"`

	// CustodyAmount is locked on-chain; ReleaseAmount is paid out to
	// the payee up front when the deposit lands. The two always sum to
	// the payment amount.
	CustodyAmount string `json:"custodyAmount"`
	ReleaseAmount string `json:"releaseAmount"`

	CustodyEnd time.Time `json:"custodyEnd"`
	Status     Status    `json:"status"`

	OnchainTxHash string `json:"onchainTxHash,omitempty"`
	ReleaseTxHash string `json:"releaseTxHash,omitempty"`

	// UpfrontPayoutRef is the rail id of the non-custody payout made
	// when the deposit landed. Doubles as the resume marker.
	UpfrontPayoutRef string `json:"upfrontPayoutRef,omitempty"`

	YieldActivated bool `json:"yieldActivated"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CustodyCents parses the custody amount into centavos.
func (e *Escrow) CustodyCents() int64 {
	v, _ := money.Parse(e.CustodyAmount)
	return v
}

// ReleaseCents parses the upfront release amount into centavos.
func (e *Escrow) ReleaseCents() int64 {
	v, _ := money.Parse(e.ReleaseAmount)
	return v
}

// Store persists escrows.
//
// AcquireCreationLease must be a single compare-and-swap: it succeeds
// only when the lease is free or expired, and there is no window
// between the check and the claim. Two concurrent callers get exactly
// one true.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	GetByPayment(ctx context.Context, paymentID string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error

	AcquireCreationLease(ctx context.Context, paymentID string, ttl time.Duration) (bool, error)
	ReleaseCreationLease(ctx context.Context, paymentID string) error

	// ListExpired returns active escrows whose custody window ended
	// before the given time.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
}
