// Package rail abstracts the fiat payment rail: deposit detection on
// the payer's CLABE, payouts to recipients, and custody redemption.
//
// Every operation that moves money carries a caller-chosen reference
// string which doubles as an idempotency key; submitting the same
// reference twice must not move money twice.
package rail

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPayoutNotFound means no payout exists for the reference.
	ErrPayoutNotFound = errors.New("rail: payout not found")
	// ErrUnavailable marks transient rail outages; callers retry.
	ErrUnavailable = errors.New("rail: service unavailable")
)

// Deposit is one incoming transfer detected on a tracking CLABE.
type Deposit struct {
	Reference   string    `json:"reference"` // Rail-side unique id
	CLABE       string    `json:"clabe"`
	AmountCents int64     `json:"amountCents"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// PayoutRequest describes one outgoing transfer.
type PayoutRequest struct {
	Email       string `json:"email"`
	CLABE       string `json:"clabe"`
	AmountCents int64  `json:"amountCents"`
	Reference   string `json:"reference"` // Idempotency key
	Description string `json:"description,omitempty"`
}

// Rail is the fiat money-movement boundary.
type Rail interface {
	// DetectDeposits returns deposits received on any of the given
	// CLABEs since the last call. Each deposit's Reference is stable
	// across calls.
	DetectDeposits(ctx context.Context, clabes []string) ([]Deposit, error)

	// InitiatePayout sends money out and returns the rail-side payout
	// id. Repeating a Reference returns the original payout id
	// without moving money again.
	InitiatePayout(ctx context.Context, req PayoutRequest) (string, error)

	// Redeem converts custody token holdings back to fiat on the
	// platform settlement account. Best effort: failures are logged
	// and retried, they never block payment completion.
	Redeem(ctx context.Context, amountCents int64, reference string) (string, error)
}
