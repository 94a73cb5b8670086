// Package commission computes and tracks per-payment commission splits.
//
// Recipients are registered when the payment is created and frozen
// after funding. Amounts are derived from the payment total with
// truncating basis-point math, so the sum of commission amounts never
// exceeds the configured total.
package commission

import (
	"context"
	"errors"
	"time"

	"github.com/davigut/pactum/internal/money"
)

var (
	ErrRecipientNotFound = errors.New("commission recipient not found")
	// ErrInvalidSplit means the recipient percentages sum past 100%.
	ErrInvalidSplit = errors.New("commission percentages exceed 100%")
	ErrAlreadyPaid  = errors.New("commission already paid")
)

// Recipient is one beneficiary of a payment's commission.
type Recipient struct {
	ID        string     `json:"id"`
	PaymentID string     `json:"paymentId"`
	Email     string     `json:"email"`
	Percent   string     `json:"percent"`          // Decimal percent of the payment amount
	Amount    string     `json:"amount,omitempty"` // Computed at funding time
	Paid      bool       `json:"paid"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
	PayoutRef string     `json:"payoutRef,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Store persists commission recipients.
type Store interface {
	Put(ctx context.Context, r *Recipient) error
	Get(ctx context.Context, id string) (*Recipient, error)
	ListByPayment(ctx context.Context, paymentID string) ([]*Recipient, error)
	Update(ctx context.Context, r *Recipient) error
}

// Split is the outcome of dividing a payment amount between
// commission recipients and the payee.
type Split struct {
	// Shares maps recipient id to its amount in centavos.
	Shares map[string]int64
	// TotalCommission is the sum of all shares in centavos.
	TotalCommission int64
	// Remainder is what the payee keeps, in centavos.
	Remainder int64
}

// ComputeSplit divides amountCents between the recipients. Each share
// truncates toward zero; rounding dust stays with the payee. Returns
// ErrInvalidSplit when the percentages sum past 100%.
func ComputeSplit(amountCents int64, recipients []*Recipient) (*Split, error) {
	var totalBps int64
	shares := make(map[string]int64, len(recipients))
	var totalCommission int64
	for _, r := range recipients {
		bps, ok := money.ParsePercent(r.Percent)
		if !ok || bps < 0 {
			return nil, ErrInvalidSplit
		}
		totalBps += bps
		if totalBps > 10000 {
			return nil, ErrInvalidSplit
		}
		share := money.ApplyPercent(amountCents, bps)
		shares[r.ID] = share
		totalCommission += share
	}
	return &Split{
		Shares:          shares,
		TotalCommission: totalCommission,
		Remainder:       amountCents - totalCommission,
	}, nil
}
