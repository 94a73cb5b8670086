// Package yield accrues daily interest on custody balances.
//
// A payer can opt a payment's custody into yield. While the custody is
// active, a daily job writes one earning row per (activation, date);
// each day's interest compounds on the principal plus everything
// accrued so far. When custody ends, the accumulated yield is split
// between the payer and the platform.
package yield

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	ErrActivationNotFound = errors.New("yield activation not found")
	ErrAlreadyActive      = errors.New("yield already activated for payment")
	ErrAlreadyAccrued     = errors.New("earning already recorded for date")
)

// DefaultAnnualRate is used when the rate provider is unreachable.
const DefaultAnnualRate = "0.072"

// PayerShareBps is the payer's share of the final yield, in basis
// points. The platform keeps the rest.
const PayerShareBps = 8000

// Status is the lifecycle state of a yield activation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Activation is one payment's opt-in to custody yield.
type Activation struct {
	ID          string     `json:"id"`
	PaymentID   string     `json:"paymentId"`
	Principal   string     `json:"principal"`  // Custody amount, decimal string
	AnnualRate  string     `json:"annualRate"` // Rate at activation, e.g. "0.072"
	Status      Status     `json:"status"`
	ActivatedAt time.Time  `json:"activatedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Earning is one day's accrued interest. Unique per (activation, date).
type Earning struct {
	ID           string    `json:"id"`
	ActivationID string    `json:"activationId"`
	Date         string    `json:"date"`   // YYYY-MM-DD, UTC
	Amount       string    `json:"amount"` // That day's interest, centavo precision
	// Cumulative carries six decimal places. Rounding the running
	// total to centavos every day would drift away from the compound
	// closed form over a month; the extra precision keeps the final
	// payout within a centavo of it.
	Cumulative string    `json:"cumulative"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Payout is the final yield distribution for a completed activation.
type Payout struct {
	ID            string    `json:"id"`
	ActivationID  string    `json:"activationId"`
	PaymentID     string    `json:"paymentId"`
	TotalYield    string    `json:"totalYield"`
	PayerShare    string    `json:"payerShare"`
	PlatformShare string    `json:"platformShare"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store persists activations, earnings, and payouts.
type Store interface {
	CreateActivation(ctx context.Context, a *Activation) error
	GetActivation(ctx context.Context, id string) (*Activation, error)
	// ActivationByPayment returns the activation for a payment, or
	// ErrActivationNotFound.
	ActivationByPayment(ctx context.Context, paymentID string) (*Activation, error)
	UpdateActivation(ctx context.Context, a *Activation) error
	ListActive(ctx context.Context) ([]*Activation, error)

	// InsertEarning returns ErrAlreadyAccrued when a row for the
	// activation and date already exists.
	InsertEarning(ctx context.Context, e *Earning) error
	LatestEarning(ctx context.Context, activationID string) (*Earning, error)
	Earnings(ctx context.Context, activationID string) ([]*Earning, error)

	CreatePayout(ctx context.Context, p *Payout) error
	PayoutByActivation(ctx context.Context, activationID string) (*Payout, error)
}

// PaymentStatuses reports the current status of a payment. The daily
// job uses it to stop accrual on payments that are no longer earning.
type PaymentStatuses interface {
	PaymentStatus(ctx context.Context, paymentID string) (string, error)
}

// accrues reports whether a payment in the given status still earns
// yield. Payments parked for review, not yet funded, or frozen by a
// dispute do not accrue.
func accrues(status string) bool {
	switch status {
	case "funded", "custody_active", "release_pending", "released",
		"payout_pending", "completed":
		return true
	}
	return false
}

// rateMicros parses an annual rate like "0.072" into millionths
// (72000). Returns (0, false) for malformed or negative input.
func rateMicros(rate string) (int64, bool) {
	rate = strings.TrimSpace(rate)
	if rate == "" || strings.HasPrefix(rate, "-") {
		return 0, false
	}
	parts := strings.Split(rate, ".")
	if len(parts) > 2 {
		return 0, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	frac = frac[:6]
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || !v.IsInt64() {
		return 0, false
	}
	return v.Int64(), true
}

// Accrual arithmetic runs in micro-pesos: millionths of a peso, the
// same resolution rateMicros uses for the annual rate. Amounts are
// rounded to centavos only when an earning row is written.

// microsPerCent converts centavos to micro-pesos.
const microsPerCent = 10_000

// dailyInterest computes one day's interest on baseMicros at the
// given annual rate: base * rate / 365, rounded half-up.
func dailyInterest(baseMicros, annualRateMicros int64) int64 {
	product := new(big.Int).Mul(big.NewInt(baseMicros), big.NewInt(annualRateMicros))
	product.Add(product, big.NewInt(182_500_000))
	product.Quo(product, big.NewInt(365_000_000))
	return product.Int64()
}

// microsToCents rounds micro-pesos half-up to centavos.
func microsToCents(micros int64) int64 {
	return (micros + microsPerCent/2) / microsPerCent
}

// formatMicros renders micro-pesos as a six-decimal string, e.g.
// 1972603 -> "1.972603".
func formatMicros(micros int64) string {
	return fmt.Sprintf("%d.%06d", micros/1_000_000, micros%1_000_000)
}

// parseMicros reads a decimal string into micro-pesos, truncating
// digits past the sixth. It accepts the centavo-precision strings
// money.Format writes as well as formatMicros output.
func parseMicros(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	if strings.HasPrefix(s, "-") {
		return 0, false
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	frac = frac[:6]
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || !v.IsInt64() {
		return 0, false
	}
	return v.Int64(), true
}
