// Package payment defines the payment aggregate and its append-only
// event log.
//
// A Payment is the logical agreement between payer and payee. Custody
// mechanics live in the escrow package; this package owns the money
// figures, the lifecycle status, and the audit trail. Every status
// change is persisted together with an Event row in one transaction.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/davigut/pactum/internal/idgen"
	"github.com/davigut/pactum/internal/money"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrInvalidAmount   = errors.New("invalid payment amount")
	ErrInvalidPercent  = errors.New("invalid percentage")
	// ErrInvalidState means the operation does not apply to the
	// payment's current status.
	ErrInvalidState = errors.New("invalid payment state")
)

// Status represents the lifecycle state of a payment.
type Status string

const (
	StatusPending        Status = "pending"         // Created, waiting for deposit
	StatusFunded         Status = "funded"          // Deposit detected on the fiat rail
	StatusCustodyActive  Status = "custody_active"  // Custody portion locked on-chain
	StatusDisputed       Status = "disputed"        // Dispute open, all releases frozen
	StatusReleasePending Status = "release_pending" // Release authorized, awaiting execution
	StatusReleased       Status = "released"        // On-chain release confirmed
	StatusPayoutPending  Status = "payout_pending"  // Fiat payout in flight
	StatusCompleted      Status = "completed"       // Terminal: funds delivered
	StatusFailed         Status = "failed"          // Terminal: parked for manual review
)

// IsTerminal returns true if the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type distinguishes release authorization models.
type Type string

const (
	// TypeStandard releases custody when the custody window expires.
	TypeStandard Type = "standard"
	// TypeDualApproval releases only when both parties approve,
	// regardless of the custody deadline.
	TypeDualApproval Type = "dual_approval"
)

// EventKind is an input to the escrow state machine.
type EventKind string

const (
	EventDepositConfirmed    EventKind = "deposit_confirmed"
	EventCustodyExpired      EventKind = "custody_expired"
	EventDualApproval        EventKind = "dual_approval_received"
	EventDisputeOpened       EventKind = "dispute_opened"
	EventDisputeResolved     EventKind = "dispute_resolved"
	EventReleaseExecuted     EventKind = "release_executed"
	EventPayoutConfirmed     EventKind = "payout_confirmed"
)

// Payment is the logical payment agreement.
type Payment struct {
	ID         string `json:"id"`
	PayerEmail string `json:"payerEmail"`
	PayeeEmail string `json:"payeeEmail"`
	Amount     string `json:"amount"` // Decimal string, 2 places
	Currency   string `json:"currency"`
	Status     Status `json:"status"`
	Type       Type   `json:"type"`

	MultisigRequired bool `json:"multisigRequired"`

	// Commission: total percent withheld for recipients, validated
	// against the recipient rows in the commission package.
	CommissionPercent     string `json:"commissionPercent,omitempty"`
	CommissionBeneficiary string `json:"commissionBeneficiary,omitempty"`

	// Custody terms: percent of the amount held on-chain and for how long.
	CustodyPercent string `json:"custodyPercent"`
	CustodyDays    int    `json:"custodyDays"`

	// Dual approval flags.
	PayerApproved bool `json:"payerApproved"`
	PayeeApproved bool `json:"payeeApproved"`

	// Boundary-crossing references; each doubles as an idempotency key.
	DepositCLABE string `json:"depositClabe,omitempty"`
	DepositRef   string `json:"depositRef,omitempty"`
	PayoutRef    string `json:"payoutRef,omitempty"`

	// RetryCount tracks downstream failures for the current stage.
	RetryCount    int    `json:"retryCount,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AmountCents parses the payment amount into centavos.
func (p *Payment) AmountCents() (int64, bool) {
	v, ok := money.Parse(p.Amount)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// CustodyCents returns the custody portion of the amount in centavos.
func (p *Payment) CustodyCents() (int64, bool) {
	amount, ok := p.AmountCents()
	if !ok {
		return 0, false
	}
	bps, ok := money.ParsePercent(p.CustodyPercent)
	if !ok || bps < 0 || bps > 10000 {
		return 0, false
	}
	return money.ApplyPercent(amount, bps), true
}

// Event is one append-only audit record for a payment.
type Event struct {
	ID          string    `json:"id"`
	PaymentID   string    `json:"paymentId"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Automatic   bool      `json:"automatic"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewEvent builds an event row with a fresh id.
func NewEvent(paymentID, eventType, description string, automatic bool) *Event {
	return &Event{
		ID:          idgen.WithPrefix("evt_"),
		PaymentID:   paymentID,
		Type:        eventType,
		Description: description,
		Automatic:   automatic,
		CreatedAt:   time.Now().UTC(),
	}
}

// Store persists payments and their event log.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	// UpdateWithEvent persists the payment mutation and appends the
	// event in one atomic unit. Passing a nil event is an error: every
	// status change must leave an audit row.
	UpdateWithEvent(ctx context.Context, p *Payment, ev *Event) error
	AppendEvent(ctx context.Context, ev *Event) error
	Events(ctx context.Context, paymentID string) ([]*Event, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Payment, error)
}

// Advancer drives the escrow state machine. Implemented by the escrow
// engine; declared here so HTTP handlers can feed events without
// importing the orchestrator.
type Advancer interface {
	Advance(ctx context.Context, paymentID string, kind EventKind) error
}
