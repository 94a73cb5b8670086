// Package dispute guards custody releases.
//
// An open dispute freezes every release path for its payment,
// including custody expiry and dual approval. Resolution either hands
// the whole custody back to one side or lets the normal flow resume.
package dispute

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrAlreadyResolved = errors.New("dispute already resolved")
)

// Status is the lifecycle state of a dispute.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Outcome is the resolution of a dispute.
type Outcome string

const (
	// OutcomeFavorPayer returns the full custody to the payer.
	OutcomeFavorPayer Outcome = "favor_payer"
	// OutcomeFavorPayee releases the full custody to the payee.
	OutcomeFavorPayee Outcome = "favor_payee"
	// OutcomeSplit refunds half the custody to the payer and releases
	// the rest to the payee.
	OutcomeSplit Outcome = "split"
)

// Dispute is one dispute raised against a payment's custody.
type Dispute struct {
	ID         string     `json:"id"`
	PaymentID  string     `json:"paymentId"`
	RaisedBy   string     `json:"raisedBy"` // Email of the raising party
	Reason     string     `json:"reason"`
	Status     Status     `json:"status"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	Resolution string     `json:"resolution,omitempty"` // Operator note
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Message is one entry in a dispute's discussion thread.
type Message struct {
	ID        string    `json:"id"`
	DisputeID string    `json:"disputeId"`
	Author    string    `json:"author"` // Email
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists disputes and their message threads.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	// OpenByPayment returns the open dispute for a payment, or
	// ErrDisputeNotFound when there is none.
	OpenByPayment(ctx context.Context, paymentID string) (*Dispute, error)
	ListByPayment(ctx context.Context, paymentID string) ([]*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	AddMessage(ctx context.Context, m *Message) error
	Messages(ctx context.Context, disputeID string) ([]*Message, error)
}
