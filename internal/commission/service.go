package commission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/davigut/pactum/internal/idgen"
	"github.com/davigut/pactum/internal/money"
)

// Disburser sends a fiat payout to a recipient. reference is an
// idempotency key: sending the same reference twice must not move
// money twice. Implemented by the rail adapter.
type Disburser interface {
	InitiatePayout(ctx context.Context, email string, amountCents int64, reference string) (string, error)
}

// Service manages commission recipients for payments.
type Service struct {
	store     Store
	disburser Disburser
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a commission service.
func NewService(store Store, disburser Disburser, opts ...Option) *Service {
	s := &Service{
		store:     store,
		disburser: disburser,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecipientInput is one requested commission beneficiary.
type RecipientInput struct {
	Email   string `json:"email"`
	Percent string `json:"percent"`
}

// Register validates and persists the recipient set for a payment.
// The percentages must sum to at most 100%.
func (s *Service) Register(ctx context.Context, paymentID string, inputs []RecipientInput) ([]*Recipient, error) {
	now := s.now().UTC()
	recipients := make([]*Recipient, 0, len(inputs))
	for _, in := range inputs {
		recipients = append(recipients, &Recipient{
			ID:        idgen.WithPrefix("com_"),
			PaymentID: paymentID,
			Email:     in.Email,
			Percent:   in.Percent,
			CreatedAt: now,
		})
	}
	// Validate the set as a whole before persisting any row.
	if _, err := ComputeSplit(0, recipients); err != nil {
		return nil, err
	}
	for _, r := range recipients {
		if err := s.store.Put(ctx, r); err != nil {
			return nil, fmt.Errorf("persisting recipient: %w", err)
		}
	}
	return recipients, nil
}

// Freeze computes and stores the final commission amounts from the
// funded payment total. Called once when the deposit is confirmed.
func (s *Service) Freeze(ctx context.Context, paymentID string, amountCents int64) (*Split, error) {
	recipients, err := s.store.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	split, err := ComputeSplit(amountCents, recipients)
	if err != nil {
		return nil, err
	}
	for _, r := range recipients {
		r.Amount = money.Format(split.Shares[r.ID])
		if err := s.store.Update(ctx, r); err != nil {
			return nil, err
		}
	}
	return split, nil
}

// Distribute pays every unpaid recipient of the payment, one at a
// time. Already-paid rows are skipped, so the call is safe to repeat
// after a partial failure: it resumes where it stopped.
func (s *Service) Distribute(ctx context.Context, paymentID string) error {
	recipients, err := s.store.ListByPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	for _, r := range recipients {
		if r.Paid {
			continue
		}
		// money.Parse treats "" as zero, which would mark a recipient
		// whose split was never computed as paid at nothing.
		if r.Amount == "" {
			return fmt.Errorf("recipient %s has no computed amount", r.ID)
		}
		amount, ok := money.Parse(r.Amount)
		if !ok {
			return fmt.Errorf("recipient %s has malformed amount %q", r.ID, r.Amount)
		}
		if amount == 0 {
			// Nothing to send; mark paid so we never retry it.
			if err := s.markPaid(ctx, r, ""); err != nil {
				return err
			}
			continue
		}
		reference := "commission-" + r.ID
		payoutRef, err := s.disburser.InitiatePayout(ctx, r.Email, amount, reference)
		if err != nil {
			return fmt.Errorf("commission payout to %s: %w", r.Email, err)
		}
		if err := s.markPaid(ctx, r, payoutRef); err != nil {
			return err
		}
		s.logger.Info("commission paid",
			"payment_id", paymentID,
			"recipient", r.Email,
			"amount", r.Amount,
			"payout_ref", payoutRef)
	}
	return nil
}

// MarkPaid records a completed payout for one recipient. Calling it
// twice is a no-op.
func (s *Service) MarkPaid(ctx context.Context, recipientID, payoutRef string) error {
	r, err := s.store.Get(ctx, recipientID)
	if err != nil {
		return err
	}
	if r.Paid {
		return nil
	}
	return s.markPaid(ctx, r, payoutRef)
}

func (s *Service) markPaid(ctx context.Context, r *Recipient, payoutRef string) error {
	now := s.now().UTC()
	r.Paid = true
	r.PaidAt = &now
	r.PayoutRef = payoutRef
	return s.store.Update(ctx, r)
}

// ListByPayment returns the recipients registered for a payment.
func (s *Service) ListByPayment(ctx context.Context, paymentID string) ([]*Recipient, error) {
	return s.store.ListByPayment(ctx, paymentID)
}
