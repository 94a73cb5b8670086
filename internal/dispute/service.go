package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davigut/pactum/internal/idgen"
	"github.com/davigut/pactum/internal/payment"
)

// Service manages the dispute lifecycle and answers the one question
// the release paths ask: is this payment blocked?
type Service struct {
	store    Store
	advancer payment.Advancer
	logger   *slog.Logger
	now      func() time.Time
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

// NewService creates a dispute service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAdvancer wires the escrow engine in after construction.
func (s *Service) SetAdvancer(a payment.Advancer) { s.advancer = a }

// IsBlocked reports whether the payment has an open dispute. Every
// release path must check this before moving money.
func (s *Service) IsBlocked(ctx context.Context, paymentID string) (bool, error) {
	_, err := s.store.OpenByPayment(ctx, paymentID)
	if errors.Is(err, ErrDisputeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Open raises a dispute against a payment. If one is already open,
// the existing dispute is returned unchanged: raising twice is a
// no-op, not an error.
func (s *Service) Open(ctx context.Context, paymentID, raisedBy, reason string) (*Dispute, error) {
	if existing, err := s.store.OpenByPayment(ctx, paymentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrDisputeNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	d := &Dispute{
		ID:        idgen.WithPrefix("dsp_"),
		PaymentID: paymentID,
		RaisedBy:  raisedBy,
		Reason:    reason,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("persisting dispute: %w", err)
	}

	s.logger.Info("dispute opened",
		"dispute_id", d.ID,
		"payment_id", paymentID,
		"raised_by", raisedBy)

	if s.advancer != nil {
		if err := s.advancer.Advance(ctx, paymentID, payment.EventDisputeOpened); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Resolve closes a dispute with the given outcome and feeds the state
// machine so custody can move (or the window resume). Resolving an
// already-resolved dispute returns ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, disputeID string, outcome Outcome, resolvedBy, note string) (*Dispute, error) {
	switch outcome {
	case OutcomeFavorPayer, OutcomeFavorPayee, OutcomeSplit:
	default:
		return nil, fmt.Errorf("unknown dispute outcome %q", outcome)
	}

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusResolved {
		return nil, ErrAlreadyResolved
	}

	now := s.now().UTC()
	d.Status = StatusResolved
	d.Outcome = outcome
	d.Resolution = note
	d.ResolvedBy = resolvedBy
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("dispute resolved",
		"dispute_id", d.ID,
		"payment_id", d.PaymentID,
		"outcome", string(outcome),
		"resolved_by", resolvedBy)

	if s.advancer != nil {
		if err := s.advancer.Advance(ctx, d.PaymentID, payment.EventDisputeResolved); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// OutcomeFor returns the resolution outcome of the most recently
// resolved dispute for a payment. The engine reads this when the
// state machine processes a dispute_resolved event.
func (s *Service) OutcomeFor(ctx context.Context, paymentID string) (Outcome, error) {
	disputes, err := s.store.ListByPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	var latest *Dispute
	for _, d := range disputes {
		if d.Status != StatusResolved || d.ResolvedAt == nil {
			continue
		}
		if latest == nil || d.ResolvedAt.After(*latest.ResolvedAt) {
			latest = d
		}
	}
	if latest == nil {
		return "", ErrDisputeNotFound
	}
	return latest.Outcome, nil
}

// OpenFor returns the open dispute for a payment, or
// ErrDisputeNotFound when there is none.
func (s *Service) OpenFor(ctx context.Context, paymentID string) (*Dispute, error) {
	return s.store.OpenByPayment(ctx, paymentID)
}

// Get returns a dispute by id.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// ListByPayment returns every dispute ever raised against a payment.
func (s *Service) ListByPayment(ctx context.Context, paymentID string) ([]*Dispute, error) {
	return s.store.ListByPayment(ctx, paymentID)
}

// AddMessage appends to a dispute's discussion thread.
func (s *Service) AddMessage(ctx context.Context, disputeID, author, body string) (*Message, error) {
	if _, err := s.store.Get(ctx, disputeID); err != nil {
		return nil, err
	}
	m := &Message{
		ID:        idgen.WithPrefix("dmg_"),
		DisputeID: disputeID,
		Author:    author,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AddMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Messages returns a dispute's discussion thread in order.
func (s *Service) Messages(ctx context.Context, disputeID string) ([]*Message, error) {
	return s.store.Messages(ctx, disputeID)
}
