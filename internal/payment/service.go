package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/davigut/pactum/internal/commission"
	"github.com/davigut/pactum/internal/idgen"
	"github.com/davigut/pactum/internal/money"
	"github.com/davigut/pactum/internal/profile"
	"github.com/davigut/pactum/internal/validation"
)

// EscrowFactory provisions the custody side of a new payment.
// Implemented by the escrow service.
type EscrowFactory interface {
	CreateForPayment(ctx context.Context, p *Payment) error
}

// Service manages the payment lifecycle surface: creation, approvals,
// and status reads. Status transitions themselves go through the
// escrow engine.
type Service struct {
	store       Store
	profiles    profile.Resolver
	commissions *commission.Service
	escrows     EscrowFactory
	advancer    Advancer
	logger      *slog.Logger
	now         func() time.Time
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

// NewService creates a payment service.
func NewService(store Store, profiles profile.Resolver, commissions *commission.Service, escrows EscrowFactory, opts ...Option) *Service {
	s := &Service{
		store:       store,
		profiles:    profiles,
		commissions: commissions,
		escrows:     escrows,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAdvancer wires the escrow engine in after construction. The
// engine needs the payment store, so it cannot exist first.
func (s *Service) SetAdvancer(a Advancer) { s.advancer = a }

// CreateRequest is the payload for creating a payment.
type CreateRequest struct {
	PayerEmail       string                      `json:"payerEmail"`
	PayeeEmail       string                      `json:"payeeEmail"`
	Amount           string                      `json:"amount"`
	Currency         string                      `json:"currency"`
	Type             Type                        `json:"type"`
	CustodyPercent   string                      `json:"custodyPercent"`
	CustodyDays      int                         `json:"custodyDays"`
	MultisigRequired bool                        `json:"multisigRequired"`
	Commissions      []commission.RecipientInput `json:"commissions,omitempty"`
}

// Create validates the request, persists the payment in pending state,
// registers commission recipients, and provisions the escrow record.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Payment, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	payer, err := s.profiles.ByEmail(ctx, req.PayerEmail)
	if err != nil {
		return nil, fmt.Errorf("resolving payer: %w", err)
	}
	if _, err := s.profiles.ByEmail(ctx, req.PayeeEmail); err != nil {
		return nil, fmt.Errorf("resolving payee: %w", err)
	}

	now := s.now().UTC()
	p := &Payment{
		ID:               idgen.WithPrefix("pay_"),
		PayerEmail:       profile.Normalize(req.PayerEmail),
		PayeeEmail:       profile.Normalize(req.PayeeEmail),
		Amount:           req.Amount,
		Currency:         req.Currency,
		Status:           StatusPending,
		Type:             req.Type,
		MultisigRequired: req.MultisigRequired,
		CustodyPercent:   req.CustodyPercent,
		CustodyDays:      req.CustodyDays,
		DepositCLABE:     payer.DepositCLABE,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if len(req.Commissions) > 0 {
		var totalBps int64
		for _, c := range req.Commissions {
			bps, ok := money.ParsePercent(c.Percent)
			if !ok {
				return nil, ErrInvalidPercent
			}
			totalBps += bps
		}
		p.CommissionPercent = money.FormatPercent(totalBps)
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("persisting payment: %w", err)
	}
	if err := s.store.AppendEvent(ctx, NewEvent(p.ID, "payment_created", "Payment created, awaiting deposit", false)); err != nil {
		return nil, err
	}

	if len(req.Commissions) > 0 {
		if _, err := s.commissions.Register(ctx, p.ID, req.Commissions); err != nil {
			return nil, err
		}
	}
	if err := s.escrows.CreateForPayment(ctx, p); err != nil {
		return nil, fmt.Errorf("provisioning escrow: %w", err)
	}

	s.logger.Info("payment created",
		"payment_id", p.ID,
		"amount", p.Amount,
		"currency", p.Currency,
		"type", string(p.Type),
		"custody_percent", p.CustodyPercent)
	return p, nil
}

func (s *Service) validate(req CreateRequest) error {
	if errs := validation.Validate(
		validation.Required("payerEmail", req.PayerEmail),
		validation.Required("payeeEmail", req.PayeeEmail),
		validation.ValidEmail("payerEmail", req.PayerEmail),
		validation.ValidEmail("payeeEmail", req.PayeeEmail),
		validation.ValidAmount("amount", req.Amount),
		validation.ValidPercent("custodyPercent", req.CustodyPercent),
	); len(errs) > 0 {
		return errs
	}
	if req.Type != TypeStandard && req.Type != TypeDualApproval {
		return fmt.Errorf("unknown payment type %q", req.Type)
	}
	if req.CustodyDays < 0 {
		return fmt.Errorf("custodyDays must not be negative")
	}
	for _, c := range req.Commissions {
		if errs := validation.Validate(
			validation.ValidEmail("commission email", c.Email),
			validation.ValidPercent("commission percent", c.Percent),
		); len(errs) > 0 {
			return errs
		}
	}
	return nil
}

// Party identifies which side of a dual-approval payment is approving.
type Party string

const (
	PartyPayer Party = "payer"
	PartyPayee Party = "payee"
)

// Approve records one side's release approval on a dual-approval
// payment. When both sides have approved, it feeds the state machine.
// Re-approving is a no-op.
func (s *Service) Approve(ctx context.Context, paymentID string, party Party) (*Payment, error) {
	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Type != TypeDualApproval {
		return nil, fmt.Errorf("%w: payment %s does not use dual approval", ErrInvalidState, paymentID)
	}
	if p.Status != StatusCustodyActive {
		return nil, fmt.Errorf("%w: payment %s is %s, approvals only apply during custody", ErrInvalidState, paymentID, p.Status)
	}

	var already bool
	switch party {
	case PartyPayer:
		already = p.PayerApproved
		p.PayerApproved = true
	case PartyPayee:
		already = p.PayeeApproved
		p.PayeeApproved = true
	default:
		return nil, fmt.Errorf("unknown approving party %q", party)
	}
	if already {
		return p, nil
	}

	p.UpdatedAt = s.now().UTC()
	ev := NewEvent(p.ID, "approval_recorded", fmt.Sprintf("%s approved release", party), false)
	if err := s.store.UpdateWithEvent(ctx, p, ev); err != nil {
		return nil, err
	}

	if p.PayerApproved && p.PayeeApproved && s.advancer != nil {
		if err := s.advancer.Advance(ctx, p.ID, EventDualApproval); err != nil {
			return nil, err
		}
		return s.store.Get(ctx, p.ID)
	}
	return p, nil
}

// Get returns a payment by id.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.store.Get(ctx, id)
}

// Events returns the audit trail for a payment.
func (s *Service) Events(ctx context.Context, paymentID string) ([]*Event, error) {
	return s.store.Events(ctx, paymentID)
}
