package rail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/davigut/pactum/internal/money"
)

// StripeRail moves fiat through Stripe. Deposits arrive as succeeded
// charges tagged with the tracking CLABE in metadata; payouts and
// redemptions go out as Stripe payouts keyed by our reference.
type StripeRail struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripeRail creates a rail backed by the Stripe API.
func NewStripeRail(apiKey string, logger *slog.Logger) *StripeRail {
	if logger == nil {
		logger = slog.Default()
	}
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeRail{api: api, logger: logger}
}

func (s *StripeRail) DetectDeposits(ctx context.Context, clabes []string) ([]Deposit, error) {
	watch := make(map[string]bool, len(clabes))
	for _, c := range clabes {
		watch[c] = true
	}

	params := &stripe.ChargeListParams{}
	params.Context = ctx
	params.Filters.AddFilter("limit", "", "100")

	var deposits []Deposit
	it := s.api.Charges.List(params)
	for it.Next() {
		ch := it.Charge()
		if ch.Status != stripe.ChargeStatusSucceeded {
			continue
		}
		clabe := ch.Metadata["deposit_clabe"]
		if clabe == "" || !watch[clabe] {
			continue
		}
		deposits = append(deposits, Deposit{
			Reference:   ch.ID,
			CLABE:       clabe,
			AmountCents: ch.Amount,
			ReceivedAt:  time.Unix(ch.Created, 0).UTC(),
		})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing charges: %v", ErrUnavailable, err)
	}
	return deposits, nil
}

func (s *StripeRail) InitiatePayout(ctx context.Context, req PayoutRequest) (string, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(string(stripe.CurrencyMXN)),
		Metadata: map[string]string{
			"recipient_email": req.Email,
			"payout_clabe":    req.CLABE,
		},
	}
	params.Context = ctx
	// Stripe deduplicates on the idempotency key, so a retried
	// reference returns the original payout.
	params.IdempotencyKey = stripe.String(req.Reference)
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}

	po, err := s.api.Payouts.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: creating payout %s: %v", ErrUnavailable, req.Reference, err)
	}
	s.logger.Info("payout initiated",
		"payout_id", po.ID,
		"reference", req.Reference,
		"amount", money.Format(req.AmountCents))
	return po.ID, nil
}

func (s *StripeRail) Redeem(ctx context.Context, amountCents int64, reference string) (string, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(string(stripe.CurrencyMXN)),
		Metadata: map[string]string{"purpose": "custody_redemption"},
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(reference)

	po, err := s.api.Payouts.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: redeeming %s: %v", ErrUnavailable, reference, err)
	}
	return po.ID, nil
}

// Compile-time interface check.
var _ Rail = (*StripeRail)(nil)
