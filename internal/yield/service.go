package yield

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davigut/pactum/internal/idgen"
	"github.com/davigut/pactum/internal/metrics"
	"github.com/davigut/pactum/internal/money"
)

// Service runs the yield lifecycle: activation, daily accrual, and the
// final payout split.
type Service struct {
	store        Store
	rates        RateProvider
	statuses     PaymentStatuses
	fallbackRate string
	logger       *slog.Logger
	now          func() time.Time
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

// WithFallbackRate overrides the rate used when the provider is down.
func WithFallbackRate(rate string) Option {
	return func(s *Service) { s.fallbackRate = rate }
}

// WithPaymentStatuses wires the payment status lookup that gates daily
// accrual. Without it every active activation accrues.
func WithPaymentStatuses(ps PaymentStatuses) Option {
	return func(s *Service) { s.statuses = ps }
}

// NewService creates a yield service.
func NewService(store Store, rates RateProvider, opts ...Option) *Service {
	s := &Service{
		store:        store,
		rates:        rates,
		fallbackRate: DefaultAnnualRate,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Activate opts a payment's custody into yield. principalCents is the
// custody amount. Activating twice returns ErrAlreadyActive.
func (s *Service) Activate(ctx context.Context, paymentID string, principalCents int64) (*Activation, error) {
	if _, err := s.store.ActivationByPayment(ctx, paymentID); err == nil {
		return nil, ErrAlreadyActive
	} else if !errors.Is(err, ErrActivationNotFound) {
		return nil, err
	}
	if principalCents <= 0 {
		return nil, fmt.Errorf("principal must be positive, got %d", principalCents)
	}

	a := &Activation{
		ID:          idgen.WithPrefix("yld_"),
		PaymentID:   paymentID,
		Principal:   money.Format(principalCents),
		AnnualRate:  s.currentRate(ctx),
		Status:      StatusActive,
		ActivatedAt: s.now().UTC(),
	}
	if err := s.store.CreateActivation(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("yield activated",
		"activation_id", a.ID,
		"payment_id", paymentID,
		"principal", a.Principal,
		"annual_rate", a.AnnualRate)
	return a, nil
}

// currentRate asks the provider and falls back to the configured
// default when it is unreachable.
func (s *Service) currentRate(ctx context.Context) string {
	if s.rates == nil {
		return s.fallbackRate
	}
	rate, err := s.rates.CurrentRate(ctx)
	if err != nil {
		s.logger.Warn("yield rate provider unavailable, using fallback",
			"fallback", s.fallbackRate,
			"error", err)
		return s.fallbackRate
	}
	return rate
}

// RunDaily accrues one earning row per active activation for the given
// date. Running twice for the same date is a no-op: the (activation,
// date) uniqueness makes the job idempotent. Activations whose payment
// has left an earning status are skipped, not failed: they accrue
// again if the payment recovers, and Complete still pays out whatever
// was accrued before the payment stalled.
func (s *Service) RunDaily(ctx context.Context, date time.Time) error {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		metrics.YieldRunsTotal.WithLabelValues("failed").Inc()
		return err
	}

	day := date.UTC().Format("2006-01-02")
	rate := s.currentRate(ctx)
	rateM, ok := rateMicros(rate)
	if !ok {
		rateM, _ = rateMicros(s.fallbackRate)
	}

	var failed int
	for _, a := range active {
		if s.statuses != nil {
			status, err := s.statuses.PaymentStatus(ctx, a.PaymentID)
			if err != nil {
				failed++
				s.logger.Error("yield accrual failed",
					"activation_id", a.ID,
					"payment_id", a.PaymentID,
					"date", day,
					"error", err)
				continue
			}
			if !accrues(status) {
				continue
			}
		}
		if err := s.accrueOne(ctx, a, day, rateM); err != nil {
			failed++
			s.logger.Error("yield accrual failed",
				"activation_id", a.ID,
				"date", day,
				"error", err)
		}
	}
	if failed > 0 {
		metrics.YieldRunsTotal.WithLabelValues("partial").Inc()
		return fmt.Errorf("%d of %d accruals failed for %s", failed, len(active), day)
	}
	metrics.YieldRunsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *Service) accrueOne(ctx context.Context, a *Activation, day string, rateM int64) error {
	principal, ok := money.Parse(a.Principal)
	if !ok {
		return fmt.Errorf("activation %s has malformed principal %q", a.ID, a.Principal)
	}

	var cumulative int64 // micro-pesos
	latest, err := s.store.LatestEarning(ctx, a.ID)
	switch {
	case err == nil:
		if latest.Date >= day {
			// Already accrued for this date (or we are replaying an
			// older date); nothing to do.
			return nil
		}
		cumulative, ok = parseMicros(latest.Cumulative)
		if !ok {
			return fmt.Errorf("activation %s has malformed cumulative %q", a.ID, latest.Cumulative)
		}
	case errors.Is(err, ErrActivationNotFound):
		// No earnings yet.
	default:
		return err
	}

	amount := dailyInterest(principal*microsPerCent+cumulative, rateM)
	e := &Earning{
		ID:           idgen.WithPrefix("ern_"),
		ActivationID: a.ID,
		Date:         day,
		Amount:       money.Format(microsToCents(amount)),
		Cumulative:   formatMicros(cumulative + amount),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.InsertEarning(ctx, e); err != nil {
		if errors.Is(err, ErrAlreadyAccrued) {
			return nil
		}
		return err
	}
	return nil
}

// Complete ends accrual for a payment and records the final split:
// the payer keeps PayerShareBps of the accumulated yield, the platform
// the remainder. Completing twice returns the existing payout.
func (s *Service) Complete(ctx context.Context, paymentID string) (*Payout, error) {
	a, err := s.store.ActivationByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.PayoutByActivation(ctx, a.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrActivationNotFound) {
		return nil, err
	}

	var total int64
	if latest, err := s.store.LatestEarning(ctx, a.ID); err == nil {
		micros, _ := parseMicros(latest.Cumulative)
		total = microsToCents(micros)
	} else if !errors.Is(err, ErrActivationNotFound) {
		return nil, err
	}

	payerShare := money.ApplyPercent(total, PayerShareBps)
	now := s.now().UTC()
	p := &Payout{
		ID:            idgen.WithPrefix("ypo_"),
		ActivationID:  a.ID,
		PaymentID:     paymentID,
		TotalYield:    money.Format(total),
		PayerShare:    money.Format(payerShare),
		PlatformShare: money.Format(total - payerShare),
		CreatedAt:     now,
	}
	if err := s.store.CreatePayout(ctx, p); err != nil {
		return nil, err
	}

	a.Status = StatusCompleted
	a.EndedAt = &now
	if err := s.store.UpdateActivation(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("yield completed",
		"activation_id", a.ID,
		"payment_id", paymentID,
		"total_yield", p.TotalYield,
		"payer_share", p.PayerShare)
	return p, nil
}

// Summary is the full yield view for one payment.
type Summary struct {
	Activation *Activation `json:"activation"`
	Earnings   []*Earning  `json:"earnings"`
	Payout     *Payout     `json:"payout,omitempty"`
}

// SummaryFor returns the activation, earnings, and payout (if any)
// for a payment.
func (s *Service) SummaryFor(ctx context.Context, paymentID string) (*Summary, error) {
	a, err := s.store.ActivationByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	earnings, err := s.store.Earnings(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Activation: a, Earnings: earnings}
	if p, err := s.store.PayoutByActivation(ctx, a.ID); err == nil {
		summary.Payout = p
	} else if !errors.Is(err, ErrActivationNotFound) {
		return nil, err
	}
	return summary, nil
}

// IsActive reports whether a payment has an active yield activation.
func (s *Service) IsActive(ctx context.Context, paymentID string) (bool, error) {
	a, err := s.store.ActivationByPayment(ctx, paymentID)
	if errors.Is(err, ErrActivationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.Status == StatusActive, nil
}
