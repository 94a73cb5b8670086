package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davigut/pactum/internal/chain"
	"github.com/davigut/pactum/internal/commission"
	"github.com/davigut/pactum/internal/dispute"
	"github.com/davigut/pactum/internal/idgen"
	"github.com/davigut/pactum/internal/metrics"
	"github.com/davigut/pactum/internal/money"
	"github.com/davigut/pactum/internal/notify"
	"github.com/davigut/pactum/internal/payment"
	"github.com/davigut/pactum/internal/profile"
	"github.com/davigut/pactum/internal/rail"
	"github.com/davigut/pactum/internal/retry"
	"github.com/davigut/pactum/internal/syncutil"
	"github.com/davigut/pactum/internal/yield"
)

// ErrDisputeActive short-circuits every release path while a dispute
// is open, including scheduler-driven ones.
var ErrDisputeActive = errors.New("escrow: dispute active, release blocked")

// Guard answers whether a payment's releases are frozen and, once a
// dispute is resolved, with what outcome. Implemented by the dispute
// service.
type Guard interface {
	IsBlocked(ctx context.Context, paymentID string) (bool, error)
	OutcomeFor(ctx context.Context, paymentID string) (dispute.Outcome, error)
}

// Releaser opens a multisig approval request for a custody release.
// Implemented by the multisig coordinator; the request executes
// asynchronously and feeds release_executed back into the engine.
type Releaser interface {
	RequestRelease(ctx context.Context, paymentID, amount string) (string, error)
}

// Commissions freezes and distributes the commission split.
// Implemented by the commission service.
type Commissions interface {
	Freeze(ctx context.Context, paymentID string, amountCents int64) (*commission.Split, error)
	Distribute(ctx context.Context, paymentID string) error
}

// YieldEngine activates accrual when custody starts and settles it at
// the end. Implemented by the yield service.
type YieldEngine interface {
	Activate(ctx context.Context, paymentID string, principalCents int64) (*yield.Activation, error)
	Complete(ctx context.Context, paymentID string) (*yield.Payout, error)
}

// Notifier queues a webhook notification for async delivery.
// Implemented by the outbox dispatcher.
type Notifier interface {
	Enqueue(ctx context.Context, email string, eventType notify.EventType, data map[string]interface{}) error
}

// Engine is the payment state machine orchestrator.
//
// Advance is the single entry point: schedulers, webhooks, and
// operator actions all feed events through it. Work for one payment is
// serialized through a keyed mutex, and every gating state is re-read
// from the store under that lock, so concurrent schedulers race
// harmlessly.
type Engine struct {
	escrows     Store
	payments    payment.Store
	profiles    profile.Resolver
	guard       Guard
	custody     chain.CustodyClient
	fiat        rail.Rail
	commissions Commissions
	yields      YieldEngine

	releaser Releaser
	notifier Notifier

	locks          *syncutil.KeyedMutex
	logger         *slog.Logger
	now            func() time.Time
	maxAttempts    int
	baseDelay      time.Duration
	leaseTTL       time.Duration
	confirmTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRetryPolicy bounds downstream-call retries.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(e *Engine) {
		e.maxAttempts = maxAttempts
		e.baseDelay = baseDelay
	}
}

// WithLeaseTTL sets how long a creation lease is held before expiring.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.leaseTTL = ttl }
}

// NewEngine creates the orchestration engine.
func NewEngine(
	escrows Store,
	payments payment.Store,
	profiles profile.Resolver,
	guard Guard,
	custody chain.CustodyClient,
	fiat rail.Rail,
	commissions Commissions,
	yields YieldEngine,
	opts ...Option,
) *Engine {
	e := &Engine{
		escrows:        escrows,
		payments:       payments,
		profiles:       profiles,
		guard:          guard,
		custody:        custody,
		fiat:           fiat,
		commissions:    commissions,
		yields:         yields,
		locks:          syncutil.NewKeyedMutex(),
		logger:         slog.Default(),
		now:            time.Now,
		maxAttempts:    3,
		baseDelay:      2 * time.Second,
		leaseTTL:       2 * time.Minute,
		confirmTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetReleaser wires the multisig coordinator in after construction.
// The coordinator needs the engine as its advancer, so it cannot
// exist first.
func (e *Engine) SetReleaser(r Releaser) { e.releaser = r }

// SetNotifier wires the outbox in after construction.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// CreateForPayment provisions the escrow row for a new payment. The
// custody split is fixed here; nothing touches the chain until the
// deposit lands.
func (e *Engine) CreateForPayment(ctx context.Context, p *payment.Payment) error {
	amount, ok := p.AmountCents()
	if !ok {
		return payment.ErrInvalidAmount
	}
	custody, ok := p.CustodyCents()
	if !ok {
		return payment.ErrInvalidPercent
	}

	now := e.now().UTC()
	es := &Escrow{
		ID:            idgen.WithPrefix("esc_"),
		PaymentID:     p.ID,
		CustodyAmount: money.Format(custody),
		ReleaseAmount: money.Format(amount - custody),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return e.escrows.Create(ctx, es)
}

// Summary returns the custody view for a payment's status response.
func (e *Engine) Summary(ctx context.Context, paymentID string) (*payment.EscrowSummary, error) {
	es, err := e.escrows.GetByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	s := &payment.EscrowSummary{
		ID:             es.ID,
		Status:         string(es.Status),
		CustodyAmount:  es.CustodyAmount,
		ReleaseAmount:  es.ReleaseAmount,
		OnchainTxHash:  es.OnchainTxHash,
		YieldActivated: es.YieldActivated,
	}
	if !es.CustodyEnd.IsZero() {
		s.CustodyEnd = es.CustodyEnd.UTC().Format(time.RFC3339)
	}
	if blocked, err := e.guard.IsBlocked(ctx, paymentID); err == nil && blocked {
		s.DisputeStatus = string(dispute.StatusOpen)
	}
	return s, nil
}

// CustodyPrincipal returns the custody amount in centavos, the
// principal that yield accrues on.
func (e *Engine) CustodyPrincipal(ctx context.Context, paymentID string) (int64, error) {
	es, err := e.escrows.GetByPayment(ctx, paymentID)
	if err != nil {
		return 0, err
	}
	return es.CustodyCents(), nil
}

// Advance feeds one event into the state machine. An event that does
// not apply to the payment's current status is a no-op logged as
// ignored: concurrent schedulers may race harmlessly. A downstream
// failure that survives the retry budget parks the payment as failed
// and notifies the operator; it is never silently dropped.
func (e *Engine) Advance(ctx context.Context, paymentID string, kind payment.EventKind) error {
	unlock, err := e.locks.Lock(ctx, paymentID)
	if err != nil {
		return err
	}
	defer unlock()

	p, err := e.payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}

	if !eventApplies(kind, p.Status) {
		e.logger.Info("event ignored",
			"payment_id", p.ID,
			"event", string(kind),
			"status", string(p.Status))
		metrics.TransitionsTotal.WithLabelValues(string(kind), "ignored").Inc()
		return nil
	}

	switch kind {
	case payment.EventDepositConfirmed:
		err = e.handleDepositConfirmed(ctx, p)
	case payment.EventCustodyExpired:
		err = e.handleCustodyExpired(ctx, p)
	case payment.EventDualApproval:
		err = e.handleDualApproval(ctx, p)
	case payment.EventDisputeOpened:
		err = e.handleDisputeOpened(ctx, p)
	case payment.EventDisputeResolved:
		err = e.handleDisputeResolved(ctx, p)
	case payment.EventReleaseExecuted:
		err = e.handleReleaseExecuted(ctx, p)
	case payment.EventPayoutConfirmed:
		err = e.handlePayoutConfirmed(ctx, p)
	default:
		err = fmt.Errorf("unknown event kind %q", kind)
	}

	if errors.Is(err, ErrDisputeActive) {
		e.logger.Info("release blocked by open dispute",
			"payment_id", p.ID, "event", string(kind))
		metrics.TransitionsTotal.WithLabelValues(string(kind), "ignored").Inc()
		return nil
	}
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(kind), "failed").Inc()
		return e.park(ctx, p, kind, err)
	}
	metrics.TransitionsTotal.WithLabelValues(string(kind), "applied").Inc()
	return nil
}

// handleDepositConfirmed moves pending → funded → custody_active,
// paying the non-custody portion out to the payee and locking the
// custody portion on-chain under the creation lease. Every step checks
// persisted state first so an interrupted run resumes cleanly.
func (e *Engine) handleDepositConfirmed(ctx context.Context, p *payment.Payment) error {
	if p.Status == payment.StatusPending {
		p.Status = payment.StatusFunded
		p.UpdatedAt = e.now().UTC()
		ev := payment.NewEvent(p.ID, "deposit_confirmed", "Deposit detected on the fiat rail", true)
		if err := e.payments.UpdateWithEvent(ctx, p, ev); err != nil {
			return err
		}
		e.notifyParties(ctx, p, notify.EventPaymentFunded, map[string]interface{}{
			"amount": p.Amount,
		})
	}

	es, err := e.escrows.GetByPayment(ctx, p.ID)
	if err != nil {
		return err
	}

	// Upfront split: the payee receives the non-custody portion as
	// soon as the deposit lands. The rail reference dedupes retries.
	if es.ReleaseCents() > 0 && es.UpfrontPayoutRef == "" {
		payee, err := e.profiles.ByEmail(ctx, p.PayeeEmail)
		if err != nil {
			return err
		}
		var payoutID string
		err = e.retry(ctx, func() error {
			var err error
			payoutID, err = e.fiat.InitiatePayout(ctx, rail.PayoutRequest{
				Email:       p.PayeeEmail,
				CLABE:       payee.PayoutCLABE,
				AmountCents: es.ReleaseCents(),
				Reference:   "upfront-" + p.ID,
				Description: "Upfront release for payment " + p.ID,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("upfront payout: %w", err)
		}
		es.UpfrontPayoutRef = payoutID
		es.UpdatedAt = e.now().UTC()
		if err := e.escrows.Update(ctx, es); err != nil {
			return err
		}
	}

	if es.Status == StatusPending {
		if err := e.createCustody(ctx, p, es); err != nil {
			return err
		}
		// Re-read: createCustody may have deferred to a lease holder.
		es, err = e.escrows.GetByPayment(ctx, p.ID)
		if err != nil {
			return err
		}
	}

	if es.Status != StatusActive {
		return nil // lease held elsewhere; the next tick resumes
	}

	if p.Status == payment.StatusFunded {
		p.Status = payment.StatusCustodyActive
		p.UpdatedAt = e.now().UTC()
		ev := payment.NewEvent(p.ID, "custody_started",
			fmt.Sprintf("Custody of %s locked on-chain until %s", es.CustodyAmount, es.CustodyEnd.UTC().Format(time.RFC3339)), true)
		if err := e.payments.UpdateWithEvent(ctx, p, ev); err != nil {
			return err
		}
		e.notifyParties(ctx, p, notify.EventCustodyStarted, map[string]interface{}{
			"custodyAmount": es.CustodyAmount,
			"custodyEnd":    es.CustodyEnd.UTC().Format(time.RFC3339),
		})
	}

	if !es.YieldActivated {
		if _, err := e.yields.Activate(ctx, p.ID, es.CustodyCents()); err != nil && !errors.Is(err, yield.ErrAlreadyActive) {
			e.logger.Warn("yield activation failed, flagged for reconciliation",
				"payment_id", p.ID, "error", err)
			metrics.ReconciliationWarnings.Inc()
		}
		es.YieldActivated = true
		es.UpdatedAt = e.now().UTC()
		if err := e.escrows.Update(ctx, es); err != nil {
			return err
		}
	}
	return nil
}

// createCustody locks the custody amount on-chain. The advisory lease
// guarantees a webhook and a scheduler tick racing here never create
// the escrow twice; the loser defers and the next tick finds the row
// active.
func (e *Engine) createCustody(ctx context.Context, p *payment.Payment, es *Escrow) error {
	acquired, err := e.escrows.AcquireCreationLease(ctx, p.ID, e.leaseTTL)
	if err != nil {
		return err
	}
	if !acquired {
		e.logger.Info("custody creation deferred, lease held", "payment_id", p.ID)
		return nil
	}
	defer func() {
		if err := e.escrows.ReleaseCreationLease(ctx, p.ID); err != nil {
			e.logger.Warn("failed to release creation lease", "payment_id", p.ID, "error", err)
		}
	}()

	// Re-read under the lease: the previous holder may have finished.
	es, err = e.escrows.GetByPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	if es.Status != StatusPending {
		return nil
	}

	if es.OnchainTxHash == "" {
		deadline := e.now().UTC().Add(time.Duration(p.CustodyDays) * 24 * time.Hour)
		var txHash string
		err = e.retry(ctx, func() error {
			var err error
			txHash, err = e.custody.CreateEscrow(ctx, p.ID, money.TokenUnits(es.CustodyCents()), deadline)
			return err
		})
		if err != nil {
			return fmt.Errorf("on-chain custody creation: %w", err)
		}
		es.OnchainTxHash = txHash
		es.CustodyEnd = deadline
		es.UpdatedAt = e.now().UTC()
		if err := e.escrows.Update(ctx, es); err != nil {
			return err
		}
	}

	if err := e.custody.WaitForConfirmation(ctx, es.OnchainTxHash, e.confirmTimeout); err != nil {
		return fmt.Errorf("custody creation confirmation: %w", err)
	}
	es.Status = StatusActive
	es.UpdatedAt = e.now().UTC()
	return e.escrows.Update(ctx, es)
}

func (e *Engine) handleCustodyExpired(ctx context.Context, p *payment.Payment) error {
	if p.Type == payment.TypeDualApproval && !(p.PayerApproved && p.PayeeApproved) {
		// Dual-approval custody does not release on expiry alone.
		e.logger.Info("custody expired but approvals incomplete, holding",
			"payment_id", p.ID,
			"payer_approved", p.PayerApproved,
			"payee_approved", p.PayeeApproved)
		return nil
	}
	return e.startRelease(ctx, p, true, "Custody window expired")
}

func (e *Engine) handleDualApproval(ctx context.Context, p *payment.Payment) error {
	if p.Type != payment.TypeDualApproval {
		return nil
	}
	if !(p.PayerApproved && p.PayeeApproved) {
		return nil
	}
	return e.startRelease(ctx, p, false, "Both parties approved the release")
}

// startRelease authorizes the custody release and either executes it
// directly (single signer) or hands it to the multisig coordinator.
// The dispute guard is consulted first, always.
func (e *Engine) startRelease(ctx context.Context, p *payment.Payment, automatic bool, reason string) error {
	blocked, err := e.guard.IsBlocked(ctx, p.ID)
	if err != nil {
		return err
	}
	if blocked {
		return ErrDisputeActive
	}

	es, err := e.escrows.GetByPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	if es.Status != StatusActive {
		return fmt.Errorf("custody not active for release (escrow status %s)", es.Status)
	}

	p.Status = payment.StatusReleasePending
	p.UpdatedAt = e.now().UTC()
	ev := payment.NewEvent(p.ID, "release_authorized", reason, automatic)
	if err := e.payments.UpdateWithEvent(ctx, p, ev); err != nil {
		return err
	}

	if p.MultisigRequired {
		if e.releaser == nil {
			return errors.New("multisig release required but no coordinator wired")
		}
		reqID, err := e.releaser.RequestRelease(ctx, p.ID, es.CustodyAmount)
		if err != nil {
			return fmt.Errorf("multisig release request: %w", err)
		}
		if err := e.payments.AppendEvent(ctx, payment.NewEvent(p.ID, "multisig_requested",
			"Release delegated to multisig request "+reqID, automatic)); err != nil {
			return err
		}
		// The coordinator feeds release_executed back once signed.
		return nil
	}

	var txHash string
	err = e.retry(ctx, func() error {
		var err error
		txHash, err = e.custody.Release(ctx, p.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("on-chain release: %w", err)
	}
	if err := e.custody.WaitForConfirmation(ctx, txHash, e.confirmTimeout); err != nil {
		return fmt.Errorf("release confirmation: %w", err)
	}
	es.Status = StatusReleased
	es.ReleaseTxHash = txHash
	es.UpdatedAt = e.now().UTC()
	if err := e.escrows.Update(ctx, es); err != nil {
		return err
	}
	metrics.ReleasesTotal.WithLabelValues("single").Inc()
	return e.finishRelease(ctx, p, es)
}

// handleReleaseExecuted completes a multisig-signed release.
func (e *Engine) handleReleaseExecuted(ctx context.Context, p *payment.Payment) error {
	es, err := e.escrows.GetByPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	if es.Status != StatusReleased {
		es.Status = StatusReleased
		es.UpdatedAt = e.now().UTC()
		if err := e.escrows.Update(ctx, es); err != nil {
			return err
		}
	}
	path := "single"
	if p.MultisigRequired {
		path = "multisig"
	}
	metrics.ReleasesTotal.WithLabelValues(path).Inc()
	return e.finishRelease(ctx, p, es)
}

// finishRelease records the released state, redeems the custody back
// to fiat, freezes the commission split, and initiates the payee's
// payout.
func (e *Engine) finishRelease(ctx context.Context, p *payment.Payment, es *Escrow) error {
	if p.Status != payment.StatusReleased {
		p.Status = payment.StatusReleased
		p.UpdatedAt = e.now().UTC()
		ev := payment.NewEvent(p.ID, "release_executed", "Custody released on-chain", true)
		if err := e.payments.UpdateWithEvent(ctx, p, ev); err != nil {
			return err
		}
		e.notifyParties(ctx, p, notify.EventCustodyReleased, map[string]interface{}{
			"custodyAmount": es.CustodyAmount,
			"txHash":        es.ReleaseTxHash,
		})
	}

	// Token → fiat redemption is best effort; the payout below moves
	// real money regardless.
	if _, err := e.fiat.Redeem(ctx, es.CustodyCents(), "redeem-"+p.ID); err != nil {
		e.logger.Warn("custody redemption failed, flagged for reconciliation",
			"payment_id", p.ID, "error", err)
		metrics.ReconciliationWarnings.Inc()
	}

	split, err := e.commissions.Freeze(ctx, p.ID, es.CustodyCents())
	if err != nil {
		return fmt.Errorf("freezing commission split: %w", err)
	}
	return e.payoutPayee(ctx, p, split.Remainder)
}

// payoutPayee initiates the payee's custody payout and moves the
// payment to payout_pending.
func (e *Engine) payoutPayee(ctx context.Context, p *payment.Payment, amountCents int64) error {
	payee, err := e.profiles.ByEmail(ctx, p.PayeeEmail)
	if err != nil {
		return err
	}
	var payoutID string
	err = e.retry(ctx, func() error {
		var err error
		payoutID, err = e.fiat.InitiatePayout(ctx, rail.PayoutRequest{
			Email:       p.PayeeEmail,
			CLABE:       payee.PayoutCLABE,
			AmountCents: amountCents,
			Reference:   "payout-" + p.ID,
			Description: "Custody payout for payment " + p.ID,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("custody payout: %w", err)
	}

	p.PayoutRef = payoutID
	p.Status = payment.StatusPayoutPending
	p.UpdatedAt = e.now().UTC()
	ev := payment.NewEvent(p.ID, "payout_initiated",
		"Payout of "+money.Format(amountCents)+" initiated to payee", true)
	return e.payments.UpdateWithEvent(ctx, p, ev)
}

// handlePayoutConfirmed settles commissions and yield, then completes
// the payment.
func (e *Engine) handlePayoutConfirmed(ctx context.Context, p *payment.Payment) error {
	if err := e.commissions.Distribute(ctx, p.ID); err != nil {
		return fmt.Errorf("distributing commissions: %w", err)
	}

	payout, err := e.yields.Complete(ctx, p.ID)
	if err != nil && !errors.Is(err, yield.ErrActivationNotFound) {
		e.logger.Warn("yield settlement failed, flagged for reconciliation",
			"payment_id", p.ID, "error", err)
		metrics.ReconciliationWarnings.Inc()
	}

	p.Status = payment.StatusCompleted
	p.UpdatedAt = e.now().UTC()
	ev := payment.NewEvent(p.ID, "completed", "Payout confirmed, payment complete", true)
	if err := e.payments.UpdateWithEvent(ctx, p, ev); err != nil {
		return err
	}

	e.notifyParties(ctx, p, notify.EventPayoutCompleted, map[string]interface{}{
		"payoutRef": p.PayoutRef,
	})
	if payout != nil {
		e.notifyOne(ctx, p.PayerEmail, p.ID, notify.EventYieldPaid, map[string]interface{}{
			"totalYield": payout.TotalYield,
			"payerShare": payout.PayerShare,
		})
	}
	return nil
}

func (e *Engine) handleDisputeOpened(ctx context.Context, p *payment.Payment) error {
	p.Status = payment.StatusDisputed
	p.UpdatedAt = e.now().UTC()
	ev := payment.NewEvent(p.ID, "dispute_opened", "All releases frozen until resolution", false)
	if err := e.payments.UpdateWithEvent(ctx, p, ev); err != nil {
		return err
	}
	metrics.DisputesTotal.WithLabelValues("opened").Inc()
	e.notifyParties(ctx, p, notify.EventDisputeOpened, nil)
	return nil
}

// handleDisputeResolved applies the resolution outcome: refund the
// payer, release to the payee, or split the custody down the middle.
func (e *Engine) handleDisputeResolved(ctx context.Context, p *payment.Payment) error {
	outcome, err := e.guard.OutcomeFor(ctx, p.ID)
	if err != nil {
		return err
	}
	metrics.DisputesTotal.WithLabelValues("resolved").Inc()
	e.notifyParties(ctx, p, notify.EventDisputeResolved, map[string]interface{}{
		"outcome": string(outcome),
	})

	es, err := e.escrows.GetByPayment(ctx, p.ID)
	if err != nil {
		return err
	}

	switch outcome {
	case dispute.OutcomeFavorPayer:
		return e.refundCustody(ctx, p, es, es.CustodyCents())

	case dispute.OutcomeFavorPayee:
		p.Status = payment.StatusCustodyActive
		p.UpdatedAt = e.now().UTC()
		ev := payment.NewEvent(p.ID, "dispute_resolved", "Resolved in favor of payee, releasing custody", false)
		if err := e.payments.UpdateWithEvent(ctx, p, ev); err != nil {
			return err
		}
		return e.startRelease(ctx, p, true, "Dispute resolved in favor of payee")

	case dispute.OutcomeSplit:
		return e.splitCustody(ctx, p, es)

	default:
		return fmt.Errorf("unknown dispute outcome %q", outcome)
	}
}

// refundCustody returns refundCents of the custody to the payer and
// completes the payment. The yield settlement uses the same split as
// a normal completion.
func (e *Engine) refundCustody(ctx context.Context, p *payment.Payment, es *Escrow, refundCents int64) error {
	if es.Status == StatusActive {
		var txHash string
		err := e.retry(ctx, func() error {
			var err error
			txHash, err = e.custody.Refund(ctx, p.ID)
			return err
		})
		if err != nil {
			return fmt.Errorf("on-chain refund: %w", err)
		}
		if err := e.custody.WaitForConfirmation(ctx, txHash, e.confirmTimeout); err != nil {
			return fmt.Errorf("refund confirmation: %w", err)
		}
		es.Status = StatusRefunded
		es.ReleaseTxHash = txHash
		es.UpdatedAt = e.now().UTC()
		if err := e.escrows.Update(ctx, es); err != nil {
			return err
		}
	}

	if _, err := e.yields.Complete(ctx, p.ID); err != nil && !errors.Is(err, yield.ErrActivationNotFound) {
		e.logger.Warn("yield settlement failed, flagged for reconciliation",
			"payment_id", p.ID, "error", err)
		metrics.ReconciliationWarnings.Inc()
	}

	payer, err := e.profiles.ByEmail(ctx, p.PayerEmail)
	if err != nil {
		return err
	}
	err = e.retry(ctx, func() error {
		_, err := e.fiat.InitiatePayout(ctx, rail.PayoutRequest{
			Email:       p.PayerEmail,
			CLABE:       payer.PayoutCLABE,
			AmountCents: refundCents,
			Reference:   "refund-" + p.ID,
			Description: "Dispute refund for payment " + p.ID,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("refund payout: %w", err)
	}

	p.Status = payment.StatusCompleted
	p.UpdatedAt = e.now().UTC()
	ev := payment.NewEvent(p.ID, "dispute_refund_executed",
		"Custody of "+money.Format(refundCents)+" refunded to payer", false)
	return e.payments.UpdateWithEvent(ctx, p, ev)
}

// splitCustody releases the custody on-chain, refunds half to the
// payer at the rail, and routes the other half through the normal
// payout path (commission split included).
func (e *Engine) splitCustody(ctx context.Context, p *payment.Payment, es *Escrow) error {
	if es.Status == StatusActive {
		var txHash string
		err := e.retry(ctx, func() error {
			var err error
			txHash, err = e.custody.Release(ctx, p.ID)
			return err
		})
		if err != nil {
			return fmt.Errorf("on-chain release: %w", err)
		}
		if err := e.custody.WaitForConfirmation(ctx, txHash, e.confirmTimeout); err != nil {
			return fmt.Errorf("release confirmation: %w", err)
		}
		es.Status = StatusReleased
		es.ReleaseTxHash = txHash
		es.UpdatedAt = e.now().UTC()
		if err := e.escrows.Update(ctx, es); err != nil {
			return err
		}
	}

	payerHalf := es.CustodyCents() / 2
	payeeHalf := es.CustodyCents() - payerHalf

	payer, err := e.profiles.ByEmail(ctx, p.PayerEmail)
	if err != nil {
		return err
	}
	err = e.retry(ctx, func() error {
		_, err := e.fiat.InitiatePayout(ctx, rail.PayoutRequest{
			Email:       p.PayerEmail,
			CLABE:       payer.PayoutCLABE,
			AmountCents: payerHalf,
			Reference:   "split-refund-" + p.ID,
			Description: "Dispute split refund for payment " + p.ID,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("split refund payout: %w", err)
	}

	split, err := e.commissions.Freeze(ctx, p.ID, payeeHalf)
	if err != nil {
		return fmt.Errorf("freezing commission split: %w", err)
	}
	return e.payoutPayee(ctx, p, split.Remainder)
}

// park moves the payment to failed for manual review. Called after the
// retry budget is exhausted; the failure is evented, counted, and
// notified, never silently dropped.
func (e *Engine) park(ctx context.Context, p *payment.Payment, kind payment.EventKind, cause error) error {
	e.logger.Error("payment parked for manual review",
		"payment_id", p.ID,
		"event", string(kind),
		"error", cause)

	fresh, err := e.payments.Get(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("parking payment %s: %w (original: %v)", p.ID, err, cause)
	}
	fresh.Status = payment.StatusFailed
	fresh.FailureReason = cause.Error()
	fresh.RetryCount++
	fresh.UpdatedAt = e.now().UTC()
	ev := payment.NewEvent(p.ID, "failure",
		fmt.Sprintf("Event %s failed after retries: %v", kind, cause), true)
	if err := e.payments.UpdateWithEvent(ctx, fresh, ev); err != nil {
		return fmt.Errorf("parking payment %s: %w (original: %v)", p.ID, err, cause)
	}
	metrics.PaymentsFailed.Inc()
	e.notifyParties(ctx, fresh, notify.EventPaymentFailed, map[string]interface{}{
		"reason": cause.Error(),
	})
	return nil
}

func (e *Engine) retry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, e.maxAttempts, e.baseDelay, fn)
}

func (e *Engine) notifyParties(ctx context.Context, p *payment.Payment, eventType notify.EventType, data map[string]interface{}) {
	e.notifyOne(ctx, p.PayerEmail, p.ID, eventType, data)
	e.notifyOne(ctx, p.PayeeEmail, p.ID, eventType, data)
}

func (e *Engine) notifyOne(ctx context.Context, email, paymentID string, eventType notify.EventType, data map[string]interface{}) {
	if e.notifier == nil {
		return
	}
	payload := map[string]interface{}{"paymentId": paymentID}
	for k, v := range data {
		payload[k] = v
	}
	if err := e.notifier.Enqueue(ctx, email, eventType, payload); err != nil {
		e.logger.Warn("failed to queue notification",
			"payment_id", paymentID, "email", email, "error", err)
	}
}
