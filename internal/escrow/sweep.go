package escrow

import (
	"context"

	"github.com/davigut/pactum/internal/payment"
)

// Sweep methods back the periodic schedulers. Each one scans persisted
// state and feeds the matching event through Advance, so a sweep is
// safe to run concurrently with webhooks and with other instances:
// the state machine ignores whatever no longer applies.

const sweepBatch = 100

// DetectDeposits polls the fiat rail for deposits on pending payments'
// tracking CLABEs and confirms the ones that match.
func (e *Engine) DetectDeposits(ctx context.Context) error {
	pending, err := e.payments.ListByStatus(ctx, payment.StatusPending, sweepBatch)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	byCLABE := make(map[string][]*payment.Payment, len(pending))
	clabes := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.DepositCLABE == "" {
			continue
		}
		if _, seen := byCLABE[p.DepositCLABE]; !seen {
			clabes = append(clabes, p.DepositCLABE)
		}
		byCLABE[p.DepositCLABE] = append(byCLABE[p.DepositCLABE], p)
	}
	if len(clabes) == 0 {
		return nil
	}

	deposits, err := e.fiat.DetectDeposits(ctx, clabes)
	if err != nil {
		return err
	}

	for _, dep := range deposits {
		for _, p := range byCLABE[dep.CLABE] {
			amount, ok := p.AmountCents()
			if !ok || amount != dep.AmountCents || p.DepositRef != "" {
				continue
			}
			p.DepositRef = dep.Reference
			p.UpdatedAt = e.now().UTC()
			ev := payment.NewEvent(p.ID, "deposit_detected",
				"Deposit "+dep.Reference+" matched on CLABE", true)
			if err := e.payments.UpdateWithEvent(ctx, p, ev); err != nil {
				e.logger.Warn("failed to record deposit reference",
					"payment_id", p.ID, "error", err)
				continue
			}
			if err := e.Advance(ctx, p.ID, payment.EventDepositConfirmed); err != nil {
				e.logger.Warn("deposit confirmation failed",
					"payment_id", p.ID, "error", err)
			}
			break
		}
	}
	return nil
}

// ProcessExpiredCustodies fires custody_expired for every active
// escrow whose window has ended.
func (e *Engine) ProcessExpiredCustodies(ctx context.Context) error {
	expired, err := e.escrows.ListExpired(ctx, e.now().UTC(), sweepBatch)
	if err != nil {
		return err
	}
	for _, es := range expired {
		if err := e.Advance(ctx, es.PaymentID, payment.EventCustodyExpired); err != nil {
			e.logger.Warn("custody expiry processing failed",
				"payment_id", es.PaymentID, "error", err)
		}
	}
	return nil
}

// ProcessPendingPayouts confirms payouts that were initiated. The rail
// accepted the payout when it handed back the reference, so a pending
// row with a payout reference is confirmable.
func (e *Engine) ProcessPendingPayouts(ctx context.Context) error {
	pending, err := e.payments.ListByStatus(ctx, payment.StatusPayoutPending, sweepBatch)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.PayoutRef == "" {
			continue
		}
		if err := e.Advance(ctx, p.ID, payment.EventPayoutConfirmed); err != nil {
			e.logger.Warn("payout confirmation failed",
				"payment_id", p.ID, "error", err)
		}
	}
	return nil
}
