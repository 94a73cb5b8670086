package reconciliation

import (
	"context"
	"log/slog"
	"time"

	"github.com/davigut/pactum/internal/escrow"
	"github.com/davigut/pactum/internal/metrics"
)

// StuckLister returns active escrows whose custody window ended before
// the given time.
type StuckLister interface {
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*escrow.Escrow, error)
}

// stuckGrace is how long past custody expiry an escrow may sit before
// it counts as stuck. The sweep loop should pick expired custodies up
// within minutes.
const stuckGrace = time.Hour

// Report summarizes one reconciliation run.
type Report struct {
	Custody      *CustodyResult `json:"custody"`
	StuckEscrows int            `json:"stuckEscrows"`
	RanAt        time.Time      `json:"ranAt"`
}

// Runner executes the full set of reconciliation checks.
type Runner struct {
	service *Service
	escrows StuckLister
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates a reconciliation runner.
func NewRunner(service *Service, escrows StuckLister, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		service: service,
		escrows: escrows,
		logger:  logger,
		now:     time.Now,
	}
}

// RunAll runs every check and reports what it found. A mismatch or a
// stuck escrow is not an error: the run succeeded, the books didn't.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	start := r.now()
	defer func() {
		reconcileDuration.Observe(time.Since(start).Seconds())
	}()

	report := &Report{RanAt: start}

	custody, err := r.service.ReconcileCustody(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, err
	}
	report.Custody = custody
	if custody.Match {
		reconcileCustodyMismatch.Set(0)
	} else {
		reconcileCustodyMismatch.Set(1)
		metrics.ReconciliationWarnings.Inc()
		r.logger.Warn("custody reconciliation mismatch",
			"chainBalance", custody.ChainBalance,
			"custodyTotal", custody.CustodyTotal,
			"diff", custody.Diff)
	}

	stuck, err := r.escrows.ListExpired(ctx, start.Add(-stuckGrace), 100)
	if err != nil {
		reconcileErrors.Inc()
		return report, err
	}
	report.StuckEscrows = len(stuck)
	reconcileStuckEscrows.Set(float64(len(stuck)))
	for _, e := range stuck {
		metrics.ReconciliationWarnings.Inc()
		r.logger.Warn("escrow stuck past custody expiry",
			"escrowId", e.ID,
			"paymentId", e.PaymentID,
			"custodyEnd", e.CustodyEnd)
	}

	return report, nil
}
