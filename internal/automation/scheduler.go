package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrUnknownProcess is returned by Trigger for a process name the
// scheduler does not run.
var ErrUnknownProcess = errors.New("unknown automation process")

// Sweeper is the payment-engine surface the scheduler drives.
type Sweeper interface {
	DetectDeposits(ctx context.Context) error
	ProcessExpiredCustodies(ctx context.Context) error
	ProcessPendingPayouts(ctx context.Context) error
}

// Accruer runs the daily yield accrual pass.
type Accruer interface {
	RunDaily(ctx context.Context, date time.Time) error
}

// Drainer flushes pending outbox notifications on demand.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Scheduler periodically runs the background sweeps that move
// payments forward without user interaction: deposit detection,
// custody expiry, payout confirmation, and the daily yield accrual.
type Scheduler struct {
	engine Sweeper
	yields Accruer
	outbox Drainer
	logger *slog.Logger
	now    func() time.Time
	stop   chan struct{}

	depositInterval time.Duration
	custodyInterval time.Duration
	payoutInterval  time.Duration
	accrualHour     int // UTC hour of the daily yield run

	lastAccrual time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithIntervals overrides the sweep intervals.
func WithIntervals(deposit, custody, payout time.Duration) Option {
	return func(s *Scheduler) {
		s.depositInterval = deposit
		s.custodyInterval = custody
		s.payoutInterval = payout
	}
}

// WithAccrualHour sets the UTC hour of the daily yield run.
func WithAccrualHour(hour int) Option {
	return func(s *Scheduler) { s.accrualHour = hour }
}

// NewScheduler creates a scheduler over the engine's sweeps. The
// outbox drainer may be nil when notifications are disabled.
func NewScheduler(engine Sweeper, yields Accruer, outbox Drainer, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:          engine,
		yields:          yields,
		outbox:          outbox,
		logger:          slog.Default(),
		now:             time.Now,
		stop:            make(chan struct{}, 1),
		depositInterval: time.Minute,
		custodyInterval: 10 * time.Minute,
		payoutInterval:  2 * time.Minute,
		accrualHour:     1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the sweep loops. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	deposits := time.NewTicker(s.depositInterval)
	defer deposits.Stop()
	custodies := time.NewTicker(s.custodyInterval)
	defer custodies.Stop()
	payouts := time.NewTicker(s.payoutInterval)
	defer payouts.Stop()
	accrual := time.NewTicker(time.Minute)
	defer accrual.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-deposits.C:
			s.safeRun(ctx, "deposit detection", s.engine.DetectDeposits)
		case <-custodies.C:
			s.safeRun(ctx, "custody expiry", s.engine.ProcessExpiredCustodies)
		case <-payouts.C:
			s.safeRun(ctx, "payout confirmation", s.engine.ProcessPendingPayouts)
		case <-accrual.C:
			s.maybeAccrue(ctx)
		}
	}
}

// Stop signals the scheduler to stop.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

// Trigger runs one named process immediately. Used by the admin
// endpoint and operator tooling.
func (s *Scheduler) Trigger(ctx context.Context, process string) error {
	switch process {
	case "deposits":
		return s.engine.DetectDeposits(ctx)
	case "custodies":
		return s.engine.ProcessExpiredCustodies(ctx)
	case "payouts":
		return s.engine.ProcessPendingPayouts(ctx)
	case "yield":
		return s.yields.RunDaily(ctx, s.now().UTC())
	case "notifications":
		if s.outbox == nil {
			return fmt.Errorf("%w: %s", ErrUnknownProcess, process)
		}
		return s.outbox.Drain(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProcess, process)
	}
}

// maybeAccrue runs the yield pass once per UTC day, at the
// configured hour. Accrual rows are unique per day, so an extra run
// after a failed attempt is harmless.
func (s *Scheduler) maybeAccrue(ctx context.Context) {
	now := s.now().UTC()
	if now.Hour() != s.accrualHour {
		return
	}
	if sameDay(s.lastAccrual, now) {
		return
	}
	s.safeRun(ctx, "yield accrual", func(ctx context.Context) error {
		if err := s.yields.RunDaily(ctx, now); err != nil {
			return err
		}
		s.lastAccrual = now
		return nil
	})
}

func (s *Scheduler) safeRun(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in automation sweep",
				"sweep", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(ctx); err != nil {
		s.logger.Error("automation sweep failed", "sweep", name, "error", err)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
