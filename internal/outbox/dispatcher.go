package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/davigut/pactum/internal/idgen"
	"github.com/davigut/pactum/internal/notify"
)

// Sender delivers one event to one party's subscriptions.
type Sender interface {
	DispatchTo(ctx context.Context, email string, event *notify.Event) error
}

// Dispatcher drains the outbox on an interval and delivers due entries.
type Dispatcher struct {
	store       Store
	sender      Sender
	interval    time.Duration
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	batchSize   int
	logger      *slog.Logger
	clock       func() time.Time
	stop        chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = now }
}

// WithInterval sets how often the outbox is drained.
func WithInterval(iv time.Duration) Option {
	return func(d *Dispatcher) { d.interval = iv }
}

// WithRetryPolicy sets the per-entry retry budget and backoff bounds.
func WithRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(d *Dispatcher) {
		d.maxAttempts = maxAttempts
		d.baseDelay = baseDelay
		d.maxDelay = maxDelay
	}
}

// NewDispatcher creates an outbox dispatcher.
func NewDispatcher(store Store, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		sender:      sender,
		interval:    5 * time.Second,
		maxAttempts: 8,
		baseDelay:   30 * time.Second,
		maxDelay:    30 * time.Minute,
		batchSize:   100,
		logger:      slog.Default(),
		clock:       time.Now,
		stop:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue records a notification intent for async delivery.
func (d *Dispatcher) Enqueue(ctx context.Context, email string, eventType notify.EventType, data map[string]interface{}) error {
	now := d.clock()
	entry := &Entry{
		ID:          idgen.WithPrefix("obx_"),
		Email:       email,
		EventType:   eventType,
		Data:        data,
		Status:      StatusPending,
		NextAttempt: now,
		CreatedAt:   now,
	}
	return d.store.Enqueue(ctx, entry)
}

// Start begins the drain loop. Call in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.safeDrain(ctx)
		}
	}
}

// Stop signals the dispatcher to stop.
func (d *Dispatcher) Stop() {
	select {
	case d.stop <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) safeDrain(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in outbox dispatcher", "panic", fmt.Sprint(r))
		}
	}()
	d.Drain(ctx)
}

// Drain delivers every entry that is due right now. Exposed so tests and
// the admin trigger endpoint can run a pass on demand.
func (d *Dispatcher) Drain(ctx context.Context) {
	now := d.clock()
	due, err := d.store.Due(ctx, now, d.batchSize)
	if err != nil {
		d.logger.Warn("failed to list due outbox entries", "error", err)
		return
	}

	for _, entry := range due {
		d.deliver(ctx, entry)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, entry *Entry) {
	event := &notify.Event{
		ID:        entry.ID,
		Type:      entry.EventType,
		Timestamp: d.clock(),
		Data:      entry.Data,
	}

	err := d.sender.DispatchTo(ctx, entry.Email, event)
	if err == nil {
		if err := d.store.MarkDelivered(ctx, entry.ID, d.clock()); err != nil {
			d.logger.Warn("failed to mark outbox entry delivered", "entryId", entry.ID, "error", err)
		}
		return
	}

	attempts := entry.Attempts + 1
	if attempts >= d.maxAttempts {
		d.logger.Error("outbox entry exhausted retries",
			"entryId", entry.ID,
			"email", entry.Email,
			"eventType", entry.EventType,
			"attempts", attempts,
			"error", err,
		)
		if err := d.store.MarkFailed(ctx, entry.ID, attempts, err.Error()); err != nil {
			d.logger.Warn("failed to mark outbox entry failed", "entryId", entry.ID, "error", err)
		}
		return
	}

	next := d.clock().Add(d.backoff(attempts))
	d.logger.Warn("outbox delivery failed, rescheduling",
		"entryId", entry.ID,
		"attempts", attempts,
		"nextAttempt", next,
		"error", err,
	)
	if err := d.store.Reschedule(ctx, entry.ID, attempts, next, err.Error()); err != nil {
		d.logger.Warn("failed to reschedule outbox entry", "entryId", entry.ID, "error", err)
	}
}

// backoff doubles the base delay per attempt, capped at maxDelay.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.maxDelay {
			return d.maxDelay
		}
	}
	if delay > d.maxDelay {
		return d.maxDelay
	}
	return delay
}
