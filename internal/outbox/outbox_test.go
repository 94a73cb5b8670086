package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davigut/pactum/internal/notify"
)

type fakeSender struct {
	calls    []string
	failures int // fail this many deliveries before succeeding
}

func (f *fakeSender) DispatchTo(ctx context.Context, email string, event *notify.Event) error {
	f.calls = append(f.calls, email+"/"+string(event.Type))
	if f.failures > 0 {
		f.failures--
		return errors.New("subscriber unreachable")
	}
	return nil
}

func newTestDispatcher(store Store, sender Sender, now *time.Time, opts ...Option) *Dispatcher {
	base := []Option{
		WithClock(func() time.Time { return *now }),
		WithRetryPolicy(3, time.Minute, 10*time.Minute),
	}
	return NewDispatcher(store, sender, append(base, opts...)...)
}

func TestEnqueueAndDrain_Delivers(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(store, sender, &now)
	ctx := context.Background()

	if err := d.Enqueue(ctx, "payer@example.com", notify.EventPaymentFunded, map[string]interface{}{"paymentId": "pay_1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.Drain(ctx)

	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sender.calls))
	}
	if sender.calls[0] != "payer@example.com/payment.funded" {
		t.Errorf("unexpected delivery %s", sender.calls[0])
	}

	due, _ := store.Due(ctx, now.Add(time.Hour), 10)
	if len(due) != 0 {
		t.Errorf("expected no due entries after delivery, got %d", len(due))
	}
}

func TestDrain_RetriesWithBackoff(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{failures: 1}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(store, sender, &now)
	ctx := context.Background()

	d.Enqueue(ctx, "payee@example.com", notify.EventCustodyReleased, nil)

	// First pass fails and reschedules.
	d.Drain(ctx)
	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(sender.calls))
	}

	// Entry is not due again until the backoff has elapsed.
	d.Drain(ctx)
	if len(sender.calls) != 1 {
		t.Fatalf("expected no retry before backoff, got %d attempts", len(sender.calls))
	}

	// Advance past the 1-minute base delay.
	now = now.Add(2 * time.Minute)
	d.Drain(ctx)
	if len(sender.calls) != 2 {
		t.Fatalf("expected retry after backoff, got %d attempts", len(sender.calls))
	}

	// Second attempt succeeded: nothing further.
	now = now.Add(time.Hour)
	d.Drain(ctx)
	if len(sender.calls) != 2 {
		t.Errorf("expected no attempts after success, got %d", len(sender.calls))
	}
}

func TestDrain_ExhaustedRetriesParkEntry(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{failures: 100}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(store, sender, &now)
	ctx := context.Background()

	d.Enqueue(ctx, "payer@example.com", notify.EventPaymentFailed, nil)

	// Budget is 3 attempts.
	for i := 0; i < 5; i++ {
		d.Drain(ctx)
		now = now.Add(time.Hour)
	}

	if len(sender.calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(sender.calls))
	}

	due, _ := store.Due(ctx, now, 10)
	if len(due) != 0 {
		t.Errorf("expected failed entry to stop being due, got %d", len(due))
	}
}

func TestBackoff_Caps(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	d := newTestDispatcher(store, &fakeSender{}, &now, WithRetryPolicy(10, time.Minute, 5*time.Minute))

	if got := d.backoff(1); got != time.Minute {
		t.Errorf("attempt 1: expected 1m, got %v", got)
	}
	if got := d.backoff(3); got != 4*time.Minute {
		t.Errorf("attempt 3: expected 4m, got %v", got)
	}
	if got := d.backoff(8); got != 5*time.Minute {
		t.Errorf("attempt 8: expected cap 5m, got %v", got)
	}
}

func TestMemoryStore_DueOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store.Enqueue(ctx, &Entry{ID: "obx_b", Status: StatusPending, NextAttempt: base, CreatedAt: base.Add(time.Second)})
	store.Enqueue(ctx, &Entry{ID: "obx_a", Status: StatusPending, NextAttempt: base, CreatedAt: base})
	store.Enqueue(ctx, &Entry{ID: "obx_later", Status: StatusPending, NextAttempt: base.Add(time.Hour), CreatedAt: base})

	due, err := store.Due(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due entries, got %d", len(due))
	}
	if due[0].ID != "obx_a" || due[1].ID != "obx_b" {
		t.Errorf("expected oldest-first ordering, got %s, %s", due[0].ID, due[1].ID)
	}
}
