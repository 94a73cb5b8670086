package dispute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davigut/pactum/internal/payment"
)

type fakeAdvancer struct {
	calls []payment.EventKind
}

func (f *fakeAdvancer) Advance(ctx context.Context, paymentID string, kind payment.EventKind) error {
	f.calls = append(f.calls, kind)
	return nil
}

func newTestService() (*Service, *fakeAdvancer) {
	svc := NewService(NewMemoryStore(), WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	advancer := &fakeAdvancer{}
	svc.SetAdvancer(advancer)
	return svc, advancer
}

func TestOpenBlocksPayment(t *testing.T) {
	ctx := context.Background()
	svc, advancer := newTestService()

	blocked, err := svc.IsBlocked(ctx, "pay_1")
	if err != nil || blocked {
		t.Fatalf("IsBlocked before dispute = %v, %v", blocked, err)
	}

	d, err := svc.Open(ctx, "pay_1", "payer@example.com", "goods not delivered")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.Status != StatusOpen {
		t.Errorf("status = %s, want open", d.Status)
	}
	if len(advancer.calls) != 1 || advancer.calls[0] != payment.EventDisputeOpened {
		t.Errorf("advancer calls = %v", advancer.calls)
	}

	blocked, err = svc.IsBlocked(ctx, "pay_1")
	if err != nil || !blocked {
		t.Fatalf("IsBlocked with open dispute = %v, %v, want true", blocked, err)
	}
}

func TestOpenTwiceReturnsExisting(t *testing.T) {
	ctx := context.Background()
	svc, advancer := newTestService()

	first, err := svc.Open(ctx, "pay_1", "payer@example.com", "late delivery")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	second, err := svc.Open(ctx, "pay_1", "payee@example.com", "different reason")
	if err != nil {
		t.Fatalf("Open repeat: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second open created a new dispute: %s vs %s", second.ID, first.ID)
	}
	if len(advancer.calls) != 1 {
		t.Errorf("advancer fired %d times, want 1", len(advancer.calls))
	}
}

func TestResolveUnblocksAndReportsOutcome(t *testing.T) {
	ctx := context.Background()
	svc, advancer := newTestService()

	d, err := svc.Open(ctx, "pay_1", "payer@example.com", "damaged goods")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	resolved, err := svc.Resolve(ctx, d.ID, OutcomeFavorPayer, "ops@example.com", "photos confirm damage")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.ResolvedAt == nil {
		t.Errorf("dispute not marked resolved: %+v", resolved)
	}

	blocked, _ := svc.IsBlocked(ctx, "pay_1")
	if blocked {
		t.Error("payment still blocked after resolution")
	}

	outcome, err := svc.OutcomeFor(ctx, "pay_1")
	if err != nil || outcome != OutcomeFavorPayer {
		t.Errorf("OutcomeFor = %v, %v, want favor_payer", outcome, err)
	}

	want := []payment.EventKind{payment.EventDisputeOpened, payment.EventDisputeResolved}
	if len(advancer.calls) != len(want) {
		t.Fatalf("advancer calls = %v, want %v", advancer.calls, want)
	}
	for i := range want {
		if advancer.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, advancer.calls[i], want[i])
		}
	}
}

func TestResolveTwiceFails(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	d, _ := svc.Open(ctx, "pay_1", "payer@example.com", "reason")
	if _, err := svc.Resolve(ctx, d.ID, OutcomeSplit, "ops@example.com", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := svc.Resolve(ctx, d.ID, OutcomeFavorPayee, "ops@example.com", ""); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolveRejectsUnknownOutcome(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	d, _ := svc.Open(ctx, "pay_1", "payer@example.com", "reason")
	if _, err := svc.Resolve(ctx, d.ID, Outcome("split_the_difference"), "ops@example.com", ""); err == nil {
		t.Fatal("expected error for unknown outcome")
	}
}

func TestMessageThread(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	d, _ := svc.Open(ctx, "pay_1", "payer@example.com", "reason")
	if _, err := svc.AddMessage(ctx, d.ID, "payer@example.com", "where is my order?"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := svc.AddMessage(ctx, d.ID, "payee@example.com", "shipped yesterday"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	msgs, err := svc.Messages(ctx, d.ID)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("Messages = %d, %v, want 2", len(msgs), err)
	}
	if msgs[0].Author != "payer@example.com" {
		t.Errorf("thread out of order: %+v", msgs)
	}

	if _, err := svc.AddMessage(ctx, "dsp_missing", "x@example.com", "hi"); !errors.Is(err, ErrDisputeNotFound) {
		t.Fatalf("err = %v, want ErrDisputeNotFound", err)
	}
}
