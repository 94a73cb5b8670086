package commission

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestComputeSplit(t *testing.T) {
	recipients := []*Recipient{
		{ID: "a", Percent: "3"},
		{ID: "b", Percent: "2"},
	}
	split, err := ComputeSplit(5000000, recipients) // 50,000.00
	if err != nil {
		t.Fatalf("ComputeSplit: %v", err)
	}
	if split.Shares["a"] != 150000 {
		t.Errorf("share a = %d, want 150000", split.Shares["a"])
	}
	if split.Shares["b"] != 100000 {
		t.Errorf("share b = %d, want 100000", split.Shares["b"])
	}
	if split.TotalCommission != 250000 {
		t.Errorf("total = %d, want 250000", split.TotalCommission)
	}
	if split.Remainder != 4750000 {
		t.Errorf("remainder = %d, want 4750000", split.Remainder)
	}
}

func TestComputeSplitTruncates(t *testing.T) {
	// 0.33% of 100.01 = 33.0033 centavos, truncated to 33.
	split, err := ComputeSplit(10001, []*Recipient{{ID: "a", Percent: "0.33"}})
	if err != nil {
		t.Fatalf("ComputeSplit: %v", err)
	}
	if split.Shares["a"] != 33 {
		t.Errorf("share = %d, want 33", split.Shares["a"])
	}
	if split.Shares["a"]+split.Remainder != 10001 {
		t.Errorf("shares do not sum back to the total")
	}
}

func TestComputeSplitRejectsOver100(t *testing.T) {
	_, err := ComputeSplit(10000, []*Recipient{
		{ID: "a", Percent: "60"},
		{ID: "b", Percent: "50"},
	})
	if !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("err = %v, want ErrInvalidSplit", err)
	}
}

func TestComputeSplitExactly100(t *testing.T) {
	split, err := ComputeSplit(10000, []*Recipient{
		{ID: "a", Percent: "60"},
		{ID: "b", Percent: "40"},
	})
	if err != nil {
		t.Fatalf("ComputeSplit: %v", err)
	}
	if split.Remainder != 0 {
		t.Errorf("remainder = %d, want 0", split.Remainder)
	}
}

type fakeDisburser struct {
	calls   []string
	failOn  string
	nextRef int
}

func (f *fakeDisburser) InitiatePayout(ctx context.Context, email string, amountCents int64, reference string) (string, error) {
	if email == f.failOn {
		return "", errors.New("rail unavailable")
	}
	f.calls = append(f.calls, reference)
	f.nextRef++
	return fmt.Sprintf("po_%d", f.nextRef), nil
}

func TestDistributeResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	disburser := &fakeDisburser{failOn: "b@example.com"}
	svc := NewService(store, disburser, WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}))

	recipients, err := svc.Register(ctx, "pay_1", []RecipientInput{
		{Email: "a@example.com", Percent: "3"},
		{Email: "b@example.com", Percent: "2"},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Freeze(ctx, "pay_1", 5000000); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	// First pass dies on the second recipient.
	if err := svc.Distribute(ctx, "pay_1"); err == nil {
		t.Fatal("expected Distribute to fail")
	}
	first, _ := store.Get(ctx, recipients[0].ID)
	if !first.Paid {
		t.Fatal("first recipient should be paid after the partial run")
	}

	// Retry succeeds and must not pay the first recipient again.
	disburser.failOn = ""
	if err := svc.Distribute(ctx, "pay_1"); err != nil {
		t.Fatalf("Distribute retry: %v", err)
	}
	if len(disburser.calls) != 2 {
		t.Errorf("disburser calls = %d, want 2 (one per recipient)", len(disburser.calls))
	}
	second, _ := store.Get(ctx, recipients[1].ID)
	if !second.Paid || second.PayoutRef == "" {
		t.Errorf("second recipient not settled: %+v", second)
	}
}

func TestDistributeRequiresFrozenAmounts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	disburser := &fakeDisburser{}
	svc := NewService(store, disburser)

	// Registered but never frozen: no amounts have been computed yet.
	recipients, err := svc.Register(ctx, "pay_1", []RecipientInput{
		{Email: "a@example.com", Percent: "3"},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := svc.Distribute(ctx, "pay_1"); err == nil {
		t.Fatal("expected Distribute to refuse recipients without amounts")
	}
	if len(disburser.calls) != 0 {
		t.Errorf("disburser calls = %d, want 0", len(disburser.calls))
	}
	r, _ := store.Get(ctx, recipients[0].ID)
	if r.Paid {
		t.Error("recipient without a computed amount was marked paid")
	}
}

func TestMarkPaidIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, &fakeDisburser{})

	recipients, err := svc.Register(ctx, "pay_2", []RecipientInput{{Email: "a@example.com", Percent: "5"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	id := recipients[0].ID
	if err := svc.MarkPaid(ctx, id, "po_9"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	// Second call keeps the original reference.
	if err := svc.MarkPaid(ctx, id, "po_other"); err != nil {
		t.Fatalf("MarkPaid repeat: %v", err)
	}
	r, _ := store.Get(ctx, id)
	if r.PayoutRef != "po_9" {
		t.Errorf("payout ref = %q, want po_9", r.PayoutRef)
	}
}
