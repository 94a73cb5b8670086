package rail

import (
	"context"
	"errors"
	"testing"
)

func TestMockPayoutIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	req := PayoutRequest{
		Email:       "payee@example.com",
		CLABE:       "646180157000000001",
		AmountCents: 250000,
		Reference:   "payout-pay_1",
	}
	first, err := m.InitiatePayout(ctx, req)
	if err != nil {
		t.Fatalf("InitiatePayout: %v", err)
	}
	second, err := m.InitiatePayout(ctx, req)
	if err != nil {
		t.Fatalf("InitiatePayout repeat: %v", err)
	}
	if first != second {
		t.Errorf("repeat reference produced a new payout: %s vs %s", first, second)
	}
	if len(m.Payouts()) != 1 {
		t.Errorf("payouts recorded = %d, want 1", len(m.Payouts()))
	}
}

func TestMockDetectDepositsFiltersByCLABE(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	m.QueueDeposit(Deposit{Reference: "dep_1", CLABE: "646180157000000001", AmountCents: 100000})
	m.QueueDeposit(Deposit{Reference: "dep_2", CLABE: "646180157000000099", AmountCents: 50000})

	got, err := m.DetectDeposits(ctx, []string{"646180157000000001"})
	if err != nil {
		t.Fatalf("DetectDeposits: %v", err)
	}
	if len(got) != 1 || got[0].Reference != "dep_1" {
		t.Fatalf("deposits = %+v, want only dep_1", got)
	}

	// The unmatched deposit stays queued for its own CLABE.
	rest, err := m.DetectDeposits(ctx, []string{"646180157000000099"})
	if err != nil {
		t.Fatalf("DetectDeposits: %v", err)
	}
	if len(rest) != 1 || rest[0].Reference != "dep_2" {
		t.Fatalf("deposits = %+v, want only dep_2", rest)
	}

	// Drained deposits are not redelivered.
	again, _ := m.DetectDeposits(ctx, []string{"646180157000000001"})
	if len(again) != 0 {
		t.Errorf("deposit redelivered: %+v", again)
	}
}

func TestMockFailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	m.FailNext(ErrUnavailable)

	if _, err := m.InitiatePayout(ctx, PayoutRequest{Reference: "r1", AmountCents: 1}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	// The failure is consumed; the retry succeeds.
	if _, err := m.InitiatePayout(ctx, PayoutRequest{Reference: "r1", AmountCents: 1}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}
