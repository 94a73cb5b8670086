package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davigut/pactum/internal/commission"
	"github.com/davigut/pactum/internal/profile"
)

type fakeEscrows struct {
	created []string
}

func (f *fakeEscrows) CreateForPayment(ctx context.Context, p *Payment) error {
	f.created = append(f.created, p.ID)
	return nil
}

type fakeAdvancer struct {
	calls []EventKind
}

func (f *fakeAdvancer) Advance(ctx context.Context, paymentID string, kind EventKind) error {
	f.calls = append(f.calls, kind)
	return nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *fakeEscrows, *fakeAdvancer) {
	t.Helper()
	ctx := context.Background()
	profiles := profile.NewMemoryStore()
	for _, email := range []string{"payer@example.com", "payee@example.com"} {
		if err := profiles.Put(ctx, &profile.Profile{
			ID:           "usr_" + email,
			Email:        email,
			Verified:     true,
			DepositCLABE: "646180157000000001",
		}); err != nil {
			t.Fatalf("seeding profile: %v", err)
		}
	}

	store := NewMemoryStore()
	escrows := &fakeEscrows{}
	commissions := commission.NewService(commission.NewMemoryStore(), nil)
	svc := NewService(store, profiles, commissions, escrows, WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	advancer := &fakeAdvancer{}
	svc.SetAdvancer(advancer)
	return svc, store, escrows, advancer
}

func TestCreatePayment(t *testing.T) {
	ctx := context.Background()
	svc, store, escrows, _ := newTestService(t)

	p, err := svc.Create(ctx, CreateRequest{
		PayerEmail:     "payer@example.com",
		PayeeEmail:     "payee@example.com",
		Amount:         "50000.00",
		Currency:       "MXN",
		Type:           TypeStandard,
		CustodyPercent: "50",
		CustodyDays:    30,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("status = %s, want pending", p.Status)
	}
	if p.DepositCLABE == "" {
		t.Error("deposit CLABE not copied from payer profile")
	}
	if len(escrows.created) != 1 || escrows.created[0] != p.ID {
		t.Errorf("escrow not provisioned: %v", escrows.created)
	}

	custody, ok := p.CustodyCents()
	if !ok || custody != 2500000 {
		t.Errorf("custody = %d, want 2500000 centavos", custody)
	}

	events, _ := store.Events(ctx, p.ID)
	if len(events) != 1 || events[0].Type != "payment_created" {
		t.Errorf("events = %+v, want one payment_created", events)
	}
}

func TestCreatePaymentRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"negative amount", CreateRequest{
			PayerEmail: "payer@example.com", PayeeEmail: "payee@example.com",
			Amount: "-10", Type: TypeStandard, CustodyPercent: "50",
		}},
		{"custody over 100", CreateRequest{
			PayerEmail: "payer@example.com", PayeeEmail: "payee@example.com",
			Amount: "100", Type: TypeStandard, CustodyPercent: "101",
		}},
		{"bad email", CreateRequest{
			PayerEmail: "not-an-email", PayeeEmail: "payee@example.com",
			Amount: "100", Type: TypeStandard, CustodyPercent: "50",
		}},
		{"unknown type", CreateRequest{
			PayerEmail: "payer@example.com", PayeeEmail: "payee@example.com",
			Amount: "100", Type: "escrowless", CustodyPercent: "50",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCreatePaymentUnknownProfile(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	_, err := svc.Create(ctx, CreateRequest{
		PayerEmail: "stranger@example.com", PayeeEmail: "payee@example.com",
		Amount: "100", Type: TypeStandard, CustodyPercent: "50",
	})
	if !errors.Is(err, profile.ErrProfileNotFound) {
		t.Fatalf("err = %v, want ErrProfileNotFound", err)
	}
}

func TestDualApprovalTriggersRelease(t *testing.T) {
	ctx := context.Background()
	svc, store, _, advancer := newTestService(t)

	p, err := svc.Create(ctx, CreateRequest{
		PayerEmail: "payer@example.com", PayeeEmail: "payee@example.com",
		Amount: "1000.00", Type: TypeDualApproval, CustodyPercent: "100", CustodyDays: 7,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Move to custody so approvals apply.
	p.Status = StatusCustodyActive
	if err := store.UpdateWithEvent(ctx, p, NewEvent(p.ID, "custody_started", "", true)); err != nil {
		t.Fatalf("seeding custody: %v", err)
	}

	if _, err := svc.Approve(ctx, p.ID, PartyPayer); err != nil {
		t.Fatalf("payer approve: %v", err)
	}
	if len(advancer.calls) != 0 {
		t.Fatal("one approval must not trigger release")
	}

	// Re-approving the same side changes nothing.
	if _, err := svc.Approve(ctx, p.ID, PartyPayer); err != nil {
		t.Fatalf("repeat approve: %v", err)
	}
	if len(advancer.calls) != 0 {
		t.Fatal("repeat approval must not trigger release")
	}

	if _, err := svc.Approve(ctx, p.ID, PartyPayee); err != nil {
		t.Fatalf("payee approve: %v", err)
	}
	if len(advancer.calls) != 1 || advancer.calls[0] != EventDualApproval {
		t.Fatalf("advancer calls = %v, want one dual approval event", advancer.calls)
	}
}

func TestApproveOutsideCustodyFails(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	p, err := svc.Create(ctx, CreateRequest{
		PayerEmail: "payer@example.com", PayeeEmail: "payee@example.com",
		Amount: "1000.00", Type: TypeDualApproval, CustodyPercent: "100", CustodyDays: 7,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Still pending: no deposit yet.
	if _, err := svc.Approve(ctx, p.ID, PartyPayer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestApproveStandardPaymentFails(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	p, err := svc.Create(ctx, CreateRequest{
		PayerEmail: "payer@example.com", PayeeEmail: "payee@example.com",
		Amount: "1000.00", Type: TypeStandard, CustodyPercent: "50", CustodyDays: 7,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Approve(ctx, p.ID, PartyPayer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}
