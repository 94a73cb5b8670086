//go:build integration

package escrow

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/davigut/pactum/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, *sql.DB, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), db, cleanup
}

// insertPayment satisfies the escrows foreign key.
func insertPayment(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO payments (id, payer_email, payee_email, amount, currency, status, type,
			custody_percent, custody_days, created_at, updated_at)
		VALUES ($1, 'payer@example.com', 'payee@example.com', 1500.00, 'MXN', 'pending', 'standard',
			50.00, 3, NOW(), NOW())`, id)
	if err != nil {
		t.Fatalf("insert payment: %v", err)
	}
}

func TestPostgresEscrow_CreateAndGet(t *testing.T) {
	store, db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertPayment(t, db, "pay_pgtest001")

	now := time.Now().UTC().Truncate(time.Microsecond)
	e := &Escrow{
		ID:            "esc_pgtest001",
		PaymentID:     "pay_pgtest001",
		CustodyAmount: "750.00",
		ReleaseAmount: "750.00",
		CustodyEnd:    now.Add(72 * time.Hour),
		Status:        StatusActive,
		OnchainTxHash: "0xabc123",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PaymentID != e.PaymentID {
		t.Errorf("PaymentID = %q, want %q", got.PaymentID, e.PaymentID)
	}
	if got.CustodyAmount != "750.00" {
		t.Errorf("CustodyAmount = %q, want 750.00", got.CustodyAmount)
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %q, want %q", got.Status, StatusActive)
	}
	if got.OnchainTxHash != "0xabc123" {
		t.Errorf("OnchainTxHash = %q, want 0xabc123", got.OnchainTxHash)
	}

	byPay, err := store.GetByPayment(ctx, e.PaymentID)
	if err != nil {
		t.Fatalf("GetByPayment failed: %v", err)
	}
	if byPay.ID != e.ID {
		t.Errorf("GetByPayment returned %q, want %q", byPay.ID, e.ID)
	}
}

func TestPostgresEscrow_Update(t *testing.T) {
	store, db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertPayment(t, db, "pay_pgtest002")

	now := time.Now().UTC().Truncate(time.Microsecond)
	e := &Escrow{
		ID:            "esc_pgtest002",
		PaymentID:     "pay_pgtest002",
		CustodyAmount: "500.00",
		ReleaseAmount: "500.00",
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	e.Status = StatusReleased
	e.ReleaseTxHash = "0xrelease"
	e.UpdatedAt = now.Add(time.Minute)
	if err := store.Update(ctx, e); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusReleased {
		t.Errorf("Status = %q, want %q", got.Status, StatusReleased)
	}
	if got.ReleaseTxHash != "0xrelease" {
		t.Errorf("ReleaseTxHash = %q, want 0xrelease", got.ReleaseTxHash)
	}

	missing := &Escrow{ID: "esc_missing", UpdatedAt: now}
	if err := store.Update(ctx, missing); err != ErrEscrowNotFound {
		t.Errorf("Update of missing escrow = %v, want ErrEscrowNotFound", err)
	}
}

func TestPostgresEscrow_CreationLease(t *testing.T) {
	store, db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertPayment(t, db, "pay_pgtest003")

	now := time.Now().UTC().Truncate(time.Microsecond)
	e := &Escrow{
		ID:            "esc_pgtest003",
		PaymentID:     "pay_pgtest003",
		CustodyAmount: "100.00",
		ReleaseAmount: "0.00",
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ok, err := store.AcquireCreationLease(ctx, e.PaymentID, time.Minute)
	if err != nil {
		t.Fatalf("AcquireCreationLease failed: %v", err)
	}
	if !ok {
		t.Fatal("first lease acquisition should succeed")
	}

	ok, err = store.AcquireCreationLease(ctx, e.PaymentID, time.Minute)
	if err != nil {
		t.Fatalf("second AcquireCreationLease failed: %v", err)
	}
	if ok {
		t.Fatal("second lease acquisition should fail while the first is held")
	}

	if err := store.ReleaseCreationLease(ctx, e.PaymentID); err != nil {
		t.Fatalf("ReleaseCreationLease failed: %v", err)
	}

	ok, err = store.AcquireCreationLease(ctx, e.PaymentID, time.Minute)
	if err != nil {
		t.Fatalf("third AcquireCreationLease failed: %v", err)
	}
	if !ok {
		t.Fatal("lease should be acquirable after release")
	}
}

func TestPostgresEscrow_ListExpiredAndSum(t *testing.T) {
	store, db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, spec := range []struct {
		payment string
		escrow  string
		status  Status
		end     time.Time
		amount  string
	}{
		{"pay_pgexp1", "esc_pgexp1", StatusActive, now.Add(-time.Hour), "100.00"},
		{"pay_pgexp2", "esc_pgexp2", StatusActive, now.Add(time.Hour), "200.00"},
		{"pay_pgexp3", "esc_pgexp3", StatusReleased, now.Add(-time.Hour), "300.00"},
	} {
		insertPayment(t, db, spec.payment)
		e := &Escrow{
			ID:            spec.escrow,
			PaymentID:     spec.payment,
			CustodyAmount: spec.amount,
			ReleaseAmount: "0.00",
			CustodyEnd:    spec.end,
			Status:        spec.status,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := store.Create(ctx, e); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}

	expired, err := store.ListExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("ListExpired returned %d escrows, want 1", len(expired))
	}
	if expired[0].ID != "esc_pgexp1" {
		t.Errorf("ListExpired returned %q, want esc_pgexp1", expired[0].ID)
	}

	// Active custody: 100.00 + 200.00 = 30000 centavos.
	total, err := store.SumActiveCustody(ctx)
	if err != nil {
		t.Fatalf("SumActiveCustody failed: %v", err)
	}
	if total != 30000 {
		t.Errorf("SumActiveCustody = %d, want 30000", total)
	}
}
