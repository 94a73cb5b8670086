package escrow

import (
	"context"
	"database/sql"
	"time"

	"github.com/davigut/pactum/internal/money"
)

// PostgresStore persists escrows in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, payment_id, custody_amount::TEXT, release_amount::TEXT,
	custody_end, status, onchain_tx_hash, release_tx_hash, upfront_payout_ref,
	yield_activated, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (id, payment_id, custody_amount, release_amount,
			custody_end, status, onchain_tx_hash, release_tx_hash, upfront_payout_ref,
			yield_activated, creation_locked, created_at, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), $4::NUMERIC(20,2), $5, $6, $7, $8, $9, $10, FALSE, $11, $12)
	`, e.ID, e.PaymentID, e.CustodyAmount, e.ReleaseAmount,
		nullTime(e.CustodyEnd), string(e.Status),
		nullString(e.OnchainTxHash), nullString(e.ReleaseTxHash), nullString(e.UpfrontPayoutRef),
		e.YieldActivated, e.CreatedAt, e.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

func (p *PostgresStore) GetByPayment(ctx context.Context, paymentID string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE payment_id = $1`, paymentID)
	return scanEscrow(row)
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			custody_end = $1,
			status = $2,
			onchain_tx_hash = $3,
			release_tx_hash = $4,
			upfront_payout_ref = $5,
			yield_activated = $6,
			updated_at = $7
		WHERE id = $8
	`, nullTime(e.CustodyEnd), string(e.Status),
		nullString(e.OnchainTxHash), nullString(e.ReleaseTxHash), nullString(e.UpfrontPayoutRef),
		e.YieldActivated, e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

// AcquireCreationLease claims the lease in one compare-and-swap UPDATE:
// the WHERE clause only matches a free or expired lease, so there is no
// window between check and claim.
func (p *PostgresStore) AcquireCreationLease(ctx context.Context, paymentID string, ttl time.Duration) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET creation_locked = TRUE, lock_expires_at = NOW() + $2::INTERVAL
		WHERE payment_id = $1
		  AND (creation_locked = FALSE OR lock_expires_at < NOW())
	`, paymentID, ttl.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) ReleaseCreationLease(ctx context.Context, paymentID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET creation_locked = FALSE, lock_expires_at = NULL
		WHERE payment_id = $1
	`, paymentID)
	return err
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = $1 AND custody_end IS NOT NULL AND custody_end < $2
		ORDER BY custody_end ASC
		LIMIT $3
	`, string(StatusActive), before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SumActiveCustody totals the locked custody amount across active
// escrows, in centavos.
func (p *PostgresStore) SumActiveCustody(ctx context.Context) (int64, error) {
	var total string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(custody_amount), 0)::TEXT
		FROM escrows WHERE status = $1
	`, string(StatusActive)).Scan(&total)
	if err != nil {
		return 0, err
	}
	cents, _ := money.Parse(total)
	return cents, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var status string
	var custodyEnd sql.NullTime
	var onchainTx, releaseTx, upfrontRef sql.NullString

	err := s.Scan(
		&e.ID, &e.PaymentID, &e.CustodyAmount, &e.ReleaseAmount,
		&custodyEnd, &status, &onchainTx, &releaseTx, &upfrontRef,
		&e.YieldActivated, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	if custodyEnd.Valid {
		e.CustodyEnd = custodyEnd.Time
	}
	e.OnchainTxHash = onchainTx.String
	e.ReleaseTxHash = releaseTx.String
	e.UpfrontPayoutRef = upfrontRef.String
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
