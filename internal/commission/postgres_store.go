package commission

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists commission recipients in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed commission store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Put(ctx context.Context, r *Recipient) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO commission_recipients (
			id, payment_id, email, percent, amount, paid, paid_at, payout_ref, created_at
		) VALUES ($1, $2, $3, $4::NUMERIC(8,4), $5::NUMERIC(20,2), $6, $7, $8, $9)`,
		r.ID, r.PaymentID, r.Email, r.Percent, nullString(r.Amount),
		r.Paid, nullTime(r.PaidAt), nullString(r.PayoutRef), r.CreatedAt,
	)
	return err
}

const recipientColumns = `id, payment_id, email, percent::TEXT, amount::TEXT, paid, paid_at, payout_ref, created_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Recipient, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM commission_recipients WHERE id = $1`, id)
	r, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecipientNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByPayment(ctx context.Context, paymentID string) ([]*Recipient, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM commission_recipients
		WHERE payment_id = $1
		ORDER BY created_at ASC, id ASC`, paymentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, r *Recipient) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE commission_recipients SET
			amount = $1::NUMERIC(20,2), paid = $2, paid_at = $3, payout_ref = $4
		WHERE id = $5`,
		nullString(r.Amount), r.Paid, nullTime(r.PaidAt), nullString(r.PayoutRef), r.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecipient(s scanner) (*Recipient, error) {
	r := &Recipient{}
	var (
		amount    sql.NullString
		paidAt    sql.NullTime
		payoutRef sql.NullString
	)
	err := s.Scan(&r.ID, &r.PaymentID, &r.Email, &r.Percent, &amount, &r.Paid, &paidAt, &payoutRef, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Amount = amount.String
	r.PayoutRef = payoutRef.String
	if paidAt.Valid {
		r.PaidAt = &paidAt.Time
	}
	return r, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
