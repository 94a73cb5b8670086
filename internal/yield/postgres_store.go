package yield

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists yield state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed yield store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateActivation(ctx context.Context, a *Activation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO yield_activations (id, payment_id, principal, annual_rate, status, activated_at, ended_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), $4::NUMERIC(10,6), $5, $6, $7)`,
		a.ID, a.PaymentID, a.Principal, a.AnnualRate, string(a.Status), a.ActivatedAt, nullTime(a.EndedAt),
	)
	return err
}

const activationColumns = `id, payment_id, principal::TEXT, annual_rate::TEXT, status, activated_at, ended_at`

func (p *PostgresStore) GetActivation(ctx context.Context, id string) (*Activation, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+activationColumns+` FROM yield_activations WHERE id = $1`, id)
	a, err := scanActivation(row)
	if err == sql.ErrNoRows {
		return nil, ErrActivationNotFound
	}
	return a, err
}

func (p *PostgresStore) ActivationByPayment(ctx context.Context, paymentID string) (*Activation, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+activationColumns+` FROM yield_activations WHERE payment_id = $1`, paymentID)
	a, err := scanActivation(row)
	if err == sql.ErrNoRows {
		return nil, ErrActivationNotFound
	}
	return a, err
}

func (p *PostgresStore) UpdateActivation(ctx context.Context, a *Activation) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE yield_activations SET status = $1, ended_at = $2 WHERE id = $3`,
		string(a.Status), nullTime(a.EndedAt), a.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrActivationNotFound
	}
	return nil
}

func (p *PostgresStore) ListActive(ctx context.Context) ([]*Activation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+activationColumns+`
		FROM yield_activations
		WHERE status = 'active'
		ORDER BY activated_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) InsertEarning(ctx context.Context, e *Earning) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO yield_earnings (id, activation_id, accrual_date, amount, cumulative, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5::NUMERIC(20,2), $6)`,
		e.ID, e.ActivationID, e.Date, e.Amount, e.Cumulative, e.CreatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		// Unique (activation_id, accrual_date) violation.
		return ErrAlreadyAccrued
	}
	return err
}

func (p *PostgresStore) LatestEarning(ctx context.Context, activationID string) (*Earning, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, activation_id, accrual_date, amount::TEXT, cumulative::TEXT, created_at
		FROM yield_earnings
		WHERE activation_id = $1
		ORDER BY accrual_date DESC
		LIMIT 1`, activationID)
	e := &Earning{}
	err := row.Scan(&e.ID, &e.ActivationID, &e.Date, &e.Amount, &e.Cumulative, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrActivationNotFound
	}
	return e, err
}

func (p *PostgresStore) Earnings(ctx context.Context, activationID string) ([]*Earning, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, activation_id, accrual_date, amount::TEXT, cumulative::TEXT, created_at
		FROM yield_earnings
		WHERE activation_id = $1
		ORDER BY accrual_date ASC`, activationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Earning
	for rows.Next() {
		e := &Earning{}
		if err := rows.Scan(&e.ID, &e.ActivationID, &e.Date, &e.Amount, &e.Cumulative, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CreatePayout(ctx context.Context, po *Payout) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO yield_payouts (id, activation_id, payment_id, total_yield, payer_share, platform_share, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5::NUMERIC(20,2), $6::NUMERIC(20,2), $7)`,
		po.ID, po.ActivationID, po.PaymentID, po.TotalYield, po.PayerShare, po.PlatformShare, po.CreatedAt,
	)
	return err
}

func (p *PostgresStore) PayoutByActivation(ctx context.Context, activationID string) (*Payout, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, activation_id, payment_id, total_yield::TEXT, payer_share::TEXT, platform_share::TEXT, created_at
		FROM yield_payouts
		WHERE activation_id = $1`, activationID)
	po := &Payout{}
	err := row.Scan(&po.ID, &po.ActivationID, &po.PaymentID, &po.TotalYield, &po.PayerShare, &po.PlatformShare, &po.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrActivationNotFound
	}
	return po, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanActivation(s scanner) (*Activation, error) {
	a := &Activation{}
	var (
		status  string
		endedAt sql.NullTime
	)
	err := s.Scan(&a.ID, &a.PaymentID, &a.Principal, &a.AnnualRate, &status, &a.ActivatedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	if endedAt.Valid {
		a.EndedAt = &endedAt.Time
	}
	return a, nil
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
