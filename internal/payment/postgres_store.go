package payment

import (
	"context"
	"database/sql"
)

// PostgresStore persists payments and their event log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, payer_email, payee_email, amount, currency, status, type,
			multisig_required, commission_percent, commission_beneficiary,
			custody_percent, custody_days, payer_approved, payee_approved,
			deposit_clabe, deposit_ref, payout_ref, retry_count,
			failure_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::NUMERIC(20,2), $5, $6, $7,
			$8, $9::NUMERIC(8,4), $10,
			$11::NUMERIC(8,4), $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21
		)`,
		pay.ID, pay.PayerEmail, pay.PayeeEmail, pay.Amount, pay.Currency,
		string(pay.Status), string(pay.Type),
		pay.MultisigRequired, nullString(pay.CommissionPercent), nullString(pay.CommissionBeneficiary),
		pay.CustodyPercent, pay.CustodyDays, pay.PayerApproved, pay.PayeeApproved,
		nullString(pay.DepositCLABE), nullString(pay.DepositRef), nullString(pay.PayoutRef),
		pay.RetryCount, nullString(pay.FailureReason), pay.CreatedAt, pay.UpdatedAt,
	)
	return err
}

const paymentColumns = `id, payer_email, payee_email, amount::TEXT, currency, status, type,
	       multisig_required, commission_percent::TEXT, commission_beneficiary,
	       custody_percent::TEXT, custody_days, payer_approved, payee_approved,
	       deposit_clabe, deposit_ref, payout_ref, retry_count,
	       failure_reason, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)

	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

// UpdateWithEvent writes the payment mutation and the audit event in a
// single transaction so a crash can never leave one without the other.
func (p *PostgresStore) UpdateWithEvent(ctx context.Context, pay *Payment, ev *Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE payments SET
			status = $1, payer_approved = $2, payee_approved = $3,
			deposit_ref = $4, payout_ref = $5, retry_count = $6,
			failure_reason = $7, updated_at = $8
		WHERE id = $9`,
		string(pay.Status), pay.PayerApproved, pay.PayeeApproved,
		nullString(pay.DepositRef), nullString(pay.PayoutRef), pay.RetryCount,
		nullString(pay.FailureReason), pay.UpdatedAt, pay.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}

	if ev != nil {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) AppendEvent(ctx context.Context, ev *Event) error {
	return insertEvent(ctx, p.db, ev)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, ev *Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payment_events (id, payment_id, type, description, automatic, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.PaymentID, ev.Type, nullString(ev.Description), ev.Automatic, ev.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Events(ctx context.Context, paymentID string) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, payment_id, type, description, automatic, created_at
		FROM payment_events
		WHERE payment_id = $1
		ORDER BY created_at ASC, id ASC`, paymentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		ev := &Event{}
		var description sql.NullString
		if err := rows.Scan(&ev.ID, &ev.PaymentID, &ev.Type, &description, &ev.Automatic, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Description = description.String
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pay)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(s scanner) (*Payment, error) {
	pay := &Payment{}
	var (
		status                string
		ptype                 string
		commissionPercent     sql.NullString
		commissionBeneficiary sql.NullString
		depositCLABE          sql.NullString
		depositRef            sql.NullString
		payoutRef             sql.NullString
		failureReason         sql.NullString
	)

	err := s.Scan(
		&pay.ID, &pay.PayerEmail, &pay.PayeeEmail, &pay.Amount, &pay.Currency, &status, &ptype,
		&pay.MultisigRequired, &commissionPercent, &commissionBeneficiary,
		&pay.CustodyPercent, &pay.CustodyDays, &pay.PayerApproved, &pay.PayeeApproved,
		&depositCLABE, &depositRef, &payoutRef, &pay.RetryCount,
		&failureReason, &pay.CreatedAt, &pay.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pay.Status = Status(status)
	pay.Type = Type(ptype)
	pay.CommissionPercent = commissionPercent.String
	pay.CommissionBeneficiary = commissionBeneficiary.String
	pay.DepositCLABE = depositCLABE.String
	pay.DepositRef = depositRef.String
	pay.PayoutRef = payoutRef.String
	pay.FailureReason = failureReason.String

	return pay, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
