package dispute

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists disputes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, payment_id, raised_by, reason, status, outcome,
			resolution, resolved_by, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.PaymentID, d.RaisedBy, d.Reason, string(d.Status), nullString(string(d.Outcome)),
		nullString(d.Resolution), nullString(d.ResolvedBy), nullTime(d.ResolvedAt),
		d.CreatedAt, d.UpdatedAt,
	)
	return err
}

const disputeColumns = `id, payment_id, raised_by, reason, status, outcome,
	       resolution, resolved_by, resolved_at, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) OpenByPayment(ctx context.Context, paymentID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE payment_id = $1 AND status = 'open'
		ORDER BY created_at DESC
		LIMIT 1`, paymentID)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) ListByPayment(ctx context.Context, paymentID string) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE payment_id = $1
		ORDER BY created_at ASC`, paymentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, outcome = $2, resolution = $3,
			resolved_by = $4, resolved_at = $5, updated_at = $6
		WHERE id = $7`,
		string(d.Status), nullString(string(d.Outcome)), nullString(d.Resolution),
		nullString(d.ResolvedBy), nullTime(d.ResolvedAt), d.UpdatedAt, d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) AddMessage(ctx context.Context, m *Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispute_messages (id, dispute_id, author, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.DisputeID, m.Author, m.Body, m.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Messages(ctx context.Context, disputeID string) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dispute_id, author, body, created_at
		FROM dispute_messages
		WHERE dispute_id = $1
		ORDER BY created_at ASC, id ASC`, disputeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.DisputeID, &m.Author, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDispute(s scanner) (*Dispute, error) {
	d := &Dispute{}
	var (
		status     string
		outcome    sql.NullString
		resolution sql.NullString
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	err := s.Scan(
		&d.ID, &d.PaymentID, &d.RaisedBy, &d.Reason, &status, &outcome,
		&resolution, &resolvedBy, &resolvedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.Outcome = Outcome(outcome.String)
	d.Resolution = resolution.String
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return d, nil
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
