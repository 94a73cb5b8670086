package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/davigut/pactum/internal/notify"
)

// PostgresStore persists outbox entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed outbox store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Enqueue(ctx context.Context, e *Entry) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO outbox_entries (id, email, event_type, data, status, attempts, next_attempt, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.Email, string(e.EventType), dataJSON, e.Status, e.Attempts, e.NextAttempt, nullString(e.LastError), e.CreatedAt)
	return err
}

func (p *PostgresStore) Due(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, email, event_type, data, status, attempts, next_attempt, last_error, created_at, delivered_at
		FROM outbox_entries
		WHERE status = $1 AND next_attempt <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, StatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var eventType string
		var dataJSON []byte
		var lastError sql.NullString
		var deliveredAt sql.NullTime
		if err := rows.Scan(
			&e.ID, &e.Email, &eventType, &dataJSON, &e.Status,
			&e.Attempts, &e.NextAttempt, &lastError, &e.CreatedAt, &deliveredAt,
		); err != nil {
			return nil, err
		}
		e.EventType = notify.EventType(eventType)
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
				return nil, err
			}
		}
		e.LastError = lastError.String
		if deliveredAt.Valid {
			e.DeliveredAt = &deliveredAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE outbox_entries SET status = $1, delivered_at = $2, last_error = NULL
		WHERE id = $3
	`, StatusDelivered, at, id)
	if err != nil {
		return err
	}
	return checkFound(res)
}

func (p *PostgresStore) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastError string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE outbox_entries SET attempts = $1, next_attempt = $2, last_error = $3
		WHERE id = $4
	`, attempts, next, lastError, id)
	if err != nil {
		return err
	}
	return checkFound(res)
}

func (p *PostgresStore) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE outbox_entries SET status = $1, attempts = $2, last_error = $3
		WHERE id = $4
	`, StatusFailed, attempts, lastError, id)
	if err != nil {
		return err
	}
	return checkFound(res)
}

func checkFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
