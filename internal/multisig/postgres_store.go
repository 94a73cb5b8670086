package multisig

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists multisig state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed multisig store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) PutWallet(ctx context.Context, w *WalletConfig) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO multisig_wallet_configs (id, address, owners, threshold, next_nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.Address, pq.Array(w.Owners), w.Threshold, w.NextNonce, w.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetWallet(ctx context.Context, id string) (*WalletConfig, error) {
	w := &WalletConfig{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, address, owners, threshold, next_nonce, created_at
		FROM multisig_wallet_configs WHERE id = $1`, id,
	).Scan(&w.ID, &w.Address, pq.Array(&w.Owners), &w.Threshold, &w.NextNonce, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	return w, err
}

// CreateRequest claims the wallet nonce and inserts the request in one
// transaction. The UPDATE takes a row lock on the wallet config, so
// concurrent creations serialize and each sees a distinct nonce.
func (p *PostgresStore) CreateRequest(ctx context.Context, r *Request) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var nonce int64
	err = tx.QueryRowContext(ctx, `
		UPDATE multisig_wallet_configs
		SET next_nonce = next_nonce + 1
		WHERE id = $1
		RETURNING next_nonce - 1`, r.WalletID,
	).Scan(&nonce)
	if err == sql.ErrNoRows {
		return ErrWalletNotFound
	}
	if err != nil {
		return err
	}
	r.Nonce = nonce

	_, err = tx.ExecContext(ctx, `
		INSERT INTO multisig_approval_requests (
			id, wallet_id, payment_id, to_address, amount, nonce,
			status, tx_hash, executed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(30,6), $6, $7, $8, $9, $10, $11)`,
		r.ID, r.WalletID, r.PaymentID, r.To, r.Amount, r.Nonce,
		string(r.Status), nullString(r.TxHash), nullTime(r.ExecutedAt), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

const requestColumns = `id, wallet_id, payment_id, to_address, amount::TEXT, nonce,
	       status, tx_hash, executed_at, created_at, updated_at`

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM multisig_approval_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	return r, err
}

func (p *PostgresStore) GetRequestByPayment(ctx context.Context, paymentID string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM multisig_approval_requests
		WHERE payment_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, paymentID)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	return r, err
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, r *Request) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE multisig_approval_requests SET
			status = $1, tx_hash = $2, executed_at = $3, updated_at = $4
		WHERE id = $5`,
		string(r.Status), nullString(r.TxHash), nullTime(r.ExecutedAt), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (p *PostgresStore) AddSignature(ctx context.Context, sig *Signature) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO multisig_signatures (id, request_id, signer, signature, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sig.ID, sig.RequestID, sig.Signer, sig.Signature, sig.CreatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		// Unique (request_id, signer) violation.
		return ErrDuplicateSignature
	}
	return err
}

func (p *PostgresStore) Signatures(ctx context.Context, requestID string) ([]*Signature, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, request_id, signer, signature, created_at
		FROM multisig_signatures
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Signature
	for rows.Next() {
		sig := &Signature{}
		if err := rows.Scan(&sig.ID, &sig.RequestID, &sig.Signer, &sig.Signature, &sig.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, sig)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AppendTxLog(ctx context.Context, entry *TxLogEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO multisig_transaction_log (id, request_id, tx_hash, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.RequestID, nullString(entry.TxHash), entry.Outcome, nullString(entry.Detail), entry.CreatedAt,
	)
	return err
}

func (p *PostgresStore) TxLog(ctx context.Context, requestID string) ([]*TxLogEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, request_id, tx_hash, outcome, detail, created_at
		FROM multisig_transaction_log
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*TxLogEntry
	for rows.Next() {
		entry := &TxLogEntry{}
		var txHash, detail sql.NullString
		if err := rows.Scan(&entry.ID, &entry.RequestID, &txHash, &entry.Outcome, &detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.TxHash = txHash.String
		entry.Detail = detail.String
		result = append(result, entry)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*Request, error) {
	r := &Request{}
	var (
		status     string
		txHash     sql.NullString
		executedAt sql.NullTime
	)
	err := s.Scan(
		&r.ID, &r.WalletID, &r.PaymentID, &r.To, &r.Amount, &r.Nonce,
		&status, &txHash, &executedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = RequestStatus(status)
	r.TxHash = txHash.String
	if executedAt.Valid {
		r.ExecutedAt = &executedAt.Time
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
