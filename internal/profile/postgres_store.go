package profile

import (
	"context"
	"database/sql"
)

// PostgresStore reads profiles from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) ByEmail(ctx context.Context, email string) (*Profile, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, verified, wallet_address,
		       deposit_clabe, payout_clabe, bank_account_id
		FROM profiles WHERE email = $1`, Normalize(email))

	var (
		pr            Profile
		fullName      sql.NullString
		walletAddress sql.NullString
		depositCLABE  sql.NullString
		payoutCLABE   sql.NullString
		bankAccountID sql.NullString
	)
	err := row.Scan(&pr.ID, &pr.Email, &fullName, &pr.Verified,
		&walletAddress, &depositCLABE, &payoutCLABE, &bankAccountID)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	pr.FullName = fullName.String
	pr.WalletAddress = walletAddress.String
	pr.DepositCLABE = depositCLABE.String
	pr.PayoutCLABE = payoutCLABE.String
	pr.BankAccountID = bankAccountID.String
	return &pr, nil
}

func (p *PostgresStore) Put(ctx context.Context, pr *Profile) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, full_name, verified, wallet_address,
		                      deposit_clabe, payout_clabe, bank_account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (email) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			verified = EXCLUDED.verified,
			wallet_address = EXCLUDED.wallet_address,
			deposit_clabe = EXCLUDED.deposit_clabe,
			payout_clabe = EXCLUDED.payout_clabe,
			bank_account_id = EXCLUDED.bank_account_id`,
		pr.ID, Normalize(pr.Email), nullString(pr.FullName), pr.Verified,
		nullString(pr.WalletAddress), nullString(pr.DepositCLABE),
		nullString(pr.PayoutCLABE), nullString(pr.BankAccountID),
	)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
