// Package profile resolves payer/payee identity for payment processing.
//
// The engine only ever reads profiles: verification status, wallet
// address for on-chain custody, and the registered bank account for
// fiat payouts. Account management lives elsewhere.
package profile

import (
	"context"
	"errors"
	"strings"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile is the read-only identity view consumed by the engine.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"fullName,omitempty"`
	Verified      bool   `json:"verified"`
	WalletAddress string `json:"walletAddress,omitempty"`
	DepositCLABE  string `json:"depositClabe,omitempty"`
	PayoutCLABE   string `json:"payoutClabe,omitempty"`
	BankAccountID string `json:"bankAccountId,omitempty"` // Rail-side account reference
}

// Resolver looks up profiles by email.
type Resolver interface {
	ByEmail(ctx context.Context, email string) (*Profile, error)
}

// Store persists profiles. The engine only needs Resolver; Store exists
// for wiring and tests.
type Store interface {
	Resolver
	Put(ctx context.Context, p *Profile) error
}

// Normalize lowercases and trims an email for lookup.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
