// Package reconciliation compares on-chain custody against escrow records.
package reconciliation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/davigut/pactum/internal/money"
)

// CustodySummer returns the total custody locked across active escrows,
// in centavos.
type CustodySummer interface {
	SumActiveCustody(ctx context.Context) (int64, error)
}

// ChainBalanceProvider returns the custody wallet's on-chain token balance.
type ChainBalanceProvider interface {
	TokenBalance(ctx context.Context) (*big.Int, error)
}

// CustodyResult holds the outcome of a custody reconciliation check.
type CustodyResult struct {
	Match        bool   `json:"match"`
	ChainBalance string `json:"chainBalance"`
	CustodyTotal string `json:"custodyTotal"`
	Diff         string `json:"diff"`
}

// Service compares what the escrow table says is locked against what
// the chain actually holds.
type Service struct {
	summer         CustodySummer
	chain          ChainBalanceProvider
	alertThreshold *big.Int // token units; default 1 peso
}

// NewService creates a reconciliation service.
func NewService(summer CustodySummer, chain ChainBalanceProvider) *Service {
	return &Service{
		summer:         summer,
		chain:          chain,
		alertThreshold: money.TokenUnits(100),
	}
}

// SetAlertThreshold sets the threshold, in centavos, above which a
// custody shortfall is flagged.
func (s *Service) SetAlertThreshold(cents int64) {
	if cents >= 0 {
		s.alertThreshold = money.TokenUnits(cents)
	}
}

// ReconcileCustody compares the active-escrow custody sum against the
// on-chain token balance. The chain balance may legitimately exceed the
// custody sum (accrued yield not yet swept), so only a shortfall beyond
// the threshold is a mismatch.
func (s *Service) ReconcileCustody(ctx context.Context) (*CustodyResult, error) {
	totalCents, err := s.summer.SumActiveCustody(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum active custody: %w", err)
	}
	expected := money.TokenUnits(totalCents)

	chainBal, err := s.chain.TokenBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get on-chain balance: %w", err)
	}

	diff := new(big.Int).Sub(chainBal, expected)
	shortfall := new(big.Int).Neg(diff)

	return &CustodyResult{
		Match:        shortfall.Cmp(s.alertThreshold) <= 0,
		ChainBalance: money.Format(money.FromTokenUnits(chainBal)),
		CustodyTotal: money.Format(totalCents),
		Diff:         money.Format(money.FromTokenUnits(diff)),
	}, nil
}
