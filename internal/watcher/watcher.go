// Package watcher monitors the token contract for transfers into the
// escrow contract.
//
// Custody locks are submitted by the platform itself, but the chain is
// the source of truth: observing the Transfer event confirms the lock
// actually landed, and surfaces deposits sent to the escrow contract
// outside the normal flow.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/davigut/pactum/internal/money"
)

// ERC20 Transfer event signature
var transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Sink receives confirmed transfers into the escrow contract. The
// amount is in centavos.
type Sink interface {
	LockObserved(ctx context.Context, from string, amountCents int64, txHash string) error
}

// Config for the custody watcher
type Config struct {
	RPCURL         string
	TokenContract  common.Address
	EscrowContract common.Address
	PollInterval   time.Duration
	StartBlock     uint64 // 0 = latest
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		StartBlock:   0,
	}
}

// Watcher monitors for token transfers into the escrow contract
type Watcher struct {
	client *ethclient.Client
	config Config
	sink   Sink
	logger *slog.Logger

	// Track processed transactions
	processed map[string]bool
	mu        sync.Mutex

	// Last processed block
	lastBlock uint64

	// Shutdown
	stop chan struct{}
	done chan struct{}
}

// New creates a new custody watcher
func New(cfg Config, sink Sink, logger *slog.Logger) (*Watcher, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return &Watcher{
		client:    client,
		config:    cfg,
		sink:      sink,
		logger:    logger,
		processed: make(map[string]bool),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching for custody locks
func (w *Watcher) Start(ctx context.Context) error {
	// Get starting block
	if w.config.StartBlock == 0 {
		block, err := w.client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get block number: %w", err)
		}
		w.lastBlock = block
	} else {
		w.lastBlock = w.config.StartBlock
	}

	w.logger.Info("custody watcher started",
		"escrow", w.config.EscrowContract.Hex(),
		"token", w.config.TokenContract.Hex(),
		"startBlock", w.lastBlock,
	)

	go w.pollLoop(ctx)
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.checkForLocks(ctx); err != nil {
				w.logger.Error("custody lock check failed", "error", err)
			}
		}
	}
}

func (w *Watcher) checkForLocks(ctx context.Context) error {
	// Get current block
	currentBlock, err := w.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block number: %w", err)
	}

	// Nothing new
	if currentBlock <= w.lastBlock {
		return nil
	}

	// Query for Transfer events into the escrow contract
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(w.lastBlock + 1)),
		ToBlock:   big.NewInt(int64(currentBlock)),
		Addresses: []common.Address{w.config.TokenContract},
		Topics: [][]common.Hash{
			{transferEventSig}, // Transfer event
			nil,                // Any from address
			{common.BytesToHash(w.config.EscrowContract.Bytes())}, // To escrow contract
		},
	}

	logs, err := w.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to filter logs: %w", err)
	}

	for _, vLog := range logs {
		if err := w.processTransfer(ctx, vLog); err != nil {
			w.logger.Error("failed to process transfer", "tx", vLog.TxHash.Hex(), "error", err)
		}
	}

	w.lastBlock = currentBlock
	return nil
}

func (w *Watcher) processTransfer(ctx context.Context, vLog types.Log) error {
	txHash := vLog.TxHash.Hex()

	// Skip if already processed
	w.mu.Lock()
	if w.processed[txHash] {
		w.mu.Unlock()
		return nil
	}
	// Mark as in-progress to prevent concurrent duplicate processing.
	// If processing fails, we remove it so the next poll can retry.
	w.processed[txHash] = true
	w.mu.Unlock()

	// On failure, unmark so the transfer is retried on the next poll cycle.
	var succeeded bool
	defer func() {
		if !succeeded {
			w.mu.Lock()
			delete(w.processed, txHash)
			w.mu.Unlock()
		}
	}()

	// Parse the Transfer event
	// Topics[1] = from address (indexed)
	// Topics[2] = to address (indexed)
	// Data = amount
	if len(vLog.Topics) < 3 {
		return fmt.Errorf("invalid transfer event")
	}

	from := strings.ToLower(common.HexToAddress(vLog.Topics[1].Hex()).Hex())
	units := new(big.Int).SetBytes(vLog.Data)
	cents := money.FromTokenUnits(units)

	if err := w.sink.LockObserved(ctx, from, cents, txHash); err != nil {
		return fmt.Errorf("failed to record custody lock: %w", err)
	}

	w.logger.Info("custody lock observed",
		"from", from,
		"amount", money.Format(cents),
		"tx", txHash,
	)

	succeeded = true
	return nil
}
