package watcher

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/davigut/pactum/internal/money"
)

type recordingSink struct {
	from   string
	amount int64
	txHash string
	calls  int
	err    error
}

func (r *recordingSink) LockObserved(ctx context.Context, from string, amountCents int64, txHash string) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.from = from
	r.amount = amountCents
	r.txHash = txHash
	return nil
}

func transferLog(from common.Address, to common.Address, units *big.Int, tx common.Hash) types.Log {
	return types.Log{
		Topics: []common.Hash{
			transferEventSig,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:   units.FillBytes(make([]byte, 32)),
		TxHash: tx,
	}
}

func newTestWatcher(sink Sink) *Watcher {
	return &Watcher{
		config:    DefaultConfig(),
		sink:      sink,
		logger:    slog.Default(),
		processed: make(map[string]bool),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func TestProcessTransfer(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWatcher(sink)

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	escrow := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tx := common.HexToHash("0xaaaa")

	// 1500.00 MXN in token units.
	vLog := transferLog(from, escrow, money.TokenUnits(150000), tx)
	if err := w.processTransfer(context.Background(), vLog); err != nil {
		t.Fatalf("processTransfer failed: %v", err)
	}

	if sink.calls != 1 {
		t.Fatalf("sink called %d times, want 1", sink.calls)
	}
	if sink.amount != 150000 {
		t.Errorf("amount = %d centavos, want 150000", sink.amount)
	}
	if sink.from != "0x1111111111111111111111111111111111111111" {
		t.Errorf("from = %q", sink.from)
	}
	if sink.txHash != tx.Hex() {
		t.Errorf("txHash = %q, want %q", sink.txHash, tx.Hex())
	}
}

func TestProcessTransfer_Deduplicates(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWatcher(sink)

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	escrow := common.HexToAddress("0x2222222222222222222222222222222222222222")
	vLog := transferLog(from, escrow, money.TokenUnits(100), common.HexToHash("0xbbbb"))

	for i := 0; i < 3; i++ {
		if err := w.processTransfer(context.Background(), vLog); err != nil {
			t.Fatalf("processTransfer %d failed: %v", i, err)
		}
	}
	if sink.calls != 1 {
		t.Errorf("sink called %d times for the same tx, want 1", sink.calls)
	}
}

func TestProcessTransfer_RetriesAfterSinkError(t *testing.T) {
	sink := &recordingSink{err: context.DeadlineExceeded}
	w := newTestWatcher(sink)

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	escrow := common.HexToAddress("0x2222222222222222222222222222222222222222")
	vLog := transferLog(from, escrow, money.TokenUnits(100), common.HexToHash("0xcccc"))

	if err := w.processTransfer(context.Background(), vLog); err == nil {
		t.Fatal("expected error from failing sink")
	}

	// The failed tx must not stay marked as processed.
	sink.err = nil
	if err := w.processTransfer(context.Background(), vLog); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if sink.calls != 2 {
		t.Errorf("sink called %d times, want 2", sink.calls)
	}
}

func TestProcessTransfer_MalformedEvent(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWatcher(sink)

	vLog := types.Log{
		Topics: []common.Hash{transferEventSig},
		TxHash: common.HexToHash("0xdddd"),
	}
	if err := w.processTransfer(context.Background(), vLog); err == nil {
		t.Fatal("expected error for event with missing topics")
	}
	if sink.calls != 0 {
		t.Errorf("sink called %d times for malformed event, want 0", sink.calls)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PollInterval == 0 {
		t.Error("Expected non-zero poll interval")
	}
	if cfg.StartBlock != 0 {
		t.Errorf("Expected start block 0, got %d", cfg.StartBlock)
	}
}
