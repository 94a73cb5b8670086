package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeEthClient struct {
	mu       sync.Mutex
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	failSend bool
}

func newFakeEthClient() *fakeEthClient {
	return &fakeEthClient{receipts: make(map[common.Hash]*types.Receipt)}
}

func (f *fakeEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("estimation unavailable")
}

func (f *fakeEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("nonce too low")
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func (f *fakeEthClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return big.NewInt(5_000_000_000).Bytes(), nil
}

func (f *fakeEthClient) Close() {}

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestClient(t *testing.T) (*Client, *fakeEthClient) {
	t.Helper()
	fake := newFakeEthClient()
	c, err := New(Config{
		RPCURL:         "http://localhost:8545",
		PrivateKey:     testKey,
		ChainID:        421614,
		EscrowContract: "0x0000000000000000000000000000000000000e5c",
		TokenContract:  "0x00000000000000000000000000000000000060c4",
	}, WithClient(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, fake
}

func TestCreateEscrowSubmitsSignedTx(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)

	deadline := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	txHash, err := c.CreateEscrow(ctx, "pay_1", big.NewInt(25_000_000_000), deadline)
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	if txHash == "" {
		t.Fatal("empty tx hash")
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(fake.sent))
	}
	tx := fake.sent[0]
	if tx.To() == nil || *tx.To() != common.HexToAddress("0x0000000000000000000000000000000000000e5c") {
		t.Errorf("tx to = %v, want escrow contract", tx.To())
	}
	// Estimation failed, so the fixed ceiling applies.
	if tx.Gas() != DefaultGasLimit {
		t.Errorf("gas = %d, want default %d", tx.Gas(), DefaultGasLimit)
	}
	if len(tx.Data()) == 0 {
		t.Error("empty calldata")
	}
}

func TestSendFailureSurfacesTxError(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)
	fake.failSend = true

	_, err := c.Release(ctx, "pay_1")
	var txErr *TxError
	if !errors.As(err, &txErr) {
		t.Fatalf("err = %v, want *TxError", err)
	}
	if txErr.TxHash == "" {
		t.Error("TxError should carry the attempted tx hash")
	}
}

func TestWaitForConfirmation(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)

	txHash, err := c.Release(ctx, "pay_1")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	fake.mu.Lock()
	fake.receipts[common.HexToHash(txHash)] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
	}
	fake.mu.Unlock()

	if err := c.WaitForConfirmation(ctx, txHash, 10*time.Second); err != nil {
		t.Fatalf("WaitForConfirmation: %v", err)
	}
}

func TestWaitForConfirmationRevert(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)

	txHash, err := c.Refund(ctx, "pay_1")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	fake.mu.Lock()
	fake.receipts[common.HexToHash(txHash)] = &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(100),
	}
	fake.mu.Unlock()

	err = c.WaitForConfirmation(ctx, txHash, 10*time.Second)
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("err = %v, want ErrTransactionFailed", err)
	}
}

func TestConfigValidation(t *testing.T) {
	base := Config{
		RPCURL:         "http://localhost:8545",
		PrivateKey:     testKey,
		ChainID:        421614,
		EscrowContract: "0xe5c",
		TokenContract:  "0x60c4",
	}

	bad := base
	bad.PrivateKey = "deadbeef"
	if _, err := New(bad, WithClient(newFakeEthClient())); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Errorf("short key: err = %v, want ErrInvalidPrivateKey", err)
	}

	bad = base
	bad.RPCURL = ""
	if _, err := New(bad, WithClient(newFakeEthClient())); !errors.Is(err, ErrRPCConnection) {
		t.Errorf("missing rpc: err = %v, want ErrRPCConnection", err)
	}

	bad = base
	bad.ChainID = 0
	if _, err := New(bad, WithClient(newFakeEthClient())); err == nil {
		t.Error("zero chain id accepted")
	}
}

func TestSimulatedLifecycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated(big.NewInt(1_000_000_000))

	if _, err := sim.CreateEscrow(ctx, "pay_1", big.NewInt(500), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	if locked := sim.Locked("pay_1"); locked == nil || locked.Int64() != 500 {
		t.Fatalf("locked = %v, want 500", locked)
	}
	if _, err := sim.Release(ctx, "pay_1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if sim.Locked("pay_1") != nil {
		t.Fatal("custody still locked after release")
	}
}
