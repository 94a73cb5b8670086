// Package chain talks to the custody escrow contract on Arbitrum.
//
// The bridge wallet holds the custody token (MXNB, 6 decimals) and is
// the only signer: it locks custody at funding, releases it to the
// payee, and refunds it to the payer on dispute. All amounts cross
// this boundary as token units.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrInvalidAddress    = errors.New("chain: invalid address")
	ErrTransactionFailed = errors.New("chain: transaction reverted")
	ErrTimeout           = errors.New("chain: operation timed out")
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
)

// TxError wraps a failed chain operation with its context.
type TxError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *TxError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// CustodyClient is what the escrow engine needs from the chain.
type CustodyClient interface {
	// CreateEscrow locks amount token units under the payment's key
	// until deadline.
	CreateEscrow(ctx context.Context, paymentID string, amount *big.Int, deadline time.Time) (string, error)
	// Release pays the locked custody out to the payee.
	Release(ctx context.Context, paymentID string) (string, error)
	// Refund returns the locked custody to the payer.
	Refund(ctx context.Context, paymentID string) (string, error)
	// WaitForConfirmation blocks until the transaction is mined, the
	// timeout passes, or the transaction reverts.
	WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error
	// TokenBalance reads the bridge wallet's custody token balance.
	TokenBalance(ctx context.Context) (*big.Int, error)
}

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Minimal ABI for the custody escrow contract.
const escrowABI = `[
	{"inputs":[{"name":"escrowId","type":"bytes32"},{"name":"amount","type":"uint256"},{"name":"deadline","type":"uint256"}],"name":"createEscrow","outputs":[],"type":"function"},
	{"inputs":[{"name":"escrowId","type":"bytes32"}],"name":"release","outputs":[],"type":"function"},
	{"inputs":[{"name":"escrowId","type":"bytes32"}],"name":"refund","outputs":[],"type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"signatures","type":"bytes"}],"name":"execTransaction","outputs":[],"type":"function"}
]`

// Minimal ERC20 ABI for the custody token.
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

const (
	// DefaultGasLimit for escrow contract calls.
	DefaultGasLimit = uint64(300000)

	// DefaultConfirmationTimeout for waiting on transactions.
	DefaultConfirmationTimeout = 60 * time.Second

	// ConfirmationPollInterval between receipt checks.
	ConfirmationPollInterval = 2 * time.Second
)

// EscrowKey derives the contract-side bytes32 key for a payment.
func EscrowKey(paymentID string) common.Hash {
	return crypto.Keccak256Hash([]byte(paymentID))
}
