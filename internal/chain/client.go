package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Config for creating a chain client.
type Config struct {
	RPCURL         string
	PrivateKey     string // Bridge wallet key, hex, with or without 0x
	ChainID        int64
	EscrowContract string
	TokenContract  string
}

// Option configures the client.
type Option func(*Client)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(c *Client) { c.client = client }
}

// Client signs and submits custody transactions from the bridge wallet.
type Client struct {
	client         EthClient
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	chainID        *big.Int
	escrowContract common.Address
	tokenContract  common.Address
	escrowABI      abi.ABI
	tokenABI       abi.ABI
}

// Compile-time interface check.
var _ CustodyClient = (*Client)(nil)

// New creates a chain client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	parsedEscrowABI, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	parsedTokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	c := &Client{
		privateKey:     privateKey,
		address:        crypto.PubkeyToAddress(*publicKey),
		chainID:        big.NewInt(cfg.ChainID),
		escrowContract: common.HexToAddress(cfg.EscrowContract),
		tokenContract:  common.HexToAddress(cfg.TokenContract),
		escrowABI:      parsedEscrowABI,
		tokenABI:       parsedTokenABI,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.client = client
	}
	return c, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if cfg.EscrowContract == "" {
		return fmt.Errorf("escrow contract address required")
	}
	if cfg.TokenContract == "" {
		return fmt.Errorf("token contract address required")
	}
	return nil
}

// Address returns the bridge wallet's address.
func (c *Client) Address() string {
	return c.address.Hex()
}

// CreateEscrow locks amount token units for the payment until deadline.
func (c *Client) CreateEscrow(ctx context.Context, paymentID string, amount *big.Int, deadline time.Time) (string, error) {
	data, err := c.escrowABI.Pack("createEscrow", EscrowKey(paymentID), amount, big.NewInt(deadline.Unix()))
	if err != nil {
		return "", &TxError{Op: "pack_create", Err: err}
	}
	return c.submit(ctx, "create_escrow", data)
}

// Release pays the locked custody for the payment out to the payee.
func (c *Client) Release(ctx context.Context, paymentID string) (string, error) {
	data, err := c.escrowABI.Pack("release", EscrowKey(paymentID))
	if err != nil {
		return "", &TxError{Op: "pack_release", Err: err}
	}
	return c.submit(ctx, "release", data)
}

// Refund returns the locked custody for the payment to the payer.
func (c *Client) Refund(ctx context.Context, paymentID string) (string, error) {
	data, err := c.escrowABI.Pack("refund", EscrowKey(paymentID))
	if err != nil {
		return "", &TxError{Op: "pack_refund", Err: err}
	}
	return c.submit(ctx, "refund", data)
}

// ExecuteMultisigRelease submits a threshold-approved release through
// the wallet contract, with the collected signatures concatenated in
// submission order.
func (c *Client) ExecuteMultisigRelease(ctx context.Context, walletAddr, to string, amount *big.Int, nonce int64, signatures []string) (string, error) {
	var sigBytes []byte
	for _, sig := range signatures {
		b, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
		if err != nil {
			return "", &TxError{Op: "decode_signatures", Err: err}
		}
		sigBytes = append(sigBytes, b...)
	}
	data, err := c.escrowABI.Pack("execTransaction", common.HexToAddress(to), amount, big.NewInt(nonce), sigBytes)
	if err != nil {
		return "", &TxError{Op: "pack_exec", Err: err}
	}
	return c.submitTo(ctx, "exec_transaction", common.HexToAddress(walletAddr), data)
}

func (c *Client) submit(ctx context.Context, op string, data []byte) (string, error) {
	return c.submitTo(ctx, op, c.escrowContract, data)
}

func (c *Client) submitTo(ctx context.Context, op string, to common.Address, data []byte) (string, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", &TxError{Op: op, Err: err}
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", &TxError{Op: op, Err: err}
	}
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &to,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Estimation failures fall back to a fixed ceiling.
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", &TxError{Op: op, Err: err}
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", &TxError{Op: op, TxHash: signedTx.Hash().Hex(), Err: err}
	}
	return signedTx.Hash().Hex(), nil
}

// WaitForConfirmation polls for the transaction receipt until it is
// mined or the timeout passes.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error {
	hash := common.HexToHash(txHash)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: waiting for tx %s", ErrTimeout, txHash)
			}
			return ctx.Err()

		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Not yet mined.
				continue
			}
			if receipt.Status == 0 {
				return &TxError{Op: "confirm", TxHash: txHash, Err: ErrTransactionFailed}
			}
			return nil
		}
	}
}

// TokenBalance reads the bridge wallet's custody token balance.
func (c *Client) TokenBalance(ctx context.Context) (*big.Int, error) {
	data, err := c.tokenABI.Pack("balanceOf", c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.tokenContract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	balance := new(big.Int)
	balance.SetBytes(result)
	return balance, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
