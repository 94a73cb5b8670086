// Package multisig coordinates threshold-signature approval for
// high-value custody releases.
//
// A wallet config names the owner addresses and how many distinct
// signatures a release needs. Approval requests claim a nonce
// atomically at creation, collect signatures one at a time, and
// execute on-chain exactly once when the threshold is met.
package multisig

import (
	"context"
	"errors"
	"time"
)

var (
	ErrWalletNotFound     = errors.New("multisig wallet not found")
	ErrRequestNotFound    = errors.New("approval request not found")
	ErrNotAnOwner         = errors.New("signer is not a wallet owner")
	ErrDuplicateSignature = errors.New("signer already signed this request")
	ErrAlreadyExecuted    = errors.New("request already executed")
)

// WalletConfig describes one threshold wallet.
type WalletConfig struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Owners    []string  `json:"owners"`
	Threshold int       `json:"threshold"`
	NextNonce int64     `json:"nextNonce"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsOwner reports whether addr is one of the wallet's owners.
func (w *WalletConfig) IsOwner(addr string) bool {
	for _, o := range w.Owners {
		if equalAddr(o, addr) {
			return true
		}
	}
	return false
}

// RequestStatus is the lifecycle state of an approval request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestExecuted RequestStatus = "executed"
	RequestFailed   RequestStatus = "failed"
)

// Request is one pending or completed approval request.
type Request struct {
	ID         string        `json:"id"`
	WalletID   string        `json:"walletId"`
	PaymentID  string        `json:"paymentId"`
	To         string        `json:"to"`     // Destination address
	Amount     string        `json:"amount"` // Token amount, decimal string
	Nonce      int64         `json:"nonce"`  // Claimed atomically at creation
	Status     RequestStatus `json:"status"`
	TxHash     string        `json:"txHash,omitempty"`
	ExecutedAt *time.Time    `json:"executedAt,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// Signature is one owner's approval of a request.
type Signature struct {
	ID        string    `json:"id"`
	RequestID string    `json:"requestId"`
	Signer    string    `json:"signer"`
	Signature string    `json:"signature"` // 65-byte hex
	CreatedAt time.Time `json:"createdAt"`
}

// TxLogEntry records one execution attempt against the chain.
type TxLogEntry struct {
	ID        string    `json:"id"`
	RequestID string    `json:"requestId"`
	TxHash    string    `json:"txHash,omitempty"`
	Outcome   string    `json:"outcome"` // submitted, confirmed, failed
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists wallet configs, requests, signatures, and the
// execution log.
type Store interface {
	PutWallet(ctx context.Context, w *WalletConfig) error
	GetWallet(ctx context.Context, id string) (*WalletConfig, error)

	// CreateRequest claims the wallet's next nonce and inserts the
	// request in one atomic step. Two concurrent creations can never
	// observe the same nonce.
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	GetRequestByPayment(ctx context.Context, paymentID string) (*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error

	// AddSignature returns ErrDuplicateSignature when the signer has
	// already signed the request.
	AddSignature(ctx context.Context, sig *Signature) error
	Signatures(ctx context.Context, requestID string) ([]*Signature, error)

	AppendTxLog(ctx context.Context, entry *TxLogEntry) error
	TxLog(ctx context.Context, requestID string) ([]*TxLogEntry, error)
}
