package multisig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/davigut/pactum/internal/idgen"
	"github.com/davigut/pactum/internal/metrics"
	"github.com/davigut/pactum/internal/payment"
	"github.com/davigut/pactum/internal/syncutil"
)

// Executor submits the approved release to the chain and returns the
// transaction hash. Implemented by the chain adapter.
type Executor interface {
	ExecuteRelease(ctx context.Context, walletAddr string, r *Request, sigs []*Signature) (string, error)
}

// Blocker answers whether a payment's releases are frozen.
// Implemented by the dispute service.
type Blocker interface {
	IsBlocked(ctx context.Context, paymentID string) (bool, error)
}

// Service coordinates signature collection and threshold execution.
// All mutation of one request is serialized through a keyed mutex, so
// two concurrent signatures can never both observe "threshold-1" and
// double-execute.
type Service struct {
	store    Store
	executor Executor
	blocker  Blocker
	advancer payment.Advancer
	locks    *syncutil.KeyedMutex
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a multisig service.
func NewService(store Store, executor Executor, blocker Blocker, opts ...Option) *Service {
	s := &Service{
		store:    store,
		executor: executor,
		blocker:  blocker,
		locks:    syncutil.NewKeyedMutex(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAdvancer wires the escrow engine in after construction.
func (s *Service) SetAdvancer(a payment.Advancer) { s.advancer = a }

// CreateWallet registers a threshold wallet configuration.
func (s *Service) CreateWallet(ctx context.Context, address string, owners []string, threshold int) (*WalletConfig, error) {
	if threshold < 1 || threshold > len(owners) {
		return nil, fmt.Errorf("threshold %d out of range for %d owners", threshold, len(owners))
	}
	seen := make(map[string]bool, len(owners))
	for _, o := range owners {
		key := normalizeAddr(o)
		if seen[key] {
			return nil, fmt.Errorf("duplicate owner %s", o)
		}
		seen[key] = true
	}
	w := &WalletConfig{
		ID:        idgen.WithPrefix("msw_"),
		Address:   address,
		Owners:    owners,
		Threshold: threshold,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.PutWallet(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info("multisig wallet registered",
		"wallet_id", w.ID,
		"address", address,
		"threshold", threshold,
		"owners", len(owners))
	return w, nil
}

// CreateRequest opens an approval request for a payment's release.
// The wallet nonce is claimed inside the store, atomically with the
// insert.
func (s *Service) CreateRequest(ctx context.Context, walletID, paymentID, to, amount string) (*Request, error) {
	if _, err := s.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	r := &Request{
		ID:        idgen.WithPrefix("msr_"),
		WalletID:  walletID,
		PaymentID: paymentID,
		To:        to,
		Amount:    amount,
		Status:    RequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRequest(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("approval request opened",
		"request_id", r.ID,
		"payment_id", paymentID,
		"nonce", r.Nonce,
		"amount", amount)
	return r, nil
}

// SignResult is the outcome of submitting one signature.
type SignResult struct {
	Request    *Request `json:"request"`
	Signatures int      `json:"signatures"`
	Threshold  int      `json:"threshold"`
	Executed   bool     `json:"executed"`
}

// AddSignature verifies and records one owner's signature, then
// executes the release if the distinct-signer count reaches the
// wallet threshold. A repeated signature from the same owner is a
// no-op and never double-counts.
func (s *Service) AddSignature(ctx context.Context, requestID, signer, signatureHex string) (*SignResult, error) {
	unlock, err := s.locks.Lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock: another signer may have executed while
	// we waited.
	r, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	w, err := s.store.GetWallet(ctx, r.WalletID)
	if err != nil {
		return nil, err
	}
	if r.Status == RequestExecuted {
		sigs, _ := s.store.Signatures(ctx, requestID)
		return &SignResult{Request: r, Signatures: len(sigs), Threshold: w.Threshold, Executed: true}, nil
	}

	if !w.IsOwner(signer) {
		return nil, ErrNotAnOwner
	}
	recovered, err := RecoverSigner(SigningMessage(w.Address, r), signatureHex)
	if err != nil {
		return nil, err
	}
	if !equalAddr(recovered, signer) {
		return nil, fmt.Errorf("signature recovers to %s, not %s", recovered, signer)
	}

	sig := &Signature{
		ID:        idgen.WithPrefix("sig_"),
		RequestID: requestID,
		Signer:    normalizeAddr(signer),
		Signature: signatureHex,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AddSignature(ctx, sig); err != nil && !errors.Is(err, ErrDuplicateSignature) {
		return nil, err
	}

	sigs, err := s.store.Signatures(ctx, requestID)
	if err != nil {
		return nil, err
	}
	result := &SignResult{Request: r, Signatures: len(sigs), Threshold: w.Threshold}
	if len(sigs) < w.Threshold {
		return result, nil
	}

	executed, err := s.tryExecute(ctx, w, r, sigs)
	if err != nil {
		return nil, err
	}
	result.Executed = executed
	result.Request = r
	return result, nil
}

// tryExecute runs under the request lock.
func (s *Service) tryExecute(ctx context.Context, w *WalletConfig, r *Request, sigs []*Signature) (bool, error) {
	if s.blocker != nil {
		blocked, err := s.blocker.IsBlocked(ctx, r.PaymentID)
		if err != nil {
			return false, err
		}
		if blocked {
			// Signatures keep accumulating; execution waits for the
			// dispute to clear.
			s.logger.Warn("threshold met but payment disputed, holding execution",
				"request_id", r.ID,
				"payment_id", r.PaymentID)
			return false, nil
		}
	}

	txHash, err := s.executor.ExecuteRelease(ctx, w.Address, r, sigs)
	now := s.now().UTC()
	if err != nil {
		metrics.MultisigExecutionsTotal.WithLabelValues("failed").Inc()
		_ = s.store.AppendTxLog(ctx, &TxLogEntry{
			ID:        idgen.WithPrefix("mtx_"),
			RequestID: r.ID,
			Outcome:   "failed",
			Detail:    err.Error(),
			CreatedAt: now,
		})
		return false, fmt.Errorf("executing release: %w", err)
	}

	r.Status = RequestExecuted
	r.TxHash = txHash
	r.ExecutedAt = &now
	r.UpdatedAt = now
	if err := s.store.UpdateRequest(ctx, r); err != nil {
		return false, err
	}
	if err := s.store.AppendTxLog(ctx, &TxLogEntry{
		ID:        idgen.WithPrefix("mtx_"),
		RequestID: r.ID,
		TxHash:    txHash,
		Outcome:   "confirmed",
		CreatedAt: now,
	}); err != nil {
		return false, err
	}
	metrics.MultisigExecutionsTotal.WithLabelValues("executed").Inc()

	s.logger.Info("multisig release executed",
		"request_id", r.ID,
		"payment_id", r.PaymentID,
		"tx_hash", txHash,
		"signatures", len(sigs))

	if s.advancer != nil {
		if err := s.advancer.Advance(ctx, r.PaymentID, payment.EventReleaseExecuted); err != nil {
			return true, err
		}
	}
	return true, nil
}

// ExecuteIfReady retries execution for a request whose threshold is
// already met, e.g. after a dispute clears or a chain outage ends.
func (s *Service) ExecuteIfReady(ctx context.Context, requestID string) (*SignResult, error) {
	unlock, err := s.locks.Lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	w, err := s.store.GetWallet(ctx, r.WalletID)
	if err != nil {
		return nil, err
	}
	sigs, err := s.store.Signatures(ctx, requestID)
	if err != nil {
		return nil, err
	}
	result := &SignResult{Request: r, Signatures: len(sigs), Threshold: w.Threshold}
	if r.Status == RequestExecuted {
		result.Executed = true
		return result, nil
	}
	if len(sigs) < w.Threshold {
		return result, nil
	}
	executed, err := s.tryExecute(ctx, w, r, sigs)
	if err != nil {
		return nil, err
	}
	result.Executed = executed
	return result, nil
}

// GetRequest returns a request with its signatures and execution log.
func (s *Service) GetRequest(ctx context.Context, requestID string) (*Request, []*Signature, []*TxLogEntry, error) {
	r, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, nil, err
	}
	sigs, err := s.store.Signatures(ctx, requestID)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := s.store.TxLog(ctx, requestID)
	if err != nil {
		return nil, nil, nil, err
	}
	return r, sigs, log, nil
}

// RequestForPayment returns the approval request tied to a payment.
func (s *Service) RequestForPayment(ctx context.Context, paymentID string) (*Request, error) {
	return s.store.GetRequestByPayment(ctx, paymentID)
}

// GetWallet returns a wallet configuration.
func (s *Service) GetWallet(ctx context.Context, id string) (*WalletConfig, error) {
	return s.store.GetWallet(ctx, id)
}

func normalizeAddr(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}
