// Package recorder builds, signs, and broadcasts record-creation
// transactions with a server-held key, and waits a bounded time for the
// chain to disclose the outcome.
package recorder

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cognizanttrust/chain-reconciler/internal/chain"
	"github.com/cognizanttrust/chain-reconciler/internal/chain/rpc"
	"github.com/cognizanttrust/chain-reconciler/internal/domain/model"
	"github.com/cognizanttrust/chain-reconciler/internal/metrics"
	"github.com/cognizanttrust/chain-reconciler/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrAddressMismatch means the address derived from the decrypted key
	// does not equal the stored public address.
	ErrAddressMismatch = errors.New("recorder: derived address does not match stored address")
	// ErrNotInitialized means Initialize has not succeeded yet.
	ErrNotInitialized = errors.New("recorder: not initialized")
)

// OutcomeKind classifies the result of one submission attempt.
type OutcomeKind string

const (
	// OutcomeConfirmed means the chain reported the transaction included and
	// successful.
	OutcomeConfirmed OutcomeKind = "confirmed"
	// OutcomeSentUnconfirmed means the broadcast succeeded but no receipt
	// arrived within the wait bound; the outcome is unknown.
	OutcomeSentUnconfirmed OutcomeKind = "sent_unconfirmed"
	// OutcomeRejected means the transaction was included but reverted.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeFailed means the transaction never reached the network.
	OutcomeFailed OutcomeKind = "submission_failed"
)

type Outcome struct {
	Kind        OutcomeKind
	TxRef       string
	BlockNumber int64
	GasUsed     int64
	Reason      string
}

// chainAPI is the slice of the chain client the recorder consumes.
type chainAPI interface {
	ChainID() int64
	SubmitSigned(ctx context.Context, rawTx string) (string, error)
	AwaitOutcome(ctx context.Context, txRef string, timeout time.Duration) chain.Outcome
	ResolveOutcome(ctx context.Context, txRef string) (chain.Outcome, error)
	Nonce(ctx context.Context, address string) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	Head(ctx context.Context) (int64, error)
}

// credentialSource decrypts the stored signing credential.
type credentialSource interface {
	Load(passphrase string) (*wallet.Credentials, error)
}

// sessionToucher records a successful automatic-session start.
type sessionToucher interface {
	TouchAutoSession(ctx context.Context) error
}

type Config struct {
	Chain            chain.Config
	DonationContract string
	SpendingContract string
	ReceiptWait      time.Duration
}

// Recorder holds the decrypted signer and the live chain connection for the
// process lifetime. Created empty; armed by Initialize; disarmed by Shutdown.
type Recorder struct {
	creds    credentialSource
	settings sessionToucher
	cfg      Config
	logger   *slog.Logger

	// connect is swapped in tests.
	connect func(ctx context.Context, cfg chain.Config, logger *slog.Logger) (chainAPI, error)

	mu          sync.Mutex
	key         *ecdsa.PrivateKey
	address     common.Address
	client      chainAPI
	initialized bool
}

func New(creds credentialSource, settings sessionToucher, cfg Config, logger *slog.Logger) *Recorder {
	if cfg.ReceiptWait <= 0 {
		cfg.ReceiptWait = 120 * time.Second
	}
	return &Recorder{
		creds:    creds,
		settings: settings,
		cfg:      cfg,
		logger:   logger.With("component", "recorder"),
		connect: func(ctx context.Context, cfg chain.Config, logger *slog.Logger) (chainAPI, error) {
			return chain.Connect(ctx, cfg, logger)
		},
	}
}

// Initialize decrypts the credential, connects to the chain, and verifies the
// stored address against the one derived from the key. A failure leaves the
// recorder disarmed and caches nothing.
func (r *Recorder) Initialize(ctx context.Context, passphrase string) error {
	creds, err := r.creds.Load(passphrase)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	keyHex := strings.TrimPrefix(creds.PrivateKey, "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}

	derived := crypto.PubkeyToAddress(key.PublicKey)
	stored := common.HexToAddress(creds.Address)
	if derived != stored {
		zeroKey(key)
		r.logger.Error("stored address does not match key",
			"stored", stored.Hex(), "derived", derived.Hex())
		return ErrAddressMismatch
	}

	client, err := r.connect(ctx, r.cfg.Chain, r.logger)
	if err != nil {
		zeroKey(key)
		return fmt.Errorf("connect chain: %w", err)
	}

	r.mu.Lock()
	r.key = key
	r.address = derived
	r.client = client
	r.initialized = true
	r.mu.Unlock()

	if err := r.settings.TouchAutoSession(ctx); err != nil {
		r.logger.Warn("could not update last auto session", "error", err)
	}

	r.logger.Info("recorder initialized", "signer", derived.Hex())
	return nil
}

// Initialized reports whether a signer and connection are held.
func (r *Recorder) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// SignerAddress returns the checksummed signer address when initialized.
func (r *Recorder) SignerAddress() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return "", false
	}
	return r.address.Hex(), true
}

// Shutdown zeroes the held key material and drops the connection.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key != nil {
		zeroKey(r.key)
		r.key = nil
	}
	r.client = nil
	r.initialized = false
	r.logger.Info("recorder shut down")
}

// Submit builds the kind-specific call for rec, signs it, broadcasts it, and
// waits up to the configured bound for the outcome. onBroadcast, when
// non-nil, runs as soon as the transaction hash exists so the caller can
// persist the attempted reference before the outcome is known; a crash
// between broadcast and outcome check then loses nothing.
func (r *Recorder) Submit(ctx context.Context, rec *model.Record, onBroadcast func(txRef string)) Outcome {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return Outcome{Kind: OutcomeFailed, Reason: ErrNotInitialized.Error()}
	}
	key := r.key
	signer := r.address
	client := r.client
	r.mu.Unlock()

	started := time.Now()
	defer func() {
		metrics.SubmitDuration.Observe(time.Since(started).Seconds())
	}()

	call, err := r.buildCall(rec, signer)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Reason: err.Error()}
	}
	data, err := call.CallData()
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Reason: err.Error()}
	}

	nonce, err := client.Nonce(ctx, signer.Hex())
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf("fetch nonce: %v", err)}
	}
	gasPrice, err := client.GasPrice(ctx)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf("fetch gas price: %v", err)}
	}

	to := call.ContractAddress()
	gasLimit := r.estimateGas(ctx, client, call, signer, to, data)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(client.ChainID())), key)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf("sign transaction: %v", err)}
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf("encode transaction: %v", err)}
	}

	txRef, err := client.SubmitSigned(ctx, hexutil.Encode(raw))
	if err != nil {
		r.logger.Warn("broadcast failed", "record_id", rec.ID, "error", err)
		return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf("broadcast: %v", err)}
	}

	r.logger.Info("transaction broadcast",
		"record_id", rec.ID, "kind", rec.Kind, "tx_ref", txRef, "gas_limit", gasLimit)

	if onBroadcast != nil {
		onBroadcast(txRef)
	}

	out := client.AwaitOutcome(ctx, txRef, r.cfg.ReceiptWait)
	switch out.Status {
	case chain.OutcomeSuccess:
		r.logger.Info("transaction confirmed",
			"record_id", rec.ID, "tx_ref", txRef,
			"block", out.BlockNumber, "gas_used", out.GasUsed)
		return Outcome{Kind: OutcomeConfirmed, TxRef: txRef, BlockNumber: out.BlockNumber, GasUsed: out.GasUsed}
	case chain.OutcomeFailed:
		r.logger.Warn("transaction reverted",
			"record_id", rec.ID, "tx_ref", txRef, "block", out.BlockNumber)
		return Outcome{Kind: OutcomeRejected, TxRef: txRef, BlockNumber: out.BlockNumber, GasUsed: out.GasUsed}
	default:
		r.logger.Warn("no receipt within wait bound, outcome unknown",
			"record_id", rec.ID, "tx_ref", txRef, "wait", r.cfg.ReceiptWait)
		return Outcome{Kind: OutcomeSentUnconfirmed, TxRef: txRef}
	}
}

// ResolveOutcome performs a single receipt lookup for a previously attempted
// transaction.
func (r *Recorder) ResolveOutcome(ctx context.Context, txRef string) (chain.Outcome, error) {
	r.mu.Lock()
	client := r.client
	initialized := r.initialized
	r.mu.Unlock()
	if !initialized {
		return chain.Outcome{Status: chain.OutcomeStillPending, TxRef: txRef}, ErrNotInitialized
	}
	return client.ResolveOutcome(ctx, txRef)
}

// Balance returns the signer's balance in wei.
func (r *Recorder) Balance(ctx context.Context) (*big.Int, error) {
	r.mu.Lock()
	client := r.client
	address := r.address
	initialized := r.initialized
	r.mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}
	return client.Balance(ctx, address.Hex())
}

// ChainHead returns the current block height of the bound endpoint.
func (r *Recorder) ChainHead(ctx context.Context) (int64, error) {
	r.mu.Lock()
	client := r.client
	initialized := r.initialized
	r.mu.Unlock()
	if !initialized {
		return 0, ErrNotInitialized
	}
	return client.Head(ctx)
}

const gasEstimateHeadroom = 120 // percent

func (r *Recorder) estimateGas(ctx context.Context, client chainAPI, call contractCall, from, to common.Address, data []byte) uint64 {
	estimated, err := client.EstimateGas(ctx, rpc.CallMsg{
		From: from.Hex(),
		To:   to.Hex(),
		Data: hexutil.Encode(data),
	})
	if err != nil {
		r.logger.Warn("gas estimation failed, using fallback limit",
			"fallback", call.FallbackGasLimit(), "error", err)
		return call.FallbackGasLimit()
	}
	return estimated * gasEstimateHeadroom / 100
}

func zeroKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetInt64(0)
	}
}
