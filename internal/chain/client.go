// Package chain wraps a live connection to one EVM JSON-RPC endpoint chosen
// from an ordered candidate list, and exposes the submission, receipt, and
// gas queries the recorder and verifier need.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cognizanttrust/chain-reconciler/internal/cache"
	"github.com/cognizanttrust/chain-reconciler/internal/chain/ratelimit"
	"github.com/cognizanttrust/chain-reconciler/internal/chain/rpc"
	"github.com/cognizanttrust/chain-reconciler/internal/circuitbreaker"
)

// ErrNoEndpoint means every candidate endpoint failed the liveness probe or
// reported the wrong chain id.
var ErrNoEndpoint = errors.New("chain: no endpoint available on target chain")

const (
	// receiptCacheSize bounds the terminal-receipt cache. Terminal receipts
	// are immutable, so a hit saves one RPC round trip per verification pass.
	receiptCacheSize = 4096
	receiptCacheTTL  = time.Hour
)

// rpcAPI is the slice of the JSON-RPC client the chain client consumes.
type rpcAPI interface {
	ChainID(ctx context.Context) (int64, error)
	BlockNumber(ctx context.Context) (int64, error)
	SendRawTransaction(ctx context.Context, rawTx string) (string, error)
	GetTransactionReceipt(ctx context.Context, hash string) (*rpc.TransactionReceipt, error)
	GetTransactionCount(ctx context.Context, address string) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error)
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	URL() string
}

// newRPC is swapped in tests to probe fake endpoints.
var newRPC = func(rpcURL string, logger *slog.Logger) rpcAPI {
	return rpc.NewClient(rpcURL, logger)
}

type Config struct {
	Endpoints           []string
	ChainID             int64
	ConnectTimeout      time.Duration
	ReceiptPollInterval time.Duration
	RatePerSec          float64
	Burst               int
}

// Client is a live connection bound to one endpoint on the target chain.
// All calls ride a shared token-bucket limiter to stay inside free-provider
// quotas, and a circuit breaker fails calls fast while the endpoint is down
// instead of burning the rate budget on a dead host.
type Client struct {
	api      rpcAPI
	chainID  int64
	pollIntv time.Duration
	limiter  *ratelimit.Limiter
	breaker  *circuitbreaker.Breaker
	receipts *cache.LRU[string, Outcome]
	logger   *slog.Logger
}

// Connect probes cfg.Endpoints in order and binds to the first endpoint that
// answers eth_chainId with the expected chain id. Endpoints that error or
// report another chain are skipped. This is a liveness probe only; calls on
// the returned client can still fail transiently and callers handle that.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	logger = logger.With("component", "chain")

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	pollIntv := cfg.ReceiptPollInterval
	if pollIntv <= 0 {
		pollIntv = 3 * time.Second
	}
	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	for _, endpoint := range cfg.Endpoints {
		api := newRPC(endpoint, logger)

		probeCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		chainID, err := api.ChainID(probeCtx)
		cancel()

		if err != nil {
			logger.Warn("endpoint probe failed", "endpoint", endpoint, "error", err)
			continue
		}
		if chainID != cfg.ChainID {
			logger.Warn("endpoint on wrong chain",
				"endpoint", endpoint, "chain_id", chainID, "want", cfg.ChainID)
			continue
		}

		logger.Info("connected to chain", "endpoint", endpoint, "chain_id", chainID)
		return &Client{
			api:      api,
			chainID:  chainID,
			pollIntv: pollIntv,
			limiter:  ratelimit.NewLimiter(ratePerSec, burst),
			breaker: circuitbreaker.New(circuitbreaker.Config{
				OnStateChange: func(from, to circuitbreaker.State) {
					logger.Warn("rpc circuit state changed",
						"endpoint", endpoint, "from", from.String(), "to", to.String())
				},
			}),
			receipts: cache.NewLRU[string, Outcome](receiptCacheSize, receiptCacheTTL),
			logger:   logger,
		}, nil
	}

	return nil, fmt.Errorf("%w: tried %d endpoints", ErrNoEndpoint, len(cfg.Endpoints))
}

func (c *Client) ChainID() int64 {
	return c.chainID
}

func (c *Client) Endpoint() string {
	return c.api.URL()
}

// SubmitSigned broadcasts a signed raw transaction and returns its hash
// without waiting for inclusion.
func (c *Client) SubmitSigned(ctx context.Context, rawTx string) (string, error) {
	if err := c.guard(ctx); err != nil {
		return "", err
	}
	hash, err := c.api.SendRawTransaction(ctx, rawTx)
	c.record("eth_sendRawTransaction", err)
	return hash, err
}

// ResolveOutcome performs a single receipt lookup. A missing receipt is
// OutcomeStillPending, not an error. Terminal outcomes are cached; repeated
// lookups for a settled transaction skip the network.
func (c *Client) ResolveOutcome(ctx context.Context, txRef string) (Outcome, error) {
	if out, ok := c.receipts.Get(txRef); ok {
		return out, nil
	}

	if err := c.guard(ctx); err != nil {
		return Outcome{Status: OutcomeStillPending, TxRef: txRef}, err
	}

	receipt, err := c.api.GetTransactionReceipt(ctx, txRef)
	c.record("eth_getTransactionReceipt", err)
	if err != nil {
		return Outcome{Status: OutcomeStillPending, TxRef: txRef}, err
	}
	if receipt == nil {
		return Outcome{Status: OutcomeStillPending, TxRef: txRef}, nil
	}

	out := Outcome{TxRef: txRef}
	if n, err := rpc.ParseHexInt64(receipt.BlockNumber); err == nil {
		out.BlockNumber = n
	}
	if n, err := rpc.ParseHexInt64(receipt.GasUsed); err == nil {
		out.GasUsed = n
	}

	status, err := rpc.ParseHexInt64(receipt.Status)
	if err != nil {
		return Outcome{Status: OutcomeStillPending, TxRef: txRef}, fmt.Errorf("parse receipt status: %w", err)
	}
	if status == 1 {
		out.Status = OutcomeSuccess
	} else {
		out.Status = OutcomeFailed
	}

	c.receipts.Put(txRef, out)
	return out, nil
}

// AwaitOutcome polls for a receipt until it resolves or timeout elapses.
// Timeout yields OutcomeStillPending; transient lookup errors are logged and
// treated as not-yet-resolved.
func (c *Client) AwaitOutcome(ctx context.Context, txRef string, timeout time.Duration) Outcome {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollIntv)
	defer ticker.Stop()

	for {
		out, err := c.ResolveOutcome(ctx, txRef)
		if err != nil {
			c.logger.Debug("receipt lookup failed", "tx_ref", txRef, "error", err)
		} else if out.Status != OutcomeStillPending {
			return out
		}

		select {
		case <-ctx.Done():
			return Outcome{Status: OutcomeStillPending, TxRef: txRef}
		case <-deadline.C:
			return Outcome{Status: OutcomeStillPending, TxRef: txRef}
		case <-ticker.C:
		}
	}
}

// Nonce returns the pending-state transaction count for address.
func (c *Client) Nonce(ctx context.Context, address string) (uint64, error) {
	if err := c.guard(ctx); err != nil {
		return 0, err
	}
	nonce, err := c.api.GetTransactionCount(ctx, address)
	c.record("eth_getTransactionCount", err)
	return nonce, err
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	price, err := c.api.GasPrice(ctx)
	c.record("eth_gasPrice", err)
	return price, err
}

// EstimateGas is best-effort; callers fall back to a fixed ceiling on error.
func (c *Client) EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error) {
	if err := c.guard(ctx); err != nil {
		return 0, err
	}
	gas, err := c.api.EstimateGas(ctx, msg)
	c.record("eth_estimateGas", err)
	return gas, err
}

// Head returns the current block height of the bound endpoint.
func (c *Client) Head(ctx context.Context) (int64, error) {
	if err := c.guard(ctx); err != nil {
		return 0, err
	}
	head, err := c.api.BlockNumber(ctx)
	c.record("eth_blockNumber", err)
	return head, err
}

// Balance returns the wei balance of address.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	balance, err := c.api.GetBalance(ctx, address)
	c.record("eth_getBalance", err)
	return balance, err
}

// guard gates one outbound call behind the circuit breaker and the rate
// limiter, in that order, so an open circuit does not consume rate tokens.
func (c *Client) guard(ctx context.Context) error {
	if err := c.breaker.Allow(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	return c.limiter.Wait(ctx)
}

// record feeds the call result to the RPC metrics and the breaker. Context
// cancellation is the caller going away, not endpoint health, so it does not
// count against the circuit.
func (c *Client) record(method string, err error) {
	ratelimit.RecordRPCCall(method, err)
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
	default:
		c.breaker.RecordFailure()
	}
}
