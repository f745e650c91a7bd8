package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognizanttrust/chain-reconciler/internal/chain"
	"github.com/cognizanttrust/chain-reconciler/internal/chain/rpc"
	"github.com/cognizanttrust/chain-reconciler/internal/domain/model"
	"github.com/cognizanttrust/chain-reconciler/internal/wallet"
)

// Deterministic test key; never used outside tests.
const (
	testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"
	testAddress    = "0x1a90d4744979058aa58a8F981542cCE348a85fd5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCreds struct {
	creds *wallet.Credentials
	err   error
}

func (f *fakeCreds) Load(string) (*wallet.Credentials, error) {
	return f.creds, f.err
}

type fakeSettings struct {
	touched int
	err     error
}

func (f *fakeSettings) TouchAutoSession(context.Context) error {
	f.touched++
	return f.err
}

// fakeChain is a scriptable chainAPI capturing each broadcast.
type fakeChain struct {
	mu           sync.Mutex
	chainID      int64
	nonce        uint64
	nonceErr     error
	gasPrice     *big.Int
	gasPriceErr  error
	estimate     uint64
	estimateErr  error
	submitHash   string
	submitErr    error
	awaitOutcome chain.Outcome
	resolved     chain.Outcome
	resolveErr   error
	balance      *big.Int
	head         int64

	submitted []string
	estimated []rpc.CallMsg
}

func (f *fakeChain) ChainID() int64 { return f.chainID }

func (f *fakeChain) SubmitSigned(_ context.Context, rawTx string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, rawTx)
	return f.submitHash, nil
}

func (f *fakeChain) AwaitOutcome(_ context.Context, txRef string, _ time.Duration) chain.Outcome {
	out := f.awaitOutcome
	out.TxRef = txRef
	return out
}

func (f *fakeChain) ResolveOutcome(_ context.Context, txRef string) (chain.Outcome, error) {
	out := f.resolved
	out.TxRef = txRef
	return out, f.resolveErr
}

func (f *fakeChain) Nonce(context.Context, string) (uint64, error) {
	return f.nonce, f.nonceErr
}

func (f *fakeChain) GasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, f.gasPriceErr
}

func (f *fakeChain) EstimateGas(_ context.Context, msg rpc.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	f.estimated = append(f.estimated, msg)
	return f.estimate, nil
}

func (f *fakeChain) Balance(context.Context, string) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeChain) Head(context.Context) (int64, error) {
	return f.head, nil
}

func healthyFakeChain() *fakeChain {
	return &fakeChain{
		chainID:      11155111,
		nonce:        3,
		gasPrice:     big.NewInt(1_000_000_000),
		estimate:     90_000,
		submitHash:   "0xtxhash",
		awaitOutcome: chain.Outcome{Status: chain.OutcomeSuccess, BlockNumber: 42, GasUsed: 85_000},
		balance:      big.NewInt(1_000_000),
	}
}

func testConfig() Config {
	return Config{
		DonationContract: "0x1111111111111111111111111111111111111111",
		SpendingContract: "0x2222222222222222222222222222222222222222",
		ReceiptWait:      time.Second,
	}
}

func newTestRecorder(t *testing.T, api *fakeChain) (*Recorder, *fakeSettings) {
	t.Helper()
	settings := &fakeSettings{}
	r := New(
		&fakeCreds{creds: &wallet.Credentials{PrivateKey: testPrivateKey, Address: testAddress}},
		settings,
		testConfig(),
		testLogger(),
	)
	r.connect = func(context.Context, chain.Config, *slog.Logger) (chainAPI, error) {
		return api, nil
	}
	return r, settings
}

func armedRecorder(t *testing.T, api *fakeChain) *Recorder {
	t.Helper()
	r, _ := newTestRecorder(t, api)
	require.NoError(t, r.Initialize(context.Background(), "pw"))
	return r
}

func donationRecord() *model.Record {
	return &model.Record{
		ID:          uuid.New(),
		Kind:        model.KindDonation,
		Amount:      decimal.NewFromFloat(2500.50),
		DonorName:   "A Donor",
		Purpose:     "education",
		ReferenceID: "upi-123",
		ChainStatus: model.StatusPending,
	}
}

func spendingRecord(category string) *model.Record {
	return &model.Record{
		ID:          uuid.New(),
		Kind:        model.KindSpending,
		Amount:      decimal.NewFromInt(800),
		Title:       "School supplies",
		Category:    category,
		ChainStatus: model.StatusPending,
	}
}

func TestInitialize(t *testing.T) {
	r, settings := newTestRecorder(t, healthyFakeChain())

	require.NoError(t, r.Initialize(context.Background(), "pw"))
	assert.True(t, r.Initialized())
	assert.Equal(t, 1, settings.touched)

	addr, ok := r.SignerAddress()
	require.True(t, ok)
	assert.Equal(t, testAddress, addr)
}

func TestInitialize_BadPassphrasePropagates(t *testing.T) {
	r := New(&fakeCreds{err: wallet.ErrBadPassphrase}, &fakeSettings{}, testConfig(), testLogger())

	err := r.Initialize(context.Background(), "wrong")
	assert.ErrorIs(t, err, wallet.ErrBadPassphrase)
	assert.False(t, r.Initialized())
}

func TestInitialize_AddressMismatch(t *testing.T) {
	r := New(
		&fakeCreds{creds: &wallet.Credentials{
			PrivateKey: testPrivateKey,
			Address:    "0x0000000000000000000000000000000000000001",
		}},
		&fakeSettings{}, testConfig(), testLogger(),
	)
	r.connect = func(context.Context, chain.Config, *slog.Logger) (chainAPI, error) {
		t.Fatal("must not connect when the address check fails")
		return nil, nil
	}

	err := r.Initialize(context.Background(), "pw")
	assert.ErrorIs(t, err, ErrAddressMismatch)
	assert.False(t, r.Initialized())
}

func TestInitialize_ChainUnreachable(t *testing.T) {
	r, _ := newTestRecorder(t, nil)
	r.connect = func(context.Context, chain.Config, *slog.Logger) (chainAPI, error) {
		return nil, chain.ErrNoEndpoint
	}

	err := r.Initialize(context.Background(), "pw")
	assert.ErrorIs(t, err, chain.ErrNoEndpoint)
	assert.False(t, r.Initialized())
}

func TestShutdown_DisarmsRecorder(t *testing.T) {
	r := armedRecorder(t, healthyFakeChain())

	r.Shutdown()
	assert.False(t, r.Initialized())
	_, ok := r.SignerAddress()
	assert.False(t, ok)

	out := r.Submit(context.Background(), donationRecord(), nil)
	assert.Equal(t, OutcomeFailed, out.Kind)
}

func TestSubmit_ConfirmedDonation(t *testing.T) {
	api := healthyFakeChain()
	r := armedRecorder(t, api)

	var broadcastRef string
	out := r.Submit(context.Background(), donationRecord(), func(txRef string) {
		broadcastRef = txRef
	})

	assert.Equal(t, OutcomeConfirmed, out.Kind)
	assert.Equal(t, "0xtxhash", out.TxRef)
	assert.Equal(t, int64(42), out.BlockNumber)
	assert.Equal(t, "0xtxhash", broadcastRef, "broadcast callback must fire before the outcome wait")
	require.Len(t, api.submitted, 1)
}

func TestSubmit_SignedTransactionShape(t *testing.T) {
	api := healthyFakeChain()
	r := armedRecorder(t, api)

	out := r.Submit(context.Background(), spendingRecord("healthcare"), nil)
	require.Equal(t, OutcomeConfirmed, out.Kind)
	require.Len(t, api.submitted, 1)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(hexMustDecode(t, api.submitted[0])))
	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, testConfig().SpendingContract, tx.To().Hex())
	assert.Equal(t, int64(0), tx.Value().Int64())
	// Estimated gas carries the headroom multiplier.
	assert.Equal(t, uint64(90_000*120/100), tx.Gas())

	signer := types.NewEIP155Signer(big.NewInt(api.chainID))
	from, err := types.Sender(signer, &tx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, from.Hex())

	key, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), from)
}

func TestSubmit_RevertedIsRejected(t *testing.T) {
	api := healthyFakeChain()
	api.awaitOutcome = chain.Outcome{Status: chain.OutcomeFailed, BlockNumber: 42}
	r := armedRecorder(t, api)

	called := false
	out := r.Submit(context.Background(), donationRecord(), func(string) { called = true })
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.Equal(t, "0xtxhash", out.TxRef)
	assert.True(t, called, "attempt ref must be persisted even when the tx later reverts")
}

func TestSubmit_NoReceiptIsSentUnconfirmed(t *testing.T) {
	api := healthyFakeChain()
	api.awaitOutcome = chain.Outcome{Status: chain.OutcomeStillPending}
	r := armedRecorder(t, api)

	out := r.Submit(context.Background(), donationRecord(), nil)
	assert.Equal(t, OutcomeSentUnconfirmed, out.Kind)
	assert.Equal(t, "0xtxhash", out.TxRef)
}

func TestSubmit_BroadcastErrorIsFailed(t *testing.T) {
	api := healthyFakeChain()
	api.submitErr = errors.New("insufficient funds for gas")
	r := armedRecorder(t, api)

	called := false
	out := r.Submit(context.Background(), donationRecord(), func(string) { called = true })
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Contains(t, out.Reason, "broadcast")
	assert.False(t, called, "nothing reached the network, no attempt to persist")
}

func TestSubmit_NonceFetchErrorIsFailed(t *testing.T) {
	api := healthyFakeChain()
	api.nonceErr = errors.New("endpoint down")
	r := armedRecorder(t, api)

	out := r.Submit(context.Background(), donationRecord(), nil)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Empty(t, api.submitted)
}

func TestSubmit_EstimateFailureFallsBackToFixedGas(t *testing.T) {
	api := healthyFakeChain()
	api.estimateErr = errors.New("execution reverted")
	r := armedRecorder(t, api)

	out := r.Submit(context.Background(), donationRecord(), nil)
	require.Equal(t, OutcomeConfirmed, out.Kind)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(hexMustDecode(t, api.submitted[0])))
	assert.Equal(t, uint64(donationFallbackGas), tx.Gas())
}

func TestSubmit_MissingContractConfig(t *testing.T) {
	api := healthyFakeChain()
	settings := &fakeSettings{}
	r := New(
		&fakeCreds{creds: &wallet.Credentials{PrivateKey: testPrivateKey, Address: testAddress}},
		settings,
		Config{ReceiptWait: time.Second},
		testLogger(),
	)
	r.connect = func(context.Context, chain.Config, *slog.Logger) (chainAPI, error) {
		return api, nil
	}
	require.NoError(t, r.Initialize(context.Background(), "pw"))

	out := r.Submit(context.Background(), donationRecord(), nil)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Contains(t, out.Reason, "donation contract")
}

func TestResolveOutcome(t *testing.T) {
	api := healthyFakeChain()
	api.resolved = chain.Outcome{Status: chain.OutcomeSuccess, BlockNumber: 99}
	r := armedRecorder(t, api)

	out, err := r.ResolveOutcome(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, chain.OutcomeSuccess, out.Status)
	assert.Equal(t, "0xabc", out.TxRef)
}

func TestResolveOutcome_RequiresInitialization(t *testing.T) {
	r, _ := newTestRecorder(t, healthyFakeChain())

	_, err := r.ResolveOutcome(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestBalance(t *testing.T) {
	r := armedRecorder(t, healthyFakeChain())

	balance, err := r.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), balance)

	r.Shutdown()
	_, err = r.Balance(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestChainHead(t *testing.T) {
	api := healthyFakeChain()
	api.head = 9_000_001
	r := armedRecorder(t, api)

	head, err := r.ChainHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9_000_001), head)

	r.Shutdown()
	_, err = r.ChainHead(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func hexMustDecode(t *testing.T, raw string) []byte {
	t.Helper()
	b, err := hexutil.Decode(raw)
	require.NoError(t, err)
	return b
}
