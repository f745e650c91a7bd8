package rpc

import (
	"context"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainID(t *testing.T) {
	fix := newRPCFixture(t)
	fix.results["eth_chainId"] = `"0xaa36a7"`
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	id, err := NewClient(srv.URL, testLogger()).ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), id)
}

func TestSendRawTransaction(t *testing.T) {
	fix := newRPCFixture(t)
	fix.results["eth_sendRawTransaction"] = `"0xabc123"`
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	hash, err := NewClient(srv.URL, testLogger()).SendRawTransaction(context.Background(), "0xsigned")
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", hash)

	require.Len(t, fix.calls, 1)
	assert.Equal(t, []interface{}{"0xsigned"}, fix.calls[0].Params)
}

func TestGetTransactionReceipt(t *testing.T) {
	fix := newRPCFixture(t)
	fix.results["eth_getTransactionReceipt"] = `{
		"transactionHash": "0xabc",
		"blockNumber": "0x53d1f1",
		"status": "0x1",
		"gasUsed": "0x5208"
	}`
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	receipt, err := NewClient(srv.URL, testLogger()).GetTransactionReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "0x1", receipt.Status)
	assert.Equal(t, "0x53d1f1", receipt.BlockNumber)
}

func TestGetTransactionReceipt_NotYetIncluded(t *testing.T) {
	fix := newRPCFixture(t)
	fix.results["eth_getTransactionReceipt"] = `null`
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	receipt, err := NewClient(srv.URL, testLogger()).GetTransactionReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Nil(t, receipt, "missing receipt is not an error")
}

func TestGetTransactionCount_UsesPendingState(t *testing.T) {
	fix := newRPCFixture(t)
	fix.results["eth_getTransactionCount"] = `"0x2a"`
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	nonce, err := NewClient(srv.URL, testLogger()).GetTransactionCount(context.Background(), "0xaddr")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)

	require.Len(t, fix.calls, 1)
	assert.Equal(t, []interface{}{"0xaddr", "pending"}, fix.calls[0].Params)
}

func TestGasPrice(t *testing.T) {
	fix := newRPCFixture(t)
	fix.results["eth_gasPrice"] = `"0x3b9aca00"`
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	price, err := NewClient(srv.URL, testLogger()).GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000), price)
}

func TestEstimateGas(t *testing.T) {
	fix := newRPCFixture(t)
	fix.results["eth_estimateGas"] = `"0x186a0"`
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	gas, err := NewClient(srv.URL, testLogger()).EstimateGas(context.Background(), CallMsg{
		From: "0xfrom", To: "0xto", Data: "0xdeadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), gas)
}

func TestGetBalance(t *testing.T) {
	fix := newRPCFixture(t)
	fix.results["eth_getBalance"] = `"0xde0b6b3a7640000"`
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	balance, err := NewClient(srv.URL, testLogger()).GetBalance(context.Background(), "0xaddr")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", balance.String())
}

func TestParseHexInt64(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{name: "plain", in: "0x10", want: 16},
		{name: "uppercase prefix", in: "0X1F", want: 31},
		{name: "bare prefix", in: "0x", want: 0},
		{name: "whitespace", in: "  0x2a ", want: 42},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "0xzz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHexInt64(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseHexBig(t *testing.T) {
	got, err := ParseHexBig("0xde0b6b3a7640000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", got.String())

	zero, err := ParseHexBig("0x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), zero.Int64())

	_, err = ParseHexBig("not-hex")
	require.Error(t, err)
}

func TestFormatHex(t *testing.T) {
	assert.Equal(t, "0x2a", FormatHexInt64(42))
	assert.Equal(t, "0xde0b6b3a7640000", FormatHexBig(big.NewInt(1_000_000_000_000_000_000)))
}
