package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5)

	require.NotNil(t, l)
	require.NotNil(t, l.limiter)

	assert.InDelta(t, 10.0, float64(l.limiter.Limit()), 0.001)
	assert.Equal(t, 5, l.limiter.Burst())
}

func TestLimiter_AllowWithinBurst(t *testing.T) {
	const burst = 5
	l := NewLimiter(100, burst)

	ctx := context.Background()

	// All requests within the burst capacity should succeed immediately.
	for i := 0; i < burst; i++ {
		start := time.Now()
		err := l.Wait(ctx)
		elapsed := time.Since(start)

		require.NoError(t, err, "request %d should not error", i)
		assert.Less(t, elapsed, 50*time.Millisecond,
			"request %d should complete immediately, took %v", i, elapsed)
	}
}

func TestLimiter_WaitWhenExhausted(t *testing.T) {
	// Low RPS so that after burst is exhausted, the next request must wait a
	// noticeable amount of time.
	const (
		rps   = 10.0 // 1 token every 100ms
		burst = 1
	)
	l := NewLimiter(rps, burst)

	ctx := context.Background()

	err := l.Wait(ctx)
	require.NoError(t, err)

	start := time.Now()
	err = l.Wait(ctx)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond,
		"should have waited for a token, but only took %v", elapsed)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	const (
		rps   = 1.0 // 1 token per second
		burst = 1
	)
	l := NewLimiter(rps, burst)

	// Exhaust the burst token.
	err := l.Wait(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	err = l.Wait(ctx)
	require.Error(t, err, "should return error when context is cancelled")
}

func TestClassifyRPCError(t *testing.T) {
	assert.Equal(t, "ok", ClassifyRPCError(nil))
	assert.Equal(t, "timeout", ClassifyRPCError(errors.New("context deadline exceeded")))
	assert.Equal(t, "rate_limited", ClassifyRPCError(errors.New("HTTP 429 Too Many Requests")))
	assert.Equal(t, "server_error", ClassifyRPCError(errors.New("502 bad gateway")))
	assert.Equal(t, "network_error", ClassifyRPCError(errors.New("dial tcp: connection refused")))
	assert.Equal(t, "client_error", ClassifyRPCError(errors.New("invalid params")))
}
