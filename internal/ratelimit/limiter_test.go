package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter_Burst(t *testing.T) {
	limiter := NewLimiter("test", 60) // burst 5

	assert.Equal(t, "test", limiter.Name())
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(), "request %d within burst", i)
	}
	assert.False(t, limiter.Allow(), "burst exhausted")
}

func TestNewLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter("free", 0)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow())
	}
}

func TestLimiterWait(t *testing.T) {
	limiter := NewLimiter("test", 120)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiterBackoff(t *testing.T) {
	limiter := NewLimiter("test", 60, WithBackoff(10*time.Millisecond, 40*time.Millisecond))

	assert.Equal(t, 10*time.Millisecond, limiter.SignalRateLimited())
	assert.Equal(t, 20*time.Millisecond, limiter.Backoff())

	limiter.SignalRateLimited()
	limiter.SignalRateLimited()
	assert.Equal(t, 40*time.Millisecond, limiter.Backoff(), "capped")

	limiter.ResetBackoff()
	assert.Equal(t, 10*time.Millisecond, limiter.Backoff())
}

func TestLimiterPenaltyWindow(t *testing.T) {
	limiter := NewLimiter("test", 600, WithBackoff(50*time.Millisecond, time.Second))

	limiter.SignalRateLimited()
	assert.False(t, limiter.Allow(), "paused after a 429")

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLimiterContextCancellation(t *testing.T) {
	limiter := NewLimiter("test", 1)
	for i := 0; i < 5; i++ {
		limiter.Allow()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, limiter.Wait(ctx))

	paused := NewLimiter("paused", 60, WithBackoff(time.Minute, time.Minute))
	paused.SignalRateLimited()
	assert.ErrorIs(t, paused.Wait(ctx), context.Canceled)
}
