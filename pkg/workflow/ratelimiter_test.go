package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUpToCapacity(t *testing.T) {
	rl := NewRateLimiter(3, 0, time.Minute, 0)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(1, 100, time.Minute, 0)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
	time.Sleep(20 * time.Millisecond)
	assert.True(t, rl.Allow())
}

func TestRateLimiterEnforcesWindowCap(t *testing.T) {
	rl := NewRateLimiter(100, 0, time.Minute, 2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiterReserveAfter(t *testing.T) {
	rl := NewRateLimiter(1, 10, time.Minute, 0)
	require.True(t, rl.Allow())
	wait := rl.ReserveAfter(1)
	assert.Greater(t, wait, time.Duration(0))
}

func TestHybridRateLimiterAllowFastPath(t *testing.T) {
	rl := NewHybridRateLimiter(2, 0, 1, 10*time.Millisecond)
	defer rl.Stop()
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestHybridRateLimiterWaitTimesOutViaContext(t *testing.T) {
	rl := NewHybridRateLimiter(1, 0, 1, time.Hour)
	defer rl.Stop()
	require.True(t, rl.Allow())
	require.False(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHybridRateLimiterWaitRejectsWhenQueueFull(t *testing.T) {
	rl := NewHybridRateLimiter(1, 0, 0, time.Hour)
	defer rl.Stop()
	require.True(t, rl.Allow())

	err := rl.Wait(context.Background())
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}
