package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	opens  int
	closes int
}

func (o *recordingObserver) OnOpen()  { o.opens++ }
func (o *recordingObserver) OnClose() { o.closes++ }

func TestAdaptiveBreakerStartsClosedAndAllows(t *testing.T) {
	cb := NewAdaptiveBreaker(time.Second, 10, 5, 0.5, 50*time.Millisecond, 1, nil)
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestAdaptiveBreakerOpensOnSustainedFailures(t *testing.T) {
	obs := &recordingObserver{}
	cb := NewAdaptiveBreaker(50*time.Millisecond, 5, 2, 0.5, time.Second, 1, obs)

	for i := 0; i < 6; i++ {
		cb.RecordResult(false)
		time.Sleep(12 * time.Millisecond)
	}

	assert.Equal(t, BreakerOpen, cb.State())
	assert.GreaterOrEqual(t, obs.opens, 1)
	assert.False(t, cb.Allow())
}

func TestAdaptiveBreakerRecoversThroughHalfOpen(t *testing.T) {
	obs := &recordingObserver{}
	cb := NewAdaptiveBreaker(50*time.Millisecond, 5, 2, 0.5, 10*time.Millisecond, 1, obs)

	for i := 0; i < 6; i++ {
		cb.RecordResult(false)
		time.Sleep(12 * time.Millisecond)
	}
	require.Equal(t, BreakerOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordResult(true)
	assert.Equal(t, BreakerClosed, cb.State())
	assert.GreaterOrEqual(t, obs.closes, 1)
}

func TestAdaptiveBreakerReset(t *testing.T) {
	cb := NewAdaptiveBreaker(50*time.Millisecond, 5, 2, 0.5, 20*time.Millisecond, 1, nil)
	for i := 0; i < 6; i++ {
		cb.RecordResult(false)
		time.Sleep(12 * time.Millisecond)
	}
	require.Equal(t, BreakerOpen, cb.State())
	cb.Reset()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestAdaptiveBreakerFromConfigAppliesDefaults(t *testing.T) {
	cb := NewAdaptiveBreakerFromConfig(AdaptiveBreakerConfig{})
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestAdaptiveBreakerCallOpensAfterSustainedFailures(t *testing.T) {
	cb := NewAdaptiveBreaker(50*time.Millisecond, 5, 2, 0.5, 20*time.Millisecond, 1, nil)
	boom := errors.New("boom")

	for i := 0; i < 6; i++ {
		_ = cb.Call(context.Background(), func(context.Context) error { return boom })
		time.Sleep(12 * time.Millisecond)
	}

	err := cb.Call(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
