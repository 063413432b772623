package fractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doublingWorker() Worker {
	return WorkerFunc(func(_ context.Context, work Work) WorkResult {
		n, ok := work.Input.(int)
		if !ok {
			return NewErrorResult(work, &ValidationError{Err: errors.New("input not an int")})
		}
		return NewSuccessResult(work, n*2)
	})
}

func TestSupervisorRunDrainsQueue(t *testing.T) {
	q := NewWorkQueue()
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Push(NewWork(i)))
	}

	sup := NewSupervisor(doublingWorker, SupervisorConfig{WorkerCount: 2, DefaultTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	agg := sup.Run(ctx, q)
	stats := agg.Stats()
	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 5, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)
	assert.False(t, sup.Running())

	idle, total := sup.WorkersStatus()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, idle)
}

func TestSupervisorRunRecordsFailures(t *testing.T) {
	q := NewWorkQueue()
	require.NoError(t, q.Push(NewWork("not-an-int")))
	require.NoError(t, q.Push(NewWork(10)))

	sup := NewSupervisor(doublingWorker, SupervisorConfig{WorkerCount: 1, DefaultTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	agg := sup.Run(ctx, q)
	stats := agg.Stats()
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)

	assert.Len(t, sup.ErrorReporter().Errors(), 1)
}
