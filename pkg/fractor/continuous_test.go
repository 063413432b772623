package fractor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanExternalQueue is a trivial ExternalQueue backed by a channel, standing in for
// NATSQueue in tests that don't want a live broker.
type chanExternalQueue struct {
	items chan Work
}

func newChanExternalQueue() *chanExternalQueue {
	return &chanExternalQueue{items: make(chan Work, 16)}
}

func (q *chanExternalQueue) push(w Work) { q.items <- w }

func (q *chanExternalQueue) Pop(ctx context.Context) (Work, bool) {
	select {
	case w := <-q.items:
		return w, true
	case <-ctx.Done():
		return Work{}, false
	}
}

func TestContinuousServerProcessesPushedWork(t *testing.T) {
	sup := NewSupervisor(doublingWorker, SupervisorConfig{WorkerCount: 2})
	ext := newChanExternalQueue()

	var mu sync.Mutex
	var results []WorkResult
	onResult := func(r WorkResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}

	server := NewContinuousServer(sup, ext, onResult, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.Serve(ctx)
		close(done)
	}()

	// Give Serve a moment to start its dispatch loop before pushing.
	time.Sleep(10 * time.Millisecond)
	assert.True(t, server.Running())

	ext.push(NewWork(2))
	ext.push(NewWork(3))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.False(t, server.Running())
}

func TestContinuousServerStopUnblocksServe(t *testing.T) {
	sup := NewSupervisor(doublingWorker, SupervisorConfig{WorkerCount: 1})
	ext := newChanExternalQueue()
	server := NewContinuousServer(sup, ext, nil, nil)

	done := make(chan struct{})
	go func() {
		server.Serve(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	server.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestContinuousServerRoutesFailuresToOnError(t *testing.T) {
	sup := NewSupervisor(func() Worker {
		return WorkerFunc(func(_ context.Context, work Work) WorkResult {
			return NewErrorResult(work, &ValidationError{Err: errors.New("always fails")})
		})
	}, SupervisorConfig{WorkerCount: 1})
	ext := newChanExternalQueue()

	var mu sync.Mutex
	var errCount int
	onError := func(WorkResult) {
		mu.Lock()
		defer mu.Unlock()
		errCount++
	}

	server := NewContinuousServer(sup, ext, nil, onError)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.Serve(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	ext.push(NewWork(1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errCount == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
