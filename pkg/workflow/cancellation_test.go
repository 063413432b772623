package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancellationManagerRegisterAndCancel(t *testing.T) {
	mgr := NewCancellationManager(nil)
	canceled := false
	mgr.Register("corr-1", "wf", func() { canceled = true })

	status, ok := mgr.Status("corr-1")
	require.True(t, ok)
	assert.Equal(t, ExecutionRunning, status)

	require.NoError(t, mgr.Cancel(context.Background(), "corr-1", "user requested"))
	assert.True(t, canceled)

	status, ok = mgr.Status("corr-1")
	require.True(t, ok)
	assert.Equal(t, ExecutionCancelled, status)
}

func TestCancellationManagerCancelUnknownErrors(t *testing.T) {
	mgr := NewCancellationManager(nil)
	err := mgr.Cancel(context.Background(), "missing", "reason")
	assert.Error(t, err)
}

func TestCancellationManagerCancelAlreadyFinishedErrors(t *testing.T) {
	mgr := NewCancellationManager(nil)
	mgr.Register("corr-1", "wf", func() {})
	mgr.Complete("corr-1", ExecutionCompleted)

	err := mgr.Cancel(context.Background(), "corr-1", "reason")
	assert.Error(t, err)
}

func TestCancellationManagerCleanupEvictsOldFinished(t *testing.T) {
	mgr := NewCancellationManager(nil)
	mgr.Register("corr-1", "wf", func() {})
	mgr.Complete("corr-1", ExecutionCompleted)

	cleaned := mgr.Cleanup(0)
	assert.Equal(t, 1, cleaned)
	_, ok := mgr.Status("corr-1")
	assert.False(t, ok)
}

func TestCancellationManagerCancelAll(t *testing.T) {
	mgr := NewCancellationManager(nil)
	mgr.Register("a", "wf", func() {})
	mgr.Register("b", "wf", func() {})

	n := mgr.CancelAll(context.Background(), "shutdown")
	assert.Equal(t, 2, n)
	assert.Empty(t, mgr.ListActive())
}

func TestCancellationManagerSnapshot(t *testing.T) {
	mgr := NewCancellationManager(nil)
	mgr.Register("a", "wf", func() {})
	mgr.Register("b", "wf", func() {})
	mgr.Complete("b", ExecutionCompleted)

	snap := mgr.Snapshot()
	assert.Equal(t, 1, snap[ExecutionRunning])
	assert.Equal(t, 1, snap[ExecutionCompleted])
}

func TestCancellationManagerRunCleanupLoopStopsOnContextDone(t *testing.T) {
	mgr := NewCancellationManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		mgr.RunCleanupLoop(ctx, 5*time.Millisecond, time.Hour)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop after context cancellation")
	}
}
