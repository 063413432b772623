package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ExecutionStatus is a tracked execution's lifecycle state, separate from JobState
// which tracks individual job progress within one run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// TrackedExecution is one in-flight or recently-finished Execute call, with the
// context.CancelFunc needed to stop it early.
type TrackedExecution struct {
	CorrelationID string
	WorkflowName  string
	CancelFunc    context.CancelFunc
	CancelReason  string
	StartedAt     time.Time
	EndedAt       time.Time
	Status        ExecutionStatus
}

// CancellationManager tracks in-flight Execute calls and lets an operator cancel one by
// correlation ID, independent of how it was triggered (manual call, Scheduler, queue
// trigger).
type CancellationManager struct {
	mu     sync.RWMutex
	active map[string]*TrackedExecution

	cancellations metric.Int64Counter
	tracer        trace.Tracer
}

// NewCancellationManager constructs a manager reporting through meter.
func NewCancellationManager(meter metric.Meter) *CancellationManager {
	if meter == nil {
		meter = otel.Meter("workflow-cancellation")
	}
	cancellations, _ := meter.Int64Counter("workflow_cancellations_total")
	return &CancellationManager{
		active:        make(map[string]*TrackedExecution),
		cancellations: cancellations,
		tracer:        otel.Tracer("workflow-cancellation"),
	}
}

// Register records a new in-flight execution under its correlation ID.
func (cm *CancellationManager) Register(correlationID, workflowName string, cancel context.CancelFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.active[correlationID] = &TrackedExecution{
		CorrelationID: correlationID,
		WorkflowName:  workflowName,
		CancelFunc:    cancel,
		StartedAt:     time.Now(),
		Status:        ExecutionRunning,
	}
}

// Cancel invokes the tracked execution's CancelFunc, propagating ctx cancellation into
// its Execute call on the next ctx check.
func (cm *CancellationManager) Cancel(ctx context.Context, correlationID, reason string) error {
	ctx, span := cm.tracer.Start(ctx, "cancellation.cancel",
		trace.WithAttributes(
			attribute.String("correlation_id", correlationID),
			attribute.String("reason", reason),
		),
	)
	defer span.End()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	tracked, ok := cm.active[correlationID]
	if !ok {
		return fmt.Errorf("workflow: execution %q not found or already finished", correlationID)
	}
	if tracked.Status != ExecutionRunning {
		return fmt.Errorf("workflow: execution %q is not running (status: %s)", correlationID, tracked.Status)
	}

	tracked.CancelFunc()
	tracked.CancelReason = reason
	tracked.EndedAt = time.Now()
	tracked.Status = ExecutionCancelled

	cm.cancellations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", tracked.WorkflowName),
		attribute.String("reason", reason),
	))
	span.AddEvent("execution_cancelled")
	return nil
}

// Complete marks a tracked execution finished with the given terminal status. Entries
// stay in the active map until Cleanup evicts them, so a status query shortly after
// completion still succeeds.
func (cm *CancellationManager) Complete(correlationID string, status ExecutionStatus) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if tracked, ok := cm.active[correlationID]; ok {
		tracked.Status = status
		if tracked.EndedAt.IsZero() {
			tracked.EndedAt = time.Now()
		}
	}
}

// Status returns the current status of a tracked execution.
func (cm *CancellationManager) Status(correlationID string) (ExecutionStatus, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	tracked, ok := cm.active[correlationID]
	if !ok {
		return "", false
	}
	return tracked.Status, true
}

// ListActive returns every execution still marked running.
func (cm *CancellationManager) ListActive() []*TrackedExecution {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	active := make([]*TrackedExecution, 0)
	for _, tracked := range cm.active {
		if tracked.Status == ExecutionRunning {
			active = append(active, tracked)
		}
	}
	return active
}

// Cleanup evicts finished (non-running) entries older than retention, returning how
// many were removed.
func (cm *CancellationManager) Cleanup(retention time.Duration) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := time.Now()
	cleaned := 0
	for id, tracked := range cm.active {
		if tracked.Status == ExecutionRunning {
			continue
		}
		if !tracked.EndedAt.IsZero() && now.Sub(tracked.EndedAt) > retention {
			delete(cm.active, id)
			cleaned++
		}
	}
	return cleaned
}

// RunCleanupLoop evicts stale finished entries every interval until ctx is done.
func (cm *CancellationManager) RunCleanupLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.Cleanup(retention)
		}
	}
}

// CancelAll cancels every running execution, for use during graceful shutdown.
func (cm *CancellationManager) CancelAll(ctx context.Context, reason string) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cancelled := 0
	for _, tracked := range cm.active {
		if tracked.Status == ExecutionRunning {
			tracked.CancelFunc()
			tracked.CancelReason = reason
			tracked.EndedAt = time.Now()
			tracked.Status = ExecutionCancelled
			cm.cancellations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("workflow", tracked.WorkflowName),
				attribute.String("reason", reason),
			))
			cancelled++
		}
	}
	return cancelled
}

// Snapshot returns per-status counts across every tracked execution.
func (cm *CancellationManager) Snapshot() map[ExecutionStatus]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	counts := map[ExecutionStatus]int{
		ExecutionRunning:   0,
		ExecutionCompleted: 0,
		ExecutionFailed:    0,
		ExecutionCancelled: 0,
	}
	for _, tracked := range cm.active {
		counts[tracked.Status]++
	}
	return counts
}
