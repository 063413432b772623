package fractor

import (
	"context"
	"time"
)

// Worker is a polymorphic processor: a deterministic function of Work.Input and any
// worker-local immutable configuration.
type Worker interface {
	// Process computes a WorkResult for work. Implementations should respect ctx
	// cancellation for long-running work, though the actor enforces the effective
	// timeout regardless.
	Process(ctx context.Context, work Work) WorkResult
}

// TypeTagged is implemented by workers that declare input/output type tags. Workflow
// validation does not read it; it takes type tags from workflow.Job.Types.
type TypeTagged interface {
	InputType() string
	OutputType() string
}

// TimeoutOverride is implemented by workers that declare an instance-level timeout,
// which overrides their class-level default.
type TimeoutOverride interface {
	Timeout() time.Duration
}

// EffectiveTimeout resolves the effective per-call timeout: work.timeout ?? worker
// default ?? global default.
func EffectiveTimeout(work Work, worker Worker, globalDefault time.Duration) time.Duration {
	if work.Timeout > 0 {
		return work.Timeout
	}
	if to, ok := worker.(TimeoutOverride); ok {
		if d := to.Timeout(); d > 0 {
			return d
		}
	}
	return globalDefault
}

// WorkerFunc adapts a plain function to the Worker interface, for simple stateless
// processors that don't need type tags or a custom timeout.
type WorkerFunc func(ctx context.Context, work Work) WorkResult

func (f WorkerFunc) Process(ctx context.Context, work Work) WorkResult { return f(ctx, work) }

// WorkerFactory constructs a fresh Worker instance, used by WorkDistributor/Supervisor
// to give every actor its own isolated instance with no shared mutable state.
type WorkerFactory func() Worker
