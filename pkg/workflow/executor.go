package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/metanorma/fractor-go/pkg/fractor"
)

// ExecutionStrategy selects how jobs within one topological layer are run.
type ExecutionStrategy int

const (
	// StrategySequential runs every ready job in a layer one at a time; the default,
	// safe mode.
	StrategySequential ExecutionStrategy = iota
	// StrategyParallel spawns an independent sub-supervisor per job in the layer.
	StrategyParallel
	// StrategyPipeline requires exactly one job per layer.
	StrategyPipeline
)

// Hooks are lifecycle callbacks fired at well-defined points. Any field
// may be nil.
type Hooks struct {
	OnWorkflowStart    func(*WorkflowContext)
	OnWorkflowComplete func(*WorkflowResult)
	OnJobStart         func(*Job)
	OnJobComplete      func(*Job, any)
	OnJobError         func(*Job, error)
}

// WorkflowResult is the outcome of one Execute call.
type WorkflowResult struct {
	WorkflowName  string
	Output        any
	CompletedJobs []string
	FailedJobs    []string
	ExecutionTime time.Duration
	Success       bool
	Trace         *ExecutionTrace
	CorrelationID string
}

// WorkflowExecutionError is raised for a job failure that exhausted retries (or has
// none configured) and has no fallback, after the failure has been enqueued to the DLQ.
type WorkflowExecutionError struct {
	JobName string
	Err     error
}

func (e *WorkflowExecutionError) Error() string {
	return fmt.Sprintf("workflow: job %q failed: %v", e.JobName, e.Err)
}
func (e *WorkflowExecutionError) Unwrap() error { return e.Err }

// WorkflowExecutor drives a validated DAG: topological scheduling, per-job retry/
// circuit-breaker/fallback/DLQ integration, hooks, and tracing.
type WorkflowExecutor struct {
	Definition         *Definition
	Strategy           ExecutionStrategy
	DefaultWorkerCount int
	DefaultTimeout     time.Duration
	CircuitRegistry    *CircuitBreakerRegistry
	DLQ                *DeadLetterQueue
	Hooks              Hooks
	Logger             *slog.Logger

	// ResultCache, if set, backs every job flagged Job.Cacheable: a hit skips running
	// the job entirely and reuses the cached output.
	ResultCache *ResultCache

	// OutputJob is the configured end-job to fall back to for workflow output
	// resolution if no job is flagged OutputsToWorkflow.
	OutputJob string

	// Cancellation, if set, tracks this run under its correlation ID so it can be
	// cancelled from outside the call that started it.
	Cancellation *CancellationManager

	// Metrics and Instruments are passed through to every per-job fractor.Supervisor
	// this executor constructs, so Prometheus/OTel observability covers workflow-driven
	// work the same way it covers a directly-run Supervisor.
	Metrics     *fractor.MetricsRegistry
	Instruments fractor.Instruments
}

// NewWorkflowExecutor constructs an executor for def with sane defaults.
func NewWorkflowExecutor(def *Definition) *WorkflowExecutor {
	return &WorkflowExecutor{
		Definition:         def,
		DefaultWorkerCount: 1,
		DefaultTimeout:     30 * time.Second,
		CircuitRegistry:    NewCircuitBreakerRegistry(CircuitBreakerConfig{}),
		DLQ:                NewDeadLetterQueue(0),
		Logger:             slog.Default(),
	}
}

// Execute validates the definition, computes topological layers, and runs every job
// to completion, termination, or unrecoverable failure.
func (e *WorkflowExecutor) Execute(ctx context.Context, input any, correlationID string) (*WorkflowResult, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if verr := Validate(e.Definition); verr != nil {
		if fatal := verr.FatalIssues(); len(fatal) > 0 {
			return nil, verr
		}
	}

	layers, err := topologicalLayers(e.Definition)
	if err != nil {
		return nil, err
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wfCtx := NewWorkflowContext(input, correlationID, logger)
	trace := NewExecutionTrace(e.Definition.Name, correlationID)
	start := time.Now()

	if e.Cancellation != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		e.Cancellation.Register(correlationID, e.Definition.Name, cancel)
	}

	if e.Hooks.OnWorkflowStart != nil {
		e.Hooks.OnWorkflowStart(wfCtx)
	}

	var completedJobs []string
	var failedJobs []string
	resolved := make(map[string]bool) // completed or skipped; unblocks dependents
	jobByName := make(map[string]*Job, len(e.Definition.Jobs))
	for _, j := range e.Definition.Jobs {
		jobByName[j.Name] = j
	}

	terminated := false

layerLoop:
	for _, layer := range layers {
		var ready []*Job
		for _, name := range layer {
			job := jobByName[name]
			if !allDepsCompleted(job, resolved, completedJobs) {
				job.State = JobSkipped
				resolved[job.Name] = true
				continue
			}
			if job.Condition != nil && !job.Condition(wfCtx) {
				job.State = JobSkipped
				resolved[job.Name] = true
				continue
			}
			ready = append(ready, job)
		}
		if len(ready) == 0 {
			continue
		}

		results, runErr := e.runLayer(ctx, wfCtx, trace, ready)
		for _, job := range ready {
			resolved[job.Name] = true
		}
		for _, job := range ready {
			res := results[job.Name]
			switch {
			case res.err != nil:
				failedJobs = append(failedJobs, job.Name)
			case res.recordAsFailed:
				// Fallback ran and succeeded, but FallbackCountsAsOriginal is false:
				// the run continues, yet the original job is still reported failed.
				failedJobs = append(failedJobs, job.Name)
			default:
				completedJobs = append(completedJobs, job.Name)
				if job.Terminates {
					terminated = true
				}
			}
		}
		if runErr != nil {
			trace.Finish()
			result := &WorkflowResult{
				WorkflowName:  e.Definition.Name,
				CompletedJobs: completedJobs,
				FailedJobs:    failedJobs,
				ExecutionTime: time.Since(start),
				Success:       false,
				Trace:         trace,
				CorrelationID: correlationID,
			}
			if e.Hooks.OnWorkflowComplete != nil {
				e.Hooks.OnWorkflowComplete(result)
			}
			if e.Cancellation != nil {
				e.Cancellation.Complete(correlationID, ExecutionFailed)
			}
			return result, runErr
		}
		if terminated {
			break layerLoop
		}
	}

	trace.Finish()
	output := e.resolveOutput(wfCtx, jobByName, completedJobs)
	result := &WorkflowResult{
		WorkflowName:  e.Definition.Name,
		Output:        output,
		CompletedJobs: completedJobs,
		FailedJobs:    failedJobs,
		ExecutionTime: time.Since(start),
		Success:       len(failedJobs) == 0,
		Trace:         trace,
		CorrelationID: correlationID,
	}
	if e.Hooks.OnWorkflowComplete != nil {
		e.Hooks.OnWorkflowComplete(result)
	}
	if e.Cancellation != nil {
		status := ExecutionCompleted
		if !result.Success {
			status = ExecutionFailed
		}
		e.Cancellation.Complete(correlationID, status)
	}
	return result, nil
}

type jobOutcome struct {
	output any
	err    error
	// recordAsFailed marks the job in WorkflowResult.FailedJobs even though err is
	// nil: a fallback ran and succeeded, but FallbackCountsAsOriginal is false, so the
	// run continues while the original job is still reported failed.
	recordAsFailed bool
}

// jobComputation is the pure-function outcome of attempting a job (and, on failure,
// its fallback chain): it reads wfCtx.JobOutputs to build the job's input but never
// writes to wfCtx or to the shared ExecutionTrace. computeJob is therefore safe to
// call concurrently, once per job, for every job in a StrategyParallel layer;
// commitJob applies every wfCtx/trace mutation afterward on a single goroutine.
type jobComputation struct {
	job   *Job
	input any

	// buildErr is set if wfCtx.BuildJobInput failed; nothing else was attempted.
	buildErr error

	output   any
	runErr   error
	fallback *jobComputation
}

// computeJob builds job's input and executes it (including any fallback chain on
// failure) without mutating any state shared across jobs in the same layer.
func (e *WorkflowExecutor) computeJob(ctx context.Context, wfCtx *WorkflowContext, job *Job) *jobComputation {
	job.State = JobRunning
	if e.Hooks.OnJobStart != nil {
		e.Hooks.OnJobStart(job)
	}

	c := &jobComputation{job: job}
	input, err := wfCtx.BuildJobInput(job)
	c.input = input
	if err != nil {
		c.buildErr = err
		return c
	}

	c.output, c.runErr = e.executeJob(ctx, job, input)
	if c.runErr != nil && job.FallbackJob != nil {
		c.fallback = e.computeJob(ctx, wfCtx, job.FallbackJob)
	}
	return c
}

// commitJob applies one job's trace entry, recorded output, hooks, and DLQ entry
// (plus the same for its fallback, if any), given an already-computed jobComputation.
// Must never run concurrently with another commitJob call against the same wfCtx/
// trace: StrategyParallel computes every job in a layer concurrently via computeJob,
// then commits them one at a time, in layer order, on the dispatcher goroutine once
// every job in the layer has finished computing.
func (e *WorkflowExecutor) commitJob(wfCtx *WorkflowContext, trace *ExecutionTrace, c *jobComputation) jobOutcome {
	job := c.job

	if c.buildErr != nil {
		job.State = JobFailed
		if e.Hooks.OnJobError != nil {
			e.Hooks.OnJobError(job, c.buildErr)
		}
		return jobOutcome{err: c.buildErr}
	}

	jt := trace.StartJob(job.Name, c.input)

	if c.runErr == nil {
		job.State = JobCompleted
		wfCtx.RecordOutput(job.Name, c.output)
		trace.CompleteJob(jt, JobCompleted, c.output, nil)
		if e.Hooks.OnJobComplete != nil {
			e.Hooks.OnJobComplete(job, c.output)
		}
		return jobOutcome{output: c.output}
	}

	job.State = JobFailed
	trace.CompleteJob(jt, JobFailed, nil, c.runErr)
	if e.Hooks.OnJobError != nil {
		e.Hooks.OnJobError(job, c.runErr)
	}

	if c.fallback != nil {
		fbRes := e.commitJob(wfCtx, trace, c.fallback)
		if fbRes.err == nil {
			if job.FallbackCountsAsOriginal {
				job.State = JobCompleted
				wfCtx.RecordOutput(job.Name, fbRes.output)
				if e.Hooks.OnJobComplete != nil {
					e.Hooks.OnJobComplete(job, fbRes.output)
				}
				return jobOutcome{output: fbRes.output}
			}
			wfCtx.RecordOutput("fallback:"+job.Name, fbRes.output)
			return jobOutcome{output: fbRes.output, recordAsFailed: true}
		}
	}

	if e.DLQ != nil {
		e.DLQ.Add(DLQEntry{Work: c.input, Err: c.runErr, Timestamp: time.Now()})
	}
	return jobOutcome{err: &WorkflowExecutionError{JobName: job.Name, Err: c.runErr}}
}

// runLayer executes ready jobs per e.Strategy. Returns a per-job outcome map; a
// non-nil error return means one job failed unrecoverably and the whole run should
// stop.
func (e *WorkflowExecutor) runLayer(ctx context.Context, wfCtx *WorkflowContext, trace *ExecutionTrace, jobs []*Job) (map[string]jobOutcome, error) {
	if e.Strategy == StrategyPipeline && len(jobs) != 1 {
		return nil, fmt.Errorf("workflow: pipeline strategy requires exactly one job per layer, got %d", len(jobs))
	}

	outcomes := make(map[string]jobOutcome, len(jobs))

	if e.Strategy == StrategyParallel && len(jobs) > 1 {
		type computed struct {
			job *Job
			c   *jobComputation
		}
		resultsCh := make(chan computed, len(jobs))
		for _, job := range jobs {
			go func(job *Job) {
				resultsCh <- computed{job: job, c: e.computeJob(ctx, wfCtx, job)}
			}(job)
		}
		byName := make(map[string]*jobComputation, len(jobs))
		for range jobs {
			r := <-resultsCh
			byName[r.job.Name] = r.c
		}

		// Every job in the layer has finished computing; commit their trace/output
		// mutations here, one at a time, so no job ever observes a half-committed
		// sibling and JobOutputs/ExecutionTrace.Jobs never see concurrent writers.
		var firstErr error
		for _, job := range jobs {
			outcome := e.commitJob(wfCtx, trace, byName[job.Name])
			outcomes[job.Name] = outcome
			if outcome.err != nil && firstErr == nil {
				firstErr = outcome.err
			}
		}
		return outcomes, firstErr
	}

	for _, job := range jobs {
		c := e.computeJob(ctx, wfCtx, job)
		outcome := e.commitJob(wfCtx, trace, c)
		outcomes[job.Name] = outcome
		if outcome.err != nil {
			return outcomes, outcome.err
		}
	}
	return outcomes, nil
}

// executeJob composes cache lookup, rate limiting, circuit-breaker, and retry wrapping
// around a supervisor call.
func (e *WorkflowExecutor) executeJob(ctx context.Context, job *Job, input any) (any, error) {
	var cacheKey string
	if job.Cacheable && e.ResultCache != nil {
		cacheKey = CacheKey(job.Name, input)
		if cached, ok := e.ResultCache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	call := func(ctx context.Context) (any, error) {
		if job.RateLimiter != nil && !job.RateLimiter.Allow() {
			return nil, ErrRateLimitExceeded
		}
		result := e.runJobViaSupervisor(ctx, job, input)
		if !result.Success {
			return nil, result.Err
		}
		return result.Result, nil
	}

	if job.RetryConfig != nil {
		inner := call
		orch := NewRetryOrchestrator(job.RetryConfig, e.DLQ)
		call = func(ctx context.Context) (any, error) {
			return orch.Execute(ctx, input, inner)
		}
	}

	switch {
	case job.UseAdaptiveBreaker && job.AdaptiveBreakerConfig != nil:
		inner := call
		key := job.CircuitBreakerKey
		if key == "" {
			key = job.Name
		}
		orch := e.CircuitRegistry.AdaptiveOrchestrator(key, *job.AdaptiveBreakerConfig)
		call = func(ctx context.Context) (any, error) {
			return orch.ExecuteWithBreaker(ctx, inner)
		}
	case job.CircuitBreakerConfig != nil:
		inner := call
		key := job.CircuitBreakerKey
		if key == "" {
			key = job.Name
		}
		orch := e.CircuitRegistry.Orchestrator(key, job.CircuitBreakerConfig)
		call = func(ctx context.Context) (any, error) {
			return orch.ExecuteWithBreaker(ctx, inner)
		}
	}

	output, err := call(ctx)
	if err == nil && cacheKey != "" {
		e.ResultCache.Put(cacheKey, output)
	}
	return output, err
}

// runJobViaSupervisor delegates a single job execution to a one-shot supervisor run
// with the job's worker class and configured worker count.
func (e *WorkflowExecutor) runJobViaSupervisor(ctx context.Context, job *Job, input any) fractor.WorkResult {
	workerCount := job.NumWorkers
	if workerCount <= 0 {
		workerCount = e.DefaultWorkerCount
	}
	sup := fractor.NewSupervisor(job.WorkerClass, fractor.SupervisorConfig{
		WorkerCount:    workerCount,
		DefaultTimeout: e.DefaultTimeout,
		Logger:         e.Logger,
		Instruments:    e.Instruments,
		Metrics:        e.Metrics,
	})

	workInput := input
	if workInput == nil {
		workInput = struct{}{}
	}
	queue := fractor.NewWorkQueue()
	_ = queue.Push(fractor.NewWork(workInput))

	agg := sup.Run(ctx, queue)
	results := agg.Results()
	if len(results) == 0 {
		return fractor.NewErrorResult(fractor.NewWork(workInput), errors.New("workflow: job produced no result"))
	}
	return results[0]
}

// resolveOutput returns the first completed job flagged OutputsToWorkflow, falling
// back to e.OutputJob.
func (e *WorkflowExecutor) resolveOutput(wfCtx *WorkflowContext, jobByName map[string]*Job, completedJobs []string) any {
	for _, name := range completedJobs {
		if job := jobByName[name]; job != nil && job.OutputsToWorkflow {
			return wfCtx.JobOutputs[name]
		}
	}
	if e.OutputJob != "" {
		return wfCtx.JobOutputs[e.OutputJob]
	}
	return nil
}

func allDepsCompleted(job *Job, resolved map[string]bool, completedJobs []string) bool {
	completedSet := make(map[string]bool, len(completedJobs))
	for _, c := range completedJobs {
		completedSet[c] = true
	}
	for _, dep := range job.Dependencies {
		if !completedSet[dep] {
			return false
		}
	}
	return true
}

// topologicalLayers computes Kahn's-algorithm layering: at each step, the set of jobs
// whose dependencies are all already placed in an earlier layer.
func topologicalLayers(def *Definition) ([][]string, error) {
	indegree := make(map[string]int, len(def.Jobs))
	dependents := make(map[string][]string)
	for _, j := range def.Jobs {
		indegree[j.Name] = len(j.Dependencies)
		for _, dep := range j.Dependencies {
			dependents[dep] = append(dependents[dep], j.Name)
		}
	}

	var layers [][]string
	remaining := len(def.Jobs)
	placed := make(map[string]bool, len(def.Jobs))

	for remaining > 0 {
		var layer []string
		for _, j := range def.Jobs {
			if !placed[j.Name] && indegree[j.Name] == 0 {
				layer = append(layer, j.Name)
			}
		}
		if len(layer) == 0 {
			return nil, errors.New("workflow: no ready jobs remain but jobs are left (validation should have caught this)")
		}
		for _, name := range layer {
			placed[name] = true
			remaining--
			for _, dependent := range dependents[name] {
				indegree[dependent]--
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
