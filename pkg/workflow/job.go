package workflow

import (
	"github.com/metanorma/fractor-go/pkg/fractor"
)

// JobState is a Job's position in its state machine: pending, ready, running,
// completed, failed, skipped.
type JobState string

const (
	JobPending   JobState = "pending"
	JobReady     JobState = "ready"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobSkipped   JobState = "skipped"
)

// InputMappingSource names where a job's input comes from: the workflow's own input,
// or a specific predecessor job's stored output.
type InputMappingSource struct {
	FromWorkflow bool
	SourceJob    string
	// AttributeMap maps target attribute name -> source attribute name. Nil/empty
	// means "copy all" when AllAttributes is true.
	AllAttributes bool
	AttributeMap  map[string]string
}

// Condition predicates whether a job runs at all, given the workflow context built so
// far. Returning false marks the job skipped.
type Condition func(*WorkflowContext) bool

// Job is one node of the DAG: a worker binding plus dependency, input-mapping, retry,
// circuit-breaker, and fallback configuration.
type Job struct {
	Name         string
	WorkerClass  fractor.WorkerFactory
	Dependencies []string
	NumWorkers   int

	InputMappings []InputMappingSource
	Condition     Condition

	// Types declares input/output type tags for the soft type-compatibility
	// validator; nil means the job opts out of that check entirely.
	Types *TypedJob

	Terminates        bool
	OutputsToWorkflow bool

	RetryConfig          *RetryConfig
	CircuitBreakerConfig *CircuitBreakerConfig
	CircuitBreakerKey    string

	// UseAdaptiveBreaker, when true alongside a non-nil AdaptiveBreakerConfig, selects
	// the rolling-window AdaptiveBreaker strategy for this job's breaker key instead of
	// the consecutive-failure CircuitBreaker. Useful for upstreams with bursty,
	// intermittent failures where a raw failure count trips too eagerly or too late.
	UseAdaptiveBreaker    bool
	AdaptiveBreakerConfig *AdaptiveBreakerConfig

	FallbackJob *Job

	// Cacheable opts the job into ResultCache lookups: a WorkflowExecutor with a
	// non-nil ResultCache skips re-running the job when a prior run produced an
	// unexpired cached output for the same name+input.
	Cacheable bool

	// RateLimiter, if set, is consulted before every run attempt; a call that would
	// exceed the limit fails immediately with ErrRateLimitExceeded rather than running.
	RateLimiter *RateLimiter

	// FallbackCountsAsOriginal resolves whether a fallback marks its job completed:
	// when true (the default), a job whose fallback succeeds is recorded completed
	// under its own name with the fallback's output.
	// When false, the original job stays in failed_jobs and the fallback's output is
	// recorded separately under the fallback job's own name.
	FallbackCountsAsOriginal bool

	State JobState
}

// NewJob constructs a Job in the pending state with FallbackCountsAsOriginal defaulted
// to true.
func NewJob(name string, workerClass fractor.WorkerFactory) *Job {
	return &Job{
		Name:                     name,
		WorkerClass:              workerClass,
		NumWorkers:               1,
		FallbackCountsAsOriginal: true,
		State:                    JobPending,
	}
}

// DependsOn appends to Dependencies, fluent-builder style.
func (j *Job) DependsOn(names...string) *Job {
	j.Dependencies = append(j.Dependencies, names...)
	return j
}

// MapFrom declares a direct passthrough: this job's input is sourceJob's output,
// unwrapped and unmodified. Valid only as a job's sole InputMappings entry — for
// multi-dependency jobs use MapAllFrom/MapAttributesFrom to build an attribute bag.
func (j *Job) MapFrom(sourceJob string) *Job {
	j.InputMappings = append(j.InputMappings, InputMappingSource{SourceJob: sourceJob})
	return j
}

// MapAllFrom declares that this job's input is built by copying every attribute of
// sourceJob's output.
func (j *Job) MapAllFrom(sourceJob string) *Job {
	j.InputMappings = append(j.InputMappings, InputMappingSource{SourceJob: sourceJob, AllAttributes: true})
	return j
}

// MapAttributesFrom declares an explicit target-attribute -> source-attribute mapping
// from sourceJob's output.
func (j *Job) MapAttributesFrom(sourceJob string, attrMap map[string]string) *Job {
	j.InputMappings = append(j.InputMappings, InputMappingSource{SourceJob: sourceJob, AttributeMap: attrMap})
	return j
}

// MapFromWorkflow declares that this job's input is the workflow's own input, passed
// through unchanged.
func (j *Job) MapFromWorkflow() *Job {
	j.InputMappings = append(j.InputMappings, InputMappingSource{FromWorkflow: true})
	return j
}

// WithFallback sets the job to run on failure, adopting its success output per
// FallbackCountsAsOriginal.
func (j *Job) WithFallback(fallback *Job) *Job {
	j.FallbackJob = fallback
	return j
}

// WithTypes declares input/output type tags for the soft type-compatibility validator.
func (j *Job) WithTypes(input, output TypeTag) *Job {
	j.Types = &TypedJob{InputTag: input, OutputTag: output}
	return j
}

// WithCondition sets a predicate gating whether the job runs at all.
func (j *Job) WithCondition(cond Condition) *Job {
	j.Condition = cond
	return j
}

// WithRetry attaches a RetryConfig.
func (j *Job) WithRetry(cfg *RetryConfig) *Job {
	j.RetryConfig = cfg
	return j
}

// WithCircuitBreaker attaches a CircuitBreakerConfig and the registry key jobs sharing
// one breaker should use; defaults the key to the job's own name if key is empty.
func (j *Job) WithCircuitBreaker(cfg *CircuitBreakerConfig, key string) *Job {
	j.CircuitBreakerConfig = cfg
	if key == "" {
		key = j.Name
	}
	j.CircuitBreakerKey = key
	return j
}

// WithAdaptiveCircuitBreaker attaches an AdaptiveBreakerConfig and selects the
// rolling-window breaker strategy over the default consecutive-failure one; key
// defaults to the job's own name if empty, same as WithCircuitBreaker.
func (j *Job) WithAdaptiveCircuitBreaker(cfg *AdaptiveBreakerConfig, key string) *Job {
	j.AdaptiveBreakerConfig = cfg
	j.UseAdaptiveBreaker = true
	if key == "" {
		key = j.Name
	}
	j.CircuitBreakerKey = key
	return j
}

// WithCache marks the job cacheable, per-executor ResultCache permitting.
func (j *Job) WithCache() *Job {
	j.Cacheable = true
	return j
}

// WithRateLimit attaches a RateLimiter consulted before every run attempt.
func (j *Job) WithRateLimit(rl *RateLimiter) *Job {
	j.RateLimiter = rl
	return j
}
