package workflow

import "github.com/metanorma/fractor-go/pkg/fractor"

// Builder assembles a Definition job by job, fluent-style, mirroring Job's own
// fluent setters.
type Builder struct {
	def *Definition
}

// NewBuilder starts a Definition named name.
func NewBuilder(name string) *Builder {
	return &Builder{def: &Definition{Name: name}}
}

// AddJob appends a fully-constructed job (typically built via NewJob and its fluent
// setters) to the definition under construction.
func (b *Builder) AddJob(job *Job) *Builder {
	b.def.Jobs = append(b.def.Jobs, job)
	return b
}

// StartWith sets the pipeline-mode reachability root.
func (b *Builder) StartWith(jobName string) *Builder {
	b.def.StartWith = jobName
	return b
}

// AsPipeline marks the definition for pipeline-mode validation: with StartWith set,
// Validate checks that every job is reachable from it. The one-job-per-layer rule is
// enforced by the executor's StrategyPipeline, not by this flag.
func (b *Builder) AsPipeline() *Builder {
	b.def.Pipeline = true
	return b
}

// Build returns the assembled Definition. It does not validate; call Validate
// separately before constructing a WorkflowExecutor.
func (b *Builder) Build() *Definition {
	return b.def
}

// ChainBuilder builds a strictly linear pipeline: each job added depends on the
// previous one and nothing else, removing the need to repeat DependsOn calls for the
// common single-predecessor case.
type ChainBuilder struct {
	def  *Definition
	last string
}

// NewChainBuilder starts a linear pipeline named name.
func NewChainBuilder(name string) *ChainBuilder {
	return &ChainBuilder{def: &Definition{Name: name, Pipeline: true}}
}

// Then appends job, wiring it to depend on the previously added job (or leaving it
// dependency-free if it's the first). If job has no input mapping set, it defaults to
// MapFrom the previous job, matching the pipeline convention of passing output
// straight through.
func (cb *ChainBuilder) Then(job *Job) *ChainBuilder {
	if cb.last != "" {
		job.DependsOn(cb.last)
		if len(job.InputMappings) == 0 {
			job.MapFrom(cb.last)
		}
	} else {
		cb.def.StartWith = job.Name
	}
	cb.def.Jobs = append(cb.def.Jobs, job)
	cb.last = job.Name
	return cb
}

// ThenWorker is a convenience over Then for the common case of a plain worker class
// with no retry/breaker/fallback configuration.
func (cb *ChainBuilder) ThenWorker(name string, workerClass fractor.WorkerFactory) *ChainBuilder {
	return cb.Then(NewJob(name, workerClass))
}

// Terminal marks the chain's current last job as the one that terminates the workflow
// and supplies its output.
func (cb *ChainBuilder) Terminal() *ChainBuilder {
	for _, j := range cb.def.Jobs {
		if j.Name == cb.last {
			j.Terminates = true
			j.OutputsToWorkflow = true
		}
	}
	return cb
}

// Build returns the assembled linear Definition.
func (cb *ChainBuilder) Build() *Definition {
	return cb.def
}
