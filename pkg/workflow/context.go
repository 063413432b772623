package workflow

import (
	"fmt"
	"log/slog"
)

// WorkflowContext holds the per-run workflow input and completed-job outputs
//. JobOutputs grows monotonically through execution; nothing else
// mutates after construction.
type WorkflowContext struct {
	WorkflowInput any
	JobOutputs    map[string]any
	CorrelationID string
	Logger        *slog.Logger
}

// NewWorkflowContext constructs a context for one workflow run.
func NewWorkflowContext(input any, correlationID string, logger *slog.Logger) *WorkflowContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowContext{
		WorkflowInput: input,
		JobOutputs:    make(map[string]any),
		CorrelationID: correlationID,
		Logger:        logger,
	}
}

// RecordOutput stores a completed job's output, growing JobOutputs monotonically.
func (c *WorkflowContext) RecordOutput(jobName string, output any) {
	c.JobOutputs[jobName] = output
}

// MappingError reports a job input that could not be built from its InputMappings —
// a missing source output, or a mapped attribute absent from the source.
type MappingError struct {
	Job     string
	Message string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("workflow: cannot build input for job %q: %s", e.Job, e.Message)
}

// BuildJobInput implements the input-construction rule:
//   - if the job declares InputMappings[:workflow], pass the workflow input directly;
//   - else, for each mapped source, read its stored output and copy attributes per
//     AllAttributes or an explicit target->source map, accumulating into one
//     map[string]any (an explicit-schema substitute for reflective attribute copy).
//
// Source outputs that participate in attribute mapping must be map[string]any; any
// other shape is itself a MappingError, since there is no reflection fallback.
func (c *WorkflowContext) BuildJobInput(job *Job) (any, error) {
	if len(job.InputMappings) == 0 {
		return nil, nil
	}

	for _, m := range job.InputMappings {
		if m.FromWorkflow {
			return c.WorkflowInput, nil
		}
	}

	if len(job.InputMappings) == 1 {
		m := job.InputMappings[0]
		if !m.AllAttributes && len(m.AttributeMap) == 0 {
			output, ok := c.JobOutputs[m.SourceJob]
			if !ok {
				return nil, &MappingError{Job: job.Name, Message: fmt.Sprintf("missing output from dependency %q", m.SourceJob)}
			}
			return output, nil
		}
	}

	built := make(map[string]any)
	for _, m := range job.InputMappings {
		output, ok := c.JobOutputs[m.SourceJob]
		if !ok {
			return nil, &MappingError{Job: job.Name, Message: fmt.Sprintf("missing output from dependency %q", m.SourceJob)}
		}
		attrs, ok := output.(map[string]any)
		if !ok {
			return nil, &MappingError{Job: job.Name, Message: fmt.Sprintf("output of %q is not attribute-mappable (got %T)", m.SourceJob, output)}
		}
		if m.AllAttributes {
			for k, v := range attrs {
				built[k] = v
			}
			continue
		}
		for target, source := range m.AttributeMap {
			v, present := attrs[source]
			if !present {
				return nil, &MappingError{Job: job.Name, Message: fmt.Sprintf("attribute %q not present on output of %q", source, m.SourceJob)}
			}
			built[target] = v
		}
	}
	return built, nil
}
