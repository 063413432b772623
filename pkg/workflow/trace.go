package workflow

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// JobTrace records one job's execution within a run: timings, status, input/output
// fingerprints, and error info.
type JobTrace struct {
	JobName           string
	Status            JobState
	StartedAt         time.Time
	CompletedAt       time.Time
	InputFingerprint  string
	OutputFingerprint string
	Err               error
}

// Duration reports how long the job ran; zero if it never completed.
func (t *JobTrace) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// ExecutionTrace is the per-run structured trace of every job attempted.
type ExecutionTrace struct {
	WorkflowName  string
	CorrelationID string
	StartedAt     time.Time
	CompletedAt   time.Time
	Jobs          []*JobTrace
}

// NewExecutionTrace constructs an empty trace for one run.
func NewExecutionTrace(workflowName, correlationID string) *ExecutionTrace {
	return &ExecutionTrace{
		WorkflowName:  workflowName,
		CorrelationID: correlationID,
		StartedAt:     time.Now(),
	}
}

// StartJob appends and returns a new in-flight JobTrace.
func (t *ExecutionTrace) StartJob(jobName string, input any) *JobTrace {
	jt := &JobTrace{
		JobName:          jobName,
		Status:           JobRunning,
		StartedAt:        time.Now(),
		InputFingerprint: fingerprint(input),
	}
	t.Jobs = append(t.Jobs, jt)
	return jt
}

// CompleteJob marks jt completed with output's fingerprint.
func (t *ExecutionTrace) CompleteJob(jt *JobTrace, status JobState, output any, err error) {
	jt.Status = status
	jt.CompletedAt = time.Now()
	jt.Err = err
	if err == nil {
		jt.OutputFingerprint = fingerprint(output)
	}
}

// Finish stamps the trace's overall completion time.
func (t *ExecutionTrace) Finish() {
	t.CompletedAt = time.Now()
}

// fingerprint computes a short digest of v for trace readability, without dumping
// potentially large payloads verbatim.
func fingerprint(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)[:16]
}
