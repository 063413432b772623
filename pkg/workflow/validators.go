package workflow

import (
	"fmt"
	"strings"
)

// ValidationIssue is one finding from validation: either fatal (blocks execution) or a
// soft warning (type-compatibility only).
type ValidationIssue struct {
	Kind    string // "missing_dependency" | "cycle" | "unreachable" | "type_mismatch"
	Message string
	Fatal   bool
}

// WorkflowValidationError aggregates every validation issue found, listing all errors
// together rather than failing fast on the first one.
type WorkflowValidationError struct {
	Issues []ValidationIssue
}

func (e *WorkflowValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("workflow validation failed:")
	for _, issue := range e.Issues {
		sb.WriteString("\n  - ")
		sb.WriteString(issue.Message)
	}
	return sb.String()
}

// FatalIssues reports only the issues that should block execution.
func (e *WorkflowValidationError) FatalIssues() []ValidationIssue {
	var fatal []ValidationIssue
	for _, issue := range e.Issues {
		if issue.Fatal {
			fatal = append(fatal, issue)
		}
	}
	return fatal
}

// Definition is the static DAG a Workflow runs: an ordered set of jobs plus optional
// pipeline-mode metadata.
type Definition struct {
	Name      string
	Jobs      []*Job
	StartWith string // pipeline-mode reachability root; empty disables the reachability check
	Pipeline  bool
}

func (d *Definition) jobByName(name string) *Job {
	for _, j := range d.Jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

// Validate runs every validator and returns a WorkflowValidationError holding every
// issue found, fatal or not (non-fatal ones are type-compatibility warnings); callers
// use FatalIssues to pick out the ones that block execution. A nil return means no
// issues at all, fatal or otherwise.
func Validate(def *Definition) *WorkflowValidationError {
	var issues []ValidationIssue
	issues = append(issues, checkMissingDependencies(def)...)
	issues = append(issues, checkCycles(def)...)
	if def.Pipeline && def.StartWith != "" {
		issues = append(issues, checkReachability(def)...)
	}
	issues = append(issues, checkTypeCompatibility(def)...)

	if len(issues) == 0 {
		return nil
	}
	return &WorkflowValidationError{Issues: issues}
}

func checkMissingDependencies(def *Definition) []ValidationIssue {
	var issues []ValidationIssue
	for _, j := range def.Jobs {
		for _, dep := range j.Dependencies {
			if def.jobByName(dep) == nil {
				issues = append(issues, ValidationIssue{
					Kind:    "missing_dependency",
					Message: fmt.Sprintf("job %q depends on undefined job %q", j.Name, dep),
					Fatal:   true,
				})
			}
		}
	}
	return issues
}

// checkCycles runs DFS with an explicit path stack; re-entering a node already on the
// current path reports the cycle.
func checkCycles(def *Definition) []ValidationIssue {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(def.Jobs))
	for _, j := range def.Jobs {
		color[j.Name] = white
	}

	var issues []ValidationIssue
	var path []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)

		job := def.jobByName(name)
		if job != nil {
			for _, dep := range job.Dependencies {
				switch color[dep] {
				case white:
					if visit(dep) {
						return true
					}
				case gray:
					cycleStart := indexOf(path, dep)
					cyclePath := append(append([]string{}, path[cycleStart:]...), dep)
					issues = append(issues, ValidationIssue{
						Kind:    "cycle",
						Message: fmt.Sprintf("dependency cycle detected: %s", strings.Join(cyclePath, " -> ")),
						Fatal:   true,
					})
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	for _, j := range def.Jobs {
		if color[j.Name] == white {
			visit(j.Name)
		}
	}
	return issues
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// checkReachability (pipeline mode only): every job must be reachable from StartWith
// through dependency->dependent edges.
func checkReachability(def *Definition) []ValidationIssue {
	if def.jobByName(def.StartWith) == nil {
		return []ValidationIssue{{
			Kind:    "unreachable",
			Message: fmt.Sprintf("pipeline start_with job %q is not defined", def.StartWith),
			Fatal:   true,
		}}
	}

	forward := make(map[string][]string) // dependency -> dependents
	for _, j := range def.Jobs {
		for _, dep := range j.Dependencies {
			forward[dep] = append(forward[dep], j.Name)
		}
	}

	reached := map[string]bool{def.StartWith: true}
	queue := []string{def.StartWith}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range forward[cur] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	var issues []ValidationIssue
	for _, j := range def.Jobs {
		if !reached[j.Name] {
			issues = append(issues, ValidationIssue{
				Kind:    "unreachable",
				Message: fmt.Sprintf("job %q is unreachable from pipeline start %q", j.Name, def.StartWith),
				Fatal:   true,
			})
		}
	}
	return issues
}

// TypeTag is a job's declared input/output type, the erased-tag substitute for runtime
// class introspection.
type TypeTag string

// TypedJob holds the input/output type tags a job declares with Job.WithTypes. The
// validator reads only these; tags are not taken from workers implementing
// fractor.TypeTagged.
type TypedJob struct {
	InputTag  TypeTag
	OutputTag TypeTag
}

// numericPromotions lists, per consumer tag, the producer tags it accepts through
// numeric promotion. The soft type-compatibility check skips any job whose Types is nil.
var numericPromotions = map[TypeTag][]TypeTag{
	"float64": {"int", "int32", "int64", "float32"},
	"float32": {"int", "int32", "int16"},
	"int64":   {"int", "int32", "int16"},
}

// checkTypeCompatibility is soft: issues are reported with Fatal=false unless the
// declaration itself is invalid. Jobs with multiple dependencies or a workflow-input
// mapping are exempt.
func checkTypeCompatibility(def *Definition) []ValidationIssue {
	var issues []ValidationIssue
	for _, j := range def.Jobs {
		if len(j.Dependencies) != 1 {
			continue
		}
		if hasWorkflowMapping(j) {
			continue
		}
		if j.Types == nil {
			continue
		}
		producer := def.jobByName(j.Dependencies[0])
		if producer == nil || producer.Types == nil {
			continue
		}
		producerOut := producer.Types.OutputTag
		consumerIn := j.Types.InputTag
		if producerOut == "" || consumerIn == "" {
			issues = append(issues, ValidationIssue{
				Kind:    "type_mismatch",
				Message: fmt.Sprintf("job %q has an invalid type declaration for its dependency on %q", j.Name, producer.Name),
				Fatal:   true,
			})
			continue
		}
		if producerOut == consumerIn {
			continue
		}
		if typeCompatible(consumerIn, producerOut) {
			continue
		}
		issues = append(issues, ValidationIssue{
			Kind:    "type_mismatch",
			Message: fmt.Sprintf("job %q expects input %q but dependency %q produces %q", j.Name, consumerIn, producer.Name, producerOut),
			Fatal:   false,
		})
	}
	return issues
}

func hasWorkflowMapping(j *Job) bool {
	for _, m := range j.InputMappings {
		if m.FromWorkflow {
			return true
		}
	}
	return false
}

func typeCompatible(consumer, producer TypeTag) bool {
	for _, promotable := range numericPromotions[consumer] {
		if promotable == producer {
			return true
		}
	}
	return false
}
