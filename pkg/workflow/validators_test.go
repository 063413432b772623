package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDetectsMissingDependency(t *testing.T) {
	def := &Definition{Name: "d", Jobs: []*Job{
		NewJob("b", echoWorkerFactory).DependsOn("a"),
	}}
	verr := Validate(def)
	require.NotNil(t, verr)
	fatal := verr.FatalIssues()
	require.Len(t, fatal, 1)
	assert.Equal(t, "missing_dependency", fatal[0].Kind)
}

func TestValidateDetectsCycle(t *testing.T) {
	def := &Definition{Name: "d", Jobs: []*Job{
		NewJob("a", echoWorkerFactory).DependsOn("b"),
		NewJob("b", echoWorkerFactory).DependsOn("a"),
	}}
	verr := Validate(def)
	require.NotNil(t, verr)
	fatal := verr.FatalIssues()
	require.Len(t, fatal, 1)
	assert.Equal(t, "cycle", fatal[0].Kind)
}

func TestValidateDetectsUnreachableInPipelineMode(t *testing.T) {
	def := &Definition{
		Name:      "d",
		Jobs:      []*Job{NewJob("a", echoWorkerFactory), NewJob("b", echoWorkerFactory)},
		StartWith: "a",
		Pipeline:  true,
	}
	verr := Validate(def)
	require.NotNil(t, verr)
	fatal := verr.FatalIssues()
	require.Len(t, fatal, 1)
	assert.Equal(t, "unreachable", fatal[0].Kind)
}

func TestValidateCleanDefinition(t *testing.T) {
	a := NewJob("a", echoWorkerFactory)
	b := NewJob("b", echoWorkerFactory).DependsOn("a")
	def := &Definition{Name: "d", Jobs: []*Job{a, b}, StartWith: "a", Pipeline: true}
	verr := Validate(def)
	assert.Nil(t, verr)
}

func TestValidateSoftTypeMismatchIsNotFatal(t *testing.T) {
	a := NewJob("a", echoWorkerFactory).WithTypes("string", "string")
	b := NewJob("b", echoWorkerFactory).DependsOn("a").WithTypes("int", "int")
	def := &Definition{Name: "d", Jobs: []*Job{a, b}, StartWith: "a", Pipeline: true}
	verr := Validate(def)
	require.NotNil(t, verr)
	assert.Empty(t, verr.FatalIssues())
	assert.Len(t, verr.Issues, 1)
	assert.Equal(t, "type_mismatch", verr.Issues[0].Kind)
}

func TestValidateNumericPromotionIsCompatible(t *testing.T) {
	a := NewJob("a", echoWorkerFactory).WithTypes("string", "int")
	b := NewJob("b", echoWorkerFactory).DependsOn("a").WithTypes("float64", "float64")
	def := &Definition{Name: "d", Jobs: []*Job{a, b}, StartWith: "a", Pipeline: true}
	verr := Validate(def)
	assert.Nil(t, verr)
}
