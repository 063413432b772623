package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAssemblesDefinition(t *testing.T) {
	def := NewBuilder("manual").
		AddJob(NewJob("a", echoWorkerFactory)).
		AddJob(NewJob("b", echoWorkerFactory).DependsOn("a")).
		StartWith("a").
		AsPipeline().
		Build()

	assert.Equal(t, "manual", def.Name)
	assert.True(t, def.Pipeline)
	assert.Equal(t, "a", def.StartWith)
	require.Len(t, def.Jobs, 2)
	assert.Nil(t, Validate(def))
}

func TestChainBuilderWiresLinearDependencies(t *testing.T) {
	def := NewChainBuilder("pipeline").
		ThenWorker("ingest", echoWorkerFactory).
		ThenWorker("transform", echoWorkerFactory).
		ThenWorker("publish", echoWorkerFactory).
		Terminal().
		Build()

	require.Len(t, def.Jobs, 3)
	assert.Equal(t, "ingest", def.StartWith)
	assert.Equal(t, []string{"ingest"}, def.Jobs[1].Dependencies)
	assert.Equal(t, []string{"transform"}, def.Jobs[2].Dependencies)
	assert.True(t, def.Jobs[2].Terminates)
	assert.True(t, def.Jobs[2].OutputsToWorkflow)

	assert.Equal(t, []InputMappingSource{{SourceJob: "ingest"}}, def.Jobs[1].InputMappings)
	assert.Nil(t, Validate(def))
}

func TestChainBuilderThenPreservesExplicitMapping(t *testing.T) {
	custom := NewJob("b", echoWorkerFactory).MapFromWorkflow()
	def := NewChainBuilder("pipeline").
		ThenWorker("a", echoWorkerFactory).
		Then(custom).
		Build()

	assert.Equal(t, []string{"a"}, def.Jobs[1].Dependencies)
	assert.Equal(t, []InputMappingSource{{FromWorkflow: true}}, def.Jobs[1].InputMappings)
}
