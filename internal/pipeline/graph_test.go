package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDependencyGraphOrdersByStage(t *testing.T) {
	nodes := []node{
		{id: "fetch"},
		{id: "parse", dependsOn: []string{"fetch"}},
		{id: "validate", dependsOn: []string{"fetch"}},
		{id: "store", dependsOn: []string{"parse", "validate"}},
	}
	graph, err := buildDependencyGraph(nodes)
	require.NoError(t, err)
	stages := graph.Stages()
	require.Len(t, stages, 3)
	assert.Equal(t, []string{"fetch"}, stages[0])
	assert.ElementsMatch(t, []string{"parse", "validate"}, stages[1])
	assert.Equal(t, []string{"store"}, stages[2])
}

func TestBuildDependencyGraphEmptyIsEmptyStages(t *testing.T) {
	graph, err := buildDependencyGraph(nil)
	require.NoError(t, err)
	assert.Empty(t, graph.Stages())
}

func TestBuildDependencyGraphDetectsCycle(t *testing.T) {
	nodes := []node{
		{id: "a", dependsOn: []string{"b"}},
		{id: "b", dependsOn: []string{"a"}},
	}
	_, err := buildDependencyGraph(nodes)
	assert.ErrorContains(t, err, "cycle")
}

func TestBuildDependencyGraphRejectsUnknownDependency(t *testing.T) {
	nodes := []node{{id: "a", dependsOn: []string{"ghost"}}}
	_, err := buildDependencyGraph(nodes)
	assert.ErrorContains(t, err, "unknown task")
}

func TestBuildDependencyGraphRejectsDuplicateID(t *testing.T) {
	nodes := []node{{id: "a"}, {id: "a"}}
	_, err := buildDependencyGraph(nodes)
	assert.ErrorContains(t, err, "duplicate")
}

func TestBuildDependencyGraphRejectsEmptyID(t *testing.T) {
	nodes := []node{{id: "  "}}
	_, err := buildDependencyGraph(nodes)
	assert.Error(t, err)
}

func TestStagesOnNilGraphIsNil(t *testing.T) {
	var g *DependencyGraph
	assert.Nil(t, g.Stages())
}
