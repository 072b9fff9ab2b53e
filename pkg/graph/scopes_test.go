package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/graph"
	"github.com/dukex/aide/pkg/models"
	. "github.com/dukex/aide/pkg/testutil"
)

func TestAnalyze_FanInScopeIsExactlyTheNodesBetween(t *testing.T) {
	// F -> D -> J, plus D -> X which never reaches J.
	def := CreateTestDefinition(
		[]models.Node{
			CreateTestNode("T", WithTriggerNode(models.TriggerManual)),
			CreateTestNode("F", WithFanOut()),
			CreateTestNode("D"),
			CreateTestNode("X", WithOutputNode(models.OutputLog)),
			CreateTestNode("J", WithFanIn("F")),
			CreateTestNode("O", WithOutputNode(models.OutputLog)),
		},
		Link("T", "F:items"),
		Link("F:item", "D"),
		Link("D", "J:item"),
		Link("D", "X"),
		Link("J:items", "O"),
	)

	require.NoError(t, graph.NewValidator(nil).Validate(def))

	a, err := graph.Analyze(def)
	require.NoError(t, err)

	scope, ok := a.Scopes.OfFanOut("F")
	require.True(t, ok)

	assert.Equal(t, "J", scope.FanIn)
	assert.Equal(t, map[string]bool{"D": true, "X": true}, scope.Region)
	assert.Equal(t, map[string]bool{"D": true}, scope.FanInScope)
	assert.Empty(t, a.Scopes.Chain("J"))
	assert.Empty(t, a.Scopes.Chain("O"))
	assert.Equal(t, []int{scope.ID}, a.Scopes.Chain("D"))
}

func TestAnalyze_NestedScopes(t *testing.T) {
	def := CreateTestDefinition(
		[]models.Node{
			CreateTestNode("T", WithTriggerNode(models.TriggerManual)),
			CreateTestNode("F1", WithFanOut()),
			CreateTestNode("F2", WithFanOut()),
			CreateTestNode("D"),
			CreateTestNode("J2", WithFanIn("F2")),
			CreateTestNode("J1", WithFanIn("F1")),
		},
		Link("T", "F1:items"),
		Link("F1:item", "F2:items"),
		Link("F2:item", "D"),
		Link("D", "J2:item"),
		Link("J2:items", "J1:item"),
	)

	require.NoError(t, graph.NewValidator(nil).Validate(def))

	a, err := graph.Analyze(def)
	require.NoError(t, err)

	outer, _ := a.Scopes.OfFanOut("F1")
	inner, _ := a.Scopes.OfFanOut("F2")

	assert.Equal(t, []int{outer.ID, inner.ID}, a.Scopes.Chain("D"))
	assert.Equal(t, []int{outer.ID}, a.Scopes.Chain("J2"))
	assert.Equal(t, outer.ID, inner.Parent)
	assert.Equal(t, -1, outer.Parent)
}

func TestGraph_Neighbours(t *testing.T) {
	g := graph.New(LinearDefinition())

	assert.Equal(t, []string{"A"}, g.EntryNodes())
	assert.Equal(t, []string{"C"}, g.Successors("B"))
	assert.Equal(t, []string{"A"}, g.Predecessors("B"))
	assert.Equal(t, map[string]bool{"B": true, "C": true}, g.Descendants("A"))

	order, _, ok := g.TopologicalOrder()
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, order)
}
