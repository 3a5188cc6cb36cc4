package graph

import (
	"testing"

	"loom/internal/descriptor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutualDependencyDetectedOnce(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "a"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	require.Len(t, g.Cycles, 1)
	cycle := g.Cycles[0]
	assert.ElementsMatch(t, []string{"a", "b"}, cycle.Path)
	assert.Equal(t, CycleDetected, cycle.Status)

	// Both nodes still appear in the order exactly once, after the (empty)
	// acyclic prefix.
	assert.ElementsMatch(t, []string{"a", "b"}, g.ResolutionOrder)
}

func TestNoCyclesInChain(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "c"),
		component("c"),
	}, DefaultBuildOptions())
	require.NoError(t, err)
	assert.Empty(t, g.Cycles)
}

func TestCycleDetectionIdempotent(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "c"),
		component("c", "a"),
		component("d", "a"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	first := detectCycles(g)
	second := detectCycles(g)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Path, second[i].Path)
		assert.Equal(t, first[i].Severity, second[i].Severity)
		assert.Equal(t, first[i].Resolution.Strategy, second[i].Resolution.Strategy)
	}
}

func TestCycleSeverityFromCriticality(t *testing.T) {
	tests := []struct {
		name        string
		criticality descriptor.Criticality
		expected    CycleSeverity
	}{
		{"critical node makes critical cycle", descriptor.CriticalityCritical, SeverityCritical},
		{"high node makes error cycle", descriptor.CriticalityHigh, SeverityError},
		{"medium node makes warning cycle", descriptor.CriticalityMedium, SeverityWarning},
		{"low node makes warning cycle", descriptor.CriticalityLow, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := component("a", "b")
			a.Metadata.Criticality = tt.criticality
			b := component("b", "a")
			b.Metadata.Criticality = descriptor.CriticalityLow

			g, err := Build([]descriptor.Component{a, b}, DefaultBuildOptions())
			require.NoError(t, err)
			require.Len(t, g.Cycles, 1)
			assert.Equal(t, tt.expected, g.Cycles[0].Severity)
		})
	}
}

func TestResolutionProposalOptionalEdge(t *testing.T) {
	a := descriptor.Component{ID: "a", Type: descriptor.TypeService, Dependencies: []descriptor.Reference{
		{Target: "b", Type: descriptor.DependencyOptional},
	}}
	b := component("b", "a")

	opts := DefaultBuildOptions()
	opts.IncludeOptional = true
	g, err := Build([]descriptor.Component{a, b}, opts)
	require.NoError(t, err)

	require.Len(t, g.Cycles, 1)
	res := g.Cycles[0].Resolution
	assert.Equal(t, StrategyBreakOptionalEdge, res.Strategy)
	assert.Equal(t, "a->b", res.EdgeID)
}

func TestResolutionProposalShortCycle(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "c"),
		component("c", "a"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	require.Len(t, g.Cycles, 1)
	assert.Equal(t, StrategyDependencyInjection, g.Cycles[0].Resolution.Strategy)
}

func TestResolutionProposalLongCycle(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "c"),
		component("c", "d"),
		component("d", "a"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	require.Len(t, g.Cycles, 1)
	assert.Equal(t, StrategyLazyResolution, g.Cycles[0].Resolution.Strategy)
}

func TestTwoDisjointCycles(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "a"),
		component("x", "y"),
		component("y", "x"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	assert.Len(t, g.Cycles, 2)
	assert.Len(t, g.ResolutionOrder, 4)
}
