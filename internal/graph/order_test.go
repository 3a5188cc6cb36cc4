package graph

import (
	"testing"

	"loom/internal/descriptor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// orderIndex maps node ID to its position in the resolution order.
func orderIndex(order []string) map[string]int {
	idx := make(map[string]int, len(order))
	for i, id := range order {
		idx[id] = i
	}
	return idx
}

func TestChainOrder(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "c"),
		component("c"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "b", "a"}, g.ResolutionOrder)
	assert.Equal(t, []string{"c", "b", "a"}, g.CriticalPath)
}

func TestOrderIsTopologicalForAcyclicGraphs(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("app", "lib1", "lib2"),
		component("lib1", "core"),
		component("lib2", "core", "util"),
		component("core"),
		component("util"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	require.Len(t, g.ResolutionOrder, 5)
	idx := orderIndex(g.ResolutionOrder)
	for _, e := range g.Edges() {
		// The source depends on the target, so the target resolves first.
		assert.Less(t, idx[e.Target], idx[e.Source],
			"edge %s: target must precede source in resolution order", e.ID)
	}
}

func TestOrderContainsEveryNodeOnce(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "a"), // cycle
		component("c", "a"),
		component("d"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	require.Len(t, g.ResolutionOrder, 4)
	seen := make(map[string]int)
	for _, id := range g.ResolutionOrder {
		seen[id]++
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, 1, seen[id], "node %s must appear exactly once", id)
	}
}

func TestCycleMembersAppendedAfterAcyclicPrefix(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "a"),
		component("z"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	require.Len(t, g.ResolutionOrder, 3)
	assert.Equal(t, "z", g.ResolutionOrder[0], "acyclic node comes first")
	// Cycle members appended in lexicographic order.
	assert.Equal(t, []string{"a", "b"}, g.ResolutionOrder[1:])
}

func TestDeterministicOrder(t *testing.T) {
	components := []descriptor.Component{
		component("m"),
		component("k"),
		component("z", "m", "k"),
	}
	first, err := Build(components, DefaultBuildOptions())
	require.NoError(t, err)
	second, err := Build(components, DefaultBuildOptions())
	require.NoError(t, err)

	assert.Equal(t, first.ResolutionOrder, second.ResolutionOrder)
	assert.Equal(t, []string{"k", "m", "z"}, first.ResolutionOrder)
}

func TestCriticalPathNeverExceedsNodeCount(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b", "c"),
		component("b", "c"),
		component("c"),
		component("d", "a"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	assert.LessOrEqual(t, len(g.CriticalPath), g.NodeCount())
	assert.NotEmpty(t, g.CriticalPath)
}

func TestCriticalPathPrefersHeavyEdges(t *testing.T) {
	// Two chains into "app": one via a critical dependency on a critical
	// component, one via a soft dependency. The heavy chain wins.
	heavy := descriptor.Component{
		ID: "app", Type: descriptor.TypeService,
		Metadata: descriptor.Metadata{Criticality: descriptor.CriticalityCritical},
		Dependencies: []descriptor.Reference{
			{Target: "db", Type: descriptor.DependencyCritical},
			{Target: "theme", Type: descriptor.DependencySoft},
		},
	}
	db := component("db", "storage")
	db.Metadata.Criticality = descriptor.CriticalityHigh

	g, err := Build([]descriptor.Component{
		heavy,
		db,
		component("storage"),
		component("theme"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"storage", "db", "app"}, g.CriticalPath)
}

func TestCriticalPathSkipsCyclicEdges(t *testing.T) {
	g, err := Build([]descriptor.Component{
		component("a", "b"),
		component("b", "a"),
		component("x", "y"),
		component("y"),
	}, DefaultBuildOptions())
	require.NoError(t, err)

	// The cycle contributes no path; the x->y chain is the longest acyclic
	// chain.
	assert.Equal(t, []string{"y", "x"}, g.CriticalPath)
}
