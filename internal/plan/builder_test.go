package plan

import (
	"testing"
	"time"

	"loom/internal/descriptor"
	"loom/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func component(id string, deps ...string) descriptor.Component {
	c := descriptor.Component{ID: id, Type: descriptor.TypeService, Version: "1.0.0"}
	for _, dep := range deps {
		c.Dependencies = append(c.Dependencies, descriptor.Reference{Target: dep, Type: descriptor.DependencyHard})
	}
	return c
}

func buildGraph(t *testing.T, components ...descriptor.Component) *graph.Graph {
	t.Helper()
	g, err := graph.Build(components, graph.DefaultBuildOptions())
	require.NoError(t, err)
	return g
}

func TestPlanRoundTripsResolutionOrder(t *testing.T) {
	g := buildGraph(t,
		component("app", "lib", "db"),
		component("lib", "core"),
		component("db"),
		component("core"),
	)

	p := Build(g, DefaultOptions())
	assert.Equal(t, g.ResolutionOrder, p.NodeOrder())
	assert.Equal(t, g.ID, p.GraphID)
	assert.NotEmpty(t, p.ID)
}

func TestStepDependencies(t *testing.T) {
	g := buildGraph(t,
		component("a", "b", "c"),
		component("b", "c"),
		component("c"),
	)

	p := Build(g, DefaultOptions())
	a := p.StepForNode("a")
	require.NotNil(t, a)
	assert.ElementsMatch(t, []string{StepID("b"), StepID("c")}, a.DependsOn)

	c := p.StepForNode("c")
	require.NotNil(t, c)
	assert.Empty(t, c.DependsOn)
}

func TestEstimatedDurations(t *testing.T) {
	g := buildGraph(t,
		descriptor.Component{ID: "infra", Type: descriptor.TypeInfrastructure, Version: "1.0.0"},
		descriptor.Component{ID: "svc", Type: descriptor.TypeService, Version: "1.0.0", Dependencies: []descriptor.Reference{
			{Target: "infra", Type: descriptor.DependencyHard},
		}},
		descriptor.Component{ID: "lib", Type: descriptor.TypeLibrary, Version: "1.0.0"},
		descriptor.Component{ID: "cfg", Type: descriptor.TypeConfiguration, Version: "1.0.0"},
	)

	p := Build(g, DefaultOptions())
	assert.Equal(t, 5000*time.Millisecond, p.StepForNode("infra").EstimatedDuration)
	// Service base 3000 plus one dependency at 500.
	assert.Equal(t, 3500*time.Millisecond, p.StepForNode("svc").EstimatedDuration)
	assert.Equal(t, 1500*time.Millisecond, p.StepForNode("lib").EstimatedDuration)
	assert.Equal(t, 1000*time.Millisecond, p.StepForNode("cfg").EstimatedDuration)
}

// reachable computes the transitive dependency closure of a node over the
// graph's edges.
func reachable(g *graph.Graph, from string) map[string]bool {
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, e := range g.OutgoingEdges(id) {
			if !seen[e.Target] {
				seen[e.Target] = true
				walk(e.Target)
			}
		}
	}
	walk(from)
	return seen
}

func TestGroupsNeverMixDependentSteps(t *testing.T) {
	g := buildGraph(t,
		component("a", "b"),
		component("b", "c"),
		component("c"),
		component("x", "c"),
		component("y"),
		component("z", "y"),
	)

	p := Build(g, DefaultOptions())
	for _, group := range p.Groups {
		for _, first := range group.StepIDs {
			for _, second := range group.StepIDs {
				if first == second {
					continue
				}
				a := p.Step(first)
				b := p.Step(second)
				assert.False(t, reachable(g, a.NodeID)[b.NodeID],
					"%s and %s share group %d but %s depends on %s", first, second, group.Index, first, second)
			}
		}
	}
}

func TestGroupConcurrencyCap(t *testing.T) {
	g := buildGraph(t,
		component("a"), component("b"), component("c"),
		component("d"), component("e"),
	)

	opts := DefaultOptions()
	opts.MaxConcurrency = 2
	p := Build(g, opts)

	total := 0
	for _, group := range p.Groups {
		assert.LessOrEqual(t, len(group.StepIDs), 2)
		total += len(group.StepIDs)
	}
	assert.Equal(t, 5, total)
}

func TestCycleMembersGetSingletonGroups(t *testing.T) {
	g := buildGraph(t,
		component("a", "b"),
		component("b", "a"),
		component("solo"),
	)

	p := Build(g, DefaultOptions())
	for _, group := range p.Groups {
		for _, stepID := range group.StepIDs {
			step := p.Step(stepID)
			if step.NodeID == "a" || step.NodeID == "b" {
				assert.Len(t, group.StepIDs, 1, "cycle member %s must be alone in its group", step.NodeID)
			}
		}
	}

	// Intra-cycle dependencies are pruned from the steps.
	assert.Empty(t, p.StepForNode("a").DependsOn)
	assert.Empty(t, p.StepForNode("b").DependsOn)
}

func TestDependentOfCycleMemberGroupedAfterMember(t *testing.T) {
	// a depends on b, and b sits in a cycle with c. The resolution order
	// lists all three in the appended suffix, where a precedes b; the
	// grouping must still put a strictly after b.
	g := buildGraph(t,
		component("a", "b"),
		component("b", "c"),
		component("c", "b"),
	)

	p := Build(g, DefaultOptions())
	groupOf := make(map[string]int)
	for _, group := range p.Groups {
		for _, stepID := range group.StepIDs {
			groupOf[stepID] = group.Index
		}
	}
	require.Contains(t, groupOf, StepID("a"))
	require.Contains(t, groupOf, StepID("b"))
	assert.Greater(t, groupOf[StepID("a")], groupOf[StepID("b")])
}

func TestContingenciesForCriticalNodes(t *testing.T) {
	critical := component("payments")
	critical.Metadata.Criticality = descriptor.CriticalityCritical
	normal := component("reporting")

	g := buildGraph(t, critical, normal)
	p := Build(g, DefaultOptions())

	require.Len(t, p.Contingencies, 1)
	c := p.Contingencies[0]
	assert.Equal(t, "payments", c.NodeID)
	assert.Equal(t, ActionDegrade, c.Action)
	assert.Equal(t, 2*DefaultOptions().StepTimeout, c.Timeout)
}

func TestRetryPolicyMatching(t *testing.T) {
	policy := RetryPolicy{RetryableErrors: []ErrorCategory{ErrorValidation}}
	assert.True(t, policy.Retryable(ErrorValidation))
	assert.False(t, policy.Retryable(ErrorTimeout))
}

func TestEstimatedDurationSumsGroupMaxima(t *testing.T) {
	g := buildGraph(t,
		component("a", "c"), // service, 1 dep: 3500ms, level 1
		component("b"),      // service: 3000ms, level 0
		component("c"),      // service: 3000ms, level 0
	)

	p := Build(g, DefaultOptions())
	// b and c share the first group (max 3000ms); a follows (3500ms).
	assert.Equal(t, 6500*time.Millisecond, p.EstimatedDuration())
}
