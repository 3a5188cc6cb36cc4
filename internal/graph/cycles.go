package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"loom/internal/descriptor"
	"loom/pkg/logging"

	"github.com/google/uuid"
)

// detectCycles finds every circular dependency in the graph using a
// depth-first search with recursion-stack tracking. It is deterministic
// (roots and edges are explored in sorted order), idempotent and read-only
// over the graph.
func detectCycles(g *Graph) []*Cycle {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string
	var cycles []*Cycle
	seen := make(map[string]bool)

	roots := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	var dfs func(id string)
	dfs = func(id string) {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, target := range sortedTargets(g, id) {
			if !visited[target] {
				dfs(target)
			} else if onStack[target] {
				cycle := extractCycle(g, path, target)
				if cycle != nil && !seen[cycleKey(cycle.Path)] {
					seen[cycleKey(cycle.Path)] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
	}

	for _, id := range roots {
		if !visited[id] {
			dfs(id)
		}
	}

	if len(cycles) > 0 {
		logging.Warn("CycleAnalyzer", "Detected %d circular dependencies in graph %s", len(cycles), g.ID)
	}
	return cycles
}

// sortedTargets returns the target node IDs of a node's outgoing edges in
// sorted order, so detection order does not depend on map iteration.
func sortedTargets(g *Graph, nodeID string) []string {
	node := g.nodes[nodeID]
	targets := make([]string, 0, len(node.Edges))
	for _, edgeID := range node.Edges {
		if e := g.edges[edgeID]; e != nil {
			targets = append(targets, e.Target)
		}
	}
	sort.Strings(targets)
	return targets
}

// extractCycle builds the cycle record for the sub-path from the first
// occurrence of start in path through the current path end.
func extractCycle(g *Graph, path []string, start string) *Cycle {
	idx := -1
	for i, id := range path {
		if id == start {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	cyclePath := make([]string, len(path)-idx)
	copy(cyclePath, path[idx:])

	return &Cycle{
		ID:         uuid.NewString(),
		Path:       cyclePath,
		Severity:   cycleSeverity(g, cyclePath),
		Resolution: proposeResolution(g, cyclePath),
		Status:     CycleDetected,
		DetectedAt: time.Now(),
	}
}

// cycleSeverity maps the maximum node criticality in the cycle to a
// severity: critical criticality means a critical cycle, high means error,
// anything else is a warning.
func cycleSeverity(g *Graph, path []string) CycleSeverity {
	maxRank := 0
	for _, id := range path {
		if node := g.nodes[id]; node != nil {
			if r := node.Metadata.Criticality.Rank(); r > maxRank {
				maxRank = r
			}
		}
	}
	switch {
	case maxRank >= descriptor.CriticalityCritical.Rank():
		return SeverityCritical
	case maxRank >= descriptor.CriticalityHigh.Rank():
		return SeverityError
	default:
		return SeverityWarning
	}
}

// proposeResolution picks a deterministic break strategy for a cycle. This is
// a heuristic recommendation only; it never mutates the graph.
func proposeResolution(g *Graph, path []string) Resolution {
	for _, edge := range cycleEdges(g, path) {
		if edge.Type == descriptor.DependencyOptional {
			return Resolution{
				Strategy:  StrategyBreakOptionalEdge,
				Rationale: fmt.Sprintf("edge %s is optional and can be removed to break the cycle", edge.ID),
				EdgeID:    edge.ID,
			}
		}
	}
	if len(path) <= 3 {
		return Resolution{
			Strategy:  StrategyDependencyInjection,
			Rationale: "short cycle; introduce an indirection so one participant receives its dependency instead of resolving it",
		}
	}
	return Resolution{
		Strategy:  StrategyLazyResolution,
		Rationale: "long cycle; defer resolution of one participant until first use",
	}
}

// cycleEdges returns the edges along the cycle path, including the closing
// edge from the last node back to the first.
func cycleEdges(g *Graph, path []string) []*Edge {
	var edges []*Edge
	for i, id := range path {
		next := path[(i+1)%len(path)]
		if e := g.edges[fmt.Sprintf("%s->%s", id, next)]; e != nil {
			edges = append(edges, e)
		}
	}
	return edges
}

// cycleKey canonicalizes a cycle path so the same cycle discovered from
// different entry points deduplicates: rotate so the smallest member leads.
func cycleKey(path []string) string {
	if len(path) == 0 {
		return ""
	}
	minIdx := 0
	for i, id := range path {
		if id < path[minIdx] {
			minIdx = i
		}
	}
	rotated := make([]string, 0, len(path))
	rotated = append(rotated, path[minIdx:]...)
	rotated = append(rotated, path[:minIdx]...)
	return strings.Join(rotated, "\x00")
}

// MembersOfAnyCycle returns the union of member sets of all detected cycles.
func (g *Graph) MembersOfAnyCycle() map[string]bool {
	members := make(map[string]bool)
	for _, c := range g.Cycles {
		for _, id := range c.Path {
			members[id] = true
		}
	}
	return members
}
