package graph

import (
	"sort"

	"loom/pkg/logging"
)

// cyclicEdges returns the set of edge IDs whose endpoints are both members of
// the same detected cycle. Those edges are excluded from ordering and
// critical-path computation.
func cyclicEdges(g *Graph) map[string]bool {
	cyclic := make(map[string]bool)
	for _, cycle := range g.Cycles {
		members := cycle.Members()
		for id, e := range g.edges {
			if members[e.Source] && members[e.Target] {
				cyclic[id] = true
			}
		}
	}
	return cyclic
}

// computeResolutionOrder derives the order in which nodes should be brought
// to resolved state, using Kahn's algorithm over the non-cyclic edges. A
// node's in-degree counts its outstanding dependencies, so dependency-free
// nodes come first.
//
// Cycle members, and any node whose dependency chain passes through a
// cycle, are appended afterwards in lexicographic order. The result
// therefore always contains every node exactly once, but carries no
// topological guarantee for the appended suffix.
func computeResolutionOrder(g *Graph) []string {
	cyclic := cyclicEdges(g)
	members := g.MembersOfAnyCycle()

	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for id, e := range g.edges {
		if cyclic[id] {
			continue
		}
		inDegree[e.Source]++
	}

	// Sorted ready queue keeps the order deterministic across runs. Cycle
	// members never enter the queue: they reach the order only through the
	// appended fallback below, even when pruning their intra-cycle edges
	// leaves them with in-degree zero.
	var ready []string
	for id, deg := range inDegree {
		if deg == 0 && !members[id] {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	placed := make(map[string]bool, len(g.nodes))

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		placed[id] = true

		node := g.nodes[id]
		var unlocked []string
		for _, depID := range node.Dependents {
			edgeID := depID + "->" + id
			if cyclic[edgeID] {
				continue
			}
			if _, ok := g.edges[edgeID]; !ok {
				continue
			}
			inDegree[depID]--
			if inDegree[depID] == 0 && !members[depID] {
				unlocked = append(unlocked, depID)
			}
		}
		if len(unlocked) > 0 {
			sort.Strings(unlocked)
			ready = mergeSorted(ready, unlocked)
		}
	}

	// Fallback for cycle members and anything stuck behind them: append
	// them, sorted, so the order still covers every node exactly once.
	var unplaced []string
	for id := range g.nodes {
		if !placed[id] {
			unplaced = append(unplaced, id)
		}
	}
	if len(unplaced) > 0 {
		sort.Strings(unplaced)
		order = append(order, unplaced...)
		logging.Debug("Planner", "Appended %d cycle members to resolution order without topological guarantee", len(unplaced))
	}

	return order
}

// mergeSorted merges two sorted string slices into one sorted slice.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
