package graph

import (
	"loom/internal/descriptor"
)

// edgeWeight estimates the relative resolution cost contributed by an edge:
// a base of 1 scaled by the dependency type and by the criticality of the
// depending (source) node.
func edgeWeight(g *Graph, e *Edge) float64 {
	weight := 1.0

	switch e.Type {
	case descriptor.DependencyCritical:
		weight *= 3
	case descriptor.DependencyHard:
		weight *= 2
	case descriptor.DependencySoft:
		weight *= 1.5
	case descriptor.DependencyOptional:
		weight *= 0.5
	}

	if source := g.nodes[e.Source]; source != nil {
		switch source.Metadata.Criticality {
		case descriptor.CriticalityCritical:
			weight *= 2
		case descriptor.CriticalityHigh:
			weight *= 1.5
		case descriptor.CriticalityMedium:
			weight *= 1.2
		}
	}

	return weight
}

// computeCriticalPath finds the longest weighted dependency chain through the
// acyclic portion of the graph. Nodes are relaxed in resolution-order
// sequence, which is a topological order for the non-cyclic edges, and the
// path is reconstructed from predecessor pointers starting at the node with
// the maximum accumulated distance.
//
// The returned path is in resolution direction: the deepest dependency first.
func computeCriticalPath(g *Graph) []string {
	if len(g.nodes) == 0 {
		return nil
	}

	cyclic := cyclicEdges(g)
	dist := make(map[string]float64, len(g.nodes))
	pred := make(map[string]string, len(g.nodes))

	for _, id := range g.ResolutionOrder {
		node := g.nodes[id]
		if node == nil {
			continue
		}
		for _, depID := range node.Dependents {
			edgeID := depID + "->" + id
			edge, ok := g.edges[edgeID]
			if !ok || cyclic[edgeID] {
				continue
			}
			candidate := dist[id] + edgeWeight(g, edge)
			if candidate > dist[depID] {
				dist[depID] = candidate
				pred[depID] = id
			}
		}
	}

	// The path ends at the node with the maximum accumulated distance; ties
	// break toward the lexicographically smallest ID for determinism.
	var endID string
	best := -1.0
	for _, id := range g.ResolutionOrder {
		d := dist[id]
		if d > best || (d == best && (endID == "" || id < endID)) {
			best = d
			endID = id
		}
	}
	if endID == "" {
		return nil
	}

	// Walk predecessors from the end node down to the deepest dependency,
	// then reverse into resolution direction.
	var reversed []string
	for id := endID; id != ""; id = pred[id] {
		reversed = append(reversed, id)
		if _, ok := pred[id]; !ok {
			break
		}
	}
	path := make([]string, len(reversed))
	for i, id := range reversed {
		path[len(reversed)-1-i] = id
	}
	return path
}
