// Package graph implements the dependency graph at the heart of the
// resolution engine: construction from component descriptors, circular
// dependency detection and classification, topological resolution ordering
// and weighted critical-path estimation.
//
// # Model
//
// Nodes and edges live in identifier-indexed maps owned by their Graph, so a
// cyclic dependency structure never turns into cyclic object ownership. An
// edge points from the depending node (source) to the node it depends on
// (target) and carries a requirement: a category-specific check plus timeout
// and retry policy.
//
// # Derived data
//
// Build recomputes three derived artifacts on every construction:
//
//   - Cycles: depth-first search with recursion-stack tracking finds each
//     circular dependency once, classifies its severity from the maximum
//     node criticality involved, and proposes a deterministic break
//     strategy. Detection only recommends; it never mutates the graph.
//   - ResolutionOrder: Kahn's algorithm over the non-cyclic edges, with
//     cycle members appended afterwards in lexicographic order. Every node
//     appears exactly once; the cyclic suffix carries no topological
//     guarantee.
//   - CriticalPath: the longest weighted dependency chain, indicating the
//     minimum achievable resolution time.
//
// Construction and analysis are single-threaded, deterministic and free of
// side effects, so rebuilding is always safe. Node and edge status mutation
// during plan execution goes through synchronized setters.
package graph
