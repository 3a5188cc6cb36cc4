// Package plan builds executable resolution plans from a dependency graph.
//
// A plan contains one step per node in the graph's resolution order, the
// parallel groups those steps fall into, and a contingency fallback for
// every critical-criticality node. Step durations are estimated from the
// component type and dependency count; retry behavior is a per-step policy
// naming the retryable error categories.
//
// Grouping guarantees that no two steps in the same group have any
// transitive dependency relation, so the executor may run a group's members
// concurrently. Groups execute in index order, which also guarantees that a
// step's prerequisites complete before its group starts (outside detected
// cycles, where no such guarantee is possible).
//
// Plans are immutable once built; re-planning produces a new plan.
package plan
