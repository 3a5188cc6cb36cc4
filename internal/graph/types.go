package graph

import (
	"sort"
	"sync"
	"time"

	"loom/internal/descriptor"
)

// NodeStatus is the lifecycle status of a node during resolution.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeResolving NodeStatus = "resolving"
	NodeResolved  NodeStatus = "resolved"
	NodeFailed    NodeStatus = "failed"
	NodeBlocked   NodeStatus = "blocked"
)

// EdgeStatus is the lifecycle status of an edge requirement check.
type EdgeStatus string

const (
	EdgePending   EdgeStatus = "pending"
	EdgeChecking  EdgeStatus = "checking"
	EdgeSatisfied EdgeStatus = "satisfied"
	EdgeFailed    EdgeStatus = "failed"
	EdgeTimeout   EdgeStatus = "timeout"
)

// Category identifies which validator is responsible for a requirement check.
type Category string

const (
	CategoryVersion       Category = "version"
	CategoryAvailability  Category = "availability"
	CategoryHealth        Category = "health"
	CategoryCompatibility Category = "compatibility"
	CategoryPerformance   Category = "performance"
	CategorySecurity      Category = "security"
)

// Check is the closed set of per-category requirement payloads. Each category
// carries only the fields it needs, instead of an open key/value bag.
type Check interface {
	Category() Category
}

// VersionCheck requires the target node's version to satisfy a semver
// constraint. An empty constraint accepts any parseable version.
type VersionCheck struct {
	Constraint string
}

func (VersionCheck) Category() Category { return CategoryVersion }

// AvailabilityCheck requires the target node to exist in the graph and not be
// in a failed state.
type AvailabilityCheck struct{}

func (AvailabilityCheck) Category() Category { return CategoryAvailability }

// HealthCheck requires the target node to be in a healthy resolution state
// (not failed or blocked).
type HealthCheck struct{}

func (HealthCheck) Category() Category { return CategoryHealth }

// CompatibilityCheck requires the source and target component types to be a
// sensible pairing (for example, configuration components do not depend on
// services).
type CompatibilityCheck struct{}

func (CompatibilityCheck) Category() Category { return CategoryCompatibility }

// PerformanceCheck bounds the estimated resolution cost of the target node.
// A zero MaxCost disables the bound.
type PerformanceCheck struct {
	MaxCost float64
}

func (PerformanceCheck) Category() Category { return CategoryPerformance }

// SecurityCheck constrains the target's location scheme and forbids critical
// components from depending on unpinned targets.
type SecurityCheck struct {
	AllowedSchemes []string
}

func (SecurityCheck) Category() Category { return CategorySecurity }

// RetrySpec configures how a failed requirement check or resolution step is
// retried.
type RetrySpec struct {
	MaxRetries         int
	Delay              time.Duration
	ExponentialBackoff bool
}

// Requirement is the full description of what must hold for an edge to be
// satisfied: the category-specific check plus the timeout and retry policy
// governing a single validation attempt.
type Requirement struct {
	Check   Check
	Timeout time.Duration
	Retry   RetrySpec
}

// Node is the graph representation of one component. A node is owned by
// exactly one graph; its Status is mutated only by the plan executor during a
// single active execution, through the graph's synchronized setters.
type Node struct {
	ID       string
	Name     string
	Type     descriptor.ComponentType
	Version  string
	Location string
	Status   NodeStatus

	// Edges lists the IDs of this node's outgoing dependency edges.
	Edges []string

	// Dependents lists the IDs of nodes that depend on this node.
	Dependents []string

	Metadata descriptor.Metadata
}

// Edge is a directed dependency requirement from Source to Target. Both
// endpoints exist in the owning graph.
type Edge struct {
	ID          string
	Source      string
	Target      string
	Type        descriptor.DependencyType
	Requirement Requirement
	Status      EdgeStatus
	CheckCount  int
}

// CycleSeverity classifies how serious a detected circular dependency is.
type CycleSeverity string

const (
	SeverityWarning  CycleSeverity = "warning"
	SeverityError    CycleSeverity = "error"
	SeverityCritical CycleSeverity = "critical"
)

// CycleStatus tracks whether a detected cycle still exists.
type CycleStatus string

const (
	CycleDetected CycleStatus = "detected"
	CycleResolved CycleStatus = "resolved"
)

// BreakStrategy names the proposed way out of a circular dependency.
type BreakStrategy string

const (
	StrategyBreakOptionalEdge   BreakStrategy = "break-optional-edge"
	StrategyDependencyInjection BreakStrategy = "dependency-injection"
	StrategyLazyResolution      BreakStrategy = "lazy-resolution"
)

// Resolution is the proposed, purely advisory way to break a cycle.
type Resolution struct {
	Strategy  BreakStrategy
	Rationale string

	// EdgeID is set when Strategy is break-optional-edge; it names the
	// optional edge whose removal breaks the cycle.
	EdgeID string
}

// Cycle records one detected circular dependency: the node path forming the
// cycle (first node repeats conceptually after the last), its severity and a
// proposed resolution. Cycles are immutable after detection except for the
// Status flip to resolved when a later rebuild no longer finds them.
type Cycle struct {
	ID         string
	Path       []string
	Severity   CycleSeverity
	Resolution Resolution
	Status     CycleStatus
	DetectedAt time.Time
}

// Members returns the set of node IDs participating in the cycle.
func (c *Cycle) Members() map[string]bool {
	members := make(map[string]bool, len(c.Path))
	for _, id := range c.Path {
		members[id] = true
	}
	return members
}

// Stats are aggregate counts over a graph. They are derived data and never
// authoritative about individual node state.
type Stats struct {
	Nodes         int
	Edges         int
	Cycles        int
	NodesByStatus map[NodeStatus]int
	EdgesByStatus map[EdgeStatus]int
}

// Graph owns an identifier-indexed arena of nodes and edges plus the derived
// resolution order, detected cycles and critical path, all recomputed on
// build. Construction is single-threaded; the mutex only guards the status
// mutations performed during plan execution.
type Graph struct {
	ID      string
	BuiltAt time.Time

	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]*Edge

	// ResolutionOrder contains every node ID exactly once. Nodes inside a
	// detected cycle appear only via the fallback suffix appended after the
	// acyclic prefix, in lexicographic order.
	ResolutionOrder []string

	Cycles []*Cycle

	// CriticalPath is the longest weighted dependency chain, listed
	// target-first (resolution direction).
	CriticalPath []string
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Edge returns the edge with the given ID, or nil.
func (g *Graph) Edge(id string) *Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[id]
}

// Nodes returns all nodes sorted by ID.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges sorted by ID.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OutgoingEdges returns the edges leaving the given node, in declaration
// order.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node := g.nodes[nodeID]
	if node == nil {
		return nil
	}
	out := make([]*Edge, 0, len(node.Edges))
	for _, edgeID := range node.Edges {
		if e := g.edges[edgeID]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// NodeStatusOf returns the current status of a node, or empty if absent.
func (g *Graph) NodeStatusOf(id string) NodeStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n := g.nodes[id]; n != nil {
		return n.Status
	}
	return ""
}

// EdgeStatusOf returns the current status of an edge, or empty if absent.
func (g *Graph) EdgeStatusOf(id string) EdgeStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e := g.edges[id]; e != nil {
		return e.Status
	}
	return ""
}

// SetNodeStatus updates a node's status. Used by the plan executor only.
func (g *Graph) SetNodeStatus(id string, status NodeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.nodes[id]; n != nil {
		n.Status = status
	}
}

// SetEdgeStatus updates an edge's status and bumps its check count when the
// edge moves into checking.
func (g *Graph) SetEdgeStatus(id string, status EdgeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e := g.edges[id]; e != nil {
		e.Status = status
		if status == EdgeChecking {
			e.CheckCount++
		}
	}
}

// ResetStatuses returns every node and edge to its pending state. The plan
// executor uses this for rollback and before a fresh run.
func (g *Graph) ResetStatuses() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		n.Status = NodePending
	}
	for _, e := range g.edges {
		e.Status = EdgePending
	}
}

// Stats computes aggregate counts for the graph.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	stats := Stats{
		Nodes:         len(g.nodes),
		Edges:         len(g.edges),
		Cycles:        len(g.Cycles),
		NodesByStatus: make(map[NodeStatus]int),
		EdgesByStatus: make(map[EdgeStatus]int),
	}
	for _, n := range g.nodes {
		stats.NodesByStatus[n.Status]++
	}
	for _, e := range g.edges {
		stats.EdgesByStatus[e.Status]++
	}
	return stats
}
