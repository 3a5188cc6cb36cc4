package graph

import (
	"fmt"
	"time"

	"loom/internal/descriptor"
	"loom/pkg/logging"

	"github.com/google/uuid"
)

// BuildOptions control graph construction.
type BuildOptions struct {
	// IncludeOptional keeps edges of type optional; they are skipped
	// otherwise.
	IncludeOptional bool

	// DetectCycles runs circular dependency analysis after construction.
	DetectCycles bool

	// ComputeCriticalPath computes the weighted critical path after the
	// resolution order is known.
	ComputeCriticalPath bool

	// DefaultTimeout bounds a single requirement validation attempt when the
	// descriptor does not say otherwise. Zero means 10 seconds.
	DefaultTimeout time.Duration

	// DefaultRetries is the retry budget given to edges whose type allows
	// retrying. Zero is respected.
	DefaultRetries int
}

// DefaultBuildOptions returns the options used when callers pass none.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		IncludeOptional:     false,
		DetectCycles:        true,
		ComputeCriticalPath: true,
		DefaultTimeout:      10 * time.Second,
		DefaultRetries:      2,
	}
}

// Build converts a flat list of component descriptors into a directed
// dependency graph, then derives cycles, the resolution order and the
// critical path according to the options.
//
// Referential integrity is best-effort: a dependency reference whose target
// descriptor is absent is dropped with a debug log, matching upstream
// descriptor quality. Only structurally invalid descriptors (missing ID,
// duplicate ID) abort the build with a BuildError.
func Build(components []descriptor.Component, opts BuildOptions) (*Graph, error) {
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 10 * time.Second
	}

	g := &Graph{
		ID:      uuid.NewString(),
		BuiltAt: time.Now(),
		nodes:   make(map[string]*Node),
		edges:   make(map[string]*Edge),
	}

	for _, c := range components {
		if c.ID == "" {
			return nil, &BuildError{Message: "component descriptor is missing an id"}
		}
		if _, exists := g.nodes[c.ID]; exists {
			return nil, &BuildError{ComponentID: c.ID, Message: "duplicate component id"}
		}
		c = c.Normalized()
		g.nodes[c.ID] = &Node{
			ID:       c.ID,
			Name:     c.Name,
			Type:     c.Type,
			Version:  c.Version,
			Location: c.Location,
			Status:   NodePending,
			Metadata: c.Metadata,
		}
	}

	for _, c := range components {
		c = c.Normalized()
		source := g.nodes[c.ID]
		for _, ref := range c.Dependencies {
			if ref.Type == descriptor.DependencyOptional && !opts.IncludeOptional {
				continue
			}
			target, ok := g.nodes[ref.Target]
			if !ok {
				logging.Debug("GraphBuilder", "Dropping edge %s -> %s: target not in descriptor set", c.ID, ref.Target)
				continue
			}

			edge := &Edge{
				ID:          fmt.Sprintf("%s->%s", source.ID, target.ID),
				Source:      source.ID,
				Target:      target.ID,
				Type:        ref.Type,
				Requirement: defaultRequirement(ref, opts),
				Status:      EdgePending,
			}
			if _, exists := g.edges[edge.ID]; exists {
				// A component may only declare one edge per target.
				logging.Debug("GraphBuilder", "Dropping duplicate edge %s", edge.ID)
				continue
			}
			g.edges[edge.ID] = edge
			source.Edges = append(source.Edges, edge.ID)
			target.Dependents = append(target.Dependents, source.ID)
		}
	}

	if opts.DetectCycles {
		g.Cycles = detectCycles(g)
	}
	g.ResolutionOrder = computeResolutionOrder(g)
	if opts.ComputeCriticalPath {
		g.CriticalPath = computeCriticalPath(g)
	}

	logging.Info("GraphBuilder", "Built graph %s: %d nodes, %d edges, %d cycles",
		g.ID, len(g.nodes), len(g.edges), len(g.Cycles))
	return g, nil
}

// defaultRequirement derives the requirement for an edge from its declared
// dependency type. An explicit version constraint on the reference always
// wins and becomes a version check.
func defaultRequirement(ref descriptor.Reference, opts BuildOptions) Requirement {
	req := Requirement{
		Timeout: opts.DefaultTimeout,
		Retry: RetrySpec{
			MaxRetries:         opts.DefaultRetries,
			Delay:              time.Second,
			ExponentialBackoff: true,
		},
	}

	if ref.VersionConstraint != "" {
		req.Check = VersionCheck{Constraint: ref.VersionConstraint}
		return req
	}

	switch ref.Type {
	case descriptor.DependencyCritical, descriptor.DependencyHard:
		// Hard requirements get an availability check and no retries beyond
		// the executor's own step policy.
		req.Check = AvailabilityCheck{}
		req.Retry.MaxRetries = 0
		req.Retry.ExponentialBackoff = false
	case descriptor.DependencyRuntime:
		req.Check = HealthCheck{}
	case descriptor.DependencyBuild, descriptor.DependencyTest:
		req.Check = CompatibilityCheck{}
	default:
		// soft and optional dependencies
		req.Check = AvailabilityCheck{}
	}
	return req
}
