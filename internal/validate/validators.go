package validate

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/descriptor"
	"loom/internal/graph"

	"github.com/Masterminds/semver/v3"
)

// versionValidator checks that the target node's version satisfies the
// edge's semver constraint. An empty constraint accepts any parseable
// version.
type versionValidator struct{}

func (versionValidator) Category() graph.Category { return graph.CategoryVersion }

func (versionValidator) Validate(_ context.Context, edge *graph.Edge, g *graph.Graph) Result {
	target := g.Node(edge.Target)
	if target == nil {
		return Result{Message: fmt.Sprintf("target %s not in graph", edge.Target)}
	}

	version, err := semver.NewVersion(strings.TrimSpace(target.Version))
	if err != nil {
		return Result{Message: fmt.Sprintf("target %s has unparseable version %q", target.ID, target.Version)}
	}

	check, ok := edge.Requirement.Check.(graph.VersionCheck)
	if !ok || strings.TrimSpace(check.Constraint) == "" {
		return Result{Passed: true, Score: 1, Message: fmt.Sprintf("version %s accepted (no constraint)", version)}
	}

	constraint, err := semver.NewConstraint(check.Constraint)
	if err != nil {
		return Result{Message: fmt.Sprintf("invalid version constraint %q: %v", check.Constraint, err)}
	}
	if !constraint.Check(version) {
		return Result{Message: fmt.Sprintf("version %s does not satisfy %q", version, check.Constraint)}
	}
	return Result{Passed: true, Score: 1, Message: fmt.Sprintf("version %s satisfies %q", version, check.Constraint)}
}

// availabilityValidator checks that the target node exists and has not
// failed. Pending targets are available: they will be resolved earlier in
// the plan.
type availabilityValidator struct{}

func (availabilityValidator) Category() graph.Category { return graph.CategoryAvailability }

func (availabilityValidator) Validate(_ context.Context, edge *graph.Edge, g *graph.Graph) Result {
	target := g.Node(edge.Target)
	if target == nil {
		return Result{Message: fmt.Sprintf("target %s not in graph", edge.Target)}
	}
	status := g.NodeStatusOf(edge.Target)
	if status == graph.NodeFailed || status == graph.NodeBlocked {
		return Result{Message: fmt.Sprintf("target %s is %s", edge.Target, status)}
	}
	return Result{Passed: true, Score: 1, Message: fmt.Sprintf("target %s is available (%s)", edge.Target, status)}
}

// healthValidator checks the target's resolution state. A resolved target
// scores 1.0; an in-flight target passes at a reduced score.
type healthValidator struct{}

func (healthValidator) Category() graph.Category { return graph.CategoryHealth }

func (healthValidator) Validate(_ context.Context, edge *graph.Edge, g *graph.Graph) Result {
	status := g.NodeStatusOf(edge.Target)
	switch status {
	case graph.NodeResolved:
		return Result{Passed: true, Score: 1, Message: fmt.Sprintf("target %s is resolved", edge.Target)}
	case graph.NodePending, graph.NodeResolving:
		return Result{Passed: true, Score: 0.8, Message: fmt.Sprintf("target %s is %s", edge.Target, status)}
	case graph.NodeFailed, graph.NodeBlocked:
		return Result{Message: fmt.Sprintf("target %s is %s", edge.Target, status)}
	default:
		return Result{Message: fmt.Sprintf("target %s not in graph", edge.Target)}
	}
}

// compatibleTargets maps a source component type to the component types it
// may depend on. Services may depend on anything; more passive component
// kinds have narrower legal targets.
var compatibleTargets = map[descriptor.ComponentType]map[descriptor.ComponentType]bool{
	descriptor.TypeService: {
		descriptor.TypeService: true, descriptor.TypeLibrary: true,
		descriptor.TypeConfiguration: true, descriptor.TypeData: true,
		descriptor.TypeInfrastructure: true,
	},
	descriptor.TypeLibrary: {
		descriptor.TypeLibrary: true, descriptor.TypeConfiguration: true,
		descriptor.TypeData: true,
	},
	descriptor.TypeConfiguration: {
		descriptor.TypeConfiguration: true, descriptor.TypeData: true,
	},
	descriptor.TypeData: {
		descriptor.TypeData: true, descriptor.TypeInfrastructure: true,
	},
	descriptor.TypeInfrastructure: {
		descriptor.TypeInfrastructure: true,
	},
}

// compatibilityValidator checks that the source component type may depend on
// the target component type.
type compatibilityValidator struct{}

func (compatibilityValidator) Category() graph.Category { return graph.CategoryCompatibility }

func (compatibilityValidator) Validate(_ context.Context, edge *graph.Edge, g *graph.Graph) Result {
	source := g.Node(edge.Source)
	target := g.Node(edge.Target)
	if source == nil || target == nil {
		return Result{Message: "edge endpoints not in graph"}
	}
	allowed, ok := compatibleTargets[source.Type]
	if !ok || !allowed[target.Type] {
		return Result{Message: fmt.Sprintf("%s component %s may not depend on %s component %s",
			source.Type, source.ID, target.Type, target.ID)}
	}
	return Result{Passed: true, Score: 1, Message: fmt.Sprintf("%s -> %s is a compatible pairing", source.Type, target.Type)}
}

// performanceValidator bounds the estimated resolution cost of the target
// node. The cost model matches the plan builder's duration estimate, so the
// bound is meaningful against the plan.
type performanceValidator struct{}

func (performanceValidator) Category() graph.Category { return graph.CategoryPerformance }

// EstimatedCost is the unit-less resolution cost of a node: a base of 1000
// scaled by component type plus 500 per dependency.
func EstimatedCost(g *graph.Graph, nodeID string) float64 {
	node := g.Node(nodeID)
	if node == nil {
		return 0
	}
	factor := 1.0
	switch node.Type {
	case descriptor.TypeInfrastructure:
		factor = 5
	case descriptor.TypeService:
		factor = 3
	case descriptor.TypeLibrary:
		factor = 1.5
	}
	return 1000*factor + 500*float64(len(node.Edges))
}

func (performanceValidator) Validate(_ context.Context, edge *graph.Edge, g *graph.Graph) Result {
	target := g.Node(edge.Target)
	if target == nil {
		return Result{Message: fmt.Sprintf("target %s not in graph", edge.Target)}
	}
	cost := EstimatedCost(g, edge.Target)

	maxCost := 0.0
	if check, ok := edge.Requirement.Check.(graph.PerformanceCheck); ok {
		maxCost = check.MaxCost
	}
	if maxCost <= 0 {
		return Result{Passed: true, Score: 1, Message: fmt.Sprintf("cost %.0f (unbounded)", cost)}
	}
	if cost > maxCost {
		return Result{Message: fmt.Sprintf("estimated cost %.0f exceeds bound %.0f", cost, maxCost)}
	}
	return Result{Passed: true, Score: 1 - cost/maxCost*0.5, Message: fmt.Sprintf("estimated cost %.0f within bound %.0f", cost, maxCost)}
}

// defaultAllowedSchemes are the location schemes accepted when a security
// check does not name its own.
var defaultAllowedSchemes = []string{"https", "oci", "file", "git+ssh"}

// securityValidator checks the target's location scheme against an
// allow-list and requires version pinning on targets of critical components.
type securityValidator struct{}

func (securityValidator) Category() graph.Category { return graph.CategorySecurity }

func (securityValidator) Validate(_ context.Context, edge *graph.Edge, g *graph.Graph) Result {
	source := g.Node(edge.Source)
	target := g.Node(edge.Target)
	if source == nil || target == nil {
		return Result{Message: "edge endpoints not in graph"}
	}

	schemes := defaultAllowedSchemes
	if check, ok := edge.Requirement.Check.(graph.SecurityCheck); ok && len(check.AllowedSchemes) > 0 {
		schemes = check.AllowedSchemes
	}

	if target.Location != "" {
		scheme, _, found := strings.Cut(target.Location, "://")
		if !found {
			scheme = "file"
		}
		allowed := false
		for _, s := range schemes {
			if strings.EqualFold(s, scheme) {
				allowed = true
				break
			}
		}
		if !allowed {
			return Result{Message: fmt.Sprintf("location scheme %q of target %s is not allowed", scheme, target.ID)}
		}
	}

	if source.Metadata.Criticality == descriptor.CriticalityCritical && strings.TrimSpace(target.Version) == "" {
		return Result{Message: fmt.Sprintf("critical component %s depends on unpinned target %s", source.ID, target.ID)}
	}

	return Result{Passed: true, Score: 1, Message: fmt.Sprintf("target %s passes security policy", target.ID)}
}
