package validate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"loom/internal/graph"
)

// Result is the outcome of one requirement validation.
type Result struct {
	Passed  bool
	Score   float64
	Message string
}

// Validator decides whether a dependency edge's requirement is currently
// satisfied. Implementations must be pure functions of the edge and graph:
// deterministic and free of side effects.
type Validator interface {
	// Category names the requirement category this validator handles.
	Category() graph.Category

	// Validate checks the edge's requirement against the graph.
	Validate(ctx context.Context, edge *graph.Edge, g *graph.Graph) Result
}

// Registry holds validators keyed by requirement category. Registration is
// expected at startup; lookups may happen concurrently during execution.
type Registry struct {
	mu         sync.RWMutex
	validators map[graph.Category]Validator
}

// NewRegistry returns a registry pre-populated with the built-in validators
// for every requirement category.
func NewRegistry() *Registry {
	r := &Registry{validators: make(map[graph.Category]Validator)}
	r.Register(versionValidator{})
	r.Register(availabilityValidator{})
	r.Register(healthValidator{})
	r.Register(compatibilityValidator{})
	r.Register(performanceValidator{})
	r.Register(securityValidator{})
	return r
}

// NewEmptyRegistry returns a registry with no validators, for callers that
// want full control over the set.
func NewEmptyRegistry() *Registry {
	return &Registry{validators: make(map[graph.Category]Validator)}
}

// Register adds (or replaces) the validator for its category.
func (r *Registry) Register(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[v.Category()] = v
}

// Lookup returns the validator for a category.
func (r *Registry) Lookup(category graph.Category) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[category]
	return v, ok
}

// Categories returns the registered categories in sorted order.
func (r *Registry) Categories() []graph.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]graph.Category, 0, len(r.validators))
	for c := range r.validators {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateEdge dispatches an edge's requirement to the validator registered
// for its category. A missing validator fails the check rather than silently
// passing it.
func (r *Registry) ValidateEdge(ctx context.Context, edge *graph.Edge, g *graph.Graph) Result {
	category := edge.Requirement.Check.Category()
	v, ok := r.Lookup(category)
	if !ok {
		return Result{
			Passed:  false,
			Score:   0,
			Message: fmt.Sprintf("no validator registered for category %s", category),
		}
	}
	return v.Validate(ctx, edge, g)
}
