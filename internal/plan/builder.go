package plan

import (
	"fmt"
	"time"

	"loom/internal/descriptor"
	"loom/internal/graph"
	"loom/pkg/logging"

	"github.com/google/uuid"
)

// Options control plan construction.
type Options struct {
	// MaxConcurrency caps the size of one parallel group. Zero means 4.
	MaxConcurrency int

	// MaxRetries is the per-step retry budget. Negative means 0.
	MaxRetries int

	// RetryDelay is the base delay between attempts. Zero means 1s.
	RetryDelay time.Duration

	// ExponentialBackoff enables doubling the retry delay per attempt.
	ExponentialBackoff bool

	// StepTimeout bounds one execution attempt of a step. Zero means 30s.
	StepTimeout time.Duration
}

// DefaultOptions returns the options used when callers pass none.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:     4,
		MaxRetries:         2,
		RetryDelay:         time.Second,
		ExponentialBackoff: true,
		StepTimeout:        30 * time.Second,
	}
}

func (o Options) normalized() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	if o.StepTimeout == 0 {
		o.StepTimeout = 30 * time.Second
	}
	return o
}

// StepID derives the deterministic step identifier for a node.
func StepID(nodeID string) string {
	return "step-" + nodeID
}

// Build turns a graph's resolution order into an executable plan: one step
// per node, parallel groups of mutually independent steps, and a contingency
// per critical-criticality node.
func Build(g *graph.Graph, opts Options) *Plan {
	opts = opts.normalized()
	cyclic := cyclicNodePairs(g)

	p := &Plan{
		ID:             uuid.NewString(),
		GraphID:        g.ID,
		CreatedAt:      time.Now(),
		MaxConcurrency: opts.MaxConcurrency,
	}

	for _, nodeID := range g.ResolutionOrder {
		node := g.Node(nodeID)
		if node == nil {
			continue
		}

		step := &Step{
			ID:                StepID(nodeID),
			NodeID:            nodeID,
			EstimatedDuration: estimateDuration(node),
			Timeout:           opts.StepTimeout,
			Retry: RetryPolicy{
				MaxRetries:         opts.MaxRetries,
				Delay:              opts.RetryDelay,
				ExponentialBackoff: opts.ExponentialBackoff,
				RetryableErrors:    []ErrorCategory{ErrorValidation, ErrorTimeout},
			},
		}

		for _, edge := range g.OutgoingEdges(nodeID) {
			// Intra-cycle dependencies are omitted; including them would make
			// every cycle member's prerequisites unsatisfiable by
			// construction.
			if cyclic[pairKey(edge.Source, edge.Target)] {
				continue
			}
			step.DependsOn = append(step.DependsOn, StepID(edge.Target))
		}

		p.Steps = append(p.Steps, step)
	}

	p.Groups = buildGroups(p, g.MembersOfAnyCycle(), opts.MaxConcurrency)
	p.Contingencies = buildContingencies(g, opts)

	logging.Info("Planner", "Built plan %s for graph %s: %d steps, %d groups, %d contingencies",
		p.ID, g.ID, len(p.Steps), len(p.Groups), len(p.Contingencies))
	return p
}

// estimateDuration models a step's resolution time from the component type
// and its dependency count.
func estimateDuration(node *graph.Node) time.Duration {
	base := 1000 * time.Millisecond
	factor := 1.0
	switch node.Type {
	case descriptor.TypeInfrastructure:
		factor = 5
	case descriptor.TypeService:
		factor = 3
	case descriptor.TypeLibrary:
		factor = 1.5
	}
	return time.Duration(float64(base)*factor) + time.Duration(len(node.Edges))*500*time.Millisecond
}

// cyclicNodePairs returns the directed node pairs covered by an edge whose
// endpoints share a detected cycle.
func cyclicNodePairs(g *graph.Graph) map[string]bool {
	pairs := make(map[string]bool)
	for _, cycle := range g.Cycles {
		members := cycle.Members()
		for _, e := range g.Edges() {
			if members[e.Source] && members[e.Target] {
				pairs[pairKey(e.Source, e.Target)] = true
			}
		}
	}
	return pairs
}

func pairKey(source, target string) string {
	return fmt.Sprintf("%s->%s", source, target)
}

// buildGroups packs the steps into parallel groups. Each step joins the
// first open group that comes after every group holding one of its
// dependencies, so no step ever shares a group with anything in its
// transitive dependency closure. Groups are capped at the concurrency limit.
//
// Steps are visited in plan order, but a step whose dependency has not been
// placed yet is deferred to a later pass: the resolution order's appended
// cyclic suffix may list a dependent before the cycle member it depends on.
//
// Steps resolving cycle members are mutually reachable through their graph
// edges even though their plan-level dependencies are pruned, so each gets a
// closed singleton group.
func buildGroups(p *Plan, cycleMembers map[string]bool, maxConcurrency int) []Group {
	var groups []Group
	closed := make(map[int]bool)
	groupOf := make(map[string]int, len(p.Steps))

	place := func(step *Step, minIdx int) {
		if cycleMembers[step.NodeID] {
			idx := len(groups)
			groups = append(groups, Group{Index: idx, StepIDs: []string{step.ID}})
			closed[idx] = true
			groupOf[step.ID] = idx
			return
		}
		placed := -1
		for i := minIdx; i < len(groups); i++ {
			if closed[i] || len(groups[i].StepIDs) >= maxConcurrency {
				continue
			}
			placed = i
			break
		}
		if placed < 0 {
			placed = len(groups)
			groups = append(groups, Group{Index: placed})
		}
		groups[placed].StepIDs = append(groups[placed].StepIDs, step.ID)
		groupOf[step.ID] = placed
	}

	remaining := p.Steps
	for len(remaining) > 0 {
		var deferred []*Step
		for _, step := range remaining {
			// Transitive dependencies always sit in even earlier groups, so
			// bounding by the direct dependencies is sufficient.
			minIdx := 0
			ready := true
			for _, depID := range step.DependsOn {
				gi, ok := groupOf[depID]
				if !ok {
					ready = false
					break
				}
				if gi+1 > minIdx {
					minIdx = gi + 1
				}
			}
			if !ready {
				deferred = append(deferred, step)
				continue
			}
			place(step, minIdx)
		}
		if len(deferred) == len(remaining) {
			// Every deferred step waits on a step absent from the plan.
			// Place them with the constraints that are known rather than
			// looping forever; the executor's prerequisite check still
			// guards them at run time.
			for _, step := range deferred {
				minIdx := 0
				for _, depID := range step.DependsOn {
					if gi, ok := groupOf[depID]; ok && gi+1 > minIdx {
						minIdx = gi + 1
					}
				}
				place(step, minIdx)
			}
			break
		}
		remaining = deferred
	}

	return groups
}

// buildContingencies creates one degrade fallback per critical-criticality
// node.
func buildContingencies(g *graph.Graph, opts Options) []Contingency {
	var out []Contingency
	for _, node := range g.Nodes() {
		if node.Metadata.Criticality != descriptor.CriticalityCritical {
			continue
		}
		out = append(out, Contingency{
			NodeID:  node.ID,
			Action:  ActionDegrade,
			Timeout: 2 * opts.StepTimeout,
			Reason:  fmt.Sprintf("component %s is critical; degrade to alternative mode if resolution fails", node.ID),
		})
	}
	return out
}
