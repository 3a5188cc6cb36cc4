package plan

import (
	"time"
)

// ErrorCategory names a class of step failure for retry matching.
type ErrorCategory string

const (
	ErrorValidation ErrorCategory = "validation"
	ErrorTimeout    ErrorCategory = "timeout"
)

// RetryPolicy configures how a failed resolution step is retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt, so a step
	// runs at most MaxRetries+1 times.
	MaxRetries int

	// Delay is the base wait between attempts.
	Delay time.Duration

	// ExponentialBackoff doubles the delay after every failed attempt.
	ExponentialBackoff bool

	// RetryableErrors lists the error categories worth retrying. Failures
	// outside these categories are terminal immediately.
	RetryableErrors []ErrorCategory
}

// Retryable reports whether the given error category is retryable under this
// policy.
func (p RetryPolicy) Retryable(category ErrorCategory) bool {
	for _, c := range p.RetryableErrors {
		if c == category {
			return true
		}
	}
	return false
}

// Step is the unit of work that brings one node to resolved state.
type Step struct {
	// ID is the step identifier, derived deterministically from the node.
	ID string

	// NodeID names the graph node this step resolves.
	NodeID string

	// DependsOn lists the step IDs that must complete before this step may
	// execute. Steps resolving cycle members omit their intra-cycle
	// dependencies, mirroring the resolution order's cyclic fallback.
	DependsOn []string

	// EstimatedDuration is the modeled resolution time for the step.
	EstimatedDuration time.Duration

	// Timeout bounds one execution attempt of the whole step.
	Timeout time.Duration

	Retry RetryPolicy
}

// Group is a set of steps with no dependency relation between any two
// members, safe to execute concurrently.
type Group struct {
	// Index is the group's position in execution order.
	Index int

	// StepIDs lists the member steps.
	StepIDs []string
}

// ContingencyAction names the fallback behavior for a failed critical node.
type ContingencyAction string

const (
	// ActionDegrade switches the component to a degraded alternative mode
	// instead of full resolution.
	ActionDegrade ContingencyAction = "degrade-to-alternative"
)

// Contingency is the predefined fallback for one critical-criticality node.
type Contingency struct {
	NodeID  string
	Action  ContingencyAction
	Timeout time.Duration
	Reason  string
}

// Plan is an executable resolution plan derived from one graph's resolution
// order. A plan is immutable once created: re-planning produces a new plan.
type Plan struct {
	ID        string
	GraphID   string
	CreatedAt time.Time

	// Steps in resolution order, one per node.
	Steps []*Step

	// Groups partition the steps into dependency levels; groups execute in
	// index order, members of one group may run concurrently.
	Groups []Group

	// Contingencies holds one fallback per critical-criticality node.
	Contingencies []Contingency

	// MaxConcurrency caps how many steps of one group run at once.
	MaxConcurrency int
}

// Step returns the step with the given ID, or nil.
func (p *Plan) Step(id string) *Step {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StepForNode returns the step resolving the given node, or nil.
func (p *Plan) StepForNode(nodeID string) *Step {
	for _, s := range p.Steps {
		if s.NodeID == nodeID {
			return s
		}
	}
	return nil
}

// NodeOrder returns the node IDs in step order. For a freshly built plan
// this reproduces the graph's resolution order.
func (p *Plan) NodeOrder() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.NodeID
	}
	return out
}

// EstimatedDuration sums the group-wise maxima: groups run sequentially and
// steps within a group concurrently, so the estimate is the sum over groups
// of the slowest member.
func (p *Plan) EstimatedDuration() time.Duration {
	var total time.Duration
	for _, g := range p.Groups {
		var max time.Duration
		for _, stepID := range g.StepIDs {
			if s := p.Step(stepID); s != nil && s.EstimatedDuration > max {
				max = s.EstimatedDuration
			}
		}
		total += max
	}
	return total
}
