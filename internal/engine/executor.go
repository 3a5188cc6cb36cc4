package engine

import (
	"context"
	"time"

	"loom/internal/graph"
	"loom/internal/plan"
	"loom/internal/validate"
	"loom/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// ExecOptions control one plan execution.
type ExecOptions struct {
	// DryRun walks the plan and records every step as completed without
	// invoking validators.
	DryRun bool

	// ContinueOnFailure keeps executing later groups after a step fails
	// terminally. When false (the default), a terminal step failure rolls
	// back all completed steps and fails the execution.
	ContinueOnFailure bool
}

// executor runs one plan against its graph. It owns no shared state beyond
// the execution record; all concurrent writes go through the record's mutex
// or the graph's synchronized setters.
type executor struct {
	graph     *graph.Graph
	plan      *plan.Plan
	registry  *validate.Registry
	execution *Execution

	continueOnFailure bool
}

// run executes the plan group by group. Steps inside one group run
// concurrently up to the plan's concurrency cap; groups run in index order.
func (x *executor) run() {
	x.graph.ResetStatuses()
	x.execution.appendLog(logging.LevelInfo, "", "starting execution of plan %s (%d steps, %d groups, dryRun=%t)",
		x.plan.ID, len(x.plan.Steps), len(x.plan.Groups), x.execution.DryRun)

	fatal := false
	for _, group := range x.plan.Groups {
		if fatal || x.execution.isCancelled() {
			break
		}

		eg := &errgroup.Group{}
		eg.SetLimit(x.plan.MaxConcurrency)
		for _, stepID := range group.StepIDs {
			step := x.plan.Step(stepID)
			if step == nil {
				continue
			}
			if x.execution.isCancelled() {
				break
			}
			eg.Go(func() error {
				x.runStep(step)
				return nil
			})
		}
		// Step errors are recorded on the execution, never propagated.
		_ = eg.Wait()

		if x.execution.anyFailed() && !x.continueOnFailure {
			fatal = true
		}
	}

	if fatal {
		x.rollback()
	}

	cancelled, _ := x.execution.Cancelled()
	switch {
	case cancelled:
		x.execution.appendLog(logging.LevelWarn, "", "execution finished after cancellation")
		x.execution.finish(ExecutionFailed)
	case x.execution.anyFailed():
		x.execution.appendLog(logging.LevelError, "", "execution failed: %d nodes failed, %d blocked",
			len(x.execution.FailedNodes()), len(x.execution.BlockedNodes()))
		x.execution.finish(ExecutionFailed)
	default:
		x.execution.appendLog(logging.LevelInfo, "", "execution completed: %d nodes resolved",
			len(x.execution.ResolvedNodes()))
		x.execution.finish(ExecutionCompleted)
	}
}

// runStep drives one step through its attempt loop.
func (x *executor) runStep(step *plan.Step) {
	if x.execution.isCancelled() {
		return
	}

	// Fail fast when a dependency has not completed. This happens for
	// dependents of failed steps under ContinueOnFailure, and for cycle
	// members whose ordering carries no guarantee.
	var missing []string
	for _, depID := range step.DependsOn {
		if x.execution.stepStatus(depID) != StepCompleted {
			missing = append(missing, depID)
		}
	}
	if len(missing) > 0 {
		err := &PrerequisiteNotSatisfiedError{StepID: step.ID, Missing: missing}
		x.execution.appendLog(logging.LevelWarn, step.ID, "%v", err)
		x.execution.setStepStatus(step.ID, StepFailed, 0, err)
		x.graph.SetNodeStatus(step.NodeID, graph.NodeBlocked)
		x.execution.markBlocked(step.NodeID)
		return
	}

	x.graph.SetNodeStatus(step.NodeID, graph.NodeResolving)

	maxAttempts := step.Retry.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		x.execution.setStepStatus(step.ID, StepExecuting, attempt, nil)
		x.execution.appendLog(logging.LevelDebug, step.ID, "attempt %d/%d for node %s", attempt, maxAttempts, step.NodeID)

		lastErr = x.attempt(step)
		if lastErr == nil {
			x.execution.setStepStatus(step.ID, StepCompleted, attempt, nil)
			x.graph.SetNodeStatus(step.NodeID, graph.NodeResolved)
			x.execution.markResolved(step.NodeID)
			x.execution.appendLog(logging.LevelInfo, step.ID, "node %s resolved", step.NodeID)
			return
		}

		category := categorize(lastErr)
		if attempt < maxAttempts && step.Retry.Retryable(category) {
			delay := retryDelay(step.Retry, attempt)
			x.execution.appendLog(logging.LevelWarn, step.ID, "attempt %d failed (%v), retrying in %s", attempt, lastErr, delay)
			select {
			case <-time.After(delay):
			case <-x.execution.cancelCh:
				// Cancellation stops further attempts; the step fails below.
				attempt = maxAttempts
			}
			continue
		}
		break
	}

	terminal := &ResolutionFailedError{
		StepID:   step.ID,
		NodeID:   step.NodeID,
		Attempts: x.attempts(step.ID),
		Cause:    lastErr,
	}
	x.execution.appendLog(logging.LevelError, step.ID, "%v", terminal)
	x.execution.setStepStatus(step.ID, StepFailed, 0, terminal)
	x.graph.SetNodeStatus(step.NodeID, graph.NodeFailed)
	x.execution.markFailed(step.NodeID)
}

func (x *executor) attempts(stepID string) int {
	if record, ok := x.execution.Step(stepID); ok {
		return record.Attempts
	}
	return 0
}

// attempt performs one bounded execution attempt of a step: every outgoing
// edge of the step's node is validated through the registry. The attempt as
// a whole races against the step timeout; cancellation of the execution does
// not interrupt an attempt already in flight.
func (x *executor) attempt(step *plan.Step) error {
	if x.execution.DryRun {
		for _, edge := range x.graph.OutgoingEdges(step.NodeID) {
			x.graph.SetEdgeStatus(edge.ID, graph.EdgeSatisfied)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- x.validateEdges(ctx, step)
	}()

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		// The abandoned goroutine sees the cancelled context and stops
		// touching edge statuses.
		cancel()
		for _, edge := range x.graph.OutgoingEdges(step.NodeID) {
			if x.graph.EdgeStatusOf(edge.ID) == graph.EdgeChecking {
				x.graph.SetEdgeStatus(edge.ID, graph.EdgeTimeout)
			}
		}
		return &StepTimeoutError{StepID: step.ID, Timeout: timeout}
	}
}

// validateEdges checks every outgoing edge of the step's node, recording the
// per-edge results on the step. The first failed requirement aborts the
// attempt. Once ctx is cancelled the attempt has been abandoned by its step
// and must not record anything further.
func (x *executor) validateEdges(ctx context.Context, step *plan.Step) error {
	var records []ValidationRecord

	for _, edge := range x.graph.OutgoingEdges(step.NodeID) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		checkCtx := ctx
		if edge.Requirement.Timeout > 0 {
			var checkCancel context.CancelFunc
			checkCtx, checkCancel = context.WithTimeout(ctx, edge.Requirement.Timeout)
			defer checkCancel()
		}

		x.graph.SetEdgeStatus(edge.ID, graph.EdgeChecking)
		result := x.registry.ValidateEdge(checkCtx, edge, x.graph)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		category := edge.Requirement.Check.Category()
		records = append(records, ValidationRecord{
			EdgeID:   edge.ID,
			Category: category,
			Passed:   result.Passed,
			Score:    result.Score,
			Message:  result.Message,
		})

		if !result.Passed {
			x.graph.SetEdgeStatus(edge.ID, graph.EdgeFailed)
			x.execution.setValidations(step.ID, records)
			return &ValidationFailedError{EdgeID: edge.ID, Category: category, Message: result.Message}
		}
		x.graph.SetEdgeStatus(edge.ID, graph.EdgeSatisfied)
	}

	x.execution.setValidations(step.ID, records)
	return nil
}

// rollback reverts all completed steps in reverse completion order. A revert
// is a status reset only; compensation is left to the components themselves.
func (x *executor) rollback() {
	completed := x.execution.completedInOrder()
	if len(completed) == 0 {
		return
	}
	x.execution.appendLog(logging.LevelWarn, "", "rolling back %d completed steps", len(completed))

	for i := len(completed) - 1; i >= 0; i-- {
		stepID := completed[i]
		step := x.plan.Step(stepID)
		if step == nil {
			continue
		}
		x.execution.setStepStatus(stepID, StepPending, 0, nil)
		x.graph.SetNodeStatus(step.NodeID, graph.NodePending)
		x.execution.unmarkResolved(step.NodeID)
		x.execution.appendLog(logging.LevelDebug, stepID, "reverted node %s to pending", step.NodeID)
	}
}

// categorize maps an execution error to its retry category. Unknown and
// prerequisite errors categorize as empty, which no policy retries.
func categorize(err error) plan.ErrorCategory {
	switch err.(type) {
	case *ValidationFailedError:
		return plan.ErrorValidation
	case *StepTimeoutError:
		return plan.ErrorTimeout
	default:
		return ""
	}
}

// retryDelay computes the wait before the next attempt.
func retryDelay(policy plan.RetryPolicy, attempt int) time.Duration {
	delay := policy.Delay
	if delay <= 0 {
		delay = time.Second
	}
	if policy.ExponentialBackoff {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	}
	return delay
}
