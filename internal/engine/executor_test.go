package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"loom/internal/descriptor"
	"loom/internal/graph"
	"loom/internal/plan"
	"loom/internal/validate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runPlan(t *testing.T, e *Engine, components []descriptor.Component, planOpts plan.Options, execOpts ExecOptions) (*graph.Graph, *Execution) {
	t.Helper()
	g, err := e.BuildGraph(components)
	require.NoError(t, err)
	p, err := e.CreateResolutionPlan(g.ID, planOpts)
	require.NoError(t, err)
	exec, err := e.ExecuteResolutionPlan(context.Background(), p.ID, execOpts)
	require.NoError(t, err)
	return g, exec
}

func TestExecuteChainResolvesAllNodes(t *testing.T) {
	e := New(DefaultConfig())
	g, exec := runPlan(t, e, chainComponents(), plan.Options{}, ExecOptions{})

	assert.Equal(t, ExecutionCompleted, exec.Status())
	assert.Equal(t, []string{"app", "base", "lib"}, exec.ResolvedNodes())
	assert.Empty(t, exec.FailedNodes())
	assert.Empty(t, exec.BlockedNodes())
	require.NotNil(t, exec.CompletedAt())

	for _, record := range exec.Steps() {
		assert.Equal(t, StepCompleted, record.Status, record.StepID)
		assert.Equal(t, 1, record.Attempts, record.StepID)
	}
	for _, node := range g.Nodes() {
		assert.Equal(t, graph.NodeResolved, node.Status, node.ID)
	}
	assert.Equal(t, graph.EdgeSatisfied, g.EdgeStatusOf("app->lib"))
	assert.Equal(t, graph.EdgeSatisfied, g.EdgeStatusOf("lib->base"))
}

func TestExecuteRecordsValidationResults(t *testing.T) {
	e := New(DefaultConfig())
	_, exec := runPlan(t, e, chainComponents(), plan.Options{}, ExecOptions{})

	record, ok := exec.Step(plan.StepID("app"))
	require.True(t, ok)
	require.Len(t, record.Validations, 1)
	assert.Equal(t, "app->lib", record.Validations[0].EdgeID)
	assert.Equal(t, graph.CategoryAvailability, record.Validations[0].Category)
	assert.True(t, record.Validations[0].Passed)
}

func TestExecuteFailureRollsBackCompletedSteps(t *testing.T) {
	e := New(DefaultConfig())
	components := []descriptor.Component{
		{
			ID: "app", Type: descriptor.TypeService, Version: "1.0.0",
			Dependencies: []descriptor.Reference{{Target: "lib", VersionConstraint: "^2.0.0"}},
		},
		{ID: "lib", Type: descriptor.TypeLibrary, Version: "1.4.0"},
	}
	g, exec := runPlan(t, e, components, plan.Options{MaxRetries: -1, RetryDelay: time.Millisecond}, ExecOptions{})

	assert.Equal(t, ExecutionFailed, exec.Status())
	assert.Equal(t, []string{"app"}, exec.FailedNodes())
	assert.Empty(t, exec.ResolvedNodes())

	appStep, ok := exec.Step(plan.StepID("app"))
	require.True(t, ok)
	assert.Equal(t, StepFailed, appStep.Status)
	assert.Contains(t, appStep.Error, "does not satisfy")

	// lib completed in group 0 and must have been reverted.
	libStep, ok := exec.Step(plan.StepID("lib"))
	require.True(t, ok)
	assert.Equal(t, StepPending, libStep.Status)
	assert.Equal(t, graph.NodePending, g.NodeStatusOf("lib"))
	assert.Equal(t, graph.NodeFailed, g.NodeStatusOf("app"))
	assert.Equal(t, graph.EdgeFailed, g.EdgeStatusOf("app->lib"))
}

func TestExecuteFailedStepLeavesDependentsPending(t *testing.T) {
	e := New(DefaultConfig())
	components := []descriptor.Component{
		{
			ID: "app", Type: descriptor.TypeService, Version: "1.0.0",
			Dependencies: []descriptor.Reference{{Target: "lib"}},
		},
		{
			ID: "lib", Type: descriptor.TypeLibrary, Version: "1.0.0",
			Dependencies: []descriptor.Reference{{Target: "base", VersionConstraint: "^9.0.0"}},
		},
		{ID: "base", Type: descriptor.TypeLibrary, Version: "1.0.0"},
	}
	g, exec := runPlan(t, e, components, plan.Options{MaxRetries: -1, RetryDelay: time.Millisecond}, ExecOptions{})

	assert.Equal(t, ExecutionFailed, exec.Status())
	libStep, ok := exec.Step(plan.StepID("lib"))
	require.True(t, ok)
	assert.Equal(t, StepFailed, libStep.Status)

	// The dependent of the failed step is never scheduled.
	appStep, ok := exec.Step(plan.StepID("app"))
	require.True(t, ok)
	assert.Equal(t, StepPending, appStep.Status)
	assert.Equal(t, graph.NodePending, g.NodeStatusOf("app"))
}

func TestExecuteContinueOnFailureBlocksDependents(t *testing.T) {
	e := New(DefaultConfig())
	components := []descriptor.Component{
		{
			ID: "web", Type: descriptor.TypeService, Version: "1.0.0",
			Dependencies: []descriptor.Reference{{Target: "app"}},
		},
		{
			ID: "app", Type: descriptor.TypeService, Version: "1.0.0",
			Dependencies: []descriptor.Reference{{Target: "lib", VersionConstraint: "^2.0.0"}},
		},
		{ID: "lib", Type: descriptor.TypeLibrary, Version: "1.4.0"},
	}
	g, exec := runPlan(t, e, components,
		plan.Options{MaxRetries: -1, RetryDelay: time.Millisecond},
		ExecOptions{ContinueOnFailure: true})

	assert.Equal(t, ExecutionFailed, exec.Status())
	assert.Equal(t, []string{"app"}, exec.FailedNodes())
	assert.Equal(t, []string{"web"}, exec.BlockedNodes())

	// No rollback under ContinueOnFailure: lib keeps its result.
	assert.Equal(t, []string{"lib"}, exec.ResolvedNodes())
	assert.Equal(t, graph.NodeResolved, g.NodeStatusOf("lib"))
	assert.Equal(t, graph.NodeBlocked, g.NodeStatusOf("web"))

	webStep, ok := exec.Step(plan.StepID("web"))
	require.True(t, ok)
	assert.Equal(t, StepFailed, webStep.Status)
	assert.Contains(t, webStep.Error, "prerequisites not satisfied")
}

func TestExecuteRetriesUntilValidatorPasses(t *testing.T) {
	e := New(DefaultConfig())
	flaky := &flakyValidator{category: graph.CategoryAvailability, failuresLeft: 2}
	e.Validators().Register(flaky)

	components := []descriptor.Component{
		{
			ID: "app", Type: descriptor.TypeService, Version: "1.0.0",
			Dependencies: []descriptor.Reference{{Target: "lib"}},
		},
		{ID: "lib", Type: descriptor.TypeLibrary, Version: "1.0.0"},
	}
	_, exec := runPlan(t, e, components, plan.Options{MaxRetries: 2, RetryDelay: time.Millisecond}, ExecOptions{})

	assert.Equal(t, ExecutionCompleted, exec.Status())
	record, ok := exec.Step(plan.StepID("app"))
	require.True(t, ok)
	assert.Equal(t, StepCompleted, record.Status)
	assert.Equal(t, 3, record.Attempts)
	assert.EqualValues(t, 3, flaky.calls.Load())
}

func TestExecuteExhaustedRetriesFailTheStep(t *testing.T) {
	e := New(DefaultConfig())
	flaky := &flakyValidator{category: graph.CategoryAvailability, failuresLeft: 10}
	e.Validators().Register(flaky)

	components := []descriptor.Component{
		{
			ID: "app", Type: descriptor.TypeService, Version: "1.0.0",
			Dependencies: []descriptor.Reference{{Target: "lib"}},
		},
		{ID: "lib", Type: descriptor.TypeLibrary, Version: "1.0.0"},
	}
	_, exec := runPlan(t, e, components, plan.Options{MaxRetries: 1, RetryDelay: time.Millisecond}, ExecOptions{})

	assert.Equal(t, ExecutionFailed, exec.Status())
	record, ok := exec.Step(plan.StepID("app"))
	require.True(t, ok)
	assert.Equal(t, StepFailed, record.Status)
	assert.Contains(t, record.Error, "failed after 2 attempts")
	assert.EqualValues(t, 2, flaky.calls.Load())
}

func TestExecuteStepTimeout(t *testing.T) {
	e := New(DefaultConfig())
	e.Validators().Register(&slowValidator{category: graph.CategoryAvailability, delay: 250 * time.Millisecond})

	components := []descriptor.Component{
		{
			ID: "app", Type: descriptor.TypeService, Version: "1.0.0",
			Dependencies: []descriptor.Reference{{Target: "lib"}},
		},
		{ID: "lib", Type: descriptor.TypeLibrary, Version: "1.0.0"},
	}
	g, exec := runPlan(t, e, components,
		plan.Options{MaxRetries: -1, RetryDelay: time.Millisecond, StepTimeout: 20 * time.Millisecond},
		ExecOptions{})

	assert.Equal(t, ExecutionFailed, exec.Status())
	record, ok := exec.Step(plan.StepID("app"))
	require.True(t, ok)
	assert.Equal(t, StepFailed, record.Status)
	assert.Contains(t, record.Error, "timed out")
	assert.Equal(t, graph.EdgeTimeout, g.EdgeStatusOf("app->lib"))
}

func TestExecuteDryRunSkipsValidators(t *testing.T) {
	e := New(DefaultConfig())
	flaky := &flakyValidator{category: graph.CategoryAvailability, failuresLeft: 100}
	e.Validators().Register(flaky)

	g, exec := runPlan(t, e, chainComponents(), plan.Options{}, ExecOptions{DryRun: true})

	assert.Equal(t, ExecutionCompleted, exec.Status())
	assert.Equal(t, []string{"app", "base", "lib"}, exec.ResolvedNodes())
	assert.EqualValues(t, 0, flaky.calls.Load())
	assert.Equal(t, graph.EdgeSatisfied, g.EdgeStatusOf("app->lib"))
}

func TestCancelStopsSchedulingFurtherSteps(t *testing.T) {
	e := New(DefaultConfig())
	gate := make(chan struct{})
	e.Validators().Register(&gatedValidator{category: graph.CategoryAvailability, gate: gate})

	g, err := e.BuildGraph(chainComponents())
	require.NoError(t, err)
	p, err := e.CreateResolutionPlan(g.ID, plan.Options{MaxRetries: -1, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	exec, err := e.StartResolution(context.Background(), p.ID, ExecOptions{})
	require.NoError(t, err)

	// Wait for the lib step to be in flight at the gate, then cancel.
	require.Eventually(t, func() bool {
		record, ok := exec.Step(plan.StepID("lib"))
		return ok && record.Status == StepExecuting
	}, time.Second, 5*time.Millisecond)

	ok, err := e.CancelResolution(exec.ID, "operator requested")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second cancel is a no-op.
	ok, err = e.CancelResolution(exec.ID, "again")
	require.NoError(t, err)
	assert.False(t, ok)

	// The in-flight attempt finishes; later groups never run.
	close(gate)
	exec.Wait()

	assert.Equal(t, ExecutionFailed, exec.Status())
	cancelled, reason := exec.Cancelled()
	assert.True(t, cancelled)
	assert.Equal(t, "operator requested", reason)

	appStep, ok2 := exec.Step(plan.StepID("app"))
	require.True(t, ok2)
	assert.Equal(t, StepPending, appStep.Status)
}

func TestProgressEventsAreDelivered(t *testing.T) {
	e := New(DefaultConfig())
	gate := make(chan struct{})
	e.Validators().Register(&gatedValidator{category: graph.CategoryAvailability, gate: gate})

	g, err := e.BuildGraph(chainComponents())
	require.NoError(t, err)
	p, err := e.CreateResolutionPlan(g.ID, plan.Options{})
	require.NoError(t, err)
	exec, err := e.StartResolution(context.Background(), p.ID, ExecOptions{})
	require.NoError(t, err)

	// The gate holds the lib step, so subscribing here observes every
	// transition of lib and app.
	events := make(chan ProgressEvent, 64)
	exec.SubscribeProgress(events)
	close(gate)
	exec.Wait()

	completed := map[string]bool{}
	for {
		select {
		case ev := <-events:
			assert.Equal(t, exec.ID, ev.ExecutionID)
			if ev.Status == StepCompleted {
				completed[ev.NodeID] = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, completed["lib"], "expected a completion event for lib")
	assert.True(t, completed["app"], "expected a completion event for app")
}

func TestExecutionLogCapturesLifecycle(t *testing.T) {
	e := New(DefaultConfig())
	_, exec := runPlan(t, e, chainComponents(), plan.Options{}, ExecOptions{})

	log := exec.Log()
	require.NotEmpty(t, log)
	assert.Contains(t, log[0].Message, "starting execution")
	assert.Contains(t, log[len(log)-1].Message, "execution completed")
}

// flakyValidator fails a fixed number of validations, then passes.
type flakyValidator struct {
	category     graph.Category
	failuresLeft int64
	calls        atomic.Int64
}

func (v *flakyValidator) Category() graph.Category { return v.category }

func (v *flakyValidator) Validate(context.Context, *graph.Edge, *graph.Graph) validate.Result {
	n := v.calls.Add(1)
	if n <= v.failuresLeft {
		return validate.Result{Message: "transient failure"}
	}
	return validate.Result{Passed: true, Score: 1, Message: "recovered"}
}

// slowValidator passes after a fixed delay.
type slowValidator struct {
	category graph.Category
	delay    time.Duration
}

func (v *slowValidator) Category() graph.Category { return v.category }

func (v *slowValidator) Validate(context.Context, *graph.Edge, *graph.Graph) validate.Result {
	time.Sleep(v.delay)
	return validate.Result{Passed: true, Score: 1, Message: "slow"}
}
