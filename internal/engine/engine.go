package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"loom/internal/descriptor"
	"loom/internal/graph"
	"loom/internal/plan"
	"loom/internal/validate"
	"loom/pkg/logging"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Config holds the engine's tunables. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// MaxConcurrentResolutions caps how many plan executions may run at the
	// same time across the whole engine.
	MaxConcurrentResolutions int

	// BuildOptions are applied to every graph build requested through the
	// engine.
	BuildOptions graph.BuildOptions

	// PlanOptions are the defaults for plan creation; per-call options
	// override them.
	PlanOptions plan.Options
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentResolutions: 2,
		BuildOptions:             graph.DefaultBuildOptions(),
		PlanOptions:              plan.DefaultOptions(),
	}
}

// Engine is the top-level coordinator. It owns the registries of graphs,
// plans and executions and hands out work to the per-plan executors.
type Engine struct {
	config     Config
	validators *validate.Registry
	metrics    *Metrics
	sem        *semaphore.Weighted

	mu         sync.RWMutex
	graphs     map[string]*graph.Graph
	plans      map[string]*plan.Plan
	executions map[string]*Execution

	// active maps a graph ID to the execution currently holding it. An
	// execution mutates the graph's node and edge statuses, so a graph admits
	// at most one execution at a time.
	active map[string]string
}

// New creates an engine with the given configuration and the built-in
// requirement validators.
func New(config Config) *Engine {
	if config.MaxConcurrentResolutions <= 0 {
		config.MaxConcurrentResolutions = DefaultConfig().MaxConcurrentResolutions
	}
	return &Engine{
		config:     config,
		validators: validate.NewRegistry(),
		metrics:    NewMetrics(),
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrentResolutions)),
		graphs:     make(map[string]*graph.Graph),
		plans:      make(map[string]*plan.Plan),
		executions: make(map[string]*Execution),
		active:     make(map[string]string),
	}
}

// Validators returns the engine's requirement validator registry. Callers may
// register additional categories before executing plans.
func (e *Engine) Validators() *validate.Registry {
	return e.validators
}

// Metrics returns the engine's metrics handle, usable as a prometheus
// gatherer.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// BuildGraph constructs a dependency graph from the given components and
// registers it with the engine.
func (e *Engine) BuildGraph(components []descriptor.Component) (*graph.Graph, error) {
	g, err := graph.Build(components, e.config.BuildOptions)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.graphs[g.ID] = g
	e.mu.Unlock()

	e.metrics.GraphBuilt(g)
	logging.Info("Engine", "built graph %s: %d nodes, %d edges, %d cycles",
		g.ID, g.NodeCount(), g.EdgeCount(), len(g.Cycles))
	return g, nil
}

// RebuildGraph rebuilds a registered graph from a fresh component set,
// keeping the graph's identity. Cycles present in the old build but absent
// from the new one are carried forward with status resolved.
func (e *Engine) RebuildGraph(graphID string, components []descriptor.Component) (*graph.Graph, error) {
	old, err := e.Graph(graphID)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(components, e.config.BuildOptions)
	if err != nil {
		return nil, err
	}
	g.ID = graphID

	current := make(map[string]bool, len(g.Cycles))
	for _, c := range g.Cycles {
		current[memberKey(c)] = true
	}
	for _, c := range old.Cycles {
		if c.Status == graph.CycleDetected && !current[memberKey(c)] {
			resolved := *c
			resolved.Status = graph.CycleResolved
			g.Cycles = append(g.Cycles, &resolved)
		}
	}

	e.mu.Lock()
	e.graphs[graphID] = g
	e.mu.Unlock()

	e.metrics.GraphBuilt(g)
	logging.Info("Engine", "rebuilt graph %s: %d nodes, %d edges, %d cycles",
		g.ID, g.NodeCount(), g.EdgeCount(), len(g.Cycles))
	return g, nil
}

func memberKey(c *graph.Cycle) string {
	members := make([]string, 0, len(c.Members()))
	for id := range c.Members() {
		members = append(members, id)
	}
	sort.Strings(members)
	return strings.Join(members, ",")
}

// Graph returns a registered graph by ID.
func (e *Engine) Graph(graphID string) (*graph.Graph, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.graphs[graphID]
	if !ok {
		return nil, &NotFoundError{ResourceType: "graph", ResourceID: graphID}
	}
	return g, nil
}

// Graphs returns all registered graphs, ordered by ID.
func (e *Engine) Graphs() []*graph.Graph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*graph.Graph, 0, len(e.graphs))
	for _, g := range e.graphs {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateResolutionPlan derives an ordered resolution plan from a registered
// graph and registers it with the engine.
func (e *Engine) CreateResolutionPlan(graphID string, opts plan.Options) (*plan.Plan, error) {
	g, err := e.Graph(graphID)
	if err != nil {
		return nil, err
	}

	merged := e.config.PlanOptions
	if opts.MaxConcurrency > 0 {
		merged.MaxConcurrency = opts.MaxConcurrency
	}
	if opts.MaxRetries > 0 {
		merged.MaxRetries = opts.MaxRetries
	}
	if opts.RetryDelay > 0 {
		merged.RetryDelay = opts.RetryDelay
	}
	if opts.StepTimeout > 0 {
		merged.StepTimeout = opts.StepTimeout
	}
	if opts.ExponentialBackoff {
		merged.ExponentialBackoff = true
	}

	p := plan.Build(g, merged)

	e.mu.Lock()
	e.plans[p.ID] = p
	e.mu.Unlock()

	logging.Info("Engine", "created plan %s for graph %s: %d steps in %d groups",
		p.ID, graphID, len(p.Steps), len(p.Groups))
	return p, nil
}

// Plan returns a registered plan by ID.
func (e *Engine) Plan(planID string) (*plan.Plan, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.plans[planID]
	if !ok {
		return nil, &NotFoundError{ResourceType: "plan", ResourceID: planID}
	}
	return p, nil
}

// Plans returns all registered plans, ordered by creation time.
func (e *Engine) Plans() []*plan.Plan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*plan.Plan, 0, len(e.plans))
	for _, p := range e.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// StartResolution begins executing a registered plan in the background and
// returns the execution record immediately. The execution waits for an
// engine slot before its first step runs. A graph admits one execution at a
// time; starting a second while one is in flight returns a GraphBusyError.
func (e *Engine) StartResolution(ctx context.Context, planID string, opts ExecOptions) (*Execution, error) {
	p, err := e.Plan(planID)
	if err != nil {
		return nil, err
	}
	g, err := e.Graph(p.GraphID)
	if err != nil {
		return nil, err
	}

	stepIDs := make([]string, 0, len(p.Steps))
	nodeByStep := make(map[string]string, len(p.Steps))
	for _, s := range p.Steps {
		stepIDs = append(stepIDs, s.ID)
		nodeByStep[s.ID] = s.NodeID
	}

	exec := newExecution(uuid.NewString(), p.ID, g.ID, opts.DryRun, stepIDs, nodeByStep)

	e.mu.Lock()
	if holder, busy := e.active[g.ID]; busy {
		e.mu.Unlock()
		return nil, &GraphBusyError{GraphID: g.ID, ExecutionID: holder}
	}
	e.active[g.ID] = exec.ID
	e.executions[exec.ID] = exec
	e.mu.Unlock()

	go func() {
		defer e.releaseGraph(g.ID)

		if err := e.sem.Acquire(ctx, 1); err != nil {
			exec.appendLog(logging.LevelError, "", "never started: %v", err)
			exec.finish(ExecutionFailed)
			return
		}
		defer e.sem.Release(1)

		if exec.isCancelled() {
			exec.finish(ExecutionFailed)
			return
		}

		e.metrics.ExecutionStarted()
		start := time.Now()
		x := &executor{
			graph:             g,
			plan:              p,
			registry:          e.validators,
			execution:         exec,
			continueOnFailure: opts.ContinueOnFailure,
		}
		x.run()
		e.metrics.ExecutionFinished(exec, time.Since(start))
	}()

	return exec, nil
}

func (e *Engine) releaseGraph(graphID string) {
	e.mu.Lock()
	delete(e.active, graphID)
	e.mu.Unlock()
}

// ExecuteResolutionPlan runs a registered plan to completion and returns its
// execution record. The context cancels the execution cooperatively: steps
// already in flight finish their current attempt.
func (e *Engine) ExecuteResolutionPlan(ctx context.Context, planID string, opts ExecOptions) (*Execution, error) {
	exec, err := e.StartResolution(ctx, planID, opts)
	if err != nil {
		return nil, err
	}

	select {
	case <-exec.Done():
	case <-ctx.Done():
		exec.Cancel("context cancelled")
		<-exec.Done()
	}
	return exec, nil
}

// CancelResolution requests cancellation of a running execution. It returns
// false when the execution already finished or was already cancelled.
func (e *Engine) CancelResolution(executionID, reason string) (bool, error) {
	exec, err := e.Execution(executionID)
	if err != nil {
		return false, err
	}
	return exec.Cancel(reason), nil
}

// Execution returns a registered execution by ID.
func (e *Engine) Execution(executionID string) (*Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return nil, &NotFoundError{ResourceType: "execution", ResourceID: executionID}
	}
	return exec, nil
}

// Executions returns all executions, ordered by start time.
func (e *Engine) Executions() []*Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Execution, 0, len(e.executions))
	for _, exec := range e.executions {
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt().Before(out[j].StartedAt()) })
	return out
}

// EngineStats is a point-in-time summary across all engine registries.
type EngineStats struct {
	Graphs      int
	Plans       int
	Executions  int
	Running     int
	Completed   int
	Failed      int
	SuccessRate float64
}

// Stats summarizes the engine's registries. SuccessRate covers finished
// executions only.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := EngineStats{
		Graphs:     len(e.graphs),
		Plans:      len(e.plans),
		Executions: len(e.executions),
	}
	for _, exec := range e.executions {
		switch exec.Status() {
		case ExecutionRunning:
			stats.Running++
		case ExecutionCompleted:
			stats.Completed++
		case ExecutionFailed:
			stats.Failed++
		}
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished)
	}
	return stats
}
