package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"loom/internal/graph"
	"loom/pkg/logging"
)

// StepStatus is the lifecycle status of one step execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// ExecutionStatus is the overall status of one plan execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ValidationRecord is the recorded outcome of one edge requirement check.
type ValidationRecord struct {
	EdgeID   string
	Category graph.Category
	Passed   bool
	Score    float64
	Message  string
}

// StepRecord tracks one step's execution: status, attempts, timestamps and
// the validation results of its last attempt.
type StepRecord struct {
	StepID      string
	NodeID      string
	Status      StepStatus
	Attempts    int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	Validations []ValidationRecord
}

// LogEntry is one line in an execution's log.
type LogEntry struct {
	Timestamp time.Time
	Level     logging.LogLevel
	StepID    string
	Message   string
}

// ProgressEvent is delivered to subscribers whenever a step changes status.
type ProgressEvent struct {
	ExecutionID string
	StepID      string
	NodeID      string
	Status      StepStatus
	Attempt     int
	Error       string
	Timestamp   time.Time
}

// Execution is one run of a resolution plan. It is the only engine entity
// with concurrent writers: steps running in parallel update the shared
// resolved/failed/blocked sets and the log, all guarded by one mutex.
type Execution struct {
	ID      string
	PlanID  string
	GraphID string
	DryRun  bool

	mu           sync.Mutex
	status       ExecutionStatus
	startedAt    time.Time
	completedAt  *time.Time
	steps        map[string]*StepRecord
	stepOrder    []string
	completedSeq []string // step IDs in completion order, for rollback
	resolved     map[string]bool
	failed       map[string]bool
	blocked      map[string]bool
	log          []LogEntry
	cancelled    bool
	cancelReason string
	cancelCh     chan struct{}
	doneCh       chan struct{}
	subscribers  []chan<- ProgressEvent
}

func newExecution(id, planID, graphID string, dryRun bool, stepIDs []string, nodeByStep map[string]string) *Execution {
	e := &Execution{
		ID:        id,
		PlanID:    planID,
		GraphID:   graphID,
		DryRun:    dryRun,
		status:    ExecutionRunning,
		startedAt: time.Now(),
		steps:     make(map[string]*StepRecord, len(stepIDs)),
		stepOrder: append([]string(nil), stepIDs...),
		resolved:  make(map[string]bool),
		failed:    make(map[string]bool),
		blocked:   make(map[string]bool),
		cancelCh:  make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, stepID := range stepIDs {
		e.steps[stepID] = &StepRecord{
			StepID: stepID,
			NodeID: nodeByStep[stepID],
			Status: StepPending,
		}
	}
	return e
}

// Status returns the execution's current status.
func (e *Execution) Status() ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// StartedAt returns when the execution began.
func (e *Execution) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// CompletedAt returns when the execution finished, or nil while running.
func (e *Execution) CompletedAt() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completedAt
}

// Step returns a copy of the record for one step.
func (e *Execution) Step(stepID string) (StepRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.steps[stepID]
	if !ok {
		return StepRecord{}, false
	}
	return copyStepRecord(record), true
}

// Steps returns copies of all step records in plan order.
func (e *Execution) Steps() []StepRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StepRecord, 0, len(e.stepOrder))
	for _, stepID := range e.stepOrder {
		out = append(out, copyStepRecord(e.steps[stepID]))
	}
	return out
}

func copyStepRecord(record *StepRecord) StepRecord {
	out := *record
	out.Validations = append([]ValidationRecord(nil), record.Validations...)
	return out
}

// ResolvedNodes returns the sorted IDs of nodes resolved by this execution.
func (e *Execution) ResolvedNodes() []string { return e.nodeSet(&e.resolved) }

// FailedNodes returns the sorted IDs of nodes that failed resolution.
func (e *Execution) FailedNodes() []string { return e.nodeSet(&e.failed) }

// BlockedNodes returns the sorted IDs of nodes blocked by failed
// prerequisites.
func (e *Execution) BlockedNodes() []string { return e.nodeSet(&e.blocked) }

func (e *Execution) nodeSet(set *map[string]bool) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(*set))
	for id := range *set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Log returns a copy of the execution log.
func (e *Execution) Log() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]LogEntry(nil), e.log...)
}

// Cancelled reports whether the execution was cancelled and why.
func (e *Execution) Cancelled() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled, e.cancelReason
}

// Wait blocks until the execution has finished.
func (e *Execution) Wait() {
	<-e.doneCh
}

// Done returns a channel closed when the execution has finished.
func (e *Execution) Done() <-chan struct{} {
	return e.doneCh
}

// SubscribeProgress registers a channel that receives a ProgressEvent on
// every step status change. Delivery is non-blocking: a full channel drops
// the event rather than stalling the executor. Subscribe before the
// execution starts to observe every transition.
func (e *Execution) SubscribeProgress(ch chan<- ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, ch)
}

// Cancel requests cancellation of the execution. Steps already in flight
// finish their current attempt; no further steps are scheduled. Returns
// false if the execution had already finished or was already cancelled.
func (e *Execution) Cancel(reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled || e.status != ExecutionRunning {
		return false
	}
	e.cancelled = true
	e.cancelReason = reason
	close(e.cancelCh)
	e.logLocked(logging.LevelWarn, "", "execution cancelled: %s", reason)
	return true
}

func (e *Execution) isCancelled() bool {
	select {
	case <-e.cancelCh:
		return true
	default:
		return false
	}
}

// appendLog records a log line on the execution and mirrors it to the
// process log at debug level.
func (e *Execution) appendLog(level logging.LogLevel, stepID string, format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logLocked(level, stepID, format, args...)
}

func (e *Execution) logLocked(level logging.LogLevel, stepID string, format string, args ...interface{}) {
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		StepID:    stepID,
		Message:   fmt.Sprintf(format, args...),
	}
	e.log = append(e.log, entry)
	logging.Debug("Executor", "[%s] %s", e.ID, entry.Message)
}

// setStepStatus transitions a step and publishes the change to subscribers.
func (e *Execution) setStepStatus(stepID string, status StepStatus, attempt int, stepErr error) {
	e.mu.Lock()
	record, ok := e.steps[stepID]
	if !ok {
		e.mu.Unlock()
		return
	}
	record.Status = status
	if attempt > 0 {
		record.Attempts = attempt
	}
	now := time.Now()
	switch status {
	case StepExecuting:
		if record.StartedAt == nil {
			record.StartedAt = &now
		}
	case StepCompleted, StepFailed:
		record.CompletedAt = &now
		if status == StepCompleted {
			e.completedSeq = append(e.completedSeq, stepID)
		}
	case StepPending:
		record.StartedAt = nil
		record.CompletedAt = nil
	}
	if stepErr != nil {
		record.Error = stepErr.Error()
	}

	event := ProgressEvent{
		ExecutionID: e.ID,
		StepID:      stepID,
		NodeID:      record.NodeID,
		Status:      status,
		Attempt:     record.Attempts,
		Timestamp:   now,
	}
	if stepErr != nil {
		event.Error = stepErr.Error()
	}
	subscribers := append([]chan<- ProgressEvent(nil), e.subscribers...)
	e.mu.Unlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Never block the executor on a slow subscriber.
		}
	}
}

func (e *Execution) stepStatus(stepID string) StepStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if record, ok := e.steps[stepID]; ok {
		return record.Status
	}
	return ""
}

func (e *Execution) setValidations(stepID string, validations []ValidationRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if record, ok := e.steps[stepID]; ok {
		record.Validations = validations
	}
}

func (e *Execution) markResolved(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolved[nodeID] = true
}

func (e *Execution) markFailed(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed[nodeID] = true
}

func (e *Execution) markBlocked(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blocked[nodeID] = true
}

func (e *Execution) unmarkResolved(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.resolved, nodeID)
}

// completedInOrder returns step IDs in completion order.
func (e *Execution) completedInOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.completedSeq...)
}

// anyFailed reports whether any step has failed so far.
func (e *Execution) anyFailed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.failed) > 0 || e.anyStepFailedLocked()
}

func (e *Execution) anyStepFailedLocked() bool {
	for _, record := range e.steps {
		if record.Status == StepFailed {
			return true
		}
	}
	return false
}

// finish seals the execution with its final status.
func (e *Execution) finish(status ExecutionStatus) {
	e.mu.Lock()
	if e.status == ExecutionRunning {
		e.status = status
		now := time.Now()
		e.completedAt = &now
	}
	e.mu.Unlock()
	close(e.doneCh)
}
