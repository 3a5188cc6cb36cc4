package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"loom/internal/graph"
)

// NotFoundError reports that a graph, plan or execution with the given
// identifier is not registered with the engine. It is a caller error and is
// surfaced synchronously.
type NotFoundError struct {
	// ResourceType categorizes the missing resource ("graph", "plan",
	// "execution").
	ResourceType string

	// ResourceID is the identifier that was looked up.
	ResourceID string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceID)
}

// IsNotFound checks if an error is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// GraphBusyError reports that a resolution was requested for a graph that
// already has an execution in flight. Executions mutate the shared node and
// edge statuses, so at most one may run per graph at a time.
type GraphBusyError struct {
	GraphID string

	// ExecutionID identifies the execution currently holding the graph.
	ExecutionID string
}

func (e *GraphBusyError) Error() string {
	return fmt.Sprintf("graph %s is busy: execution %s is in progress", e.GraphID, e.ExecutionID)
}

// IsGraphBusy checks if an error is or wraps a GraphBusyError.
func IsGraphBusy(err error) bool {
	var busyErr *GraphBusyError
	return errors.As(err, &busyErr)
}

// PrerequisiteNotSatisfiedError reports that a step was scheduled while one
// or more of the steps it depends on had not completed. It is fatal to that
// step only and never retried.
type PrerequisiteNotSatisfiedError struct {
	StepID  string
	Missing []string
}

func (e *PrerequisiteNotSatisfiedError) Error() string {
	return fmt.Sprintf("step %s prerequisites not satisfied: %s", e.StepID, strings.Join(e.Missing, ", "))
}

// ValidationFailedError reports that an edge requirement check failed. It is
// retryable when the step's retry policy includes the validation category.
type ValidationFailedError struct {
	EdgeID   string
	Category graph.Category
	Message  string
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("validation of edge %s (%s) failed: %s", e.EdgeID, e.Category, e.Message)
}

// StepTimeoutError reports that a step attempt exceeded its timeout. It is
// treated as a retryable failure, never as a hang.
type StepTimeoutError struct {
	StepID  string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out after %s", e.StepID, e.Timeout)
}

// ResolutionFailedError is the terminal error of a step whose retries are
// exhausted. It triggers rollback unless the execution continues on failure.
type ResolutionFailedError struct {
	StepID   string
	NodeID   string
	Attempts int
	Cause    error
}

func (e *ResolutionFailedError) Error() string {
	return fmt.Sprintf("resolution of node %s failed after %d attempts: %v", e.NodeID, e.Attempts, e.Cause)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ResolutionFailedError) Unwrap() error {
	return e.Cause
}
