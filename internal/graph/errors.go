package graph

import (
	"errors"
	"fmt"
)

// BuildError indicates a structurally invalid component descriptor that
// aborts graph construction. Missing dependency targets are not build errors;
// those edges are dropped.
type BuildError struct {
	// ComponentID identifies the offending descriptor when known.
	ComponentID string

	// Message describes what was invalid.
	Message string
}

// Error implements the error interface for BuildError.
func (e *BuildError) Error() string {
	if e.ComponentID != "" {
		return fmt.Sprintf("graph build failed for component %s: %s", e.ComponentID, e.Message)
	}
	return fmt.Sprintf("graph build failed: %s", e.Message)
}

// IsBuildError checks if an error is or wraps a BuildError.
func IsBuildError(err error) bool {
	var buildErr *BuildError
	return errors.As(err, &buildErr)
}
