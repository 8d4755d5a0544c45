package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrBuilderIncomplete matches every *BuilderIncompleteError.
	ErrBuilderIncomplete = errors.New("engine: builder incomplete")

	// ErrTraderConsumed is the terminal error of a Trader that was already
	// advanced; the stale handle can no longer drive the session.
	ErrTraderConsumed = errors.New("engine: trader already consumed")
)

// BuilderIncompleteError names the first missing required dependency.
type BuilderIncompleteError struct {
	Field string
}

func (e *BuilderIncompleteError) Error() string {
	return fmt.Sprintf("engine: builder incomplete: missing %s", e.Field)
}

func (e *BuilderIncompleteError) Is(target error) bool {
	return target == ErrBuilderIncomplete
}

// InitError means the portfolio could not be built; the session never
// consumed an event.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("engine: portfolio initialisation failed: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ExecutionClosedError means the execution consumer is gone and no further
// order can be placed.
type ExecutionClosedError struct {
	RequestID uuid.UUID
	Err       error
}

func (e *ExecutionClosedError) Error() string {
	return fmt.Sprintf("engine: execution channel closed while sending %s: %v", e.RequestID, e.Err)
}

func (e *ExecutionClosedError) Unwrap() error { return e.Err }
