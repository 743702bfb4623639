package saga

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDefinition is returned when a saga references an unregistered
	// definition name.
	ErrUnknownDefinition = errors.New("unknown saga definition")

	// ErrSagaNotFound is returned when a saga execution cannot be located.
	ErrSagaNotFound = errors.New("saga execution not found")

	// ErrSagaTerminal is returned when an operation targets an execution that
	// already reached a terminal status.
	ErrSagaTerminal = errors.New("saga execution already terminal")

	// ErrStepTimeout marks a step attempt that exceeded its timeout budget.
	ErrStepTimeout = errors.New("step attempt timed out")

	// ErrSagaRunning is returned when an operation targets an execution that
	// is currently owned by this process. Only one control flow may drive a
	// saga id at a time.
	ErrSagaRunning = errors.New("saga execution already running")

	// ErrSagaExists is returned when a start request reuses a saga id that is
	// already tracked in memory or persisted in the state store.
	ErrSagaExists = errors.New("saga id already in use")
)

// PersistenceError wraps a state-store failure. A persistence failure
// degrades recoverability for the affected run but never fails the saga
// itself, so callers must be able to tell it apart from business failures.
type PersistenceError struct {
	SagaID string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("saga %s: state store %s failed: %v", e.SagaID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
