// Package saga implements orchestration-based distributed transaction
// primitives: named sequences of local steps with compensating actions,
// per-step retry and timeout policy, persisted execution snapshots, and
// crash recovery.
package saga

import (
	"context"
)

// ActionFunc executes the forward operation of a step. It returns a partial
// context mapping that the orchestrator merges into the execution context.
type ActionFunc func(ctx context.Context, stepCtx *StepContext) (map[string]any, error)

// CompensationFunc semantically undoes the effect of a previously completed
// step.
type CompensationFunc func(ctx context.Context, compCtx *CompensationContext) error

// StepContext carries runtime information for forward step execution.
type StepContext struct {
	SagaID   string
	StepName string
	Attempt  int
	Data     map[string]any
}

// CompensationContext carries runtime information for compensation execution.
type CompensationContext struct {
	SagaID     string
	StepName   string
	FailedStep string
	Failure    error
	Data       map[string]any
	Produced   map[string]any
}

func copyData(source map[string]any) map[string]any {
	if len(source) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(source))
	for k, v := range source {
		copied[k] = v
	}
	return copied
}
