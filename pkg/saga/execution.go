package saga

import (
	"fmt"
	"time"
)

// CompletedStep records one successfully executed forward step. The slice of
// completed steps is always a prefix of the definition's step list in index
// order and grows only by append.
type CompletedStep struct {
	StepName    string         `json:"step_name"`
	Index       int            `json:"index"`
	CompletedAt time.Time      `json:"completed_at"`
	Produced    map[string]any `json:"produced,omitempty"`
}

// StepFailure records the step whose retries were exhausted.
type StepFailure struct {
	StepName string    `json:"step_name"`
	Index    int       `json:"index"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// CompensationFailure records one failed compensation during rollback.
// Compensation failures are collected, not thrown: a failure against one
// step never stops compensation of earlier steps.
type CompensationFailure struct {
	StepName string    `json:"step_name"`
	Index    int       `json:"index"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Execution is the mutable runtime state of one saga run. It is owned
// exclusively by the orchestrator until it reaches a terminal status, after
// which it is immutable and handed to the caller.
type Execution struct {
	ID                 string                `json:"id"`
	DefinitionName     string                `json:"definition_name"`
	Status             Status                `json:"status"`
	Context            map[string]any        `json:"context"`
	CompletedSteps     []CompletedStep       `json:"completed_steps"`
	CompensatedSteps   []string              `json:"compensated_steps,omitempty"`
	FailedStep         *StepFailure          `json:"failed_step,omitempty"`
	CompensationErrors []CompensationFailure `json:"compensation_errors,omitempty"`
	PersistDegraded    bool                  `json:"persist_degraded,omitempty"`
	StartedAt          time.Time             `json:"started_at"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
}

// NewExecution creates a pending execution seeded with the caller-supplied
// initial context data.
func NewExecution(id, definitionName string, initial map[string]any) *Execution {
	return &Execution{
		ID:             id,
		DefinitionName: definitionName,
		Status:         StatusPending,
		Context:        copyData(initial),
		CompletedSteps: make([]CompletedStep, 0),
		StartedAt:      time.Now().UTC(),
	}
}

// TransitionTo applies a status transition, stamping CompletedAt when the
// execution becomes terminal.
func (e *Execution) TransitionTo(next Status) error {
	if e == nil {
		return fmt.Errorf("saga execution cannot be nil")
	}
	if err := ValidateTransition(e.Status, next); err != nil {
		return err
	}
	if next.IsTerminal() && e.CompletedAt == nil {
		done := time.Now().UTC()
		e.CompletedAt = &done
	}
	e.Status = next
	return nil
}

// MarkStepCompleted appends the step to the completed list and merges its
// produced data into the running context. Later keys overwrite earlier ones;
// untouched keys survive.
func (e *Execution) MarkStepCompleted(stepName string, index int, produced map[string]any) {
	e.CompletedSteps = append(e.CompletedSteps, CompletedStep{
		StepName:    stepName,
		Index:       index,
		CompletedAt: time.Now().UTC(),
		Produced:    copyData(produced),
	})
	if e.Context == nil {
		e.Context = make(map[string]any, len(produced))
	}
	for k, v := range produced {
		e.Context[k] = v
	}
}

// MarkStepCompensated records a successfully compensated step.
func (e *Execution) MarkStepCompensated(stepName string) {
	e.CompensatedSteps = append(e.CompensatedSteps, stepName)
}

// SetFailure records the failed step and error details.
func (e *Execution) SetFailure(stepName string, index int, err error) {
	failure := &StepFailure{
		StepName: stepName,
		Index:    index,
		FailedAt: time.Now().UTC(),
	}
	if err != nil {
		failure.Error = err.Error()
	}
	e.FailedStep = failure
}

// RecordCompensationFailure collects a per-step compensation error.
func (e *Execution) RecordCompensationFailure(stepName string, index int, err error) {
	failure := CompensationFailure{
		StepName: stepName,
		Index:    index,
		FailedAt: time.Now().UTC(),
	}
	if err != nil {
		failure.Error = err.Error()
	}
	e.CompensationErrors = append(e.CompensationErrors, failure)
}

// ContextSnapshot returns a copy of the accumulated context data.
func (e *Execution) ContextSnapshot() map[string]any {
	return copyData(e.Context)
}

// Clone deep-copies the execution record.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}

	completed := make([]CompletedStep, len(e.CompletedSteps))
	for i, cs := range e.CompletedSteps {
		cs.Produced = copyData(cs.Produced)
		completed[i] = cs
	}
	compensated := append([]string(nil), e.CompensatedSteps...)
	compErrs := append([]CompensationFailure(nil), e.CompensationErrors...)

	clone := &Execution{
		ID:                 e.ID,
		DefinitionName:     e.DefinitionName,
		Status:             e.Status,
		Context:            copyData(e.Context),
		CompletedSteps:     completed,
		CompensatedSteps:   compensated,
		CompensationErrors: compErrs,
		PersistDegraded:    e.PersistDegraded,
		StartedAt:          e.StartedAt,
	}
	if e.FailedStep != nil {
		failed := *e.FailedStep
		clone.FailedStep = &failed
	}
	if e.CompletedAt != nil {
		done := *e.CompletedAt
		clone.CompletedAt = &done
	}
	return clone
}

// Result summarizes a terminal execution.
type Result struct {
	SagaID           string        `json:"saga_id"`
	Success          bool          `json:"success"`
	Status           string        `json:"status"`
	CompletedSteps   int           `json:"completed_steps"`
	CompensatedSteps int           `json:"compensated_steps"`
	FailedStep       string        `json:"failed_step,omitempty"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// Result builds the summary view of the execution.
func (e *Execution) Result() Result {
	result := Result{
		SagaID:           e.ID,
		Success:          e.Status == StatusCompleted,
		Status:           e.Status.String(),
		CompletedSteps:   len(e.CompletedSteps),
		CompensatedSteps: len(e.CompensatedSteps),
	}
	if e.FailedStep != nil {
		result.FailedStep = e.FailedStep.StepName
		result.Error = e.FailedStep.Error
	}
	if e.CompletedAt != nil {
		result.Duration = e.CompletedAt.Sub(e.StartedAt)
	}
	return result
}
