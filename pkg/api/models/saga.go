// Package models defines HTTP request and response payloads.
package models

import "time"

// SagaStartRequest is the payload for starting a registered definition.
type SagaStartRequest struct {
	// SagaID pins the execution id. Empty means a generated UUID.
	SagaID string `json:"saga_id,omitempty" validate:"omitempty,min=1,max=128"`

	// Input seeds the saga context visible to the first step.
	Input map[string]any `json:"input,omitempty"`
}

// SagaStartResponse is returned when an execution has been accepted.
type SagaStartResponse struct {
	SagaID     string    `json:"saga_id"`
	Definition string    `json:"definition"`
	Status     string    `json:"status"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// CompletedStepView is one forward step that finished successfully.
type CompletedStepView struct {
	StepName    string         `json:"step_name"`
	CompletedAt time.Time      `json:"completed_at"`
	Produced    map[string]any `json:"produced,omitempty"`
}

// SagaStatusResponse is the full view of one execution.
type SagaStatusResponse struct {
	SagaID             string              `json:"saga_id"`
	Definition         string              `json:"definition"`
	Status             string              `json:"status"`
	Context            map[string]any      `json:"context,omitempty"`
	CompletedSteps     []CompletedStepView `json:"completed_steps"`
	CompensatedSteps   []string            `json:"compensated_steps,omitempty"`
	FailedStep         string              `json:"failed_step,omitempty"`
	FailureReason      string              `json:"failure_reason,omitempty"`
	CompensationErrors []string            `json:"compensation_errors,omitempty"`
	PersistDegraded    bool                `json:"persist_degraded,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

// SagaSummary is one row in list and history responses.
type SagaSummary struct {
	SagaID      string     `json:"saga_id"`
	Definition  string     `json:"definition"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SagaListResponse is a paginated list of saga summaries.
type SagaListResponse struct {
	Items  []SagaSummary `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// SagaActionResponse is returned by the recover endpoint.
type SagaActionResponse struct {
	SagaID string `json:"saga_id"`
	Status string `json:"status"`
}

// RecoveryScanResponse summarizes a store-wide recovery sweep.
type RecoveryScanResponse struct {
	Recovered []string          `json:"recovered"`
	Skipped   []string          `json:"skipped"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// StatisticsResponse exposes history counters.
type StatisticsResponse struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Compensated int     `json:"compensated"`
	Errored     int     `json:"errored"`
	SuccessRate float64 `json:"success_rate"`
}

// DefinitionListResponse lists registered definition names.
type DefinitionListResponse struct {
	Definitions []string `json:"definitions"`
}
