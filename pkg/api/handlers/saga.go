// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sagaflow/sagaflow/pkg/api/middleware"
	"github.com/sagaflow/sagaflow/pkg/api/models"
	"github.com/sagaflow/sagaflow/pkg/api/response"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/saga"
)

const defaultListLimit = 20

// SagaHandler handles saga API endpoints.
type SagaHandler struct {
	orchestrator *saga.Orchestrator
	store        saga.StateStore
	recovery     *saga.RecoveryManager
	logger       logger.Logger
	validator    *validator.Validate
}

// NewSagaHandler creates a saga handler.
func NewSagaHandler(
	orchestrator *saga.Orchestrator,
	store saga.StateStore,
	recovery *saga.RecoveryManager,
	log logger.Logger,
) *SagaHandler {
	return &SagaHandler{
		orchestrator: orchestrator,
		store:        store,
		recovery:     recovery,
		logger:       log,
		validator:    validator.New(),
	}
}

// StartSaga handles POST /api/v1/sagas/{name}/start.
//
// The execution runs in the background and the generated saga id is returned
// immediately. Passing ?wait=true blocks until the saga reaches a terminal
// status and returns the full execution view instead.
func (h *SagaHandler) StartSaga(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "id")
	if name == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "definition name is required", middleware.GetRequestID(r.Context()))
		return
	}

	var req models.SagaStartRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", middleware.GetRequestID(r.Context()))
			return
		}
		if err := h.validator.Struct(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), middleware.GetRequestID(r.Context()))
			return
		}
	}

	if _, err := h.orchestrator.Registry().Get(name); err != nil {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "unknown saga definition: "+name, middleware.GetRequestID(r.Context()))
		return
	}

	sagaID := req.SagaID
	if sagaID == "" {
		sagaID = uuid.NewString()
	}

	if r.URL.Query().Get("wait") == "true" {
		exec, err := h.orchestrator.StartSagaWithID(r.Context(), sagaID, name, req.Input)
		if err != nil {
			if errors.Is(err, saga.ErrSagaExists) || errors.Is(err, saga.ErrSagaRunning) {
				response.Error(w, http.StatusConflict, response.ErrCodeConflict, "saga id is already in use: "+sagaID, middleware.GetRequestID(r.Context()))
				return
			}
			response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), middleware.GetRequestID(r.Context()))
			return
		}
		response.JSON(w, http.StatusOK, executionToStatus(exec))
		return
	}

	// reject an obviously taken id before accepting the async run; the
	// orchestrator re-checks under its own lock
	if req.SagaID != "" {
		if _, err := h.orchestrator.GetSaga(r.Context(), sagaID); err == nil {
			response.Error(w, http.StatusConflict, response.ErrCodeConflict, "saga id is already in use: "+sagaID, middleware.GetRequestID(r.Context()))
			return
		}
	}

	go func() {
		if _, err := h.orchestrator.StartSagaWithID(context.Background(), sagaID, name, req.Input); err != nil {
			h.logger.Warn("saga execution finished with error",
				"saga_id", sagaID,
				"definition", name,
				"error", err,
			)
		}
	}()

	response.JSON(w, http.StatusAccepted, models.SagaStartResponse{
		SagaID:     sagaID,
		Definition: name,
		Status:     saga.StatusPending.String(),
		AcceptedAt: time.Now().UTC(),
	})
}

// GetSaga handles GET /api/v1/sagas/{id}.
func (h *SagaHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "saga id is required", middleware.GetRequestID(r.Context()))
		return
	}

	exec, err := h.orchestrator.GetSaga(r.Context(), sagaID)
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "saga not found", middleware.GetRequestID(r.Context()))
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), middleware.GetRequestID(r.Context()))
		return
	}

	response.JSON(w, http.StatusOK, executionToStatus(exec))
}

// ListSagas handles GET /api/v1/sagas with status, limit, and offset filters.
func (h *SagaHandler) ListSagas(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, defaultListLimit)
	status := strings.TrimSpace(r.URL.Query().Get("status"))

	execs, total, err := h.store.List(r.Context(), saga.ListFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), middleware.GetRequestID(r.Context()))
		return
	}

	items := make([]models.SagaSummary, 0, len(execs))
	for _, exec := range execs {
		items = append(items, executionToSummary(exec))
	}

	response.JSON(w, http.StatusOK, models.SagaListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// RecoverSaga handles POST /api/v1/sagas/{id}/recover.
func (h *SagaHandler) RecoverSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "saga id is required", middleware.GetRequestID(r.Context()))
		return
	}

	stored, err := h.store.Get(r.Context(), sagaID)
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "saga not found", middleware.GetRequestID(r.Context()))
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	if stored.Status.IsTerminal() {
		response.Error(w, http.StatusConflict, response.ErrCodeConflict, "saga is already in terminal status", middleware.GetRequestID(r.Context()))
		return
	}
	if h.orchestrator.IsRunning(sagaID) {
		response.Error(w, http.StatusConflict, response.ErrCodeConflict, "saga is currently executing", middleware.GetRequestID(r.Context()))
		return
	}
	if _, err := h.orchestrator.Registry().Get(stored.DefinitionName); err != nil {
		response.Error(w, http.StatusConflict, response.ErrCodeConflict, "saga definition is not registered: "+stored.DefinitionName, middleware.GetRequestID(r.Context()))
		return
	}

	go func() {
		if _, err := h.orchestrator.Recover(context.Background(), sagaID); err != nil {
			h.logger.Warn("saga recovery finished with error", "saga_id", sagaID, "error", err)
		}
	}()

	response.JSON(w, http.StatusAccepted, models.SagaActionResponse{
		SagaID: sagaID,
		Status: stored.Status.String(),
	})
}

// RecoveryScan handles POST /api/v1/recovery/scan, resuming every persisted
// non-terminal execution.
func (h *SagaHandler) RecoveryScan(w http.ResponseWriter, r *http.Request) {
	if h.recovery == nil {
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "recovery manager unavailable", middleware.GetRequestID(r.Context()))
		return
	}

	result, err := h.recovery.RecoverAll(r.Context())
	if err != nil {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), middleware.GetRequestID(r.Context()))
		return
	}

	resp := models.RecoveryScanResponse{
		Recovered: append([]string{}, result.Recovered...),
		Skipped:   append([]string{}, result.Skipped...),
	}
	if len(result.Failed) > 0 {
		resp.Failed = result.Failed
	}
	response.JSON(w, http.StatusOK, resp)
}

// GetHistory handles GET /api/v1/history.
func (h *SagaHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	items := make([]models.SagaSummary, 0)
	for _, exec := range h.orchestrator.GetHistory() {
		items = append(items, executionToSummary(exec))
	}

	response.JSON(w, http.StatusOK, models.SagaListResponse{
		Items:  items,
		Total:  len(items),
		Limit:  len(items),
		Offset: 0,
	})
}

// GetStatistics handles GET /api/v1/statistics.
func (h *SagaHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats := h.orchestrator.GetStatistics()
	response.JSON(w, http.StatusOK, models.StatisticsResponse{
		Total:       stats.Total,
		Completed:   stats.Completed,
		Compensated: stats.Compensated,
		Errored:     stats.Errored,
		SuccessRate: stats.SuccessRate,
	})
}

// ListDefinitions handles GET /api/v1/definitions.
func (h *SagaHandler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, models.DefinitionListResponse{
		Definitions: h.orchestrator.Registry().Names(),
	})
}

func pageParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func executionToSummary(exec *saga.Execution) models.SagaSummary {
	return models.SagaSummary{
		SagaID:      exec.ID,
		Definition:  exec.DefinitionName,
		Status:      exec.Status.String(),
		StartedAt:   exec.StartedAt,
		CompletedAt: exec.CompletedAt,
	}
}

func executionToStatus(exec *saga.Execution) models.SagaStatusResponse {
	completed := make([]models.CompletedStepView, 0, len(exec.CompletedSteps))
	for _, step := range exec.CompletedSteps {
		completed = append(completed, models.CompletedStepView{
			StepName:    step.StepName,
			CompletedAt: step.CompletedAt,
			Produced:    step.Produced,
		})
	}

	resp := models.SagaStatusResponse{
		SagaID:           exec.ID,
		Definition:       exec.DefinitionName,
		Status:           exec.Status.String(),
		Context:          exec.ContextSnapshot(),
		CompletedSteps:   completed,
		CompensatedSteps: append([]string(nil), exec.CompensatedSteps...),
		PersistDegraded:  exec.PersistDegraded,
		StartedAt:        exec.StartedAt,
		CompletedAt:      exec.CompletedAt,
	}
	if exec.FailedStep != nil {
		resp.FailedStep = exec.FailedStep.StepName
		resp.FailureReason = exec.FailedStep.Error
	}
	for _, failure := range exec.CompensationErrors {
		resp.CompensationErrors = append(resp.CompensationErrors, failure.StepName+": "+failure.Error)
	}
	return resp
}
