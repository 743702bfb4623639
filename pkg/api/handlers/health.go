package handlers

import (
	"net/http"

	"github.com/sagaflow/sagaflow/pkg/api/response"
	"github.com/sagaflow/sagaflow/pkg/saga"
	"github.com/sagaflow/sagaflow/pkg/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	orchestrator *saga.Orchestrator
	store        saga.StateStore
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(orchestrator *saga.Orchestrator, store saga.StateStore) *HealthHandler {
	return &HealthHandler{
		orchestrator: orchestrator,
		store:        store,
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). The process is ready
// once the state store answers queries.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.store.List(r.Context(), saga.ListFilter{Limit: 1}); err != nil {
		response.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{
		"ready": true,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	stats := h.orchestrator.GetStatistics()
	response.JSON(w, http.StatusOK, map[string]any{
		"version":       version.Info(),
		"running_sagas": len(h.orchestrator.GetRunningInstances()),
		"definitions":   h.orchestrator.Registry().Names(),
		"statistics":    stats,
	})
}
