package saga

import (
	"context"
	"errors"
)

// RecoveryResult reports the outcome of one recovery sweep.
type RecoveryResult struct {
	Recovered []string          `json:"recovered"`
	Skipped   []string          `json:"skipped"`
	Failed    map[string]string `json:"failed"`
}

// RecoveryManager scans the state store for executions interrupted by a
// crash and resumes them through the orchestrator. Intended to run once at
// startup before the process starts accepting new sagas.
type RecoveryManager struct {
	orchestrator *Orchestrator
	store        StateStore
	logger       Logger
}

// NewRecoveryManager builds a recovery manager over the orchestrator's
// state store.
func NewRecoveryManager(orchestrator *Orchestrator, store StateStore, logger Logger) *RecoveryManager {
	if logger == nil {
		logger = nopLogger{}
	}
	return &RecoveryManager{
		orchestrator: orchestrator,
		store:        store,
		logger:       logger,
	}
}

// RecoverAll resumes every persisted non-terminal execution. Executions
// whose definition is no longer registered are skipped and reported in the
// result rather than failing the sweep. Resumed sagas whose steps fail are
// compensated as usual and still count as recovered.
func (m *RecoveryManager) RecoverAll(ctx context.Context) (*RecoveryResult, error) {
	result := &RecoveryResult{Failed: make(map[string]string)}

	for _, status := range []Status{StatusRunning, StatusFailed, StatusCompensating, StatusPending} {
		execs, _, err := m.store.List(ctx, ListFilter{Status: status.String()})
		if err != nil {
			return result, err
		}
		for _, exec := range execs {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if _, err := m.orchestrator.Recover(ctx, exec.ID); err != nil {
				switch {
				case errors.Is(err, ErrSagaTerminal), errors.Is(err, ErrSagaRunning):
					result.Skipped = append(result.Skipped, exec.ID)
				case errors.Is(err, ErrUnknownDefinition):
					result.Skipped = append(result.Skipped, exec.ID)
					m.logger.Warn("recovery skipped, definition not registered",
						"saga_id", exec.ID,
						"definition", exec.DefinitionName,
					)
				default:
					result.Failed[exec.ID] = err.Error()
					m.logger.Error("recovery failed",
						"saga_id", exec.ID,
						"error", err,
					)
				}
				continue
			}
			result.Recovered = append(result.Recovered, exec.ID)
		}
	}

	m.logger.Info("recovery sweep finished",
		"recovered", len(result.Recovered),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
	)
	return result, nil
}
