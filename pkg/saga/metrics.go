package saga

import "time"

// MetricsRecorder records saga runtime metrics.
type MetricsRecorder interface {
	RecordSagaExecution(status string)
	RecordSagaDuration(status string, duration time.Duration)
	IncActiveSagas()
	DecActiveSagas()
	RecordStepRetry(stepName string)
	RecordCompensation(status string)
	RecordSagaRecovery(status string)
	RecordPersistenceFailure()
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordSagaExecution(status string)                        {}
func (nopMetricsRecorder) RecordSagaDuration(status string, duration time.Duration) {}
func (nopMetricsRecorder) IncActiveSagas()                                          {}
func (nopMetricsRecorder) DecActiveSagas()                                          {}
func (nopMetricsRecorder) RecordStepRetry(stepName string)                          {}
func (nopMetricsRecorder) RecordCompensation(status string)                         {}
func (nopMetricsRecorder) RecordSagaRecovery(status string)                         {}
func (nopMetricsRecorder) RecordPersistenceFailure()                                {}
