package saga

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sagaTracerName = "sagaflow.saga"

const (
	spanSagaExecute    = "saga.execute"
	spanSagaStep       = "saga.step"
	spanSagaCompensate = "saga.compensate"
	spanSagaRecover    = "saga.recover"
)

func sagaTracer() trace.Tracer {
	return otel.Tracer(sagaTracerName)
}
