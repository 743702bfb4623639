package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxConcurrent = 100

// Logger is the logging subset used by the orchestration engine.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Option customizes orchestrator initialization.
type Option func(o *Orchestrator)

// WithStateStore wires snapshot persistence. Snapshots are written after
// every successful step and at every status change, enabling crash recovery.
func WithStateStore(store StateStore) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithSink subscribes a lifecycle event sink. May be given multiple times.
func WithSink(sink Sink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sinks = append(o.sinks, sink)
		}
	}
}

// WithHistorySize bounds the in-memory terminal-execution buffer.
func WithHistorySize(capacity int) Option {
	return func(o *Orchestrator) {
		o.history = NewHistory(capacity)
	}
}

// WithMetrics wires a metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithLogger wires structured logging.
func WithLogger(log Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithMaxConcurrent caps concurrent saga executions.
func WithMaxConcurrent(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.sema = make(chan struct{}, limit)
		}
	}
}

// WithSagaTimeout bounds the aggregate forward-execution time of one saga.
// When the budget is exceeded, no further steps start and the execution
// transitions to compensation, rolling back every step that completed.
// Compensation itself is not subject to the budget. Zero disables the limit.
func WithSagaTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.sagaTimeout = timeout
		}
	}
}

// Orchestrator drives saga executions forward step by step and unwinds
// completed steps in reverse order when a step exhausts its retries. Each
// execution is a single sequential control flow; any number of executions
// may run concurrently.
type Orchestrator struct {
	registry    *Registry
	store       StateStore
	sinks       []Sink
	history     *History
	metrics     MetricsRecorder
	logger      Logger
	sagaTimeout time.Duration
	sema        chan struct{}

	mu      sync.RWMutex
	running map[string]*Execution
}

// NewOrchestrator creates an orchestrator over a definition registry.
func NewOrchestrator(registry *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		history:  NewHistory(defaultHistorySize),
		metrics:  nopMetricsRecorder{},
		logger:   nopLogger{},
		sema:     make(chan struct{}, defaultMaxConcurrent),
		running:  make(map[string]*Execution),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// StartSaga runs a registered definition to a terminal state with the given
// initial context data. Business failures are reported in the returned
// execution record, never as an error; the error return is reserved for
// programmer errors such as an unknown definition name.
func (o *Orchestrator) StartSaga(ctx context.Context, definitionName string, initial map[string]any) (*Execution, error) {
	return o.StartSagaWithID(ctx, uuid.NewString(), definitionName, initial)
}

// StartSagaWithID runs a saga using a caller-provided execution id. The id
// must be unused: a start is rejected when the id belongs to an in-flight
// execution, a retained terminal execution, or a persisted snapshot.
func (o *Orchestrator) StartSagaWithID(ctx context.Context, sagaID, definitionName string, initial map[string]any) (*Execution, error) {
	def, err := o.registry.Get(definitionName)
	if err != nil {
		return nil, err
	}
	o.registry.seal()

	if _, ok := o.history.Get(sagaID); ok {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrSagaExists)
	}

	exec := NewExecution(sagaID, def.Name, initial)
	if err := o.claim(exec); err != nil {
		return nil, err
	}

	if o.store != nil {
		if _, err := o.store.Get(ctx, sagaID); err == nil {
			o.untrack(sagaID)
			return nil, fmt.Errorf("saga %s: %w", sagaID, ErrSagaExists)
		} else if !errors.Is(err, ErrSagaNotFound) {
			o.untrack(sagaID)
			return nil, &PersistenceError{SagaID: sagaID, Op: "get", Err: err}
		}
	}

	select {
	case o.sema <- struct{}{}:
	case <-ctx.Done():
		o.untrack(sagaID)
		return nil, ctx.Err()
	}
	defer func() { <-o.sema }()

	return o.run(ctx, def, exec, 0), nil
}

// Recover loads a persisted, non-terminal execution from the state store and
// resumes it: forward from the first incomplete step, or over the rollback
// path when the run had already entered compensation. If a resumed step
// fails, compensation covers the full completed-step list, including steps
// completed before the crash.
func (o *Orchestrator) Recover(ctx context.Context, sagaID string) (*Execution, error) {
	if o.store == nil {
		return nil, fmt.Errorf("recover saga %s: no state store configured", sagaID)
	}

	exec, err := o.store.Get(ctx, sagaID)
	if err != nil {
		o.metrics.RecordSagaRecovery("failed")
		return nil, err
	}
	if exec.Status.IsTerminal() {
		o.metrics.RecordSagaRecovery("skipped")
		return nil, fmt.Errorf("recover saga %s: %w", sagaID, ErrSagaTerminal)
	}
	def, err := o.registry.Get(exec.DefinitionName)
	if err != nil {
		o.metrics.RecordSagaRecovery("failed")
		return nil, err
	}
	o.registry.seal()

	// a live execution already owns this id; resuming its snapshot would run
	// the same saga twice in parallel
	if err := o.claim(exec); err != nil {
		o.metrics.RecordSagaRecovery("skipped")
		return nil, err
	}

	select {
	case o.sema <- struct{}{}:
	case <-ctx.Done():
		o.untrack(exec.ID)
		return nil, ctx.Err()
	}
	defer func() { <-o.sema }()

	ctx, span := sagaTracer().Start(ctx, spanSagaRecover, trace.WithAttributes(
		attribute.String("saga.id", exec.ID),
		attribute.String("saga.definition", def.Name),
		attribute.String("saga.status", exec.Status.String()),
	))
	defer span.End()

	o.logger.Info("saga recovery started",
		"saga_id", exec.ID,
		"definition", def.Name,
		"status", exec.Status.String(),
		"completed_steps", len(exec.CompletedSteps),
	)
	o.metrics.RecordSagaRecovery("resumed")

	switch exec.Status {
	case StatusFailed, StatusCompensating:
		o.metrics.IncActiveSagas()
		o.compensate(ctx, def, exec)
		o.finish(ctx, exec)
		o.metrics.DecActiveSagas()
		return exec, nil
	default:
		return o.run(ctx, def, exec, len(exec.CompletedSteps)), nil
	}
}

// GetSaga returns the execution with the given id, consulting running
// executions, the history buffer, and the state store in that order.
func (o *Orchestrator) GetSaga(ctx context.Context, sagaID string) (*Execution, error) {
	o.mu.RLock()
	exec, ok := o.running[sagaID]
	o.mu.RUnlock()
	if ok {
		return exec.Clone(), nil
	}
	if exec, ok := o.history.Get(sagaID); ok {
		return exec, nil
	}
	if o.store != nil {
		return o.store.Get(ctx, sagaID)
	}
	return nil, ErrSagaNotFound
}

// GetRunningInstances returns snapshots of all in-flight executions.
func (o *Orchestrator) GetRunningInstances() []*Execution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Execution, 0, len(o.running))
	for _, exec := range o.running {
		out = append(out, exec.Clone())
	}
	return out
}

// GetHistory returns the retained terminal executions, oldest first.
func (o *Orchestrator) GetHistory() []*Execution {
	return o.history.List()
}

// GetStatistics summarizes the history buffer.
func (o *Orchestrator) GetStatistics() Statistics {
	return o.history.Statistics()
}

// IsRunning reports whether this process currently owns an in-flight
// execution with the given id.
func (o *Orchestrator) IsRunning(sagaID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.running[sagaID]
	return ok
}

// Registry exposes the definition registry backing this orchestrator.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// run drives forward execution from the given step index to a terminal
// state. It always returns a terminal execution record.
func (o *Orchestrator) run(ctx context.Context, def *Definition, exec *Execution, from int) *Execution {
	forwardCtx := ctx
	cancel := func() {}
	if o.sagaTimeout > 0 {
		forwardCtx, cancel = context.WithTimeout(ctx, o.sagaTimeout)
	}
	defer cancel()

	forwardCtx, span := sagaTracer().Start(forwardCtx, spanSagaExecute, trace.WithAttributes(
		attribute.String("saga.id", exec.ID),
		attribute.String("saga.definition", def.Name),
	))
	defer span.End()

	if exec.Status == StatusPending {
		_ = exec.TransitionTo(StatusRunning)
	}
	o.track(exec)
	o.metrics.IncActiveSagas()
	defer o.metrics.DecActiveSagas()

	o.emit(Event{SagaID: exec.ID, Kind: EventSagaStarted})
	o.snapshot(forwardCtx, exec)
	o.logger.Info("saga started",
		"saga_id", exec.ID,
		"definition", def.Name,
		"from_step", from,
	)

	fail := func(step *Step, index int, err error) {
		o.emit(Event{SagaID: exec.ID, Kind: EventStepFailed, StepName: step.Name, Error: err.Error()})
		exec.SetFailure(step.Name, index, err)
		_ = exec.TransitionTo(StatusFailed)
		o.snapshot(ctx, exec)
		o.logger.Warn("saga step failed",
			"saga_id", exec.ID,
			"step", step.Name,
			"error", err,
		)
		span.SetStatus(codes.Error, err.Error())

		// compensation runs on the parent context so a saga-wide timeout
		// never cuts the rollback short
		o.compensate(ctx, def, exec)
		o.finish(ctx, exec)
	}

	for i := from; i < len(def.Steps); i++ {
		step := def.Steps[i]

		// the budget is checked before a step starts; a step that already
		// succeeded is recorded as completed and stays on the rollback path
		if err := forwardCtx.Err(); err != nil {
			fail(step, i, err)
			return exec
		}

		o.emit(Event{SagaID: exec.ID, Kind: EventStepStarted, StepName: step.Name})

		produced, err := o.executeStep(forwardCtx, exec, step)
		if err != nil {
			fail(step, i, err)
			return exec
		}

		exec.MarkStepCompleted(step.Name, i, produced)
		o.emit(Event{SagaID: exec.ID, Kind: EventStepCompleted, StepName: step.Name})
		o.snapshot(forwardCtx, exec)
	}

	_ = exec.TransitionTo(StatusCompleted)
	o.emit(Event{SagaID: exec.ID, Kind: EventSagaCompleted})
	o.finish(ctx, exec)
	return exec
}

func (o *Orchestrator) executeStep(ctx context.Context, exec *Execution, step *Step) (map[string]any, error) {
	ctx, span := sagaTracer().Start(ctx, spanSagaStep, trace.WithAttributes(
		attribute.String("saga.id", exec.ID),
		attribute.String("saga.step", step.Name),
	))
	defer span.End()

	stepCtx := &StepContext{
		SagaID:   exec.ID,
		StepName: step.Name,
		Data:     exec.ContextSnapshot(),
	}
	produced, err := step.Execute(ctx, stepCtx)

	for retry := 1; retry < stepCtx.Attempt; retry++ {
		o.metrics.RecordStepRetry(step.Name)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return produced, err
}

// compensate unwinds completed steps in strict reverse completion order.
// Every completed step is attempted exactly once; per-step failures are
// recorded and never stop compensation of earlier steps. The execution ends
// COMPENSATED unless the engine itself is cancelled mid-rollback, which ends
// it in ERROR.
func (o *Orchestrator) compensate(ctx context.Context, def *Definition, exec *Execution) {
	ctx, span := sagaTracer().Start(ctx, spanSagaCompensate, trace.WithAttributes(
		attribute.String("saga.id", exec.ID),
		attribute.String("saga.definition", def.Name),
	))
	defer span.End()

	_ = exec.TransitionTo(StatusCompensating)
	o.emit(Event{SagaID: exec.ID, Kind: EventCompensationStarted})
	o.snapshot(ctx, exec)

	var failure error
	failedStep := ""
	if exec.FailedStep != nil {
		failure = errors.New(exec.FailedStep.Error)
		failedStep = exec.FailedStep.StepName
	}

	// steps compensated before a crash stay compensated on resume
	done := make(map[string]struct{}, len(exec.CompensatedSteps))
	for _, name := range exec.CompensatedSteps {
		done[name] = struct{}{}
	}

	for i := len(exec.CompletedSteps) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			// remaining compensations cannot be attempted: the rollback
			// itself is broken
			_ = exec.TransitionTo(StatusError)
			o.emit(Event{SagaID: exec.ID, Kind: EventSagaFailed, Error: ctx.Err().Error()})
			o.logger.Error("saga rollback aborted",
				"saga_id", exec.ID,
				"remaining_steps", i+1,
				"error", ctx.Err(),
			)
			span.SetStatus(codes.Error, ctx.Err().Error())
			return
		}

		completed := exec.CompletedSteps[i]
		if _, ok := done[completed.StepName]; ok {
			continue
		}
		step := def.StepByName(completed.StepName)
		if step == nil {
			err := fmt.Errorf("step %q not present in definition %q", completed.StepName, def.Name)
			exec.RecordCompensationFailure(completed.StepName, completed.Index, err)
			o.emit(Event{SagaID: exec.ID, Kind: EventCompensationFailed, StepName: completed.StepName, Error: err.Error()})
			o.metrics.RecordCompensation("failed")
			continue
		}

		err := step.Compensate(ctx, &CompensationContext{
			SagaID:     exec.ID,
			StepName:   completed.StepName,
			FailedStep: failedStep,
			Failure:    failure,
			Data:       exec.ContextSnapshot(),
			Produced:   copyData(completed.Produced),
		})
		if err != nil {
			exec.RecordCompensationFailure(completed.StepName, completed.Index, err)
			o.emit(Event{SagaID: exec.ID, Kind: EventCompensationFailed, StepName: completed.StepName, Error: err.Error()})
			o.metrics.RecordCompensation("failed")
			o.logger.Warn("saga compensation failed",
				"saga_id", exec.ID,
				"step", completed.StepName,
				"error", err,
			)
			continue
		}

		exec.MarkStepCompensated(completed.StepName)
		o.emit(Event{SagaID: exec.ID, Kind: EventStepCompensated, StepName: completed.StepName})
		o.metrics.RecordCompensation("completed")
		o.snapshot(ctx, exec)
	}

	_ = exec.TransitionTo(StatusCompensated)
	failureMsg := ""
	if failure != nil {
		failureMsg = failure.Error()
	}
	o.emit(Event{SagaID: exec.ID, Kind: EventSagaFailed, Error: failureMsg})
}

// finish persists the terminal snapshot, moves the execution from the
// running set to history, and records terminal metrics.
func (o *Orchestrator) finish(ctx context.Context, exec *Execution) {
	o.snapshot(context.WithoutCancel(ctx), exec)
	o.untrack(exec.ID)
	o.history.Add(exec)

	status := exec.Status.String()
	o.metrics.RecordSagaExecution(status)
	if exec.CompletedAt != nil {
		o.metrics.RecordSagaDuration(status, exec.CompletedAt.Sub(exec.StartedAt))
	}
	o.logger.Info("saga finished",
		"saga_id", exec.ID,
		"status", status,
		"completed_steps", len(exec.CompletedSteps),
		"compensated_steps", len(exec.CompensatedSteps),
	)
}

// snapshot updates the in-memory running view and writes the snapshot to the
// state store. A store failure marks the execution persistence-degraded and
// is logged distinctly; it never fails the saga.
func (o *Orchestrator) snapshot(ctx context.Context, exec *Execution) {
	o.track(exec)
	if o.store == nil {
		return
	}
	if err := o.store.Put(ctx, exec); err != nil {
		exec.PersistDegraded = true
		o.metrics.RecordPersistenceFailure()
		perr := &PersistenceError{SagaID: exec.ID, Op: "put", Err: err}
		o.logger.Error("saga snapshot write failed, crash recovery unavailable for this run",
			"saga_id", exec.ID,
			"error", perr,
		)
	}
}

func (o *Orchestrator) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, sink := range o.sinks {
		sink.Emit(event)
	}
}

// claim takes exclusive ownership of a saga id. Exactly one control flow may
// drive an id at a time; the claim is released by finish or by the caller on
// an aborted start.
func (o *Orchestrator) claim(exec *Execution) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[exec.ID]; ok {
		return fmt.Errorf("saga %s: %w", exec.ID, ErrSagaRunning)
	}
	o.running[exec.ID] = exec.Clone()
	return nil
}

func (o *Orchestrator) track(exec *Execution) {
	o.mu.Lock()
	o.running[exec.ID] = exec.Clone()
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(sagaID string) {
	o.mu.Lock()
	delete(o.running, sagaID)
	o.mu.Unlock()
}
