package saga

import (
	"context"
	"fmt"
	"time"
)

// Step defines one executable unit in a saga: a forward action, an optional
// compensation, and retry/timeout policy. A step without a compensation has
// nothing to undo.
type Step struct {
	Name         string
	Action       ActionFunc
	Compensation CompensationFunc
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// StepOption configures a step definition.
type StepOption func(step *Step) error

// WithCompensation configures the compensation function.
func WithCompensation(fn CompensationFunc) StepOption {
	return func(step *Step) error {
		step.Compensation = fn
		return nil
	}
}

// WithTimeout bounds each forward attempt and the single compensation
// attempt. Zero means no limit.
func WithTimeout(timeout time.Duration) StepOption {
	return func(step *Step) error {
		if timeout < 0 {
			return fmt.Errorf("timeout cannot be negative")
		}
		step.Timeout = timeout
		return nil
	}
}

// WithMaxRetries allows up to maxRetries additional attempts after the first
// failure, for maxRetries+1 attempts total.
func WithMaxRetries(maxRetries int) StepOption {
	return func(step *Step) error {
		if maxRetries < 0 {
			return fmt.Errorf("max retries cannot be negative")
		}
		step.MaxRetries = maxRetries
		return nil
	}
}

// WithRetryDelay sets the linear backoff base: attempt N waits N*delay
// before retrying.
func WithRetryDelay(delay time.Duration) StepOption {
	return func(step *Step) error {
		if delay < 0 {
			return fmt.Errorf("retry delay cannot be negative")
		}
		step.RetryDelay = delay
		return nil
	}
}

func (s *Step) validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name cannot be empty")
	}
	if s.Action == nil {
		return fmt.Errorf("step %q missing action", s.Name)
	}
	return nil
}

// Execute runs the forward action with retry and per-attempt timeout. An
// attempt exceeding the timeout counts as a failure of that attempt. Between
// attempts the step waits RetryDelay*attemptNumber. Returns the action's
// produced data, or the last error once retries are exhausted.
func (s *Step) Execute(ctx context.Context, stepCtx *StepContext) (map[string]any, error) {
	var lastErr error
	for attempt := 1; attempt <= s.MaxRetries+1; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, time.Duration(attempt-1)*s.RetryDelay); err != nil {
				return nil, lastErr
			}
		}

		stepCtx.Attempt = attempt
		produced, err := s.attempt(ctx, stepCtx)
		if err == nil {
			return produced, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// Compensate invokes the compensation exactly once, bounded by the step
// timeout. Absent compensation reports success: there is nothing to undo.
func (s *Step) Compensate(ctx context.Context, compCtx *CompensationContext) error {
	if s.Compensation == nil {
		return nil
	}

	attemptCtx := ctx
	cancel := func() {}
	if s.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, s.Timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Compensation(attemptCtx, compCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("compensate step %q after %s: %w", s.Name, s.Timeout, ErrStepTimeout)
	}
}

// attempt races one invocation of the action against the step timeout. The
// action runs in its own goroutine so an action that ignores context
// cancellation still cannot stall the execution past its budget.
func (s *Step) attempt(ctx context.Context, stepCtx *StepContext) (map[string]any, error) {
	attemptCtx := ctx
	cancel := func() {}
	if s.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, s.Timeout)
	}
	defer cancel()

	type outcome struct {
		produced map[string]any
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		produced, err := s.Action(attemptCtx, stepCtx)
		done <- outcome{produced: produced, err: err}
	}()

	select {
	case out := <-done:
		return out.produced, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("step %q attempt %d after %s: %w", s.Name, stepCtx.Attempt, s.Timeout, ErrStepTimeout)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
