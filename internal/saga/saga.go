// Package saga runs an ordered list of non-transactional steps and, when a
// step fails, compensates the completed ones in reverse order.
//
// A saga gives no isolation: another writer may observe or change state
// between steps. Callers use the Result to tell a clean failure (nothing
// left behind) from a partial one.
package saga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Step is one forward action plus its optional undo.
type Step struct {
	// Name identifies the step in logs and results.
	Name string

	// Execute performs the forward action.
	Execute func(ctx context.Context) error

	// Compensate undoes Execute. Nil means nothing to undo. It should be
	// idempotent and tolerate the effect already being gone.
	Compensate func(ctx context.Context) error

	// Timeout overrides Config.StepTimeout for this step.
	Timeout time.Duration

	// InDoubtOnFailure marks a step whose effect may have landed even when
	// Execute returns an error, such as a write whose response was lost.
	// When it fails, its own Compensate runs before the earlier steps'.
	InDoubtOnFailure bool
}

// Config controls timeouts, compensation and logging.
type Config struct {
	// StepTimeout bounds each step. Default: 30 seconds.
	StepTimeout time.Duration

	// CompensationTimeout bounds each compensation. Default: 30 seconds.
	CompensationTimeout time.Duration

	// SkipCompensation leaves completed steps in place on failure.
	SkipCompensation bool

	// Logger receives step and compensation events. Default: discard.
	Logger *slog.Logger
}

// CompensationError records a failed undo.
type CompensationError struct {
	StepName string
	Err      error
}

// Result describes how far a saga got.
type Result struct {
	// CompletedSteps lists steps whose Execute succeeded, in order.
	CompletedSteps []string

	// FailedStep is the step whose Execute failed; empty on success.
	FailedStep string

	// InDoubt is FailedStep when that step was marked InDoubtOnFailure.
	InDoubt string

	// Compensated lists steps that were successfully undone.
	Compensated []string

	// CompensationErrors lists undo attempts that failed.
	CompensationErrors []CompensationError

	Duration time.Duration
}

// Clean reports whether every completed or in-doubt step was undone, i.e.
// the saga left no effect behind.
func (r *Result) Clean() bool {
	if r == nil {
		return false
	}
	undo := len(r.CompletedSteps)
	if r.InDoubt != "" {
		undo++
	}
	return len(r.Compensated) == undo
}

// StepError is returned by Execute when a step fails.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Saga is an ordered set of steps. It is not safe for concurrent use.
type Saga struct {
	config Config
	steps  []Step
}

// New creates an empty saga.
func New(config Config) *Saga {
	if config.StepTimeout <= 0 {
		config.StepTimeout = 30 * time.Second
	}
	if config.CompensationTimeout <= 0 {
		config.CompensationTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Saga{config: config}
}

// AddStep appends a step; steps run in insertion order.
func (s *Saga) AddStep(step Step) {
	s.steps = append(s.steps, step)
}

// StepCount returns the number of registered steps.
func (s *Saga) StepCount() int {
	return len(s.steps)
}

// Execute runs the steps in order. On the first failure it compensates the
// completed steps in reverse order (unless disabled) and returns a
// *StepError. The Result is always non-nil.
func (s *Saga) Execute(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}
	completed := make([]Step, 0, len(s.steps))

	for _, step := range s.steps {
		err := ctx.Err()
		if err == nil {
			err = s.executeStep(ctx, step)
		}
		if err != nil {
			result.FailedStep = step.Name
			s.config.Logger.Warn("saga step failed", "step", step.Name, "error", err)
			undo := completed
			if step.InDoubtOnFailure {
				result.InDoubt = step.Name
				undo = append(undo, step)
			}
			if !s.config.SkipCompensation {
				s.compensate(undo, result)
			}
			result.Duration = time.Since(start)
			return result, &StepError{Step: step.Name, Err: err}
		}
		completed = append(completed, step)
		result.CompletedSteps = append(result.CompletedSteps, step.Name)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (s *Saga) executeStep(ctx context.Context, step Step) error {
	if step.Execute == nil {
		return errors.New("saga: step has no Execute function")
	}
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = s.config.StepTimeout
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.config.Logger.Debug("saga step start", "step", step.Name)
	started := time.Now()

	// Execute runs inline and must return once stepCtx is done, so a late
	// write cannot land after compensation has run.
	err := step.Execute(stepCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("step timed out after %v: %w", timeout, err)
		}
		return err
	}
	s.config.Logger.Debug("saga step done", "step", step.Name, "duration", time.Since(started))
	return nil
}

// compensate undoes the given steps in reverse order. The compensation
// context is detached from the caller so cleanup still runs after a cancel.
func (s *Saga) compensate(completed []Step, result *Result) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			// Nothing to undo counts as undone.
			result.Compensated = append(result.Compensated, step.Name)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.CompensationTimeout)
		err := step.Compensate(ctx)
		cancel()

		if err != nil {
			s.config.Logger.Error("saga compensation failed", "step", step.Name, "error", err)
			result.CompensationErrors = append(result.CompensationErrors, CompensationError{StepName: step.Name, Err: err})
			continue
		}
		s.config.Logger.Info("saga step compensated", "step", step.Name)
		result.Compensated = append(result.Compensated, step.Name)
	}
}
