// Package transaction runs sequences of independent writes with typed
// compensating actions.
package transaction

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Step is one write and the action that undoes it. Undo is only called when
// Do succeeded and a later step failed.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// StepError reports which step broke the sequence.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type Executor struct {
	logger logrus.FieldLogger
}

func NewExecutor(logger logrus.FieldLogger) *Executor {
	return &Executor{logger: logger}
}

// Run executes steps in order. When a step fails the completed steps are
// undone newest first. A failing undo is logged as a dead-letter event and
// does not replace the original error.
func (e *Executor) Run(ctx context.Context, steps ...Step) error {
	done := make([]Step, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			e.rollback(context.WithoutCancel(ctx), done, step.Name, err)
			return &StepError{Step: step.Name, Err: err}
		}
		if err := step.Do(ctx); err != nil {
			e.rollback(context.WithoutCancel(ctx), done, step.Name, err)
			return &StepError{Step: step.Name, Err: err}
		}
		done = append(done, step)
	}
	return nil
}

func (e *Executor) rollback(ctx context.Context, done []Step, failedStep string, cause error) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx); err != nil && e.logger != nil {
			e.logger.WithFields(logrus.Fields{
				"event":       "dead_letter",
				"step":        step.Name,
				"failed_step": failedStep,
				"cause":       cause.Error(),
			}).WithError(err).Error("compensating action failed")
		}
	}
}
