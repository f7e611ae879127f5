// Package saga runs a sequence of forward steps against systems that cannot
// share one transaction, and undoes the completed ones in reverse order when
// a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/logging"
)

// Step is one forward action and its optional compensation.
type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Error reports the step that failed and whatever went wrong while undoing
// the steps before it.
type Error struct {
	Step         string
	Err          error
	Compensation error
	Compensated  []string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
	if e.Compensation != nil {
		msg += fmt.Sprintf("; compensation failed: %v", e.Compensation)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Compensation == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Compensation}
}

// Saga keeps the log of completed steps.
type Saga struct {
	name      string
	logger    logging.Logger
	completed []Step
}

func New(name string, logger logging.Logger) *Saga {
	return &Saga{name: name, logger: logger.With("saga", name)}
}

// Run executes step. On failure every previously completed step is
// compensated in reverse order and an *Error is returned.
func (s *Saga) Run(ctx context.Context, step Step) error {
	if err := step.Do(ctx); err != nil {
		s.logger.Warn(ctx, "saga step failed, compensating", "step", step.Name, "error", err)
		compensated, cErr := s.compensate(ctx)
		return &Error{Step: step.Name, Err: err, Compensation: cErr, Compensated: compensated}
	}
	s.completed = append(s.completed, step)
	return nil
}

// Completed lists the names of the steps done so far, oldest first.
func (s *Saga) Completed() []string {
	names := make([]string, 0, len(s.completed))
	for _, st := range s.completed {
		names = append(names, st.Name)
	}
	return names
}

func (s *Saga) compensate(ctx context.Context) ([]string, error) {
	var errs []error
	var done []string
	for i := len(s.completed) - 1; i >= 0; i-- {
		st := s.completed[i]
		if st.Compensate == nil {
			continue
		}
		if err := st.Compensate(ctx); err != nil {
			s.logger.Error(ctx, "compensation failed", "step", st.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", st.Name, err))
			continue
		}
		done = append(done, st.Name)
	}
	s.completed = nil
	return done, errors.Join(errs...)
}

// Execute runs steps in order on a fresh Saga.
func Execute(ctx context.Context, name string, logger logging.Logger, steps ...Step) error {
	s := New(name, logger)
	for _, st := range steps {
		if err := s.Run(ctx, st); err != nil {
			return err
		}
	}
	return nil
}
