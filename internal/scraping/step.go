package scraping

import (
	"context"
	"errors"
)

// Step is one unit of scraping work. Steps are stateless; everything a run
// produces or consumes lives in the Context.
type Step interface {
	// Name is the unique key of the step.
	Name() string
	// Prerequisites names the steps that must have succeeded first.
	Prerequisites() []string
	// CanExecute reports whether the Context holds what the step needs.
	CanExecute(sc *Context) bool
	// Execute runs the step. Implementations check ctx at safe points.
	Execute(ctx context.Context, sc *Context) StepResult
}

// Outcome discriminates a StepResult.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// StepResult is the tagged outcome of a step: Succeeded carries artifacts,
// Failed carries an error and Skipped carries a reason.
type StepResult struct {
	Outcome   Outcome
	Artifacts map[string]any
	Err       error
	Reason    string
}

// Succeed returns a successful result. Artifacts are merged into the Context.
func Succeed(artifacts map[string]any) StepResult {
	return StepResult{Outcome: OutcomeSucceeded, Artifacts: artifacts}
}

// Fail returns a failed result.
func Fail(err error) StepResult {
	if err == nil {
		err = errors.New("step failed")
	}
	return StepResult{Outcome: OutcomeFailed, Err: err, Reason: err.Error()}
}

// Skip returns a skipped result.
func Skip(reason string) StepResult {
	return StepResult{Outcome: OutcomeSkipped, Reason: reason}
}
