package scraping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidWorkflow marks configuration-class failures: the workflow
	// definition or the registry is wrong, retrying will not help.
	ErrInvalidWorkflow = errors.New("invalid workflow definition")
	// ErrDependencyCycle is matched by *DependencyError.
	ErrDependencyCycle = errors.New("prerequisite cycle or missing dependency")
)

// DependencyError is returned when pending steps can never become eligible.
type DependencyError struct {
	Stuck []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: stuck steps [%s]", ErrDependencyCycle, strings.Join(e.Stuck, ", "))
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyCycle || target == ErrInvalidWorkflow
}

// StepState is the lifecycle state of a step inside one run.
type StepState int

const (
	StatePending StepState = iota
	StateEligible
	StateRunning
	StateSucceeded
	StateFailed
	StateSkipped
)

func (s StepState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEligible:
		return "eligible"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (s StepState) terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// ReasonCancelled is the skip reason of steps that never started because the run was cancelled.
const ReasonCancelled = "cancelled"

// StepReport is the outcome of one step in a run.
type StepReport struct {
	Name     string
	State    StepState
	Reason   string
	Err      error
	Duration time.Duration
}

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunSucceeded      RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
)

// RunResult carries per-step outcomes in plan order.
type RunResult struct {
	RunID     string
	Status    RunStatus
	Steps     []StepReport
	Cancelled bool
}

// Step returns the report of the named step.
func (r *RunResult) Step(name string) (StepReport, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepReport{}, false
}

// Err aggregates the errors of failed steps; nil when no step failed.
func (r *RunResult) Err() error {
	var result *multierror.Error
	for _, s := range r.Steps {
		if s.State == StateFailed {
			result = multierror.Append(result, fmt.Errorf("step %s: %w", s.Name, s.Err))
		}
	}
	return result.ErrorOrNil()
}

// Engine runs workflow plans against the steps of a Registry. Steps run one
// at a time: guards read state written by earlier steps.
type Engine struct {
	registry *Registry
	log      zerolog.Logger
}

// NewEngine creates an Engine backed by registry.
func NewEngine(registry *Registry, logger zerolog.Logger) *Engine {
	return &Engine{
		registry: registry,
		log:      logger.With().Str("component", "workflow-engine").Logger(),
	}
}

// Run executes the steps named in plan against sc.
//
// Steps run in topological order of their prerequisites; among steps that are
// ready at the same time the one declared first in plan wins. A step whose
// prerequisites did not all succeed is skipped, as is a step whose guard is
// false. Run returns an error wrapping ErrInvalidWorkflow when the plan cannot
// be resolved, and ctx.Err() when the run was cancelled; in both cases the
// partial RunResult is returned too.
func (e *Engine) Run(ctx context.Context, plan []string, sc *Context) (*RunResult, error) {
	steps := make([]Step, len(plan))
	index := make(map[string]int, len(plan))
	for i, name := range plan {
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: step %q listed twice", ErrInvalidWorkflow, name)
		}
		st, ok := e.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown step %q", ErrInvalidWorkflow, name)
		}
		steps[i] = st
		index[name] = i
	}

	result := &RunResult{RunID: sc.RunID, Steps: make([]StepReport, len(steps))}
	for i, st := range steps {
		result.Steps[i] = StepReport{Name: st.Name(), State: StatePending}
	}
	log := e.log.With().Str("run_id", sc.RunID).Str("location", sc.Location.Key()).Logger()

	for {
		next, blockedBy, pending := e.nextReady(steps, index, result, sc)
		if pending == 0 {
			break
		}
		if next < 0 {
			err := &DependencyError{Stuck: pendingNames(result)}
			result.Status = RunPartialFailure
			log.Error().Err(err).Msg("workflow cannot make progress")
			return result, err
		}

		report := &result.Steps[next]
		if blockedBy != "" {
			report.State = StateSkipped
			report.Reason = fmt.Sprintf("prerequisite %s did not succeed", blockedBy)
			log.Debug().Str("step", report.Name).Str("reason", report.Reason).Msg("step skipped")
			continue
		}

		if err := ctx.Err(); err != nil {
			for i := range result.Steps {
				if result.Steps[i].State == StatePending {
					result.Steps[i].State = StateSkipped
					result.Steps[i].Reason = ReasonCancelled
				}
			}
			result.Cancelled = true
			result.Status = RunPartialFailure
			log.Warn().Err(err).Msg("workflow cancelled")
			return result, err
		}

		st := steps[next]
		if !st.CanExecute(sc) {
			report.State = StateSkipped
			report.Reason = "guard not satisfied"
			log.Debug().Str("step", report.Name).Msg("step guard not satisfied, skipping")
			continue
		}

		transition(log, report, StateEligible)
		transition(log, report, StateRunning)
		started := time.Now()
		res := e.execute(ctx, st, sc)
		report.Duration = time.Since(started)

		switch res.Outcome {
		case OutcomeSucceeded:
			report.State = StateSucceeded
			sc.markSucceeded(report.Name, res.Artifacts)
			log.Debug().Str("step", report.Name).Dur("took", report.Duration).Msg("step succeeded")
		case OutcomeSkipped:
			report.State = StateSkipped
			report.Reason = res.Reason
			log.Debug().Str("step", report.Name).Str("reason", res.Reason).Msg("step skipped itself")
		default:
			report.State = StateFailed
			report.Err = res.Err
			if report.Err == nil {
				report.Err = errors.New(res.Reason)
			}
			report.Reason = report.Err.Error()
			log.Warn().Err(report.Err).Str("step", report.Name).Msg("step failed")
		}
	}

	result.Status = RunSucceeded
	for _, s := range result.Steps {
		if s.State == StateFailed {
			result.Status = RunPartialFailure
			break
		}
	}
	return result, nil
}

// nextReady returns the first pending step (in plan order) that can be
// decided: all prerequisites succeeded, or one of them settled without
// succeeding (returned as blockedBy). It also counts the pending steps.
func (e *Engine) nextReady(steps []Step, index map[string]int, result *RunResult, sc *Context) (int, string, int) {
	pending := 0
	next, blockedBy := -1, ""
	for i, st := range steps {
		if result.Steps[i].State != StatePending {
			continue
		}
		pending++
		if next >= 0 {
			continue
		}

		ready, blocked := true, ""
		for _, pre := range st.Prerequisites() {
			j, inPlan := index[pre]
			if !inPlan {
				// Satisfied only if an earlier run on this Context already did it.
				if !sc.Succeeded(pre) {
					ready = false
				}
				continue
			}
			state := result.Steps[j].State
			if !state.terminal() {
				ready = false
				continue
			}
			if state != StateSucceeded && blocked == "" {
				blocked = pre
			}
		}
		if ready || blocked != "" {
			next, blockedBy = i, blocked
		}
	}
	return next, blockedBy, pending
}

func transition(log zerolog.Logger, report *StepReport, to StepState) {
	log.Trace().Str("step", report.Name).Stringer("from", report.State).Stringer("to", to).Msg("step state")
	report.State = to
}

func (e *Engine) execute(ctx context.Context, st Step, sc *Context) (res StepResult) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(fmt.Errorf("step %s panicked: %v", st.Name(), r))
		}
	}()
	return st.Execute(ctx, sc)
}

func pendingNames(result *RunResult) []string {
	var names []string
	for _, s := range result.Steps {
		if s.State == StatePending {
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names
}
