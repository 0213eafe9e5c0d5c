// Package workflow implements the project build pipeline: the ordered steps a
// project moves through, the predicates that decide whether a step is done,
// and the navigation rules between steps. It is pure; callers load the facts
// and persist the resulting State.
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

type Step string

const (
	StepInitial   Step = "initial"
	StepSitemap   Step = "sitemap"
	StepWireframe Step = "wireframe"
	StepStyle     Step = "style"
	StepReview    Step = "review"
	StepExport    Step = "export"
)

// Steps lists the pipeline in order.
var Steps = []Step{StepInitial, StepSitemap, StepWireframe, StepStyle, StepReview, StepExport}

var ErrViolation = errors.New("workflow violation")
var ErrUnknownStep = errors.New("unknown workflow step")

// ViolationError describes a rejected transition. It unwraps to ErrViolation.
type ViolationError struct {
	From    Step
	To      Step
	Reason  string
	Missing []string
}

func (e *ViolationError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("workflow violation: %s", e.Reason)
	}
	return fmt.Sprintf("workflow violation: %s (missing: %s)", e.Reason, strings.Join(e.Missing, ", "))
}

func (e *ViolationError) Unwrap() error { return ErrViolation }

// Index returns the position of step in the pipeline, or -1.
func Index(step Step) int {
	for i, candidate := range Steps {
		if candidate == step {
			return i
		}
	}
	return -1
}

func Parse(value string) (Step, error) {
	step := Step(strings.ToLower(strings.TrimSpace(value)))
	if Index(step) < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, value)
	}
	return step, nil
}

// State is the persisted navigation state of one project.
type State struct {
	Current   Step   `json:"currentStep"`
	Completed []Step `json:"completedSteps"`
}

func NewState() State {
	return State{Current: StepInitial, Completed: []Step{}}
}

func (s State) IsCompleted(step Step) bool {
	for _, done := range s.Completed {
		if done == step {
			return true
		}
	}
	return false
}

// Normalize repairs a state loaded from storage: unknown current steps fall
// back to initial, completed steps are deduplicated and kept in pipeline
// order.
func (s State) Normalize() State {
	out := State{Current: s.Current, Completed: []Step{}}
	if Index(out.Current) < 0 {
		out.Current = StepInitial
	}
	for _, step := range Steps {
		if s.IsCompleted(step) {
			out.Completed = append(out.Completed, step)
		}
	}
	return out
}

// GoTo moves to target when it is at most one step ahead of the current
// step. Any earlier step is always reachable.
func (s State) GoTo(target Step) (State, error) {
	ti := Index(target)
	if ti < 0 {
		return s, fmt.Errorf("%w: %q", ErrUnknownStep, target)
	}
	if ti > Index(s.Current)+1 {
		return s, &ViolationError{
			From:   s.Current,
			To:     target,
			Reason: fmt.Sprintf("cannot skip from %s to %s", s.Current, target),
		}
	}
	next := s.clone()
	next.Current = target
	return next, nil
}

// Next advances one step once the current step validates. The current step
// is recorded as completed on the way.
func (s State) Next(facts Facts) (State, error) {
	ci := Index(s.Current)
	if ci >= len(Steps)-1 {
		return s, &ViolationError{From: s.Current, Reason: "already at the final step"}
	}
	validation := Validate(s.Current, facts)
	if !validation.IsComplete {
		return s, &ViolationError{
			From:    s.Current,
			To:      Steps[ci+1],
			Reason:  fmt.Sprintf("step %s is not complete", s.Current),
			Missing: validation.Missing,
		}
	}
	next := s.withCompleted(s.Current)
	next.Current = Steps[ci+1]
	return next, nil
}

// Previous steps back once; at the first step it is a no-op.
func (s State) Previous() State {
	ci := Index(s.Current)
	next := s.clone()
	if ci > 0 {
		next.Current = Steps[ci-1]
	}
	return next
}

// Complete records step as completed when its predicate holds. Completed
// steps are never removed, so repeating the call leaves the state unchanged.
func (s State) Complete(step Step, facts Facts) (State, error) {
	if Index(step) < 0 {
		return s, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	if s.IsCompleted(step) {
		return s.clone(), nil
	}
	validation := Validate(step, facts)
	if !validation.IsComplete {
		return s, &ViolationError{
			From:    s.Current,
			To:      step,
			Reason:  fmt.Sprintf("step %s is not complete", step),
			Missing: validation.Missing,
		}
	}
	return s.withCompleted(step), nil
}

func (s State) Reset() State {
	return NewState()
}

func (s State) clone() State {
	completed := make([]Step, len(s.Completed))
	copy(completed, s.Completed)
	return State{Current: s.Current, Completed: completed}
}

func (s State) withCompleted(step Step) State {
	next := s.clone()
	if !next.IsCompleted(step) {
		next.Completed = append(next.Completed, step)
	}
	return next.Normalize()
}
