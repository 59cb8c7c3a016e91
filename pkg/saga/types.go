package saga

import (
	"context"
	"fmt"
)

// Action is a forward or compensating operation closed over the saga context.
type Action func(ctx context.Context, sc *Context) error

// Step is an atomic named forward action paired with an optional
// compensating action. Steps with a nil Compensate (pure reads, local
// validations) are skipped during the reverse pass.
type Step struct {
	Name       string
	Forward    Action
	Compensate Action
}

// CompensationError records a single failed compensating action. It is
// accumulated into the Result, never propagated as the saga's error: the
// original forward failure always wins.
type CompensationError struct {
	Step string
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for step %q failed: %v", e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// StepError wraps the forward failure of a named step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// PreconditionError is a business-rule rejection raised before any side
// effect runs. It never triggers compensation because nothing happened yet,
// and callers surface it distinctly from saga failures: it signals bad input
// or an unauthorized request, not an inconsistency between systems.
type PreconditionError struct {
	Rule    string
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition %s: %s", e.Rule, e.Message)
}

// Result reports the outcome of one saga run. Compensation errors are
// carried alongside the original error so callers can audit partial
// rollbacks; they are never fatal to the compensation pass itself.
type Result struct {
	Completed          []string
	FailedStep         string
	CompensationErrors []*CompensationError

	err error
}

// Succeeded reports whether every forward action completed.
func (r Result) Succeeded() bool {
	return r.err == nil
}

// Err returns the original forward failure, or nil on success. This is what
// upstream callers re-raise; compensation outcomes are available separately.
func (r Result) Err() error {
	return r.err
}

// FullyCompensated reports whether every completed step that defines a
// compensation rolled back cleanly. Meaningful only for failed runs.
func (r Result) FullyCompensated() bool {
	return r.err != nil && len(r.CompensationErrors) == 0
}
