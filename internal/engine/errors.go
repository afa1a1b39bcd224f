package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCandidate is returned by a single adapter that found nothing usable.
	ErrNoCandidate = errors.New("no candidate")
	// ErrNoValidCandidate means every source came back empty or filtered.
	ErrNoValidCandidate = errors.New("no valid candidate from any source")
	// ErrSubmitDidNotAdvance means a code was submitted but the stage
	// indicator never moved past the current stage.
	ErrSubmitDidNotAdvance = errors.New("submit did not advance stage")
	// ErrRetryBudgetExhausted is stage-fatal.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	// ErrPageInconsistent reports a stage indicator far behind the expected stage.
	ErrPageInconsistent = errors.New("page stage indicator regressed")
	// ErrCapabilityFailure wraps errors coming from the Page itself.
	ErrCapabilityFailure = errors.New("browser capability failure")
)

// StageError is surfaced to the run orchestrator when a stage fails for good.
type StageError struct {
	Stage  int
	Reason error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d failed: %v", e.Stage, e.Reason)
}

func (e *StageError) Unwrap() error { return e.Reason }

// RegressionError means the page shows a stage more than the regression
// tolerance behind the one being resolved.
type RegressionError struct {
	Expected int
	Page     int
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("%v: page shows stage %d, expected %d", ErrPageInconsistent, e.Page, e.Expected)
}

func (e *RegressionError) Unwrap() error { return ErrPageInconsistent }

// capability tags err as a Page failure while keeping the cause inspectable.
func capability(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrCapabilityFailure, op, err)
}
