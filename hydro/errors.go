package hydro

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled marks a run or optimisation that stopped because its context
// was cancelled. Errors returned on cancellation wrap both ErrCancelled and the
// context error.
var ErrCancelled = errors.New("cancelled")

// InvalidParameterError represents malformed input rejected before any state
// was mutated.
type InvalidParameterError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%g: %s", e.Field, e.Value, e.Reason)
}

// CyclicConstraintError is returned when check valves form a loop in which
// every valve only allows flow into the next one.
type CyclicConstraintError struct {
	Cycle []string // area codes
}

func (e *CyclicConstraintError) Error() string {
	return fmt.Sprintf("keerklep cycle between areas %s", strings.Join(e.Cycle, " -> "))
}

// SimulationDivergedError reports a non-finite state during a run. Edge is
// empty when the divergence was detected on an area volume.
type SimulationDivergedError struct {
	Step int
	Area string
	Edge string
}

func (e *SimulationDivergedError) Error() string {
	if e.Edge != "" {
		return fmt.Sprintf("simulation diverged at step %d on connection %s", e.Step, e.Edge)
	}
	return fmt.Sprintf("simulation diverged at step %d in area %s", e.Step, e.Area)
}

// InfeasibleScheduleError is returned when no pump schedule satisfies the
// level constraints. Hour is the first hour index at which the constraint
// could not be met.
type InfeasibleScheduleError struct {
	Constraint string
	Hour       int
}

func (e *InfeasibleScheduleError) Error() string {
	return fmt.Sprintf("no feasible schedule: %s unreachable at hour %d", e.Constraint, e.Hour)
}

// Cancelled wraps a context error so that it matches both ErrCancelled and the
// original cause.
func Cancelled(step int, cause error) error {
	return fmt.Errorf("%w at step %d: %w", ErrCancelled, step, cause)
}

func invalid(field string, value float64, reason string) error {
	return &InvalidParameterError{Field: field, Value: value, Reason: reason}
}
