package domain

import "github.com/pkg/errors"

// Sentinel errors for the saga/order failure taxonomy. Callers classify with
// errors.Is; call sites wrap them with context via errors.Wrapf.
var (
	// ErrInvalidStateTransition is returned when an aggregate mutator is
	// called from a state that is not a legal source for the transition.
	// Caller error, never retried.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrAmountMismatch is returned when the externally verified payment
	// amount does not equal the order's precomputed total.
	ErrAmountMismatch = errors.New("payment amount mismatch")

	// ErrStepExecutionFailed is returned when a mandatory step's gateway
	// call failed or returned a negative result.
	ErrStepExecutionFailed = errors.New("step execution failed")

	// ErrSagaStateMismatch is returned when a step is completed or failed
	// out of order, or compensation is invoked outside COMPENSATING.
	ErrSagaStateMismatch = errors.New("saga state mismatch")

	// ErrCompensationFailed is returned when a compensation action itself
	// failed. Terminal; requires manual operator intervention.
	ErrCompensationFailed = errors.New("compensation failed")

	ErrOrderNotFound = errors.New("order not found")
	ErrSagaNotFound  = errors.New("saga not found")
)
