package core

import (
	"errors"
	"strings"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmptyRange = errors.New("date range must end after it starts")

	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidPortion = errors.New("split portion must be greater than zero")

	// Billing cycle timeline.
	ErrOverlappingCycle      = errors.New("billing cycle overlaps an existing cycle")
	ErrNonContiguousCycle    = errors.New("billing cycle is not adjacent to the existing cycles")
	ErrPopulateOutsideCycles = errors.New("cannot populate billing cycles for a date outside the existing cycles")

	// Recurring cost configuration.
	ErrInvalidCost           = errors.New("invalid recurring cost")
	ErrNoSplits              = errors.New("recurring cost has no splits")
	ErrArrearsOneOff         = errors.New("arrears costs cannot be one-off")
	ErrArrearsNeedsInitial   = errors.New("arrears costs require an initial billing cycle")
	ErrOneOffNeedsInitial    = errors.New("one-off costs require an initial billing cycle")
	ErrFixedAmountRequired   = errors.New("normal costs require a fixed amount")
	ErrFixedAmountNotAllowed = errors.New("arrears costs cannot have a fixed amount")
	ErrInvalidTotalCycles    = errors.New("total billing cycles must be at least 1")
	ErrUnknownCostType       = errors.New("unknown recurring cost type")
	ErrMissingDestination    = errors.New("recurring cost requires a destination account")
	ErrCycleBeforeInitial    = errors.New("billing cycle begins before the initial billing cycle")
	ErrNoInitialCycle        = errors.New("recurring cost has no initial billing cycle")

	// Enactment.
	ErrNotEnactable       = errors.New("recurring cost is not enactable for this billing cycle")
	ErrAlreadyEnacted     = errors.New("recurring cost already enacted for this billing cycle")
	ErrNothingToBill      = errors.New("recurring cost amount is zero for this billing cycle")
	ErrCycleNotEnded      = errors.New("billing cycle has not ended yet")
	ErrTransactionsExist  = errors.New("transactions already created for this billing cycle")
	ErrPreviousCycleOpen  = errors.New("previous billing cycle has no transactions yet")
	ErrStatementsNotReady = errors.New("statements cannot be sent for this billing cycle")

	// Ledger.
	ErrUnbalancedLegs    = errors.New("transaction legs do not sum to zero")
	ErrTooFewLegs        = errors.New("transaction needs at least two legs")
	ErrZeroLeg           = errors.New("transaction leg amount cannot be zero")
	ErrAlreadyReconciled = errors.New("statement line already has a transaction")
)

// ValidationError collects every problem found while validating one value.
// errors.Is matches both the Kind and each individual problem.
type ValidationError struct {
	Kind     error
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return e.Kind.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error {
	return append([]error{e.Kind}, e.Problems...)
}

func (e *ValidationError) add(err error) {
	e.Problems = append(e.Problems, err)
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
