package ledger

import (
	"github.com/shopspring/decimal"

	"housebill/internal/core"
)

// ValidateBalanced ensures legs form a balanced double-entry posting.
func ValidateBalanced(legs []core.Leg) error {
	if len(legs) < 2 {
		return core.ErrTooFewLegs
	}

	total := decimal.Zero
	for _, leg := range legs {
		if leg.Amount.IsZero() {
			return core.ErrZeroLeg
		}
		total = total.Add(leg.Amount)
	}

	if !total.IsZero() {
		return core.ErrUnbalancedLegs
	}
	return nil
}

// Transfer builds the two legs moving amount from one account to another:
// the destination is debited and the source credited.
func Transfer(from, to string, amount decimal.Decimal) []core.Leg {
	return []core.Leg{
		{AccountID: to, Amount: amount},
		{AccountID: from, Amount: amount.Neg()},
	}
}
