package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// IsOneOff reports whether the cost is amortized over a fixed number of cycles.
func (c RecurringCost) IsOneOff() bool {
	return c.TotalBillingCycles != nil
}

// Amount returns the fixed amount, or zero when none is set.
func (c RecurringCost) Amount() decimal.Decimal {
	if !c.FixedAmount.Valid {
		return decimal.Zero
	}
	return c.FixedAmount.Decimal
}

// Validate checks the definition invariants. Splits are validated too; a cost
// without splits is never usable.
func (c RecurringCost) Validate(splits []RecurringCostSplit) error {
	v := &ValidationError{Kind: ErrInvalidCost}

	if strings.TrimSpace(c.ToAccountID) == "" {
		v.add(ErrMissingDestination)
	}

	switch c.Type {
	case CostNormal:
		if !c.FixedAmount.Valid {
			v.add(ErrFixedAmountRequired)
		} else if !c.FixedAmount.Decimal.IsPositive() {
			v.add(ErrInvalidAmount)
		}
		if c.IsOneOff() && c.InitialBillingCycleID == "" {
			v.add(ErrOneOffNeedsInitial)
		}
	case CostArrearsBalance, CostArrearsTransactions:
		if c.InitialBillingCycleID == "" {
			v.add(ErrArrearsNeedsInitial)
		}
		if c.IsOneOff() {
			v.add(ErrArrearsOneOff)
		}
		if c.FixedAmount.Valid {
			v.add(ErrFixedAmountNotAllowed)
		}
	default:
		v.add(ErrUnknownCostType)
	}

	if c.TotalBillingCycles != nil && *c.TotalBillingCycles < 1 {
		v.add(ErrInvalidTotalCycles)
	}

	if len(splits) == 0 {
		v.add(ErrNoSplits)
	}
	for _, s := range splits {
		if !s.Portion.IsPositive() {
			v.add(ErrInvalidPortion)
			break
		}
	}

	return v.orNil()
}

// AmortizedAmount returns the share of a one-off cost billed in the given
// cycle number (1-based). Every cycle gets the amount divided evenly and
// rounded down to currency precision; the last cycle also takes the remainder
// so the cycles add up to the fixed amount exactly. Cycles outside
// [1, TotalBillingCycles] get zero.
func (c RecurringCost) AmortizedAmount(number int) decimal.Decimal {
	if !c.IsOneOff() {
		return c.Amount()
	}
	total := *c.TotalBillingCycles
	if number < 1 || number > total {
		return decimal.Zero
	}
	amount := c.Amount()
	per := amount.DivRound(decimal.NewFromInt(int64(total)), CurrencyPlaces+4).RoundDown(CurrencyPlaces)
	if number < total {
		return per
	}
	return amount.Sub(per.Mul(decimal.NewFromInt(int64(total - 1))))
}
