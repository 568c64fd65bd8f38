package core

import "github.com/shopspring/decimal"

// Share is one split's part of a divided amount.
type Share struct {
	Split  RecurringCostSplit
	Amount decimal.Decimal
}

// Divide apportions amount across splits by portion. Each share is
// amount*portion/sum(portions) rounded to currency precision; whatever the
// rounding leaves over goes to the last split, so the shares always add up
// to the rounded amount. The result keeps the order of splits.
func Divide(amount decimal.Decimal, splits []RecurringCostSplit) ([]Share, error) {
	if len(splits) == 0 {
		return nil, ErrNoSplits
	}

	total := decimal.Zero
	for _, s := range splits {
		if !s.Portion.IsPositive() {
			return nil, ErrInvalidPortion
		}
		total = total.Add(s.Portion)
	}

	amount = RoundCurrency(amount)
	shares := make([]Share, len(splits))
	allocated := decimal.Zero
	for i, s := range splits {
		share := RoundCurrency(amount.Mul(s.Portion).DivRound(total, CurrencyPlaces+8))
		shares[i] = Share{Split: s, Amount: share}
		allocated = allocated.Add(share)
	}

	last := len(shares) - 1
	shares[last].Amount = shares[last].Amount.Add(amount.Sub(allocated))
	return shares, nil
}
