package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func intPtr(i int) *int { return &i }

func amount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func oneSplit() []RecurringCostSplit {
	return []RecurringCostSplit{{FromAccountID: "a", Portion: decimal.NewFromInt(1)}}
}

func TestDateValidate(t *testing.T) {
	if err := NewDate(2025, 1, 1).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Date{Time: time.Time{}}).Validate(); err == nil {
		t.Fatalf("expected error for zero date")
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2016-06-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Equal(NewDate(2016, 6, 15)) {
		t.Fatalf("expected 2016-06-15, got %s", d)
	}
	if _, err := ParseDate("15/06/2016"); err == nil {
		t.Fatalf("expected error for bad layout")
	}
}

func TestDateRange(t *testing.T) {
	jan := NewDateRange(NewDate(2016, 1, 1), NewDate(2016, 2, 1))
	feb := NewDateRange(NewDate(2016, 2, 1), NewDate(2016, 3, 1))
	late := NewDateRange(NewDate(2016, 1, 25), NewDate(2016, 2, 25))

	if !jan.Contains(NewDate(2016, 1, 1)) || jan.Contains(NewDate(2016, 2, 1)) {
		t.Errorf("range must include its start and exclude its end")
	}
	if jan.Overlaps(feb) {
		t.Errorf("adjacent ranges must not overlap")
	}
	if !jan.Adjacent(feb) || !feb.Adjacent(jan) {
		t.Errorf("expected jan and feb to be adjacent")
	}
	if !jan.Overlaps(late) {
		t.Errorf("expected overlap with %s", late)
	}
	if err := NewDateRange(NewDate(2016, 2, 1), NewDate(2016, 2, 1)).Validate(); !errors.Is(err, ErrEmptyRange) {
		t.Errorf("expected ErrEmptyRange, got %v", err)
	}
}

func TestRecurringCostValidate(t *testing.T) {
	tests := []struct {
		name   string
		cost   RecurringCost
		splits []RecurringCostSplit
		want   error
	}{
		{
			name:   "normal recurring",
			cost:   RecurringCost{ToAccountID: "x", Type: CostNormal, FixedAmount: amount("100")},
			splits: oneSplit(),
		},
		{
			name:   "one-off with initial cycle",
			cost:   RecurringCost{ToAccountID: "x", Type: CostNormal, FixedAmount: amount("100"), InitialBillingCycleID: "c1", TotalBillingCycles: intPtr(3)},
			splits: oneSplit(),
		},
		{
			name:   "arrears balance",
			cost:   RecurringCost{ToAccountID: "x", Type: CostArrearsBalance, InitialBillingCycleID: "c1"},
			splits: oneSplit(),
		},
		{
			name:   "no splits",
			cost:   RecurringCost{ToAccountID: "x", Type: CostNormal, FixedAmount: amount("100")},
			splits: nil,
			want:   ErrNoSplits,
		},
		{
			name:   "arrears balance one-off",
			cost:   RecurringCost{ToAccountID: "x", Type: CostArrearsBalance, InitialBillingCycleID: "c1", TotalBillingCycles: intPtr(2)},
			splits: oneSplit(),
			want:   ErrArrearsOneOff,
		},
		{
			name:   "arrears transactions one-off",
			cost:   RecurringCost{ToAccountID: "x", Type: CostArrearsTransactions, InitialBillingCycleID: "c1", TotalBillingCycles: intPtr(2)},
			splits: oneSplit(),
			want:   ErrArrearsOneOff,
		},
		{
			name:   "arrears without initial cycle",
			cost:   RecurringCost{ToAccountID: "x", Type: CostArrearsTransactions},
			splits: oneSplit(),
			want:   ErrArrearsNeedsInitial,
		},
		{
			name:   "arrears with fixed amount",
			cost:   RecurringCost{ToAccountID: "x", Type: CostArrearsBalance, InitialBillingCycleID: "c1", FixedAmount: amount("100")},
			splits: oneSplit(),
			want:   ErrFixedAmountNotAllowed,
		},
		{
			name:   "normal without amount",
			cost:   RecurringCost{ToAccountID: "x", Type: CostNormal},
			splits: oneSplit(),
			want:   ErrFixedAmountRequired,
		},
		{
			name:   "one-off without initial cycle",
			cost:   RecurringCost{ToAccountID: "x", Type: CostNormal, FixedAmount: amount("100"), TotalBillingCycles: intPtr(2)},
			splits: oneSplit(),
			want:   ErrOneOffNeedsInitial,
		},
		{
			name:   "missing destination",
			cost:   RecurringCost{Type: CostNormal, FixedAmount: amount("100")},
			splits: oneSplit(),
			want:   ErrMissingDestination,
		},
		{
			name:   "zero portion",
			cost:   RecurringCost{ToAccountID: "x", Type: CostNormal, FixedAmount: amount("100")},
			splits: []RecurringCostSplit{{FromAccountID: "a", Portion: decimal.Zero}},
			want:   ErrInvalidPortion,
		},
		{
			name:   "unknown type",
			cost:   RecurringCost{ToAccountID: "x", Type: "weekly"},
			splits: oneSplit(),
			want:   ErrUnknownCostType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cost.Validate(tt.splits)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrInvalidCost) {
				t.Fatalf("expected error to match ErrInvalidCost, got %v", err)
			}
		})
	}
}

func TestAmortizedAmount(t *testing.T) {
	cost := RecurringCost{Type: CostNormal, FixedAmount: amount("100"), TotalBillingCycles: intPtr(3)}

	want := []string{"0", "33.33", "33.33", "33.34", "0"}
	sum := decimal.Zero
	for number, w := range want {
		got := cost.AmortizedAmount(number)
		if !got.Equal(decimal.RequireFromString(w)) {
			t.Errorf("cycle %d: expected %s, got %s", number, w, got)
		}
		sum = sum.Add(got)
	}
	if !sum.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected cycles to add up to 100, got %s", sum)
	}

	recurring := RecurringCost{Type: CostNormal, FixedAmount: amount("100")}
	if got := recurring.AmortizedAmount(42); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("recurring cost should bill the fixed amount, got %s", got)
	}
}

func TestCheckTimelineInsert(t *testing.T) {
	jan := NewDateRange(NewDate(2016, 1, 1), NewDate(2016, 2, 1))
	feb := NewDateRange(NewDate(2016, 2, 1), NewDate(2016, 3, 1))
	dec := NewDateRange(NewDate(2015, 12, 1), NewDate(2016, 1, 1))

	tests := []struct {
		name     string
		existing []DateRange
		insert   DateRange
		wantErr  error
	}{
		{name: "first cycle", insert: jan},
		{name: "after last", existing: []DateRange{jan}, insert: feb},
		{name: "before first", existing: []DateRange{jan, feb}, insert: dec},
		{name: "overlap", existing: []DateRange{jan},
			insert: NewDateRange(NewDate(2016, 1, 25), NewDate(2016, 2, 25)), wantErr: ErrOverlappingCycle},
		{name: "gap", existing: []DateRange{jan},
			insert: NewDateRange(NewDate(2016, 2, 2), NewDate(2016, 3, 1)), wantErr: ErrNonContiguousCycle},
		{name: "duplicate", existing: []DateRange{jan}, insert: jan, wantErr: ErrOverlappingCycle},
		{name: "empty", insert: NewDateRange(NewDate(2016, 1, 1), NewDate(2016, 1, 1)), wantErr: ErrEmptyRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTimelineInsert(tt.existing, tt.insert)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
