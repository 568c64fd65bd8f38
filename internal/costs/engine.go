// Package costs computes what a recurring cost bills for a billing cycle and
// enacts it into the ledger.
package costs

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"housebill/internal/core"
	"housebill/internal/ledger"
	"housebill/internal/log"
)

// Store is the persistence the engine needs. Atomic must run fn in one
// transaction that every other call made with the passed context joins.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error

	BillingCycle(ctx context.Context, id string) (core.BillingCycle, error)
	BillingCycleAt(ctx context.Context, d core.Date) (core.BillingCycle, error)
	BillingCyclesBetween(ctx context.Context, r core.DateRange) ([]core.BillingCycle, error)

	RecurringCost(ctx context.Context, id string) (core.RecurringCost, error)
	RecurringCosts(ctx context.Context) ([]core.RecurringCost, error)
	CreateRecurringCost(ctx context.Context, c core.RecurringCost, splits []core.RecurringCostSplit) (core.RecurringCost, []core.RecurringCostSplit, error)
	UpdateRecurringCost(ctx context.Context, c core.RecurringCost) error
	Splits(ctx context.Context, costID string) ([]core.RecurringCostSplit, error)
	ReplaceSplits(ctx context.Context, costID string, splits []core.RecurringCostSplit) ([]core.RecurringCostSplit, error)

	RecurredCosts(ctx context.Context, costID string) ([]core.RecurredCost, error)
	RecurredCost(ctx context.Context, costID, cycleID string) (core.RecurredCost, error)
	CreateRecurredCost(ctx context.Context, rc core.RecurredCost) (core.RecurredCost, error)

	Housemates(ctx context.Context) ([]core.Housemate, error)
}

// Ledger is the slice of the ledger the engine reads from and posts to.
type Ledger interface {
	ledger.Poster
	ledger.Balances
}

// Engine evaluates recurring costs against billing cycles.
type Engine struct {
	store  Store
	ledger Ledger
}

func NewEngine(store Store, l Ledger) *Engine {
	return &Engine{store: store, ledger: l}
}

// GetAmount returns what the cost bills for the cycle. Cycles before the
// cost's initial cycle fail with core.ErrCycleBeforeInitial.
func (e *Engine) GetAmount(ctx context.Context, cost core.RecurringCost, c core.BillingCycle) (decimal.Decimal, error) {
	number, err := e.cycleNumber(ctx, cost, c)
	if err != nil {
		return decimal.Zero, err
	}

	switch cost.Type {
	case core.CostNormal:
		if cost.IsOneOff() {
			return cost.AmortizedAmount(number), nil
		}
		return cost.Amount(), nil

	case core.CostArrearsBalance:
		// A cycle without any activity on the account has nothing in arrears.
		legs, err := e.ledger.AccountLegs(ctx, cost.ToAccountID, c.Range)
		if err != nil {
			return decimal.Zero, fmt.Errorf("account legs for %s: %w", cost.ToAccountID, err)
		}
		if len(legs) == 0 {
			return decimal.Zero, nil
		}
		balance, err := e.ledger.Balance(ctx, cost.ToAccountID, c.End())
		if err != nil {
			return decimal.Zero, fmt.Errorf("balance of %s: %w", cost.ToAccountID, err)
		}
		return balance, nil

	case core.CostArrearsTransactions:
		sum, err := e.ledger.SumTransactions(ctx, cost.ToAccountID, c.Range)
		if err != nil {
			return decimal.Zero, fmt.Errorf("sum transactions of %s: %w", cost.ToAccountID, err)
		}
		return sum, nil
	}

	return decimal.Zero, fmt.Errorf("%w: %q", core.ErrUnknownCostType, cost.Type)
}

// CycleNumber returns the 1-based position of c among the stored billing
// cycles, counted from the cost's initial billing cycle.
func (e *Engine) CycleNumber(ctx context.Context, cost core.RecurringCost, c core.BillingCycle) (int, error) {
	if cost.InitialBillingCycleID == "" {
		return 0, fmt.Errorf("recurring cost %s: %w", cost.ID, core.ErrNoInitialCycle)
	}
	return e.cycleNumber(ctx, cost, c)
}

// cycleNumber is CycleNumber but treats a cost without an initial cycle as
// starting at c, so it always yields 1 for such costs.
func (e *Engine) cycleNumber(ctx context.Context, cost core.RecurringCost, c core.BillingCycle) (int, error) {
	if cost.InitialBillingCycleID == "" {
		return 1, nil
	}
	initial, err := e.store.BillingCycle(ctx, cost.InitialBillingCycleID)
	if err != nil {
		return 0, fmt.Errorf("initial billing cycle: %w", err)
	}
	if c.Start().Before(initial.Start()) {
		return 0, fmt.Errorf("%w: %s starts before %s", core.ErrCycleBeforeInitial, c.Range, initial.Range)
	}
	cycles, err := e.store.BillingCyclesBetween(ctx, core.NewDateRange(initial.Start(), c.End()))
	if err != nil {
		return 0, fmt.Errorf("billing cycles since %s: %w", initial.Range, err)
	}
	return len(cycles), nil
}

// BilledAmount sums what the cost has posted to its destination account
// across all of its enactments.
func (e *Engine) BilledAmount(ctx context.Context, cost core.RecurringCost) (decimal.Decimal, error) {
	recurred, err := e.store.RecurredCosts(ctx, cost.ID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, rc := range recurred {
		if rc.TransactionID == "" {
			continue
		}
		legs, err := e.ledger.TransactionLegs(ctx, rc.TransactionID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("legs of transaction %s: %w", rc.TransactionID, err)
		}
		for _, leg := range legs {
			if leg.AccountID == cost.ToAccountID {
				total = total.Add(leg.Amount)
			}
		}
	}
	return total, nil
}

// IsFinished reports whether a one-off cost has billed its whole amount.
// Recurring costs never finish.
func (e *Engine) IsFinished(ctx context.Context, cost core.RecurringCost) (bool, error) {
	if !cost.IsOneOff() {
		return false, nil
	}
	billed, err := e.BilledAmount(ctx, cost)
	if err != nil {
		return false, err
	}
	return billed.GreaterThanOrEqual(cost.Amount()), nil
}

// IsBillingComplete reports whether a one-off cost has no cycles left to
// bill at c. A nil cycle means the cycle after the latest enactment.
// Recurring costs are never complete.
func (e *Engine) IsBillingComplete(ctx context.Context, cost core.RecurringCost, c *core.BillingCycle) (bool, error) {
	if !cost.IsOneOff() {
		return false, nil
	}

	var number int
	if c != nil {
		n, err := e.cycleNumber(ctx, cost, *c)
		if err != nil {
			return false, err
		}
		number = n
	} else {
		n, err := e.nextCycleNumber(ctx, cost)
		if err != nil {
			return false, err
		}
		number = n
	}
	return number > *cost.TotalBillingCycles, nil
}

func (e *Engine) nextCycleNumber(ctx context.Context, cost core.RecurringCost) (int, error) {
	recurred, err := e.store.RecurredCosts(ctx, cost.ID)
	if err != nil {
		return 0, err
	}
	if len(recurred) == 0 {
		return 1, nil
	}
	latest, err := e.store.BillingCycle(ctx, recurred[len(recurred)-1].BillingCycleID)
	if err != nil {
		return 0, fmt.Errorf("latest enacted cycle: %w", err)
	}
	n, err := e.cycleNumber(ctx, cost, latest)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// IsEnactable reports whether the cost may be enacted for c, or for the
// cycle after its latest enactment when c is nil. Disabled costs, completed
// one-off costs and cycles before the initial cycle are not enactable.
func (e *Engine) IsEnactable(ctx context.Context, cost core.RecurringCost, c *core.BillingCycle) (bool, error) {
	if cost.Disabled {
		return false, nil
	}
	if c != nil {
		if _, err := e.cycleNumber(ctx, cost, *c); err != nil {
			if errors.Is(err, core.ErrCycleBeforeInitial) {
				return false, nil
			}
			return false, err
		}
	}
	complete, err := e.IsBillingComplete(ctx, cost, c)
	if err != nil {
		return false, err
	}
	return !complete, nil
}

// Enact bills the cost for cycle c: it posts one transaction debiting the
// destination account with the full amount and crediting every split's
// account with its share, and records the enactment. Everything happens in
// one transaction. A second enactment for the same cycle fails with
// core.ErrAlreadyEnacted; a zero amount fails with core.ErrNothingToBill.
func (e *Engine) Enact(ctx context.Context, cost core.RecurringCost, c core.BillingCycle) (core.RecurredCost, error) {
	var recurred core.RecurredCost

	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if _, err := e.store.RecurredCost(ctx, cost.ID, c.ID); err == nil {
			return fmt.Errorf("%w: cost %s, cycle %s", core.ErrAlreadyEnacted, cost.ID, c.Range)
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}

		enactable, err := e.IsEnactable(ctx, cost, &c)
		if err != nil {
			return err
		}
		if !enactable {
			return fmt.Errorf("%w: cost %s, cycle %s", core.ErrNotEnactable, cost.ID, c.Range)
		}

		amount, err := e.GetAmount(ctx, cost, c)
		if err != nil {
			return err
		}
		amount = core.RoundCurrency(amount)
		if amount.IsZero() {
			return fmt.Errorf("%w: cost %s, cycle %s", core.ErrNothingToBill, cost.ID, c.Range)
		}

		splits, err := e.store.Splits(ctx, cost.ID)
		if err != nil {
			return err
		}
		legs, err := enactmentLegs(cost, amount, splits)
		if err != nil {
			return err
		}

		tx, err := e.ledger.PostTransaction(ctx, core.Transaction{
			Date:        c.Start(),
			Description: enactmentDescription(cost, c),
			Legs:        legs,
		})
		if err != nil {
			return fmt.Errorf("post enactment transaction: %w", err)
		}

		recurred, err = e.store.CreateRecurredCost(ctx, core.RecurredCost{
			RecurringCostID: cost.ID,
			BillingCycleID:  c.ID,
			TransactionID:   tx.ID,
		})
		return err
	})
	if err != nil {
		return core.RecurredCost{}, err
	}

	logger(ctx).InfoContext(ctx, "Recurring cost enacted",
		log.FieldRecurringCost, cost.ID,
		log.FieldBillingCycle, c.Range.String(),
		log.FieldTransaction, recurred.TransactionID)
	return recurred, nil
}

// enactmentLegs debits the destination with amount and credits each split
// with its share. Zero shares get no leg.
func enactmentLegs(cost core.RecurringCost, amount decimal.Decimal, splits []core.RecurringCostSplit) ([]core.Leg, error) {
	shares, err := core.Divide(amount, splits)
	if err != nil {
		return nil, fmt.Errorf("divide %s for cost %s: %w", amount, cost.ID, err)
	}

	legs := make([]core.Leg, 0, len(shares)+1)
	legs = append(legs, core.Leg{AccountID: cost.ToAccountID, Amount: amount, Description: cost.Description})
	for _, s := range shares {
		if s.Amount.IsZero() {
			continue
		}
		legs = append(legs, core.Leg{AccountID: s.Split.FromAccountID, Amount: s.Amount.Neg(), Description: cost.Description})
	}

	if err := ledger.ValidateBalanced(legs); err != nil {
		return nil, fmt.Errorf("enactment legs for cost %s: %w", cost.ID, err)
	}
	return legs, nil
}

func enactmentDescription(cost core.RecurringCost, c core.BillingCycle) string {
	if cost.Description == "" {
		return "Recurring cost for " + c.Range.String()
	}
	return cost.Description + " for " + c.Range.String()
}
