// Package billing maintains the billing cycle timeline and the work done
// once per cycle: enacting costs, checking reconciliation and notifying
// housemates.
package billing

import (
	"context"
	"errors"
	"fmt"

	"housebill/internal/core"
	"housebill/internal/cycle"
	"housebill/internal/log"
)

// CycleStore persists billing cycles.
type CycleStore interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
	BillingCycles(ctx context.Context) ([]core.BillingCycle, error)
	BillingCycle(ctx context.Context, id string) (core.BillingCycle, error)
	BillingCycleAt(ctx context.Context, d core.Date) (core.BillingCycle, error)
	PreviousBillingCycle(ctx context.Context, c core.BillingCycle) (core.BillingCycle, error)
	CreateBillingCycle(ctx context.Context, r core.DateRange) (core.BillingCycle, error)
	DeleteBillingCyclesFrom(ctx context.Context, start core.Date) (int64, error)
	MarkTransactionsCreated(ctx context.Context, cycleID string) error
	MarkStatementsSent(ctx context.Context, cycleID string) error
}

// Generator extends the billing cycle timeline into the future.
type Generator struct {
	store    CycleStore
	strategy cycle.Strategy
}

func NewGenerator(store CycleStore, strategy cycle.Strategy) *Generator {
	return &Generator{store: store, strategy: strategy}
}

// PopulateResult reports what a Populate call changed.
type PopulateResult struct {
	Created int
	Deleted int64
}

// Populate makes sure cycles exist from the period containing asOf until
// asOf plus the given number of years. Cycles before that are never
// touched. With deleteFuture set, cycles after the current one are deleted
// and generated again, which is how a change of strategy or horizon is
// applied. Everything happens in one transaction.
//
// New cycles always continue from the end of the last kept cycle. When that
// end is not a period start of the strategy, a shorter cycle bridges the gap
// up to the next period start.
func (g *Generator) Populate(ctx context.Context, asOf core.Date, years int, deleteFuture bool) (PopulateResult, error) {
	var res PopulateResult
	if years < 1 {
		return res, fmt.Errorf("horizon must be at least one year, got %d", years)
	}

	err := g.store.Atomic(ctx, func(ctx context.Context) error {
		existing, err := g.store.BillingCycles(ctx)
		if err != nil {
			return err
		}

		from := g.strategy.PreviousCycleStart(asOf, true)
		if len(existing) > 0 {
			last := existing[len(existing)-1]
			current, err := g.store.BillingCycleAt(ctx, asOf)
			switch {
			case err == nil && deleteFuture:
				// keep the current cycle when regenerating
				n, err := g.store.DeleteBillingCyclesFrom(ctx, current.End())
				if err != nil {
					return err
				}
				res.Deleted = n
				from = current.End()
			case err == nil:
				from = last.End()
			case errors.Is(err, core.ErrNotFound):
				if !last.End().Equal(g.strategy.PreviousCycleStart(asOf, true)) {
					return fmt.Errorf("%w: %s is outside %s to %s", core.ErrPopulateOutsideCycles,
						asOf, existing[0].Start(), last.End())
				}
				from = last.End()
			default:
				return err
			}
		}

		for _, r := range g.rangesFrom(from, asOf.AddYears(years)) {
			if _, err := g.store.CreateBillingCycle(ctx, r); err != nil {
				return fmt.Errorf("create billing cycle %s: %w", r, err)
			}
			res.Created++
		}
		return nil
	})
	if err != nil {
		return PopulateResult{}, fmt.Errorf("populate billing cycles: %w", err)
	}

	logger(ctx).InfoContext(ctx, "Billing cycles populated",
		log.FieldAsOf, asOf.String(),
		"years", years,
		"strategy", g.strategy.Name(),
		"created", res.Created,
		"deleted", res.Deleted)
	return res, nil
}

// rangesFrom returns the cycles starting on or after from whose start is on
// or before stop.
func (g *Generator) rangesFrom(from, stop core.Date) []core.DateRange {
	if from.After(stop) {
		return nil
	}
	var out []core.DateRange
	next := g.strategy.NextCycleStart(from, true)
	if !next.Equal(from) {
		out = append(out, core.NewDateRange(from, next))
	}
	return append(out, g.strategy.Ranges(next, false).Until(stop)...)
}
