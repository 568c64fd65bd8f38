package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"housebill/internal/core"
	"housebill/internal/log"
)

const recurringCostColumns = `id, to_account_id, type, fixed_amount, initial_billing_cycle_id,
	total_billing_cycles, disabled, description`

// CreateRecurringCost validates and stores a cost together with its splits.
func (r *SQLiteRepository) CreateRecurringCost(ctx context.Context, c core.RecurringCost, splits []core.RecurringCostSplit) (core.RecurringCost, []core.RecurringCostSplit, error) {
	if err := c.Validate(splits); err != nil {
		return core.RecurringCost{}, nil, err
	}
	if c.ID == "" {
		c.ID = newID()
	}

	var stored []core.RecurringCostSplit
	err := r.Atomic(ctx, func(ctx context.Context) error {
		_, err := r.q(ctx).ExecContext(ctx,
			`INSERT INTO recurring_costs (`+recurringCostColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			costArgs(c)...)
		if err != nil {
			return fmt.Errorf("insert recurring cost: %w", err)
		}
		stored, err = r.insertSplits(ctx, c.ID, splits)
		return err
	})
	if err != nil {
		return core.RecurringCost{}, nil, err
	}

	logger(ctx).InfoContext(ctx, "Recurring cost created",
		log.FieldRecurringCost, c.ID,
		"type", string(c.Type),
		"splits", len(stored))
	return c, stored, nil
}

// UpdateRecurringCost rewrites a cost's definition, validating it against
// its current splits.
func (r *SQLiteRepository) UpdateRecurringCost(ctx context.Context, c core.RecurringCost) error {
	return r.Atomic(ctx, func(ctx context.Context) error {
		splits, err := r.Splits(ctx, c.ID)
		if err != nil {
			return err
		}
		if err := c.Validate(splits); err != nil {
			return err
		}
		args := append(costArgs(c)[1:], c.ID)
		res, err := r.q(ctx).ExecContext(ctx,
			`UPDATE recurring_costs SET to_account_id = ?, type = ?, fixed_amount = ?,
			 initial_billing_cycle_id = ?, total_billing_cycles = ?, disabled = ?, description = ?
			 WHERE id = ?`, args...)
		if err != nil {
			return fmt.Errorf("update recurring cost %s: %w", c.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("recurring cost %s: %w", c.ID, core.ErrNotFound)
		}
		return nil
	})
}

// ReplaceSplits swaps a cost's splits for a new set. The set must be valid
// for the cost; a cost is never left without splits.
func (r *SQLiteRepository) ReplaceSplits(ctx context.Context, costID string, splits []core.RecurringCostSplit) ([]core.RecurringCostSplit, error) {
	var stored []core.RecurringCostSplit
	err := r.Atomic(ctx, func(ctx context.Context) error {
		c, err := r.RecurringCost(ctx, costID)
		if err != nil {
			return err
		}
		if err := c.Validate(splits); err != nil {
			return err
		}
		if _, err := r.q(ctx).ExecContext(ctx,
			`DELETE FROM recurring_cost_splits WHERE recurring_cost_id = ?`, costID); err != nil {
			return fmt.Errorf("delete splits for %s: %w", costID, err)
		}
		stored, err = r.insertSplits(ctx, costID, splits)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *SQLiteRepository) insertSplits(ctx context.Context, costID string, splits []core.RecurringCostSplit) ([]core.RecurringCostSplit, error) {
	stored := make([]core.RecurringCostSplit, len(splits))
	for i, s := range splits {
		if s.ID == "" {
			s.ID = newID()
		}
		s.RecurringCostID = costID
		if _, err := r.q(ctx).ExecContext(ctx,
			`INSERT INTO recurring_cost_splits (id, recurring_cost_id, from_account_id, portion) VALUES (?, ?, ?, ?)`,
			s.ID, costID, s.FromAccountID, s.Portion.String()); err != nil {
			return nil, fmt.Errorf("insert split for account %s: %w", s.FromAccountID, err)
		}
		stored[i] = s
	}
	return stored, nil
}

func (r *SQLiteRepository) RecurringCost(ctx context.Context, id string) (core.RecurringCost, error) {
	row := r.q(ctx).QueryRowContext(ctx, `SELECT `+recurringCostColumns+` FROM recurring_costs WHERE id = ?`, id)
	c, err := scanRecurringCost(row)
	if err != nil {
		return core.RecurringCost{}, notFound(err, "recurring cost", id)
	}
	return c, nil
}

// RecurringCosts returns every cost in creation order, disabled ones included.
func (r *SQLiteRepository) RecurringCosts(ctx context.Context) ([]core.RecurringCost, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+recurringCostColumns+` FROM recurring_costs ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list recurring costs: %w", err)
	}
	defer rows.Close()

	var costs []core.RecurringCost
	for rows.Next() {
		c, err := scanRecurringCost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring cost: %w", err)
		}
		costs = append(costs, c)
	}
	return costs, rows.Err()
}

// Splits returns a cost's splits in the order they were created.
func (r *SQLiteRepository) Splits(ctx context.Context, costID string) ([]core.RecurringCostSplit, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT id, recurring_cost_id, from_account_id, portion
		 FROM recurring_cost_splits WHERE recurring_cost_id = ? ORDER BY rowid`, costID)
	if err != nil {
		return nil, fmt.Errorf("list splits for %s: %w", costID, err)
	}
	defer rows.Close()

	var splits []core.RecurringCostSplit
	for rows.Next() {
		var s core.RecurringCostSplit
		if err := rows.Scan(&s.ID, &s.RecurringCostID, &s.FromAccountID, &s.Portion); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		splits = append(splits, s)
	}
	return splits, rows.Err()
}

const recurredCostColumns = `rc.id, rc.recurring_cost_id, rc.billing_cycle_id, rc.transaction_id`

// RecurredCosts returns the enactments of a cost, ordered by cycle.
func (r *SQLiteRepository) RecurredCosts(ctx context.Context, costID string) ([]core.RecurredCost, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+recurredCostColumns+`
		 FROM recurred_costs rc JOIN billing_cycles bc ON bc.id = rc.billing_cycle_id
		 WHERE rc.recurring_cost_id = ?
		 ORDER BY bc.start_date`, costID)
	if err != nil {
		return nil, fmt.Errorf("list recurred costs for %s: %w", costID, err)
	}
	defer rows.Close()

	var recurred []core.RecurredCost
	for rows.Next() {
		rc, err := scanRecurredCost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurred cost: %w", err)
		}
		recurred = append(recurred, rc)
	}
	return recurred, rows.Err()
}

// RecurredCost returns the enactment of a cost for one cycle.
func (r *SQLiteRepository) RecurredCost(ctx context.Context, costID, cycleID string) (core.RecurredCost, error) {
	row := r.q(ctx).QueryRowContext(ctx,
		`SELECT `+recurredCostColumns+` FROM recurred_costs rc
		 WHERE rc.recurring_cost_id = ? AND rc.billing_cycle_id = ?`, costID, cycleID)
	rc, err := scanRecurredCost(row)
	if err != nil {
		return core.RecurredCost{}, notFound(err, "recurred cost", costID+"/"+cycleID)
	}
	return rc, nil
}

// CreateRecurredCost records an enactment. A second enactment of the same
// cost for the same cycle fails with core.ErrAlreadyEnacted.
func (r *SQLiteRepository) CreateRecurredCost(ctx context.Context, rc core.RecurredCost) (core.RecurredCost, error) {
	if rc.ID == "" {
		rc.ID = newID()
	}
	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO recurred_costs (id, recurring_cost_id, billing_cycle_id, transaction_id) VALUES (?, ?, ?, ?)`,
		rc.ID, rc.RecurringCostID, rc.BillingCycleID, nullString(rc.TransactionID))
	if err != nil {
		return core.RecurredCost{}, fmt.Errorf("create recurred cost: %w", mapConstraintError(err))
	}
	return rc, nil
}

func costArgs(c core.RecurringCost) []any {
	var fixed sql.NullString
	if c.FixedAmount.Valid {
		fixed = sql.NullString{String: c.FixedAmount.Decimal.String(), Valid: true}
	}
	var total sql.NullInt64
	if c.TotalBillingCycles != nil {
		total = sql.NullInt64{Int64: int64(*c.TotalBillingCycles), Valid: true}
	}
	return []any{
		c.ID, c.ToAccountID, string(c.Type), fixed, nullString(c.InitialBillingCycleID),
		total, boolInt(c.Disabled), c.Description,
	}
}

func scanRecurringCost(s scanner) (core.RecurringCost, error) {
	var (
		c        core.RecurringCost
		typ      string
		fixed    decimal.NullDecimal
		initial  sql.NullString
		total    sql.NullInt64
		disabled int
	)
	if err := s.Scan(&c.ID, &c.ToAccountID, &typ, &fixed, &initial, &total, &disabled, &c.Description); err != nil {
		return core.RecurringCost{}, err
	}
	c.Type = core.CostType(typ)
	c.FixedAmount = fixed
	c.InitialBillingCycleID = initial.String
	if total.Valid {
		n := int(total.Int64)
		c.TotalBillingCycles = &n
	}
	c.Disabled = disabled != 0
	return c, nil
}

func scanRecurredCost(s scanner) (core.RecurredCost, error) {
	var (
		rc   core.RecurredCost
		txID sql.NullString
	)
	if err := s.Scan(&rc.ID, &rc.RecurringCostID, &rc.BillingCycleID, &txID); err != nil {
		return core.RecurredCost{}, err
	}
	rc.TransactionID = txID.String
	return rc, nil
}
