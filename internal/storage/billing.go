package storage

import (
	"context"
	"errors"
	"fmt"

	"housebill/internal/core"
	"housebill/internal/log"
)

const billingCycleColumns = `id, start_date, end_date, transactions_created, statements_sent`

// BillingCycles returns every cycle, oldest first.
func (r *SQLiteRepository) BillingCycles(ctx context.Context) ([]core.BillingCycle, error) {
	return r.queryBillingCycles(ctx, `SELECT `+billingCycleColumns+` FROM billing_cycles ORDER BY start_date`)
}

// BillingCyclesBetween returns the cycles starting within rng, oldest first.
func (r *SQLiteRepository) BillingCyclesBetween(ctx context.Context, rng core.DateRange) ([]core.BillingCycle, error) {
	return r.queryBillingCycles(ctx,
		`SELECT `+billingCycleColumns+` FROM billing_cycles
		 WHERE start_date >= ? AND start_date < ?
		 ORDER BY start_date`,
		rng.Start.String(), rng.End.String())
}

func (r *SQLiteRepository) BillingCycle(ctx context.Context, id string) (core.BillingCycle, error) {
	row := r.q(ctx).QueryRowContext(ctx, `SELECT `+billingCycleColumns+` FROM billing_cycles WHERE id = ?`, id)
	c, err := scanBillingCycle(row)
	if err != nil {
		return core.BillingCycle{}, notFound(err, "billing cycle", id)
	}
	return c, nil
}

// BillingCycleAt returns the cycle containing the given day.
func (r *SQLiteRepository) BillingCycleAt(ctx context.Context, d core.Date) (core.BillingCycle, error) {
	row := r.q(ctx).QueryRowContext(ctx,
		`SELECT `+billingCycleColumns+` FROM billing_cycles WHERE start_date <= ? AND end_date > ?`,
		d.String(), d.String())
	c, err := scanBillingCycle(row)
	if err != nil {
		return core.BillingCycle{}, notFound(err, "billing cycle at", d.String())
	}
	return c, nil
}

// PreviousBillingCycle returns the cycle ending where c starts.
func (r *SQLiteRepository) PreviousBillingCycle(ctx context.Context, c core.BillingCycle) (core.BillingCycle, error) {
	row := r.q(ctx).QueryRowContext(ctx,
		`SELECT `+billingCycleColumns+` FROM billing_cycles WHERE end_date = ?`, c.Start().String())
	prev, err := scanBillingCycle(row)
	if err != nil {
		return core.BillingCycle{}, notFound(err, "billing cycle before", c.ID)
	}
	return prev, nil
}

// CreateBillingCycle appends a cycle to the timeline. The range must not
// overlap any existing cycle and must touch one unless it is the first.
func (r *SQLiteRepository) CreateBillingCycle(ctx context.Context, rng core.DateRange) (core.BillingCycle, error) {
	c := core.BillingCycle{ID: newID(), Range: rng}

	err := r.Atomic(ctx, func(ctx context.Context) error {
		existing, err := r.BillingCycles(ctx)
		if err != nil {
			return err
		}
		ranges := make([]core.DateRange, len(existing))
		for i, e := range existing {
			ranges[i] = e.Range
		}
		if err := core.CheckTimelineInsert(ranges, rng); err != nil {
			return err
		}

		_, err = r.q(ctx).ExecContext(ctx,
			`INSERT INTO billing_cycles (id, start_date, end_date) VALUES (?, ?, ?)`,
			c.ID, rng.Start.String(), rng.End.String())
		if err != nil {
			return fmt.Errorf("insert billing cycle %s: %w", rng, mapConstraintError(err))
		}
		return nil
	})
	if err != nil {
		return core.BillingCycle{}, err
	}
	return c, nil
}

// DeleteBillingCyclesFrom removes every cycle starting on or after start.
func (r *SQLiteRepository) DeleteBillingCyclesFrom(ctx context.Context, start core.Date) (int64, error) {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM billing_cycles WHERE start_date >= ?`, start.String())
	if err != nil {
		return 0, fmt.Errorf("delete billing cycles from %s: %w", start, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		logger(ctx).InfoContext(ctx, "Billing cycles deleted", "from", start.String(), log.FieldCount, n)
	}
	return n, nil
}

func (r *SQLiteRepository) MarkTransactionsCreated(ctx context.Context, cycleID string) error {
	return r.setCycleFlag(ctx, cycleID, "transactions_created")
}

func (r *SQLiteRepository) MarkStatementsSent(ctx context.Context, cycleID string) error {
	return r.setCycleFlag(ctx, cycleID, "statements_sent")
}

func (r *SQLiteRepository) setCycleFlag(ctx context.Context, cycleID, column string) error {
	res, err := r.q(ctx).ExecContext(ctx, `UPDATE billing_cycles SET `+column+` = 1 WHERE id = ?`, cycleID)
	if err != nil {
		return fmt.Errorf("set %s on billing cycle %s: %w", column, cycleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("billing cycle %s: %w", cycleID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) queryBillingCycles(ctx context.Context, query string, args ...any) ([]core.BillingCycle, error) {
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list billing cycles: %w", err)
	}
	defer rows.Close()

	var cycles []core.BillingCycle
	for rows.Next() {
		c, err := scanBillingCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan billing cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

func scanBillingCycle(s scanner) (core.BillingCycle, error) {
	var (
		c                  core.BillingCycle
		start, end         string
		created, statement int
	)
	if err := s.Scan(&c.ID, &start, &end, &created, &statement); err != nil {
		return core.BillingCycle{}, err
	}
	var err error
	if c.Range.Start, err = core.ParseDate(start); err != nil {
		return core.BillingCycle{}, err
	}
	if c.Range.End, err = core.ParseDate(end); err != nil {
		return core.BillingCycle{}, err
	}
	c.TransactionsCreated = created != 0
	c.StatementsSent = statement != 0
	return c, nil
}

func (r *SQLiteRepository) CreateHousemate(ctx context.Context, h core.Housemate) (core.Housemate, error) {
	if h.Name == "" {
		return core.Housemate{}, errors.New("housemate name is required")
	}
	if h.ID == "" {
		h.ID = newID()
	}
	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO housemates (id, account_id, name, email) VALUES (?, ?, ?, ?)`,
		h.ID, h.AccountID, h.Name, h.Email)
	if err != nil {
		return core.Housemate{}, fmt.Errorf("create housemate: %w", err)
	}
	return h, nil
}

func (r *SQLiteRepository) Housemates(ctx context.Context) ([]core.Housemate, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT id, account_id, name, email FROM housemates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list housemates: %w", err)
	}
	defer rows.Close()

	var housemates []core.Housemate
	for rows.Next() {
		var h core.Housemate
		if err := rows.Scan(&h.ID, &h.AccountID, &h.Name, &h.Email); err != nil {
			return nil, fmt.Errorf("scan housemate: %w", err)
		}
		housemates = append(housemates, h)
	}
	return housemates, rows.Err()
}

func (r *SQLiteRepository) Housemate(ctx context.Context, id string) (core.Housemate, error) {
	var h core.Housemate
	err := r.q(ctx).QueryRowContext(ctx,
		`SELECT id, account_id, name, email FROM housemates WHERE id = ?`, id).
		Scan(&h.ID, &h.AccountID, &h.Name, &h.Email)
	if err != nil {
		return core.Housemate{}, notFound(err, "housemate", id)
	}
	return h, nil
}
