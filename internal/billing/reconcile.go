package billing

import (
	"context"
	"fmt"

	"housebill/internal/core"
)

// StatementSource is the part of the ledger holding imported bank statements.
type StatementSource interface {
	StatementImports(ctx context.Context) ([]core.StatementImport, error)
	StatementLines(ctx context.Context, r core.DateRange) ([]core.StatementLine, error)
}

// IsReconciled reports whether the bank activity of cycle c has been fully
// matched to ledger transactions. With no imports at all there is nothing
// to reconcile. Otherwise an import made at or after the end of the cycle
// is required, since an earlier one cannot cover the whole cycle, and every
// statement line dated within the cycle must have a transaction.
func IsReconciled(ctx context.Context, src StatementSource, c core.BillingCycle) (bool, error) {
	imports, err := src.StatementImports(ctx)
	if err != nil {
		return false, fmt.Errorf("list statement imports: %w", err)
	}
	if len(imports) == 0 {
		return true, nil
	}

	end := c.End().Time
	covered := false
	for _, si := range imports {
		if !si.Timestamp.Before(end) {
			covered = true
			break
		}
	}
	if !covered {
		return false, nil
	}

	lines, err := src.StatementLines(ctx, c.Range)
	if err != nil {
		return false, fmt.Errorf("list statement lines: %w", err)
	}
	for _, line := range lines {
		if !line.IsReconciled() {
			return false, nil
		}
	}
	return true, nil
}
