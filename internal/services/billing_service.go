// Package services orchestrates the scheduled billing runs on top of the
// billing and costs packages.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"housebill/internal/billing"
	"housebill/internal/core"
	"housebill/internal/costs"
	"housebill/internal/cycle"
	"housebill/internal/ledger"
	"housebill/internal/log"
	"housebill/internal/notify"
	"housebill/internal/storage"
)

// BillingService runs the periodic billing work: extending the cycle
// timeline, enacting ended cycles, reminding housemates to reconcile and
// sending statements.
type BillingService struct {
	storage   *storage.SQLiteRepository
	generator *billing.Generator
	billing   *billing.Service
	years     int
}

// NewBillingService wires the billing components on top of repo.
func NewBillingService(repo *storage.SQLiteRepository, strategy cycle.Strategy, years int, notifier notify.Notifier) *BillingService {
	engine := costs.NewEngine(repo, repo)
	return &BillingService{
		storage:   repo,
		generator: billing.NewGenerator(repo, strategy),
		billing:   billing.NewService(repo, repo, engine, notifier),
		years:     years,
	}
}

func logger(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentBilling)
}

// Billing exposes the per-cycle operations for callers acting on a single
// cycle.
func (s *BillingService) Billing() *billing.Service {
	return s.billing
}

// RunPopulate makes sure billing cycles exist for the configured horizon.
func (s *BillingService) RunPopulate(ctx context.Context, asOf core.Date) (billing.PopulateResult, error) {
	return s.Populate(ctx, asOf, false)
}

// Populate extends the timeline for the configured horizon. With
// deleteFuture the cycles after the one covering asOf are regenerated.
func (s *BillingService) Populate(ctx context.Context, asOf core.Date, deleteFuture bool) (billing.PopulateResult, error) {
	return s.generator.Populate(ctx, asOf, s.years, deleteFuture)
}

// RunEnactment enacts every ended cycle that has no transactions yet,
// oldest first. It stops at the first failure since later cycles depend on
// earlier ones being enacted.
func (s *BillingService) RunEnactment(ctx context.Context, asOf core.Date) (int, error) {
	cycles, err := s.storage.BillingCycles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list billing cycles: %w", err)
	}

	enacted := 0
	for _, c := range cycles {
		if !c.HasEnded(asOf) {
			break
		}
		if c.TransactionsCreated {
			continue
		}

		if _, err := s.billing.EnactAll(ctx, c.ID, asOf); err != nil {
			return enacted, fmt.Errorf("enact billing cycle %s: %w", c.Range, err)
		}
		enacted++
	}

	logger(ctx).InfoContext(ctx, "Enactment run complete",
		log.FieldOperation, log.OpEnact,
		log.FieldAsOf, asOf.String(),
		log.FieldCount, enacted)
	return enacted, nil
}

// pendingStatements lists ended, enacted cycles whose statements have not
// gone out yet.
func (s *BillingService) pendingStatements(ctx context.Context, asOf core.Date) ([]core.BillingCycle, error) {
	cycles, err := s.storage.BillingCycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list billing cycles: %w", err)
	}
	var pending []core.BillingCycle
	for _, c := range cycles {
		if !c.HasEnded(asOf) {
			break
		}
		if c.TransactionsCreated && !c.StatementsSent {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// RunReconciliationReminders asks housemates to reconcile every pending
// cycle that is not reconciled yet. It returns the number of reminders sent.
func (s *BillingService) RunReconciliationReminders(ctx context.Context, asOf core.Date) (int, error) {
	pending, err := s.pendingStatements(ctx, asOf)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, c := range pending {
		reconciled, err := s.billing.IsReconciled(ctx, c)
		if err != nil {
			return sent, fmt.Errorf("check reconciliation of %s: %w", c.Range, err)
		}
		if reconciled {
			continue
		}
		if err := s.billing.SendReconciliationRequired(ctx, c); err != nil {
			return sent, fmt.Errorf("remind reconciliation of %s: %w", c.Range, err)
		}
		sent++
	}
	return sent, nil
}

// RunStatements sends statements for every pending cycle that has been
// reconciled. Cycles not ready yet are left for a later run.
func (s *BillingService) RunStatements(ctx context.Context, asOf core.Date) (int, error) {
	pending, err := s.pendingStatements(ctx, asOf)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, c := range pending {
		err := s.billing.SendStatements(ctx, c.ID, false)
		if errors.Is(err, core.ErrStatementsNotReady) {
			logger(ctx).InfoContext(ctx, "Statements not ready",
				log.NewFields().WithBillingCycle(c.ID, c.Range.String()).WithError(err).ToSlice()...)
			continue
		}
		if err != nil {
			return sent, fmt.Errorf("send statements for %s: %w", c.Range, err)
		}
		sent++
	}
	return sent, nil
}

// ReconcileStatementLine books an unreconciled bank statement line against
// counterAccountID and links the resulting transaction to the line. Money
// coming in debits the bank account and credits the counter account.
func (s *BillingService) ReconcileStatementLine(ctx context.Context, lineID, counterAccountID, description string) (core.Transaction, error) {
	var posted core.Transaction

	err := s.storage.Atomic(ctx, func(ctx context.Context) error {
		line, err := s.storage.StatementLine(ctx, lineID)
		if err != nil {
			return err
		}
		if line.IsReconciled() {
			return fmt.Errorf("statement line %s: %w", lineID, core.ErrAlreadyReconciled)
		}
		bankAccountID, err := s.bankAccountFor(ctx, line)
		if err != nil {
			return err
		}

		if description == "" {
			description = line.Description
		}
		legs := ledger.Transfer(counterAccountID, bankAccountID, core.RoundCurrency(line.Amount))
		for i := range legs {
			legs[i].Description = description
		}
		posted, err = s.storage.PostTransaction(ctx, core.Transaction{
			Date:        line.Date,
			Description: description,
			Legs:        legs,
		})
		if err != nil {
			return fmt.Errorf("post transaction for statement line %s: %w", lineID, err)
		}
		return s.storage.LinkStatementLine(ctx, lineID, posted.ID)
	})
	if err != nil {
		return core.Transaction{}, err
	}

	logger(ctx).InfoContext(ctx, "Statement line reconciled",
		log.FieldStatementLine, lineID,
		log.FieldAccount, counterAccountID,
		log.FieldTransaction, posted.ID)
	return posted, nil
}

func (s *BillingService) bankAccountFor(ctx context.Context, line core.StatementLine) (string, error) {
	imports, err := s.storage.StatementImports(ctx)
	if err != nil {
		return "", err
	}
	for _, si := range imports {
		if si.ID == line.StatementImportID {
			return si.BankAccountID, nil
		}
	}
	return "", fmt.Errorf("statement import %s: %w", line.StatementImportID, core.ErrNotFound)
}

// CycleStatus summarises one billing cycle for reporting.
type CycleStatus struct {
	Cycle      core.BillingCycle
	Reconciled bool
	// Billed is what the cycle's enactments charged, keyed by recurring cost.
	Billed map[string]decimal.Decimal
}

// Status reports every cycle starting within r.
func (s *BillingService) Status(ctx context.Context, r core.DateRange) ([]CycleStatus, error) {
	cycles, err := s.storage.BillingCyclesBetween(ctx, r)
	if err != nil {
		return nil, err
	}
	recurring, err := s.storage.RecurringCosts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]CycleStatus, 0, len(cycles))
	for _, c := range cycles {
		reconciled, err := s.billing.IsReconciled(ctx, c)
		if err != nil {
			return nil, err
		}
		st := CycleStatus{Cycle: c, Reconciled: reconciled, Billed: map[string]decimal.Decimal{}}
		for _, cost := range recurring {
			rc, err := s.storage.RecurredCost(ctx, cost.ID, c.ID)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			legs, err := s.storage.TransactionLegs(ctx, rc.TransactionID)
			if err != nil {
				return nil, err
			}
			for _, leg := range legs {
				if leg.AccountID == cost.ToAccountID {
					st.Billed[cost.ID] = st.Billed[cost.ID].Add(leg.Amount)
				}
			}
		}
		out = append(out, st)
	}
	return out, nil
}
