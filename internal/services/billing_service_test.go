package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"housebill/internal/core"
	"housebill/internal/cycle"
	"housebill/internal/notify"
	"housebill/internal/storage"
)

type fixture struct {
	repo     *storage.SQLiteRepository
	svc      *BillingService
	recorder *notify.Recorder
	bank     core.Account
	rent     core.Account
	alice    core.Housemate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	f := &fixture{repo: repo, recorder: &notify.Recorder{}}
	f.svc = NewBillingService(repo, cycle.MonthlyStrategy, 1, f.recorder)

	f.bank = f.account(t, core.Account{Name: "Bank", Type: core.AccountAsset, IsBankAccount: true})
	f.rent = f.account(t, core.Account{Name: "Rent", Type: core.AccountExpense})
	income := f.account(t, core.Account{Name: "Alice", Type: core.AccountIncome})
	if f.alice, err = repo.CreateHousemate(ctx, core.Housemate{AccountID: income.ID, Name: "Alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("create housemate: %v", err)
	}
	return f
}

func (f *fixture) account(t *testing.T, a core.Account) core.Account {
	t.Helper()
	a.Currency = "EUR"
	created, err := f.repo.CreateAccount(context.Background(), a)
	if err != nil {
		t.Fatalf("create account %s: %v", a.Name, err)
	}
	return created
}

// populate creates cycles from January 2000 and a 100 a month rent cost.
func (f *fixture) populate(t *testing.T) []core.BillingCycle {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.RunPopulate(ctx, core.NewDate(2000, 1, 1)); err != nil {
		t.Fatalf("populate: %v", err)
	}
	cycles, err := f.repo.BillingCycles(ctx)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	_, _, err = f.repo.CreateRecurringCost(ctx, core.RecurringCost{
		ToAccountID:           f.rent.ID,
		Type:                  core.CostNormal,
		FixedAmount:           decimal.NewNullDecimal(decimal.NewFromInt(100)),
		InitialBillingCycleID: cycles[0].ID,
		Description:           "Rent",
	}, []core.RecurringCostSplit{{FromAccountID: f.alice.AccountID, Portion: decimal.NewFromInt(1)}})
	if err != nil {
		t.Fatalf("create cost: %v", err)
	}
	return cycles
}

func TestRunPopulate(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.RunPopulate(context.Background(), core.NewDate(2000, 1, 15))
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	// January 2000 through January 2001.
	if res.Created != 13 {
		t.Errorf("expected 13 cycles, got %d", res.Created)
	}
}

func TestRunEnactment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.populate(t)

	n, err := f.svc.RunEnactment(ctx, core.NewDate(2000, 3, 10))
	if err != nil {
		t.Fatalf("run enactment: %v", err)
	}
	if n != 2 {
		t.Errorf("expected January and February enacted, got %d", n)
	}

	balance, err := f.repo.Balance(ctx, f.rent.ID, core.NewDate(2000, 3, 1))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected 200 billed, got %s", balance)
	}

	// Running again is a no-op.
	if n, err = f.svc.RunEnactment(ctx, core.NewDate(2000, 3, 10)); err != nil || n != 0 {
		t.Errorf("expected nothing to enact, got %d, %v", n, err)
	}
}

func TestRunStatementsWaitsForReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.populate(t)
	asOf := core.NewDate(2000, 2, 10)
	if _, err := f.svc.RunEnactment(ctx, asOf); err != nil {
		t.Fatalf("run enactment: %v", err)
	}

	si, err := f.repo.CreateStatementImport(ctx, core.StatementImport{
		BankAccountID: f.bank.ID,
		Timestamp:     time.Date(2000, 2, 2, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create import: %v", err)
	}
	line, err := f.repo.CreateStatementLine(ctx, core.StatementLine{
		StatementImportID: si.ID,
		Date:              core.NewDate(2000, 1, 5),
		Amount:            decimal.NewFromInt(100),
		Description:       "Deposit",
	})
	if err != nil {
		t.Fatalf("create line: %v", err)
	}

	reminded, err := f.svc.RunReconciliationReminders(ctx, asOf)
	if err != nil || reminded != 1 {
		t.Fatalf("expected 1 reminder, got %d, %v", reminded, err)
	}
	sent, err := f.svc.RunStatements(ctx, asOf)
	if err != nil || sent != 0 {
		t.Fatalf("expected no statements before reconciliation, got %d, %v", sent, err)
	}

	other := f.account(t, core.Account{Name: "Other Income", Type: core.AccountIncome})
	if _, err := f.svc.ReconcileStatementLine(ctx, line.ID, other.ID, ""); err != nil {
		t.Fatalf("reconcile line: %v", err)
	}

	if reminded, err = f.svc.RunReconciliationReminders(ctx, asOf); err != nil || reminded != 0 {
		t.Errorf("expected no reminder once reconciled, got %d, %v", reminded, err)
	}
	if sent, err = f.svc.RunStatements(ctx, asOf); err != nil || sent != 1 {
		t.Fatalf("expected statements for January, got %d, %v", sent, err)
	}

	var statements []notify.Notification
	for _, n := range f.recorder.Sent() {
		if n.Kind == notify.KindStatement {
			statements = append(statements, n)
		}
	}
	if len(statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(statements))
	}
	if st := statements[0].Statement; !st.ClosingBalance.Equal(decimal.NewFromInt(100)) || len(st.Lines) != 1 {
		t.Errorf("unexpected statement: %+v", st)
	}
}

func TestReconcileStatementLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	si, err := f.repo.CreateStatementImport(ctx, core.StatementImport{BankAccountID: f.bank.ID})
	if err != nil {
		t.Fatalf("create import: %v", err)
	}
	line, err := f.repo.CreateStatementLine(ctx, core.StatementLine{
		StatementImportID: si.ID,
		Date:              core.NewDate(2000, 1, 5),
		Amount:            decimal.RequireFromString("-42.50"),
		Description:       "Electricity",
	})
	if err != nil {
		t.Fatalf("create line: %v", err)
	}

	tx, err := f.svc.ReconcileStatementLine(ctx, line.ID, f.rent.ID, "")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if tx.Description != "Electricity" || !tx.Date.Equal(line.Date) {
		t.Errorf("unexpected transaction: %+v", tx)
	}

	bank, err := f.repo.Balance(ctx, f.bank.ID, core.NewDate(2000, 2, 1))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bank.Equal(decimal.RequireFromString("-42.50")) {
		t.Errorf("expected bank balance -42.50, got %s", bank)
	}

	stored, err := f.repo.StatementLine(ctx, line.ID)
	if err != nil {
		t.Fatalf("reload line: %v", err)
	}
	if stored.TransactionID != tx.ID {
		t.Errorf("expected line linked to %s, got %q", tx.ID, stored.TransactionID)
	}

	if _, err := f.svc.ReconcileStatementLine(ctx, line.ID, f.rent.ID, ""); !errors.Is(err, core.ErrAlreadyReconciled) {
		t.Errorf("expected ErrAlreadyReconciled, got %v", err)
	}
	if _, err := f.svc.ReconcileStatementLine(ctx, "missing", f.rent.ID, ""); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycles := f.populate(t)
	if _, err := f.svc.RunEnactment(ctx, core.NewDate(2000, 2, 1)); err != nil {
		t.Fatalf("run enactment: %v", err)
	}

	status, err := f.svc.Status(ctx, core.NewDateRange(core.NewDate(2000, 1, 1), core.NewDate(2000, 3, 1)))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(status))
	}
	if status[0].Cycle.ID != cycles[0].ID || !status[0].Cycle.TransactionsCreated {
		t.Errorf("expected January enacted, got %+v", status[0].Cycle)
	}
	if len(status[0].Billed) != 1 || len(status[1].Billed) != 0 {
		t.Errorf("expected only January billed, got %v and %v", status[0].Billed, status[1].Billed)
	}
	for _, billed := range status[0].Billed {
		if !billed.Equal(decimal.NewFromInt(100)) {
			t.Errorf("expected 100 billed, got %s", billed)
		}
	}
}
