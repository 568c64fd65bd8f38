package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"housebill/internal/core"
	"housebill/internal/ledger"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "housebill.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustAccount(t *testing.T, repo *SQLiteRepository, name string, typ core.AccountType, parent string) core.Account {
	t.Helper()
	a, err := repo.CreateAccount(context.Background(), core.Account{
		Name: name, Type: typ, Currency: "EUR", ParentID: parent,
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a
}

func mustPost(t *testing.T, repo *SQLiteRepository, date core.Date, from, to string, amount string) core.Transaction {
	t.Helper()
	tx, err := repo.PostTransaction(context.Background(), core.Transaction{
		Date: date,
		Legs: ledger.Transfer(from, to, dec(amount)),
	})
	if err != nil {
		t.Fatalf("post transaction: %v", err)
	}
	return tx
}

func TestMigrationVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "housebill.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	repo.Close()

	version, dirty, err := MigrationVersion(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 3 || dirty {
		t.Fatalf("expected clean version 3, got %d (dirty=%v)", version, dirty)
	}

	// migrating twice is a no-op
	if err := RunMigrations(path); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
}

func TestBalanceSignsAndDescendants(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	bank := mustAccount(t, repo, "Bank", core.AccountAsset, "")
	liabilities := mustAccount(t, repo, "Liabilities", core.AccountLiability, "")
	gas := mustAccount(t, repo, "Gas Payable", core.AccountLiability, liabilities.ID)

	mustPost(t, repo, core.NewDate(2016, 1, 10), bank.ID, gas.ID, "-100")
	mustPost(t, repo, core.NewDate(2016, 2, 10), bank.ID, gas.ID, "-50")

	tests := []struct {
		name    string
		account string
		asOf    core.Date
		want    string
	}{
		{"bank before any posting", bank.ID, core.NewDate(2016, 1, 10), "0"},
		{"bank after january", bank.ID, core.NewDate(2016, 2, 1), "100"},
		{"gas after january", gas.ID, core.NewDate(2016, 2, 1), "100"},
		{"parent includes child", liabilities.ID, core.NewDate(2016, 3, 1), "150"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Balance(ctx, tt.account, tt.asOf)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	feb := core.NewDateRange(core.NewDate(2016, 2, 1), core.NewDate(2016, 3, 1))
	sum, err := repo.SumTransactions(ctx, gas.ID, feb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sum.Equal(dec("50")) {
		t.Errorf("expected february sum 50, got %s", sum)
	}

	legs, err := repo.AccountLegs(ctx, liabilities.ID, feb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(legs) != 1 || !legs[0].Date.Equal(core.NewDate(2016, 2, 10)) {
		t.Errorf("expected one february leg, got %+v", legs)
	}
}

func TestPostTransactionRejectsUnbalancedLegs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := mustAccount(t, repo, "A", core.AccountAsset, "")
	b := mustAccount(t, repo, "B", core.AccountExpense, "")

	_, err := repo.PostTransaction(ctx, core.Transaction{
		Date: core.NewDate(2016, 1, 1),
		Legs: []core.Leg{
			{AccountID: a.ID, Amount: dec("10")},
			{AccountID: b.ID, Amount: dec("-9")},
		},
	})
	if !errors.Is(err, core.ErrUnbalancedLegs) {
		t.Fatalf("expected ErrUnbalancedLegs, got %v", err)
	}

	bal, err := repo.Balance(ctx, a.ID, core.NewDate(2017, 1, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.IsZero() {
		t.Errorf("expected nothing posted, got balance %s", bal)
	}
}

func TestPostTransactionIsAtomic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := mustAccount(t, repo, "A", core.AccountAsset, "")

	// the second leg references a missing account and violates the foreign key
	_, err := repo.PostTransaction(ctx, core.Transaction{
		Date: core.NewDate(2016, 1, 1),
		Legs: ledger.Transfer("missing", a.ID, dec("10")),
	})
	if err == nil {
		t.Fatal("expected foreign key error")
	}

	bal, err := repo.Balance(ctx, a.ID, core.NewDate(2017, 1, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.IsZero() {
		t.Errorf("expected first leg rolled back, got balance %s", bal)
	}
}

func TestAtomicNestedRollback(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.Atomic(ctx, func(ctx context.Context) error {
		if _, err := repo.CreateAccount(ctx, core.Account{Name: "A", Type: core.AccountAsset, Currency: "EUR"}); err != nil {
			return err
		}
		return repo.Atomic(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	accounts, err := repo.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("expected rollback, found %d accounts", len(accounts))
	}
}

func TestBillingCycleTimeline(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jan := core.NewDateRange(core.NewDate(2016, 1, 1), core.NewDate(2016, 2, 1))
	feb := core.NewDateRange(core.NewDate(2016, 2, 1), core.NewDate(2016, 3, 1))

	janCycle, err := repo.CreateBillingCycle(ctx, jan)
	if err != nil {
		t.Fatalf("create january: %v", err)
	}
	febCycle, err := repo.CreateBillingCycle(ctx, feb)
	if err != nil {
		t.Fatalf("create february: %v", err)
	}

	if _, err := repo.CreateBillingCycle(ctx, core.NewDateRange(core.NewDate(2016, 1, 25), core.NewDate(2016, 2, 25))); !errors.Is(err, core.ErrOverlappingCycle) {
		t.Errorf("expected ErrOverlappingCycle, got %v", err)
	}
	if _, err := repo.CreateBillingCycle(ctx, core.NewDateRange(core.NewDate(2016, 3, 2), core.NewDate(2016, 4, 1))); !errors.Is(err, core.ErrNonContiguousCycle) {
		t.Errorf("expected ErrNonContiguousCycle, got %v", err)
	}

	at, err := repo.BillingCycleAt(ctx, core.NewDate(2016, 2, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if at.ID != febCycle.ID {
		t.Errorf("expected february cycle, got %s", at.Range)
	}
	if _, err := repo.BillingCycleAt(ctx, core.NewDate(2016, 3, 1)); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound past the last cycle, got %v", err)
	}

	prev, err := repo.PreviousBillingCycle(ctx, febCycle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev.ID != janCycle.ID {
		t.Errorf("expected january before february, got %s", prev.Range)
	}

	if err := repo.MarkTransactionsCreated(ctx, janCycle.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := repo.BillingCycle(ctx, janCycle.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.TransactionsCreated || got.StatementsSent {
		t.Errorf("unexpected flags %+v", got)
	}

	n, err := repo.DeleteBillingCyclesFrom(ctx, feb.Start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted cycle, got %d", n)
	}
	cycles, err := repo.BillingCycles(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cycles) != 1 || cycles[0].ID != janCycle.ID {
		t.Errorf("expected only january left, got %+v", cycles)
	}
}

func TestRecurringCostStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	payable := mustAccount(t, repo, "Gas Payable", core.AccountLiability, "")
	alice := mustAccount(t, repo, "Alice", core.AccountIncome, "")
	bob := mustAccount(t, repo, "Bob", core.AccountIncome, "")
	cycle, err := repo.CreateBillingCycle(ctx, core.NewDateRange(core.NewDate(2016, 1, 1), core.NewDate(2016, 2, 1)))
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}

	// arrears costs need an initial cycle
	_, _, err = repo.CreateRecurringCost(ctx,
		core.RecurringCost{ToAccountID: payable.ID, Type: core.CostArrearsBalance},
		[]core.RecurringCostSplit{{FromAccountID: alice.ID, Portion: dec("1")}})
	if !errors.Is(err, core.ErrArrearsNeedsInitial) {
		t.Fatalf("expected ErrArrearsNeedsInitial, got %v", err)
	}

	cost, splits, err := repo.CreateRecurringCost(ctx,
		core.RecurringCost{
			ToAccountID:           payable.ID,
			Type:                  core.CostArrearsBalance,
			InitialBillingCycleID: cycle.ID,
			Description:           "Gas",
		},
		[]core.RecurringCostSplit{
			{FromAccountID: alice.ID, Portion: dec("1")},
			{FromAccountID: bob.ID, Portion: dec("2")},
		})
	if err != nil {
		t.Fatalf("create cost: %v", err)
	}
	if len(splits) != 2 {
		t.Fatalf("expected 2 splits, got %d", len(splits))
	}

	got, err := repo.Splits(ctx, cost.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].FromAccountID != alice.ID || !got[1].Portion.Equal(dec("2")) {
		t.Errorf("splits not returned in creation order: %+v", got)
	}

	if _, err := repo.ReplaceSplits(ctx, cost.ID, nil); !errors.Is(err, core.ErrNoSplits) {
		t.Errorf("expected ErrNoSplits, got %v", err)
	}

	cost.Disabled = true
	if err := repo.UpdateRecurringCost(ctx, cost); err != nil {
		t.Fatalf("update cost: %v", err)
	}
	stored, err := repo.RecurringCost(ctx, cost.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored.Disabled || stored.FixedAmount.Valid || stored.InitialBillingCycleID != cycle.ID {
		t.Errorf("unexpected stored cost %+v", stored)
	}

	if _, err := repo.CreateRecurredCost(ctx, core.RecurredCost{RecurringCostID: cost.ID, BillingCycleID: cycle.ID}); err != nil {
		t.Fatalf("first enactment: %v", err)
	}
	if _, err := repo.CreateRecurredCost(ctx, core.RecurredCost{RecurringCostID: cost.ID, BillingCycleID: cycle.ID}); !errors.Is(err, core.ErrAlreadyEnacted) {
		t.Fatalf("expected ErrAlreadyEnacted, got %v", err)
	}

	recurred, err := repo.RecurredCosts(ctx, cost.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recurred) != 1 {
		t.Errorf("expected 1 recurred cost, got %d", len(recurred))
	}
}

func TestOneOffCostRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	to := mustAccount(t, repo, "Furniture", core.AccountExpense, "")
	from := mustAccount(t, repo, "Alice", core.AccountIncome, "")
	cycle, err := repo.CreateBillingCycle(ctx, core.NewDateRange(core.NewDate(2016, 1, 1), core.NewDate(2016, 2, 1)))
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}

	total := 3
	cost, _, err := repo.CreateRecurringCost(ctx,
		core.RecurringCost{
			ToAccountID:           to.ID,
			Type:                  core.CostNormal,
			FixedAmount:           decimal.NewNullDecimal(dec("100")),
			InitialBillingCycleID: cycle.ID,
			TotalBillingCycles:    &total,
		},
		[]core.RecurringCostSplit{{FromAccountID: from.ID, Portion: dec("1")}})
	if err != nil {
		t.Fatalf("create cost: %v", err)
	}

	costs, err := repo.RecurringCosts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(costs) != 1 || costs[0].ID != cost.ID {
		t.Fatalf("expected the created cost, got %+v", costs)
	}
	got := costs[0]
	if !got.IsOneOff() || *got.TotalBillingCycles != 3 || !got.Amount().Equal(dec("100")) {
		t.Errorf("one-off fields lost: %+v", got)
	}
}

func TestStatementLines(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	bank := mustAccount(t, repo, "Bank", core.AccountAsset, "")
	other := mustAccount(t, repo, "Other", core.AccountExpense, "")
	imported := time.Date(2016, 2, 3, 9, 30, 0, 0, time.UTC)

	si, err := repo.CreateStatementImport(ctx, core.StatementImport{BankAccountID: bank.ID, Timestamp: imported})
	if err != nil {
		t.Fatalf("create import: %v", err)
	}
	line, err := repo.CreateStatementLine(ctx, core.StatementLine{
		StatementImportID: si.ID,
		Timestamp:         imported,
		Date:              core.NewDate(2016, 1, 15),
		Amount:            dec("-20.50"),
		Description:       "Groceries",
	})
	if err != nil {
		t.Fatalf("create line: %v", err)
	}

	imports, err := repo.StatementImports(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(imports) != 1 || !imports[0].Timestamp.Equal(imported) {
		t.Errorf("unexpected imports %+v", imports)
	}

	jan := core.NewDateRange(core.NewDate(2016, 1, 1), core.NewDate(2016, 2, 1))
	lines, err := repo.StatementLines(ctx, jan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0].IsReconciled() || !lines[0].Amount.Equal(dec("-20.5")) {
		t.Fatalf("unexpected lines %+v", lines)
	}

	tx := mustPost(t, repo, core.NewDate(2016, 1, 15), bank.ID, other.ID, "20.50")
	if err := repo.LinkStatementLine(ctx, line.ID, tx.ID); err != nil {
		t.Fatalf("link line: %v", err)
	}
	if err := repo.LinkStatementLine(ctx, line.ID, tx.ID); !errors.Is(err, core.ErrAlreadyReconciled) {
		t.Errorf("expected ErrAlreadyReconciled, got %v", err)
	}

	linked, err := repo.StatementLine(ctx, line.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linked.TransactionID != tx.ID {
		t.Errorf("expected line linked to %s, got %q", tx.ID, linked.TransactionID)
	}
}

func TestHousemates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc := mustAccount(t, repo, "Alice", core.AccountIncome, "")
	h, err := repo.CreateHousemate(ctx, core.Housemate{AccountID: acc.ID, Name: "Alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("create housemate: %v", err)
	}

	got, err := repo.Housemate(ctx, h.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("unexpected housemate %+v", got)
	}
	if _, err := repo.Housemate(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
