package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"housebill/internal/config"
	"housebill/internal/core"
	"housebill/internal/costs"
	"housebill/internal/cycle"
	"housebill/internal/ledger"
	"housebill/internal/notify"
	"housebill/internal/services"
	"housebill/internal/storage"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer, *notify.Recorder) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "housebill.db")
	repo, err := storage.NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	out := &bytes.Buffer{}
	recorder := &notify.Recorder{}
	return &app{
		cfg:     &config.Config{SQLiteDBPath: path, DefaultCurrency: "EUR", BillingCycleYears: 2},
		repo:    repo,
		billing: services.NewBillingService(repo, cycle.MonthlyStrategy, 2, recorder),
		costs:   costs.NewService(repo),
		out:     out,
		today:   core.NewDate(2000, 1, 1),
	}, out, recorder
}

func (a *app) mustRun(t *testing.T, args ...string) {
	t.Helper()
	if err := a.run(context.Background(), args[0], args[1:]); err != nil {
		t.Fatalf("housebill %s: %v", strings.Join(args, " "), err)
	}
}

func accountNamed(t *testing.T, a *app, name string) core.Account {
	t.Helper()
	accounts, err := a.repo.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	for _, acc := range accounts {
		if acc.Name == name {
			return acc
		}
	}
	t.Fatalf("no account named %s", name)
	return core.Account{}
}

func TestMigrateReportsVersion(t *testing.T) {
	a, out, _ := newTestApp(t)
	a.mustRun(t, "migrate")
	if !strings.Contains(out.String(), "schema version 3 (dirty: false)") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestCreateAccounts(t *testing.T) {
	a, out, _ := newTestApp(t)
	a.mustRun(t, "create-accounts", "--currency", "gbp")
	if !strings.Contains(out.String(), "created") {
		t.Errorf("unexpected output %q", out.String())
	}
	if rent := accountNamed(t, a, "Rent"); rent.Currency != "GBP" || rent.Type != core.AccountExpense {
		t.Errorf("unexpected rent account %+v", rent)
	}

	err := a.run(context.Background(), "create-accounts", nil)
	if !errors.Is(err, ledger.ErrAccountsExist) {
		t.Errorf("expected ErrAccountsExist, got %v", err)
	}
	a.mustRun(t, "create-accounts", "--preserve")
}

func TestCreateAccountsRollsBackOnFailure(t *testing.T) {
	a, _, _ := newTestApp(t)

	db, err := sql.Open("sqlite", a.cfg.SQLiteDBPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()
	// fail part way through the chart
	if _, err := db.Exec(`CREATE TRIGGER reject_food BEFORE INSERT ON accounts
		WHEN NEW.name = 'Food' BEGIN SELECT RAISE(ABORT, 'no food'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if err := a.run(context.Background(), "create-accounts", nil); err == nil {
		t.Fatal("expected create-accounts to fail")
	}
	accounts, err := a.repo.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts after a failed chart, got %d", len(accounts))
	}

	if _, err := db.Exec(`DROP TRIGGER reject_food`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	a.mustRun(t, "create-accounts", "--preserve")
	accountNamed(t, a, "Food")
}

func TestAddHousemateCreatesIncomeAccount(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.mustRun(t, "create-accounts")
	a.mustRun(t, "add-housemate", "--name", "Alice", "--email", "alice@example.com")

	account := accountNamed(t, a, "Alice")
	parent := accountNamed(t, a, housemateParent)
	if account.Type != core.AccountIncome || account.ParentID != parent.ID {
		t.Errorf("unexpected housemate account %+v", account)
	}

	housemates, err := a.repo.Housemates(context.Background())
	if err != nil {
		t.Fatalf("list housemates: %v", err)
	}
	if len(housemates) != 1 || housemates[0].AccountID != account.ID || housemates[0].Email != "alice@example.com" {
		t.Errorf("unexpected housemates %+v", housemates)
	}

	if err := a.run(context.Background(), "add-housemate", nil); err == nil {
		t.Error("expected an error without --name")
	}
}

func TestBillingFlow(t *testing.T) {
	a, out, recorder := newTestApp(t)
	a.mustRun(t, "create-accounts")
	a.mustRun(t, "add-housemate", "--name", "Alice", "--email", "alice@example.com")
	a.mustRun(t, "add-housemate", "--name", "Bob", "--email", "bob@example.com")
	rent := accountNamed(t, a, "Rent")

	a.mustRun(t, "populate", "--as-of", "2000-01-01")
	a.mustRun(t, "add-cost", "--to", rent.ID, "--amount", "100", "--description", "Rent")

	out.Reset()
	a.mustRun(t, "list-costs")
	if !strings.Contains(out.String(), "100.00") || !strings.Contains(out.String(), "Rent") {
		t.Errorf("unexpected cost listing %q", out.String())
	}

	out.Reset()
	a.mustRun(t, "enact", "--as-of", "2000-02-10")
	if !strings.Contains(out.String(), "enacted 1 billing cycles") {
		t.Errorf("unexpected enact output %q", out.String())
	}

	out.Reset()
	a.mustRun(t, "reconcile-status", "--from", "2000-01-01", "--to", "2000-03-01")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 cycles, got %q", out.String())
	}
	if !strings.Contains(lines[1], "2000-01-01") || !strings.Contains(lines[1], "100.00") {
		t.Errorf("unexpected January status %q", lines[1])
	}

	out.Reset()
	a.mustRun(t, "send-statements", "--as-of", "2000-02-10")
	if !strings.Contains(out.String(), "sent statements for 1 billing cycles") {
		t.Errorf("unexpected output %q", out.String())
	}
	statements := 0
	for _, n := range recorder.Sent() {
		if n.Kind == notify.KindStatement {
			statements++
		}
	}
	if statements != 2 {
		t.Errorf("expected a statement per housemate, got %d", statements)
	}
}

func TestCostCommands(t *testing.T) {
	a, out, _ := newTestApp(t)
	ctx := context.Background()
	a.mustRun(t, "create-accounts")
	a.mustRun(t, "add-housemate", "--name", "Alice")
	a.mustRun(t, "add-housemate", "--name", "Bob")
	a.mustRun(t, "populate", "--as-of", "2000-01-01")
	a.mustRun(t, "add-cost", "--to", accountNamed(t, a, "Rent").ID, "--amount", "100")

	list, err := a.costs.List(ctx)
	if err != nil {
		t.Fatalf("list costs: %v", err)
	}
	id := list[0].Cost.ID

	a.mustRun(t, "cost", "disable", "--id", id)
	if cost, err := a.repo.RecurringCost(ctx, id); err != nil || !cost.Disabled {
		t.Fatalf("expected cost disabled, got %+v, %v", cost, err)
	}
	a.mustRun(t, "cost", "enable", "--id", id)
	if cost, err := a.repo.RecurringCost(ctx, id); err != nil || cost.Disabled {
		t.Fatalf("expected cost enabled, got %+v, %v", cost, err)
	}

	alice := accountNamed(t, a, "Alice")
	out.Reset()
	a.mustRun(t, "cost", "splits", "--id", id, "--split", alice.ID+"=3")
	if !strings.Contains(out.String(), "now has 1 splits") {
		t.Errorf("unexpected output %q", out.String())
	}
	splits, err := a.repo.Splits(ctx, id)
	if err != nil {
		t.Fatalf("list splits: %v", err)
	}
	if len(splits) != 1 || splits[0].FromAccountID != alice.ID || splits[0].Portion.String() != "3" {
		t.Errorf("unexpected splits %+v", splits)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no edit", nil},
		{"unknown edit", []string{"rename", "--id", id}},
		{"missing id", []string{"disable"}},
		{"unknown cost", []string{"disable", "--id", "nope"}},
		{"no splits", []string{"splits", "--id", id}},
		{"zero portion", []string{"splits", "--id", id, "--split", alice.ID + "=0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.run(ctx, "cost", tt.args); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}

	// failed edits leave the splits alone
	if splits, err := a.repo.Splits(ctx, id); err != nil || len(splits) != 1 {
		t.Errorf("expected splits untouched, got %+v, %v", splits, err)
	}
}

func TestSendStatementsForceRequiresCycle(t *testing.T) {
	a, _, _ := newTestApp(t)
	if err := a.run(context.Background(), "send-statements", []string{"--force"}); err == nil {
		t.Error("expected --force without --cycle to fail")
	}
}

func TestInvalidFlags(t *testing.T) {
	a, _, _ := newTestApp(t)
	tests := []struct {
		name string
		args []string
	}{
		{"bad date", []string{"populate", "--as-of", "01/02/2000"}},
		{"bad amount", []string{"add-cost", "--amount", "ten"}},
		{"bad split", []string{"add-cost", "--split", "acc=half"}},
		{"missing line", []string{"reconcile-line", "--account", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.run(context.Background(), tt.args[0], tt.args[1:]); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}
}

func TestHelpIsNotAnError(t *testing.T) {
	a, out, _ := newTestApp(t)
	if err := a.run(context.Background(), "populate", []string{"-h"}); err != nil {
		t.Errorf("expected help to succeed, got %v", err)
	}
	if !strings.Contains(out.String(), "-delete") {
		t.Errorf("expected flag usage, got %q", out.String())
	}
}
