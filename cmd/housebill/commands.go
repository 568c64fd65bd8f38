package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"housebill/internal/config"
	"housebill/internal/core"
	"housebill/internal/costs"
	"housebill/internal/ledger"
	"housebill/internal/services"
	"housebill/internal/storage"
)

// housemateParent is the chart account new housemate accounts are created under.
const housemateParent = "Housemate Income"

type app struct {
	cfg     *config.Config
	repo    *storage.SQLiteRepository
	billing *services.BillingService
	costs   *costs.Service
	out     io.Writer
	today   core.Date
}

type command struct {
	summary string
	run     func(a *app, ctx context.Context, args []string) error
}

var commandOrder = []string{
	"migrate", "create-accounts", "add-housemate", "add-cost", "list-costs", "cost", "populate", "enact",
	"reconcile-line", "reconcile-status", "send-reminders", "send-statements",
}

var commands = map[string]command{
	"migrate":          {"Apply database migrations", (*app).migrate},
	"create-accounts":  {"Create the initial chart of accounts", (*app).createAccounts},
	"add-housemate":    {"Register a housemate and their account", (*app).addHousemate},
	"add-cost":         {"Define a recurring or one-off cost", (*app).addCost},
	"list-costs":       {"List recurring costs with their splits", (*app).listCosts},
	"cost":             {"Disable, enable or re-split a recurring cost", (*app).cost},
	"populate":         {"Create billing cycles for the configured horizon", (*app).populate},
	"enact":            {"Enact recurring costs for ended billing cycles", (*app).enact},
	"reconcile-line":   {"Book a bank statement line against an account", (*app).reconcileLine},
	"reconcile-status": {"Show enactment and reconciliation per cycle", (*app).reconcileStatus},
	"send-reminders":   {"Ask housemates to reconcile pending cycles", (*app).sendReminders},
	"send-statements":  {"Send housemate statements", (*app).sendStatements},
}

func (a *app) run(ctx context.Context, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	err := cmd.run(a, ctx, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

// dateFlag parses YYYY-MM-DD values.
type dateFlag struct{ d *core.Date }

func (f dateFlag) String() string {
	if f.d == nil || f.d.IsEmpty() {
		return ""
	}
	return f.d.String()
}

func (f dateFlag) Set(s string) error {
	d, err := core.ParseDate(s)
	if err != nil {
		return err
	}
	*f.d = d
	return nil
}

func (a *app) asOfFlag(fs *flag.FlagSet) *core.Date {
	asOf := a.today
	fs.Var(dateFlag{&asOf}, "as-of", "date to act as of, YYYY-MM-DD (default today)")
	return &asOf
}

func (a *app) migrate(ctx context.Context, args []string) error {
	fs := a.flags("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := storage.RunMigrations(a.cfg.SQLiteDBPath); err != nil {
		return err
	}
	version, dirty, err := storage.MigrationVersion(a.cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

func (a *app) createAccounts(ctx context.Context, args []string) error {
	fs := a.flags("create-accounts")
	preserve := fs.Bool("preserve", false, "exit normally if accounts already exist")
	currency := fs.String("currency", a.cfg.DefaultCurrency, "currency of the new accounts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var created map[string]core.Account
	err := a.repo.Atomic(ctx, func(ctx context.Context) error {
		var err error
		created, err = ledger.CreateChartOfAccounts(ctx, a.repo, strings.ToUpper(*currency), *preserve)
		return err
	})
	if errors.Is(err, ledger.ErrAccountsExist) {
		return fmt.Errorf("%w: use --preserve to leave them untouched", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %d accounts\n", len(created))
	return nil
}

func (a *app) addHousemate(ctx context.Context, args []string) error {
	fs := a.flags("add-housemate")
	name := fs.String("name", "", "housemate name (required)")
	email := fs.String("email", "", "address notifications are sent to")
	accountID := fs.String("account", "", "existing account to bill; a new one is created when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}

	var h core.Housemate
	err := a.repo.Atomic(ctx, func(ctx context.Context) error {
		id := *accountID
		if id == "" {
			account, err := a.housemateAccount(ctx, *name)
			if err != nil {
				return err
			}
			id = account.ID
		}
		var err error
		h, err = a.repo.CreateHousemate(ctx, core.Housemate{AccountID: id, Name: *name, Email: *email})
		return err
	})
	if err != nil {
		return fmt.Errorf("add housemate: %w", err)
	}
	fmt.Fprintf(a.out, "housemate %s (account %s)\n", h.ID, h.AccountID)
	return nil
}

// housemateAccount creates the income account a housemate is billed to.
func (a *app) housemateAccount(ctx context.Context, name string) (core.Account, error) {
	accounts, err := a.repo.ListAccounts(ctx)
	if err != nil {
		return core.Account{}, err
	}
	account := core.Account{Name: name, Type: core.AccountIncome, Currency: a.cfg.DefaultCurrency}
	for _, acc := range accounts {
		if acc.Name == housemateParent {
			account.ParentID = acc.ID
			account.Currency = acc.Currency
			break
		}
	}
	return a.repo.CreateAccount(ctx, account)
}

// splitsFlag collects repeated account=portion values.
type splitsFlag []core.RecurringCostSplit

func (f *splitsFlag) String() string {
	parts := make([]string, 0, len(*f))
	for _, s := range *f {
		parts = append(parts, s.FromAccountID+"="+s.Portion.String())
	}
	return strings.Join(parts, ",")
}

func (f *splitsFlag) Set(s string) error {
	account, portion, ok := strings.Cut(s, "=")
	if !ok {
		portion = "1"
	}
	p, err := core.ParsePortion(portion)
	if err != nil {
		return fmt.Errorf("%q: %w", portion, err)
	}
	*f = append(*f, core.RecurringCostSplit{FromAccountID: account, Portion: p})
	return nil
}

func (a *app) addCost(ctx context.Context, args []string) error {
	fs := a.flags("add-cost")
	to := fs.String("to", "", "account the cost is billed to (required)")
	costType := fs.String("type", string(core.CostNormal), "normal, arrears_balance or arrears_transactions")
	amount := fs.String("amount", "", "fixed amount, normal costs only")
	cycles := fs.Int("cycles", 0, "spread the amount over this many cycles (one-off cost)")
	initial := fs.String("initial-cycle", "", "first billing cycle id (default: cycle as of --as-of)")
	description := fs.String("description", "", "description shown on statements")
	var splits splitsFlag
	fs.Var(&splits, "split", "account=portion, repeatable (default: every housemate equally)")
	asOf := a.asOfFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cost := core.RecurringCost{
		ToAccountID:           *to,
		Type:                  core.CostType(*costType),
		InitialBillingCycleID: *initial,
		Description:           *description,
	}
	if *amount != "" {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", *amount, err)
		}
		cost.FixedAmount = decimal.NewNullDecimal(d)
	}
	if *cycles > 0 {
		cost.TotalBillingCycles = cycles
	}

	created, createdSplits, err := a.costs.Create(ctx, cost, splits, *asOf)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "cost %s with %d splits\n", created.ID, len(createdSplits))
	return nil
}

func (a *app) listCosts(ctx context.Context, args []string) error {
	fs := a.flags("list-costs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.costs.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tAMOUNT\tTO\tDISABLED\tSPLITS\tDESCRIPTION")
	for _, c := range list {
		amount := "-"
		if c.Cost.FixedAmount.Valid {
			amount = c.Cost.FixedAmount.Decimal.StringFixed(2)
		}
		if c.Cost.IsOneOff() {
			amount = fmt.Sprintf("%s/%d", amount, *c.Cost.TotalBillingCycles)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
			c.Cost.ID, c.Cost.Type, amount, c.Cost.ToAccountID, c.Cost.Disabled, len(c.Splits), c.Cost.Description)
	}
	return w.Flush()
}

// cost edits an existing recurring cost. Its first argument picks the edit.
func (a *app) cost(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: housebill cost disable|enable|splits --id <cost> [options]")
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "disable", "enable", "splits":
	default:
		return fmt.Errorf("unknown cost command %q: want disable, enable or splits", sub)
	}

	fs := a.flags("cost " + sub)
	id := fs.String("id", "", "recurring cost id (required)")
	var splits splitsFlag
	if sub == "splits" {
		fs.Var(&splits, "split", "account=portion, repeatable (required)")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	if sub == "splits" {
		stored, err := a.costs.SetSplits(ctx, *id, splits)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "cost %s now has %d splits\n", *id, len(stored))
		return nil
	}

	disabled := sub == "disable"
	if err := a.costs.SetDisabled(ctx, *id, disabled); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "cost %s %sd\n", *id, sub)
	return nil
}

func (a *app) populate(ctx context.Context, args []string) error {
	fs := a.flags("populate")
	deleteFuture := fs.Bool("delete", false, "delete and regenerate cycles after the current one")
	asOf := a.asOfFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.billing.Populate(ctx, *asOf, *deleteFuture)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %d billing cycles, deleted %d\n", res.Created, res.Deleted)
	return nil
}

func (a *app) enact(ctx context.Context, args []string) error {
	fs := a.flags("enact")
	cycleID := fs.String("cycle", "", "enact a single billing cycle instead of every ended one")
	asOf := a.asOfFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *cycleID != "" {
		recurred, err := a.billing.Billing().EnactAll(ctx, *cycleID, *asOf)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "enacted %d costs\n", len(recurred))
		return nil
	}

	n, err := a.billing.RunEnactment(ctx, *asOf)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "enacted %d billing cycles\n", n)
	return nil
}

func (a *app) reconcileLine(ctx context.Context, args []string) error {
	fs := a.flags("reconcile-line")
	lineID := fs.String("line", "", "statement line id (required)")
	account := fs.String("account", "", "counter account id (required)")
	description := fs.String("description", "", "transaction description (default: the line's)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *lineID == "" || *account == "" {
		return errors.New("--line and --account are required")
	}

	tx, err := a.billing.ReconcileStatementLine(ctx, *lineID, *account, *description)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "transaction %s\n", tx.ID)
	return nil
}

func (a *app) reconcileStatus(ctx context.Context, args []string) error {
	fs := a.flags("reconcile-status")
	to := a.today.AddDays(1)
	from := a.today.AddYears(-1)
	fs.Var(dateFlag{&from}, "from", "first cycle start to show (default a year ago)")
	fs.Var(dateFlag{&to}, "to", "show cycles starting before this date (default tomorrow)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	status, err := a.billing.Status(ctx, core.NewDateRange(from, to))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CYCLE\tSTART\tEND\tENACTED\tRECONCILED\tSTATEMENTS\tBILLED")
	for _, st := range status {
		billed := decimal.Zero
		for _, amount := range st.Billed {
			billed = billed.Add(amount)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Cycle.ID, st.Cycle.Start(), st.Cycle.End(),
			yesNo(st.Cycle.TransactionsCreated), yesNo(st.Reconciled), yesNo(st.Cycle.StatementsSent),
			billed.StringFixed(2))
	}
	return w.Flush()
}

func (a *app) sendReminders(ctx context.Context, args []string) error {
	fs := a.flags("send-reminders")
	asOf := a.asOfFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, err := a.billing.RunReconciliationReminders(ctx, *asOf)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sent %d reconciliation reminders\n", n)
	return nil
}

func (a *app) sendStatements(ctx context.Context, args []string) error {
	fs := a.flags("send-statements")
	cycleID := fs.String("cycle", "", "send statements for one billing cycle")
	force := fs.Bool("force", false, "send even if already sent or not reconciled (requires --cycle)")
	asOf := a.asOfFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *cycleID != "" {
		if err := a.billing.Billing().SendStatements(ctx, *cycleID, *force); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "statements sent for %s\n", *cycleID)
		return nil
	}
	if *force {
		return errors.New("--force requires --cycle")
	}

	n, err := a.billing.RunStatements(ctx, *asOf)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sent statements for %d billing cycles\n", n)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
