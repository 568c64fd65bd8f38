package ledger

import (
	"context"
	"errors"
	"fmt"

	"housebill/internal/core"
	"housebill/internal/log"
)

func logger(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentLedger)
}

// ErrAccountsExist is returned by CreateChartOfAccounts when the ledger
// already has accounts and preserve was not requested.
var ErrAccountsExist = errors.New("ledger already has accounts")

type accountNode struct {
	name     string
	code     string
	typ      core.AccountType
	bank     bool
	children []accountNode
}

// defaultChart is the initial household chart of accounts.
var defaultChart = []accountNode{
	{name: "Assets", code: "1", typ: core.AccountAsset, children: []accountNode{
		{name: "Bank", code: "1", bank: true},
	}},
	{name: "Liabilities", code: "2", typ: core.AccountLiability, children: []accountNode{
		{name: "Current Liabilities", code: "1", children: []accountNode{
			{name: "Gas Payable", code: "1"},
			{name: "Electricity Payable", code: "2"},
			{name: "Council Tax Payable", code: "3"},
			{name: "Internet Payable", code: "4"},
		}},
		{name: "Long Term Liabilities", code: "2"},
	}},
	{name: "Equity", code: "3", typ: core.AccountEquity, children: []accountNode{
		{name: "Retained Earnings", code: "1"},
	}},
	{name: "Income", code: "4", typ: core.AccountIncome, children: []accountNode{
		{name: "Housemate Income", code: "1"},
		{name: "Other Income", code: "2"},
	}},
	{name: "Expenses", code: "5", typ: core.AccountExpense, children: []accountNode{
		{name: "Rent", code: "1"},
		{name: "Utilities", code: "2", children: []accountNode{
			{name: "Gas Expense", code: "1"},
			{name: "Electricity Expense", code: "2"},
			{name: "Council Tax Expense", code: "3"},
			{name: "Internet Expense", code: "4"},
		}},
		{name: "Food", code: "3"},
		{name: "Other Expenses", code: "4"},
	}},
}

// CreateChartOfAccounts creates the initial account tree in the given
// currency and returns the accounts created, keyed by name. When accounts
// already exist it returns ErrAccountsExist, or nothing at all if preserve
// is set.
func CreateChartOfAccounts(ctx context.Context, accounts Accounts, currency string, preserve bool) (map[string]core.Account, error) {
	if currency == "" {
		return nil, errors.New("no currency specified")
	}

	existing, err := accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if len(existing) > 0 {
		if preserve {
			logger(ctx).InfoContext(ctx, "Accounts already exist, leaving chart of accounts untouched",
				log.FieldCount, len(existing))
			return nil, nil
		}
		return nil, ErrAccountsExist
	}

	created := make(map[string]core.Account)
	var create func(nodes []accountNode, parent core.Account) error
	create = func(nodes []accountNode, parent core.Account) error {
		for _, n := range nodes {
			typ := n.typ
			if typ == "" {
				typ = parent.Type
			}
			acc, err := accounts.CreateAccount(ctx, core.Account{
				ParentID:      parent.ID,
				Name:          n.name,
				Code:          n.code,
				Type:          typ,
				Currency:      currency,
				IsBankAccount: n.bank,
			})
			if err != nil {
				return fmt.Errorf("create account %s: %w", n.name, err)
			}
			created[n.name] = acc
			if err := create(n.children, acc); err != nil {
				return err
			}
		}
		return nil
	}

	if err := create(defaultChart, core.Account{}); err != nil {
		return nil, err
	}

	logger(ctx).InfoContext(ctx, "Chart of accounts created", log.FieldCount, len(created), "currency", currency)
	return created, nil
}
