// Package ledger describes the double-entry ledger the billing core relies on.
//
// The ledger owns accounts, transactions with their legs, and imported bank
// statements. Implementations must post a transaction's legs atomically and
// must refuse legs that do not balance.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"housebill/internal/core"
)

type (
	// Accounts manages the chart of accounts.
	Accounts interface {
		CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
		Account(ctx context.Context, id string) (core.Account, error)
		ListAccounts(ctx context.Context) ([]core.Account, error)
	}

	// Poster records balanced transactions.
	Poster interface {
		// PostTransaction stores the transaction and its legs, failing with
		// core.ErrUnbalancedLegs when the legs do not sum to zero.
		PostTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		TransactionLegs(ctx context.Context, transactionID string) ([]core.Leg, error)
	}

	// Balances answers point-in-time questions about an account and its
	// descendants. Amounts are signed by the account type so that a debit
	// raises an asset or expense balance and a credit raises the others.
	Balances interface {
		// Balance sums postings dated before asOf.
		Balance(ctx context.Context, accountID string, asOf core.Date) (decimal.Decimal, error)
		// SumTransactions sums postings dated within r.
		SumTransactions(ctx context.Context, accountID string, r core.DateRange) (decimal.Decimal, error)
		// AccountLegs lists postings dated within r, oldest first.
		AccountLegs(ctx context.Context, accountID string, r core.DateRange) ([]core.Leg, error)
	}

	// Statements exposes imported bank statements.
	Statements interface {
		CreateStatementImport(ctx context.Context, si core.StatementImport) (core.StatementImport, error)
		StatementImports(ctx context.Context) ([]core.StatementImport, error)
		CreateStatementLine(ctx context.Context, line core.StatementLine) (core.StatementLine, error)
		StatementLine(ctx context.Context, id string) (core.StatementLine, error)
		// StatementLines lists lines dated within r.
		StatementLines(ctx context.Context, r core.DateRange) ([]core.StatementLine, error)
		// LinkStatementLine attaches a transaction to an unreconciled line.
		LinkStatementLine(ctx context.Context, lineID, transactionID string) error
	}

	Ledger interface {
		Accounts
		Poster
		Balances
		Statements
	}
)
