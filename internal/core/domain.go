package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountIncome    AccountType = "income"
	AccountExpense   AccountType = "expense"
)

const (
	CostNormal              CostType = "normal"
	CostArrearsBalance      CostType = "arrears_balance"
	CostArrearsTransactions CostType = "arrears_transactions"
)

type (
	AccountType string

	// CostType selects how a recurring cost's amount is computed.
	CostType string

	Account struct {
		ID            string
		ParentID      string // empty for root accounts
		Name          string
		Code          string
		Type          AccountType
		Currency      string
		IsBankAccount bool
	}

	// Leg is one posting of a transaction. Positive amounts debit the
	// account, negative amounts credit it.
	Leg struct {
		ID            string
		TransactionID string
		AccountID     string
		Amount        decimal.Decimal
		Description   string
		Date          Date // date of the owning transaction, filled on reads
	}

	Transaction struct {
		ID          string
		Date        Date
		Description string
		Legs        []Leg
		CreatedAt   time.Time
	}

	StatementImport struct {
		ID            string
		BankAccountID string
		Timestamp     time.Time
	}

	StatementLine struct {
		ID                string
		StatementImportID string
		Timestamp         time.Time
		Date              Date
		Amount            decimal.Decimal
		Description       string
		TransactionID     string // empty until reconciled
	}

	BillingCycle struct {
		ID                  string
		Range               DateRange
		TransactionsCreated bool
		StatementsSent      bool
	}

	RecurringCost struct {
		ID                    string
		ToAccountID           string
		Type                  CostType
		FixedAmount           decimal.NullDecimal // only for CostNormal
		InitialBillingCycleID string              // required for arrears and one-off costs
		TotalBillingCycles    *int                // set for one-off costs
		Disabled              bool
		Description           string
	}

	RecurringCostSplit struct {
		ID              string
		RecurringCostID string
		FromAccountID   string
		Portion         decimal.Decimal
	}

	// RecurredCost records that a recurring cost was enacted for one cycle.
	RecurredCost struct {
		ID              string
		RecurringCostID string
		BillingCycleID  string
		TransactionID   string
	}

	Housemate struct {
		ID        string
		AccountID string
		Name      string
		Email     string
	}
)

// Sign returns +1 for debit-normal account types and -1 for credit-normal ones.
func (t AccountType) Sign() int64 {
	switch t {
	case AccountAsset, AccountExpense:
		return 1
	default:
		return -1
	}
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountEquity, AccountIncome, AccountExpense:
		return true
	}
	return false
}

func (t CostType) IsArrears() bool {
	return t == CostArrearsBalance || t == CostArrearsTransactions
}

// Start returns the first day of the cycle.
func (c BillingCycle) Start() Date { return c.Range.Start }

// End returns the exclusive end of the cycle.
func (c BillingCycle) End() Date { return c.Range.End }

// HasEnded reports whether the cycle is over as of the given day.
func (c BillingCycle) HasEnded(asOf Date) bool {
	return !asOf.Before(c.Range.End)
}

// IsReconciled reports whether the line has a linked transaction.
func (l StatementLine) IsReconciled() bool {
	return l.TransactionID != ""
}
