package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"housebill/internal/core"
	"housebill/internal/ledger"
	"housebill/internal/log"
)

var _ ledger.Ledger = (*SQLiteRepository)(nil)

const accountColumns = `id, parent_id, name, code, type, currency, is_bank_account`

// accountTree selects the account bound to ?1 and all of its descendants.
const accountTree = `
WITH RECURSIVE tree(id) AS (
    SELECT id FROM accounts WHERE id = ?1
    UNION ALL
    SELECT a.id FROM accounts a JOIN tree t ON a.parent_id = t.id
)`

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.Name == "" {
		return core.Account{}, fmt.Errorf("account name is required")
	}
	if !a.Type.Valid() {
		return core.Account{}, fmt.Errorf("invalid account type %q", a.Type)
	}
	if a.ID == "" {
		a.ID = newID()
	}

	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO accounts (id, parent_id, name, code, type, currency, is_bank_account)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullString(a.ParentID), a.Name, a.Code, string(a.Type), a.Currency, boolInt(a.IsBankAccount))
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) Account(ctx context.Context, id string) (core.Account, error) {
	row := r.q(ctx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return core.Account{}, notFound(err, "account", id)
	}
	return a, nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (core.Account, error) {
	var (
		a      core.Account
		parent sql.NullString
		typ    string
		bank   int
	)
	if err := s.Scan(&a.ID, &parent, &a.Name, &a.Code, &typ, &a.Currency, &bank); err != nil {
		return core.Account{}, err
	}
	a.ParentID = parent.String
	a.Type = core.AccountType(typ)
	a.IsBankAccount = bank != 0
	return a, nil
}

// PostTransaction stores a balanced transaction with all of its legs in one
// database transaction.
func (r *SQLiteRepository) PostTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := ledger.ValidateBalanced(tx.Legs); err != nil {
		return core.Transaction{}, err
	}
	if err := tx.Date.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("invalid transaction date: %w", err)
	}
	if tx.ID == "" {
		tx.ID = newID()
	}
	tx.CreatedAt = time.Now().UTC()

	err := r.Atomic(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		if _, err := q.ExecContext(ctx,
			`INSERT INTO transactions (id, date, description, created_at) VALUES (?, ?, ?, ?)`,
			tx.ID, tx.Date.String(), tx.Description, formatTimestamp(tx.CreatedAt)); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		for i := range tx.Legs {
			leg := &tx.Legs[i]
			if leg.ID == "" {
				leg.ID = newID()
			}
			leg.TransactionID = tx.ID
			leg.Date = tx.Date
			if _, err := q.ExecContext(ctx,
				`INSERT INTO legs (id, transaction_id, account_id, amount, description) VALUES (?, ?, ?, ?, ?)`,
				leg.ID, tx.ID, leg.AccountID, leg.Amount.String(), leg.Description); err != nil {
				return fmt.Errorf("insert leg for account %s: %w", leg.AccountID, err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	logger(ctx).DebugContext(ctx, "Transaction posted",
		log.FieldTransaction, tx.ID,
		"date", tx.Date.String(),
		"legs", len(tx.Legs))
	return tx, nil
}

func (r *SQLiteRepository) TransactionLegs(ctx context.Context, transactionID string) ([]core.Leg, error) {
	return r.queryLegs(ctx,
		`SELECT l.id, l.transaction_id, l.account_id, l.amount, l.description, t.date
		 FROM legs l JOIN transactions t ON t.id = l.transaction_id
		 WHERE l.transaction_id = ?
		 ORDER BY l.rowid`, transactionID)
}

// AccountLegs lists the postings against the account and its descendants.
func (r *SQLiteRepository) AccountLegs(ctx context.Context, accountID string, rng core.DateRange) ([]core.Leg, error) {
	return r.queryLegs(ctx, accountTree+`
		SELECT l.id, l.transaction_id, l.account_id, l.amount, l.description, t.date
		FROM legs l JOIN transactions t ON t.id = l.transaction_id
		WHERE l.account_id IN (SELECT id FROM tree) AND t.date >= ?2 AND t.date < ?3
		ORDER BY t.date, t.created_at, l.rowid`,
		accountID, rng.Start.String(), rng.End.String())
}

func (r *SQLiteRepository) queryLegs(ctx context.Context, query string, args ...any) ([]core.Leg, error) {
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query legs: %w", err)
	}
	defer rows.Close()

	var legs []core.Leg
	for rows.Next() {
		var (
			leg  core.Leg
			date string
		)
		if err := rows.Scan(&leg.ID, &leg.TransactionID, &leg.AccountID, &leg.Amount, &leg.Description, &date); err != nil {
			return nil, fmt.Errorf("scan leg: %w", err)
		}
		if leg.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse leg date: %w", err)
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

// Balance sums the postings dated before asOf against the account and its
// descendants, signed by the account type.
func (r *SQLiteRepository) Balance(ctx context.Context, accountID string, asOf core.Date) (decimal.Decimal, error) {
	return r.sumLegs(ctx, accountID, accountTree+`
		SELECT l.amount FROM legs l JOIN transactions t ON t.id = l.transaction_id
		WHERE l.account_id IN (SELECT id FROM tree) AND t.date < ?2`,
		accountID, asOf.String())
}

// SumTransactions sums the postings dated within rng against the account
// and its descendants, signed by the account type.
func (r *SQLiteRepository) SumTransactions(ctx context.Context, accountID string, rng core.DateRange) (decimal.Decimal, error) {
	return r.sumLegs(ctx, accountID, accountTree+`
		SELECT l.amount FROM legs l JOIN transactions t ON t.id = l.transaction_id
		WHERE l.account_id IN (SELECT id FROM tree) AND t.date >= ?2 AND t.date < ?3`,
		accountID, rng.Start.String(), rng.End.String())
}

// sumLegs adds amounts in Go; SQLite's SUM would go through floating point.
func (r *SQLiteRepository) sumLegs(ctx context.Context, accountID, query string, args ...any) (decimal.Decimal, error) {
	account, err := r.Account(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query balance for %s: %w", accountID, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("scan leg amount: %w", err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}
	return total.Mul(decimal.NewFromInt(account.Type.Sign())), nil
}

func (r *SQLiteRepository) CreateStatementImport(ctx context.Context, si core.StatementImport) (core.StatementImport, error) {
	if si.ID == "" {
		si.ID = newID()
	}
	if si.Timestamp.IsZero() {
		si.Timestamp = time.Now()
	}
	si.Timestamp = si.Timestamp.UTC()

	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO statement_imports (id, bank_account_id, timestamp) VALUES (?, ?, ?)`,
		si.ID, si.BankAccountID, formatTimestamp(si.Timestamp))
	if err != nil {
		return core.StatementImport{}, fmt.Errorf("create statement import: %w", err)
	}
	return si, nil
}

func (r *SQLiteRepository) StatementImports(ctx context.Context) ([]core.StatementImport, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT id, bank_account_id, timestamp FROM statement_imports ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("list statement imports: %w", err)
	}
	defer rows.Close()

	var imports []core.StatementImport
	for rows.Next() {
		var (
			si core.StatementImport
			ts string
		)
		if err := rows.Scan(&si.ID, &si.BankAccountID, &ts); err != nil {
			return nil, fmt.Errorf("scan statement import: %w", err)
		}
		if si.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("parse import timestamp: %w", err)
		}
		imports = append(imports, si)
	}
	return imports, rows.Err()
}

const statementLineColumns = `id, statement_import_id, timestamp, date, amount, description, transaction_id`

func (r *SQLiteRepository) CreateStatementLine(ctx context.Context, line core.StatementLine) (core.StatementLine, error) {
	if line.ID == "" {
		line.ID = newID()
	}
	if line.Timestamp.IsZero() {
		line.Timestamp = time.Now()
	}
	line.Timestamp = line.Timestamp.UTC()

	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO statement_lines (`+statementLineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		line.ID, line.StatementImportID, formatTimestamp(line.Timestamp), line.Date.String(),
		line.Amount.String(), line.Description, nullString(line.TransactionID))
	if err != nil {
		return core.StatementLine{}, fmt.Errorf("create statement line: %w", err)
	}
	return line, nil
}

func (r *SQLiteRepository) StatementLine(ctx context.Context, id string) (core.StatementLine, error) {
	row := r.q(ctx).QueryRowContext(ctx, `SELECT `+statementLineColumns+` FROM statement_lines WHERE id = ?`, id)
	line, err := scanStatementLine(row)
	if err != nil {
		return core.StatementLine{}, notFound(err, "statement line", id)
	}
	return line, nil
}

func (r *SQLiteRepository) StatementLines(ctx context.Context, rng core.DateRange) ([]core.StatementLine, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+statementLineColumns+` FROM statement_lines
		 WHERE date >= ? AND date < ?
		 ORDER BY date, timestamp`,
		rng.Start.String(), rng.End.String())
	if err != nil {
		return nil, fmt.Errorf("list statement lines: %w", err)
	}
	defer rows.Close()

	var lines []core.StatementLine
	for rows.Next() {
		line, err := scanStatementLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan statement line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *SQLiteRepository) LinkStatementLine(ctx context.Context, lineID, transactionID string) error {
	return r.Atomic(ctx, func(ctx context.Context) error {
		line, err := r.StatementLine(ctx, lineID)
		if err != nil {
			return err
		}
		if line.IsReconciled() {
			return fmt.Errorf("statement line %s: %w", lineID, core.ErrAlreadyReconciled)
		}
		_, err = r.q(ctx).ExecContext(ctx,
			`UPDATE statement_lines SET transaction_id = ? WHERE id = ?`, transactionID, lineID)
		if err != nil {
			return fmt.Errorf("link statement line %s: %w", lineID, err)
		}
		return nil
	})
}

func scanStatementLine(s scanner) (core.StatementLine, error) {
	var (
		line     core.StatementLine
		ts, date string
		txID     sql.NullString
	)
	if err := s.Scan(&line.ID, &line.StatementImportID, &ts, &date, &line.Amount, &line.Description, &txID); err != nil {
		return core.StatementLine{}, err
	}
	var err error
	if line.Timestamp, err = parseTimestamp(ts); err != nil {
		return core.StatementLine{}, err
	}
	if line.Date, err = core.ParseDate(date); err != nil {
		return core.StatementLine{}, err
	}
	line.TransactionID = txID.String
	return line, nil
}
