package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"housebill/internal/core"
	"housebill/internal/log"
	"housebill/internal/notify"
	ports "housebill/internal/sheets"
)

const defaultStatementsSheet = "Statements"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year (e.g. "Statements"); the cycle's year is prefixed.
	statementsBase string
}

var _ ports.StatementWriter = (*Client)(nil)

func logger(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentSheets)
}

// New creates a Sheets client writing statements to spreadsheetID.
// Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, spreadsheetID, statementsSheet string) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	statementsSheet = strings.TrimSpace(statementsSheet)
	if statementsSheet == "" {
		statementsSheet = defaultStatementsSheet
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, statementsBase: statementsSheet}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger(ctx).InfoContext(ctx, "Google Sheets service created", "credentials_size", len(credentialsJSON))
	return service, nil
}

// AppendStatement writes the statement below the existing rows of the
// statements sheet for the cycle's year.
func (c *Client) AppendStatement(ctx context.Context, st notify.Statement) (string, error) {
	start, err := core.ParseDate(st.CycleStart)
	if err != nil {
		return "", fmt.Errorf("invalid statement cycle start: %w", err)
	}
	if strings.TrimSpace(st.Housemate) == "" {
		return "", errors.New("statement has no housemate")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.statementsBase, start.Year())
	rng := fmt.Sprintf("%s!A:F", sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: statementRows(st)}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append statement to %s: %w", sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	logger(ctx).InfoContext(ctx, "Statement exported",
		log.FieldHousemate, st.Housemate,
		"cycle_start", st.CycleStart,
		log.FieldSheetsRef, ref)
	return ref, nil
}

// statementRows lays a statement out as an opening row, one row per line
// and a closing row. Columns: cycle start, cycle end, housemate, date,
// description, amount.
func statementRows(st notify.Statement) [][]any {
	row := func(date, desc, amount string) []any {
		return []any{st.CycleStart, st.CycleEnd, st.Housemate, date, desc, amount}
	}

	rows := make([][]any, 0, len(st.Lines)+2)
	rows = append(rows, row("", "Opening balance", st.OpeningBalance.StringFixed(2)))
	for _, l := range st.Lines {
		rows = append(rows, row(l.Date, l.Description, l.Amount.StringFixed(2)))
	}
	rows = append(rows, row("", "Closing balance", st.ClosingBalance.StringFixed(2)))
	return rows
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
