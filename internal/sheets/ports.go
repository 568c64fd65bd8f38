// Package sheets exports housemate statements to spreadsheets.
package sheets

import (
	"context"

	"housebill/internal/notify"
)

// StatementWriter appends a housemate statement to a spreadsheet and returns
// a reference to the rows written.
type StatementWriter interface {
	AppendStatement(ctx context.Context, st notify.Statement) (rowRef string, err error)
}
