// Package notify carries billing notifications to housemates.
package notify

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"housebill/internal/log"
)

type Kind string

const (
	KindReconciliationRequired Kind = "reconciliation_required"
	KindStatement              Kind = "statement"
)

type (
	// Notification is one message to a set of recipients. Context holds the
	// values a template needs; Statement is set for KindStatement.
	Notification struct {
		Kind       Kind              `json:"kind"`
		Recipients []string          `json:"recipients"`
		Subject    string            `json:"subject"`
		Context    map[string]string `json:"context,omitempty"`
		Statement  *Statement        `json:"statement,omitempty"`
	}

	// Statement summarises one housemate's account over a billing cycle.
	Statement struct {
		HousemateID    string          `json:"housemate_id"`
		Housemate      string          `json:"housemate"`
		AccountID      string          `json:"account_id"`
		CycleStart     string          `json:"cycle_start"`
		CycleEnd       string          `json:"cycle_end"`
		OpeningBalance decimal.Decimal `json:"opening_balance"`
		ClosingBalance decimal.Decimal `json:"closing_balance"`
		Lines          []StatementLine `json:"lines"`
	}

	StatementLine struct {
		Date        string          `json:"date"`
		Description string          `json:"description"`
		Amount      decimal.Decimal `json:"amount"`
	}

	// Notifier delivers notifications. Rendering and transport are up to the
	// implementation.
	Notifier interface {
		Notify(ctx context.Context, n Notification) error
	}
)

// LogNotifier writes notifications to the structured log. It is the
// fallback when no message broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	attrs := []any{
		"kind", string(n.Kind),
		"recipients", n.Recipients,
		"subject", n.Subject,
	}
	if n.Statement != nil {
		attrs = append(attrs,
			log.FieldHousemate, n.Statement.Housemate,
			"closing_balance", n.Statement.ClosingBalance.StringFixed(2),
			"lines", len(n.Statement.Lines))
	}
	log.FromContext(ctx).WithComponent(log.ComponentNotify).InfoContext(ctx, "Notification", attrs...)
	return nil
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of the notifications received so far.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}
