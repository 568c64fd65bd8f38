// Package worker handles notifications consumed from the broker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"housebill/internal/amqp"
	"housebill/internal/cache"
	"housebill/internal/log"
	"housebill/internal/notify"
	"housebill/internal/sheets"
)

const (
	seenMessages   = 1024
	seenMessageTTL = 24 * time.Hour
	// exportedSuffix keys statements already written to the spreadsheet.
	exportedSuffix = ":exported"
)

// StatementsWorker exports statement notifications to a spreadsheet and
// forwards every notification to a delivery notifier.
type StatementsWorker struct {
	sheets   sheets.StatementWriter
	delivery notify.Notifier
	seen     *cache.Seen
}

// NewStatementsWorker creates a worker. delivery may be nil, in which case
// notifications are only logged.
func NewStatementsWorker(writer sheets.StatementWriter, delivery notify.Notifier) *StatementsWorker {
	if delivery == nil {
		delivery = notify.LogNotifier{}
	}
	return &StatementsWorker{
		sheets:   writer,
		delivery: delivery,
		seen:     cache.NewSeen(seenMessages, seenMessageTTL),
	}
}

// HandleNotification processes one message. Messages already handled are
// acknowledged without doing the work again. A statement exported before a
// failed delivery is not exported again when the message is redelivered.
func (w *StatementsWorker) HandleNotification(ctx context.Context, msg *amqp.NotificationMessage) error {
	logger := log.FromContext(ctx).WithComponent(log.ComponentWorker).With(log.FieldMessageID, msg.ID)
	if w.seen.Contains(msg.ID) {
		logger.InfoContext(ctx, "Skipping redelivered notification")
		return nil
	}

	n := msg.Notification
	switch n.Kind {
	case notify.KindStatement:
		if n.Statement == nil {
			return amqp.Permanent(errors.New("statement notification without a statement"))
		}
		exportKey := msg.ID + exportedSuffix
		if w.sheets != nil && !w.seen.Contains(exportKey) {
			ref, err := w.sheets.AppendStatement(ctx, *n.Statement)
			if err != nil {
				return fmt.Errorf("export statement: %w", err)
			}
			w.seen.Mark(exportKey)
			logger.InfoContext(ctx, "Statement exported",
				log.FieldHousemate, n.Statement.Housemate,
				log.FieldSheetsRef, ref)
		}
	case notify.KindReconciliationRequired:
	default:
		logger.WarnContext(ctx, "Unknown notification kind, delivering as is",
			"kind", string(n.Kind))
	}

	if err := w.delivery.Notify(ctx, n); err != nil {
		return fmt.Errorf("deliver %s notification: %w", n.Kind, err)
	}
	w.seen.Mark(msg.ID)
	return nil
}
