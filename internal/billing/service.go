package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"housebill/internal/core"
	"housebill/internal/log"
	"housebill/internal/notify"
)

// statementWorkers bounds how many statements are built at once.
const statementWorkers = 4

type (
	// Store is everything the billing service reads and writes.
	Store interface {
		CycleStore
		RecurringCosts(ctx context.Context) ([]core.RecurringCost, error)
		Housemates(ctx context.Context) ([]core.Housemate, error)
	}

	// Ledger answers the balance and statement questions billing asks.
	Ledger interface {
		StatementSource
		Balance(ctx context.Context, accountID string, asOf core.Date) (decimal.Decimal, error)
		AccountLegs(ctx context.Context, accountID string, r core.DateRange) ([]core.Leg, error)
	}

	// Enacter bills a single recurring cost for a cycle.
	Enacter interface {
		IsEnactable(ctx context.Context, cost core.RecurringCost, c *core.BillingCycle) (bool, error)
		GetAmount(ctx context.Context, cost core.RecurringCost, c core.BillingCycle) (decimal.Decimal, error)
		Enact(ctx context.Context, cost core.RecurringCost, c core.BillingCycle) (core.RecurredCost, error)
	}
)

// Service runs the once-per-cycle billing work.
type Service struct {
	store    Store
	ledger   Ledger
	enacter  Enacter
	notifier notify.Notifier
}

// logger returns the logger carried by ctx, scoped to billing.
func logger(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentBilling)
}

func NewService(store Store, l Ledger, enacter Enacter, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Service{store: store, ledger: l, enacter: enacter, notifier: notifier}
}

// IsReconciled reports whether cycle c's bank activity is fully reconciled.
func (s *Service) IsReconciled(ctx context.Context, c core.BillingCycle) (bool, error) {
	return IsReconciled(ctx, s.ledger, c)
}

// EnactAll enacts every enactable recurring cost for cycle c and marks the
// cycle as having its transactions created. The cycle must have ended by
// asOf, must not have been enacted already, and the cycle before it must
// have been. Costs with nothing to bill are skipped. Either every cost is
// enacted or none is.
func (s *Service) EnactAll(ctx context.Context, cycleID string, asOf core.Date) ([]core.RecurredCost, error) {
	var (
		enacted []core.RecurredCost
		c       core.BillingCycle
	)

	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.store.BillingCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if err := s.checkEnactable(ctx, c, asOf); err != nil {
			return err
		}

		costs, err := s.store.RecurringCosts(ctx)
		if err != nil {
			return err
		}
		for _, cost := range costs {
			rc, ok, err := s.enactOne(ctx, cost, c)
			if err != nil {
				return fmt.Errorf("enact cost %s: %w", cost.ID, err)
			}
			if ok {
				enacted = append(enacted, rc)
			}
		}

		return s.store.MarkTransactionsCreated(ctx, c.ID)
	})
	if err != nil {
		return nil, err
	}

	logger(ctx).InfoContext(ctx, "Billing cycle enacted",
		append(log.NewFields().WithOperation(log.OpEnact).WithBillingCycle(c.ID, c.Range.String()).ToSlice(),
			log.FieldCount, len(enacted))...)
	return enacted, nil
}

func (s *Service) checkEnactable(ctx context.Context, c core.BillingCycle, asOf core.Date) error {
	if !c.HasEnded(asOf) {
		return fmt.Errorf("%w: %s as of %s", core.ErrCycleNotEnded, c.Range, asOf)
	}
	if c.TransactionsCreated {
		return fmt.Errorf("%w: %s", core.ErrTransactionsExist, c.Range)
	}
	prev, err := s.store.PreviousBillingCycle(ctx, c)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nil
	case err != nil:
		return err
	case !prev.TransactionsCreated:
		return fmt.Errorf("%w: %s", core.ErrPreviousCycleOpen, prev.Range)
	}
	return nil
}

func (s *Service) enactOne(ctx context.Context, cost core.RecurringCost, c core.BillingCycle) (core.RecurredCost, bool, error) {
	enactable, err := s.enacter.IsEnactable(ctx, cost, &c)
	if err != nil || !enactable {
		return core.RecurredCost{}, false, err
	}

	amount, err := s.enacter.GetAmount(ctx, cost, c)
	if err != nil {
		return core.RecurredCost{}, false, err
	}
	if core.RoundCurrency(amount).IsZero() {
		logger(ctx).DebugContext(ctx, "Nothing to bill",
			log.FieldRecurringCost, cost.ID, log.FieldBillingCycle, c.Range.String())
		return core.RecurredCost{}, false, nil
	}

	rc, err := s.enacter.Enact(ctx, cost, c)
	if errors.Is(err, core.ErrAlreadyEnacted) {
		logger(ctx).InfoContext(ctx, "Cost already enacted for cycle",
			log.FieldRecurringCost, cost.ID, log.FieldBillingCycle, c.Range.String())
		return core.RecurredCost{}, false, nil
	}
	if err != nil {
		return core.RecurredCost{}, false, err
	}
	return rc, true, nil
}

// SendReconciliationRequired asks every housemate with an email address to
// reconcile cycle c.
func (s *Service) SendReconciliationRequired(ctx context.Context, c core.BillingCycle) error {
	housemates, err := s.store.Housemates(ctx)
	if err != nil {
		return fmt.Errorf("list housemates: %w", err)
	}

	recipients := make([]string, 0, len(housemates))
	for _, h := range housemates {
		if h.Email != "" {
			recipients = append(recipients, h.Email)
		}
	}
	if len(recipients) == 0 {
		logger(ctx).WarnContext(ctx, "No housemate has an email address, reconciliation reminder not sent",
			log.FieldBillingCycle, c.Range.String())
		return nil
	}

	return s.notifier.Notify(ctx, notify.Notification{
		Kind:       notify.KindReconciliationRequired,
		Recipients: recipients,
		Subject:    "Reconciliation required for " + c.Range.String(),
		Context: map[string]string{
			"billing_cycle_id": c.ID,
			"cycle_start":      c.Start().String(),
			"cycle_end":        c.End().String(),
		},
	})
}

// SendStatements sends each housemate their statement for cycle c and marks
// the cycle's statements as sent. Unless forced, statements go out only
// once and only for a reconciled cycle.
func (s *Service) SendStatements(ctx context.Context, cycleID string, force bool) error {
	c, err := s.store.BillingCycle(ctx, cycleID)
	if err != nil {
		return err
	}

	if !force {
		if c.StatementsSent {
			return fmt.Errorf("%w: statements already sent for %s", core.ErrStatementsNotReady, c.Range)
		}
		reconciled, err := s.IsReconciled(ctx, c)
		if err != nil {
			return err
		}
		if !reconciled {
			return fmt.Errorf("%w: %s is not reconciled", core.ErrStatementsNotReady, c.Range)
		}
	}

	statements, err := s.BuildStatements(ctx, c)
	if err != nil {
		return err
	}

	sent := 0
	for _, st := range statements {
		if st.Email == "" {
			logger(ctx).WarnContext(ctx, "Housemate has no email address, statement not sent",
				log.FieldHousemate, st.Housemate)
			continue
		}
		statement := st.Statement
		if err := s.notifier.Notify(ctx, notify.Notification{
			Kind:       notify.KindStatement,
			Recipients: []string{st.Email},
			Subject:    "Statement for " + c.Range.String(),
			Context:    map[string]string{"billing_cycle_id": c.ID},
			Statement:  &statement,
		}); err != nil {
			return fmt.Errorf("send statement to %s: %w", st.Housemate, err)
		}
		sent++
	}

	if err := s.store.MarkStatementsSent(ctx, c.ID); err != nil {
		return err
	}
	logger(ctx).InfoContext(ctx, "Statements sent",
		append(log.NewFields().WithOperation(log.OpStatements).WithBillingCycle(c.ID, c.Range.String()).ToSlice(),
			"sent", sent, "forced", force)...)
	return nil
}

// HousemateStatement is a statement together with where to send it.
type HousemateStatement struct {
	notify.Statement
	Email string
}

// BuildStatements computes every housemate's statement for cycle c, in
// housemate order.
func (s *Service) BuildStatements(ctx context.Context, c core.BillingCycle) ([]HousemateStatement, error) {
	housemates, err := s.store.Housemates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list housemates: %w", err)
	}

	out := make([]HousemateStatement, len(housemates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statementWorkers)
	for i, h := range housemates {
		g.Go(func() error {
			st, err := s.statement(gctx, h, c)
			if err != nil {
				return fmt.Errorf("statement for %s: %w", h.Name, err)
			}
			out[i] = HousemateStatement{Statement: st, Email: h.Email}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) statement(ctx context.Context, h core.Housemate, c core.BillingCycle) (notify.Statement, error) {
	opening, err := s.ledger.Balance(ctx, h.AccountID, c.Start())
	if err != nil {
		return notify.Statement{}, err
	}
	closing, err := s.ledger.Balance(ctx, h.AccountID, c.End())
	if err != nil {
		return notify.Statement{}, err
	}
	legs, err := s.ledger.AccountLegs(ctx, h.AccountID, c.Range)
	if err != nil {
		return notify.Statement{}, err
	}

	lines := make([]notify.StatementLine, len(legs))
	for i, leg := range legs {
		lines[i] = notify.StatementLine{
			Date:        leg.Date.String(),
			Description: leg.Description,
			Amount:      leg.Amount,
		}
	}
	return notify.Statement{
		HousemateID:    h.ID,
		Housemate:      h.Name,
		AccountID:      h.AccountID,
		CycleStart:     c.Start().String(),
		CycleEnd:       c.End().String(),
		OpeningBalance: opening,
		ClosingBalance: closing,
		Lines:          lines,
	}, nil
}
