package costs

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"housebill/internal/core"
	"housebill/internal/log"
)

// Service manages recurring cost definitions.
type Service struct {
	store Store
}

func logger(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentCosts)
}

// NewService creates a new recurring cost service
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create stores a new cost. Without explicit splits the cost is split evenly
// between all housemates. A one-off or arrears cost without an initial cycle
// starts at the cycle containing asOf.
func (s *Service) Create(ctx context.Context, cost core.RecurringCost, splits []core.RecurringCostSplit, asOf core.Date) (core.RecurringCost, []core.RecurringCostSplit, error) {
	if cost.Type == "" {
		cost.Type = core.CostNormal
	}

	var (
		created       core.RecurringCost
		createdSplits []core.RecurringCostSplit
	)
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		if cost.InitialBillingCycleID == "" && (cost.IsOneOff() || cost.Type.IsArrears()) {
			current, err := s.store.BillingCycleAt(ctx, asOf)
			if err != nil && !errors.Is(err, core.ErrNotFound) {
				return err
			}
			// left empty when no cycle covers asOf; validation reports it
			cost.InitialBillingCycleID = current.ID
		}

		if len(splits) == 0 {
			defaults, err := s.housemateSplits(ctx)
			if err != nil {
				return err
			}
			splits = defaults
		}

		var err error
		created, createdSplits, err = s.store.CreateRecurringCost(ctx, cost, splits)
		return err
	})
	if err != nil {
		return core.RecurringCost{}, nil, fmt.Errorf("create recurring cost: %w", err)
	}
	return created, createdSplits, nil
}

func (s *Service) housemateSplits(ctx context.Context) ([]core.RecurringCostSplit, error) {
	housemates, err := s.store.Housemates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list housemates: %w", err)
	}
	splits := make([]core.RecurringCostSplit, 0, len(housemates))
	for _, h := range housemates {
		splits = append(splits, core.RecurringCostSplit{FromAccountID: h.AccountID, Portion: decimal.NewFromInt(1)})
	}
	return splits, nil
}

// Update changes a cost's definition. Splits are left as they are.
func (s *Service) Update(ctx context.Context, cost core.RecurringCost) error {
	if err := s.store.UpdateRecurringCost(ctx, cost); err != nil {
		return fmt.Errorf("update recurring cost %s: %w", cost.ID, err)
	}
	logger(ctx).InfoContext(ctx, "Recurring cost updated",
		log.FieldRecurringCost, cost.ID,
		"disabled", cost.Disabled)
	return nil
}

// SetDisabled switches a cost on or off.
func (s *Service) SetDisabled(ctx context.Context, costID string, disabled bool) error {
	return s.store.Atomic(ctx, func(ctx context.Context) error {
		cost, err := s.store.RecurringCost(ctx, costID)
		if err != nil {
			return err
		}
		cost.Disabled = disabled
		return s.Update(ctx, cost)
	})
}

// SetSplits replaces a cost's splits. At least one split is required.
func (s *Service) SetSplits(ctx context.Context, costID string, splits []core.RecurringCostSplit) ([]core.RecurringCostSplit, error) {
	stored, err := s.store.ReplaceSplits(ctx, costID, splits)
	if err != nil {
		return nil, fmt.Errorf("set splits for %s: %w", costID, err)
	}
	return stored, nil
}

// List returns every cost with its splits.
func (s *Service) List(ctx context.Context) ([]CostWithSplits, error) {
	costs, err := s.store.RecurringCosts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CostWithSplits, 0, len(costs))
	for _, c := range costs {
		splits, err := s.store.Splits(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, CostWithSplits{Cost: c, Splits: splits})
	}
	return out, nil
}

type CostWithSplits struct {
	Cost   core.RecurringCost
	Splits []core.RecurringCostSplit
}
