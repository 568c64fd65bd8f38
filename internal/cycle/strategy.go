// Package cycle provides the billing period strategies.
//
// Each strategy knows where its periods start and how long they last.
// The generator and the apportionment engine only talk to the Strategy
// interface, so new period types (fortnightly, quarterly...) only need an
// entry in the strategies table.
package cycle

import (
	"fmt"

	"housebill/internal/core"
)

const (
	Monthly = "monthly"
	Weekly  = "weekly"
)

// Strategy slices time into contiguous, non-overlapping periods.
type Strategy interface {
	// Name identifies the strategy in configuration.
	Name() string

	// PreviousCycleStart returns the start of the period containing d. When d
	// is itself a period start it is returned if inclusive, otherwise the
	// start of the period before it.
	PreviousCycleStart(d core.Date, inclusive bool) core.Date

	// NextCycleStart returns the start of the period following d. When d is
	// itself a period start it is returned if inclusive.
	NextCycleStart(d core.Date, inclusive bool) core.Date

	// CycleEnd returns the exclusive end of the period containing d.
	CycleEnd(d core.Date) core.Date

	// Ranges returns the periods beginning with the one containing start,
	// or with the one after it when omitCurrent is set.
	Ranges(start core.Date, omitCurrent bool) *Ranges
}

// periodic implements Strategy from a floor function and a step function.
type periodic struct {
	name  string
	floor func(core.Date) core.Date // start of the period containing d
	step  func(core.Date) core.Date // start of the following period
}

func (p periodic) Name() string { return p.name }

func (p periodic) PreviousCycleStart(d core.Date, inclusive bool) core.Date {
	start := p.floor(d)
	if start.Equal(d) && !inclusive {
		return p.floor(d.AddDays(-1))
	}
	return start
}

func (p periodic) NextCycleStart(d core.Date, inclusive bool) core.Date {
	start := p.floor(d)
	if start.Equal(d) && inclusive {
		return d
	}
	return p.step(start)
}

func (p periodic) CycleEnd(d core.Date) core.Date {
	return p.step(p.floor(d))
}

func (p periodic) Ranges(start core.Date, omitCurrent bool) *Ranges {
	first := p.floor(start)
	if omitCurrent {
		first = p.step(first)
	}
	return &Ranges{next: first, step: p.step}
}

// Ranges lazily yields successive periods. It never ends on its own;
// callers stop pulling when they have enough.
type Ranges struct {
	next core.Date
	step func(core.Date) core.Date
}

// Next returns the next period.
func (r *Ranges) Next() core.DateRange {
	start := r.next
	r.next = r.step(start)
	return core.NewDateRange(start, r.next)
}

// Until collects periods whose start is on or before stop.
func (r *Ranges) Until(stop core.Date) []core.DateRange {
	var out []core.DateRange
	for !r.next.After(stop) {
		out = append(out, r.Next())
	}
	return out
}

func monthFloor(d core.Date) core.Date {
	return core.NewDate(d.Year(), d.Month(), 1)
}

func monthStep(d core.Date) core.Date {
	return monthFloor(d).AddMonths(1)
}

// weekFloor snaps to the Monday on or before d.
func weekFloor(d core.Date) core.Date {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDays(-offset)
}

func weekStep(d core.Date) core.Date {
	return weekFloor(d).AddDays(7)
}

var (
	// MonthlyStrategy bills calendar months.
	MonthlyStrategy Strategy = periodic{name: Monthly, floor: monthFloor, step: monthStep}
	// WeeklyStrategy bills weeks starting on Monday.
	WeeklyStrategy Strategy = periodic{name: Weekly, floor: weekFloor, step: weekStep}
)

// strategies maps configuration names to strategies.
var strategies = map[string]Strategy{
	Monthly: MonthlyStrategy,
	Weekly:  WeeklyStrategy,
}

// Get returns the strategy registered under name.
func Get(name string) (Strategy, error) {
	s, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown billing cycle strategy: %s", name)
	}
	return s, nil
}
