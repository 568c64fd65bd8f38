package core

import (
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day at UTC midnight.
	Date struct {
		time.Time
	}

	// DateRange is a half-open interval of days: Start is included, End is not.
	DateRange struct {
		Start Date
		End   Date
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses an ISO date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) AddMonths(n int) Date {
	return Date{Time: d.Time.AddDate(0, n, 0)}
}

func (d Date) AddYears(n int) Date {
	return Date{Time: d.Time.AddDate(n, 0, 0)}
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

// IsEmpty returns true if the date is zero (for backward compatibility with optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// NewDateRange returns the range [start, end).
func NewDateRange(start, end Date) DateRange {
	return DateRange{Start: start, End: end}
}

func (r DateRange) Validate() error {
	if err := r.Start.Validate(); err != nil {
		return fmt.Errorf("invalid range start: %w", err)
	}
	if err := r.End.Validate(); err != nil {
		return fmt.Errorf("invalid range end: %w", err)
	}
	if !r.Start.Before(r.End) {
		return ErrEmptyRange
	}
	return nil
}

// Contains reports whether d falls within the range.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && d.Before(r.End)
}

// Overlaps reports whether the two ranges share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Adjacent reports whether one range ends exactly where the other starts.
func (r DateRange) Adjacent(o DateRange) bool {
	return r.End.Equal(o.Start) || o.End.Equal(r.Start)
}

func (r DateRange) Equal(o DateRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + ")"
}

// CheckTimelineInsert validates adding r to a timeline of ranges that must
// stay free of overlaps and gaps. An empty timeline accepts any valid range.
func CheckTimelineInsert(existing []DateRange, r DateRange) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}
	adjacent := false
	for _, e := range existing {
		if e.Overlaps(r) {
			return fmt.Errorf("%w: %s and %s", ErrOverlappingCycle, r, e)
		}
		if e.Adjacent(r) {
			adjacent = true
		}
	}
	if !adjacent {
		return fmt.Errorf("%w: %s", ErrNonContiguousCycle, r)
	}
	return nil
}
