package period

import (
	"fmt"
	"iter"
)

// Range is an inclusive, gapless span of monthly periods.
type Range struct {
	From Period
	To   Period
}

// NewRange returns the range starting at from and spanning the given
// number of months. It panics if months is not positive.
func NewRange(from Period, months int) Range {
	if months <= 0 {
		panic(fmt.Sprintf("range must span at least one month, got %d", months))
	}
	return Range{From: from, To: from.Add(months - 1)}
}

// Validate checks that the range is well formed.
func (r Range) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("range endpoints must be set, got %s to %s", r.From, r.To)
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("range end %s is before start %s", r.To, r.From)
	}
	return nil
}

// Months returns the number of periods in the range, inclusive.
func (r Range) Months() int { return r.To.Sub(r.From) + 1 }

// Contains reports whether p falls within the range.
func (r Range) Contains(p Period) bool { return !p.Before(r.From) && !p.After(r.To) }

// Index returns the zero-based offset of p from the start of the range.
// Callers must ensure p is within the range.
func (r Range) Index(p Period) int { return p.Sub(r.From) }

// Periods returns an iterator over every period in the range, in order.
func (r Range) Periods() iter.Seq[Period] {
	return func(yield func(Period) bool) {
		for p := r.From; !p.After(r.To); p = p.Add(1) {
			if !yield(p) {
				return
			}
		}
	}
}

// String formats the range as "2026-01..2030-12".
func (r Range) String() string { return r.From.String() + ".." + r.To.String() }
