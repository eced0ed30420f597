package proforma

import (
	"iter"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"proforma/period"
)

// Series stores a chronological sequence of monetary values, each
// associated with a monthly period. Periods are unique and the series
// is always sorted. A Series is zero-filled outside its native range:
// Get on a missing period returns zero.
type Series struct {
	periods []period.Period
	values  []decimal.Decimal
}

// NewSeries creates an empty series.
func NewSeries() *Series {
	return &Series{}
}

// chronological is a private implementation to keep the series sorted.
type chronological struct{ *Series }

func (s chronological) Len() int           { return len(s.periods) }
func (s chronological) Less(i, j int) bool { return s.periods[i].Before(s.periods[j]) }
func (s chronological) Swap(i, j int) {
	s.periods[i], s.periods[j] = s.periods[j], s.periods[i]
	s.values[i], s.values[j] = s.values[j], s.values[i]
}

func (s *Series) sort() { sort.Sort(chronological{s}) }

// Set records a value for a period, overwriting any existing value.
func (s *Series) Set(on period.Period, v decimal.Decimal) *Series {
	if i := slices.Index(s.periods, on); i >= 0 {
		s.values[i] = v
		return s
	}
	s.periods, s.values = append(s.periods, on), append(s.values, v)
	s.sort()
	return s
}

// Add accumulates a value into a period, creating the point if absent.
func (s *Series) Add(on period.Period, v decimal.Decimal) *Series {
	if i := slices.Index(s.periods, on); i >= 0 {
		s.values[i] = s.values[i].Add(v)
		return s
	}
	s.periods, s.values = append(s.periods, on), append(s.values, v)
	s.sort()
	return s
}

// Get returns the value at a period. Missing periods read as zero.
func (s *Series) Get(on period.Period) decimal.Decimal {
	if i := slices.Index(s.periods, on); i >= 0 {
		return s.values[i]
	}
	return decimal.Zero
}

// Len returns the number of recorded points.
func (s *Series) Len() int { return len(s.periods) }

// Span returns the range covered by the recorded points, and false when
// the series is empty.
func (s *Series) Span() (period.Range, bool) {
	if len(s.periods) == 0 {
		return period.Range{}, false
	}
	return period.Range{From: s.periods[0], To: s.periods[len(s.periods)-1]}, true
}

// Values returns an iterator over all period/value pairs in
// chronological order.
func (s *Series) Values() iter.Seq2[period.Period, decimal.Decimal] {
	return func(yield func(period.Period, decimal.Decimal) bool) {
		for i, on := range s.periods {
			if !yield(on, s.values[i]) {
				return
			}
		}
	}
}

// Aligned returns the series as a dense slice over the given range,
// zero-filled where no point is recorded. Points outside the range are
// ignored.
func (s *Series) Aligned(r period.Range) []decimal.Decimal {
	out := make([]decimal.Decimal, r.Months())
	for i := range out {
		out[i] = decimal.Zero
	}
	for i, on := range s.periods {
		if r.Contains(on) {
			out[r.Index(on)] = s.values[i]
		}
	}
	return out
}

// Cumulative returns a new series of running totals over the recorded
// points.
func (s *Series) Cumulative() *Series {
	out := NewSeries()
	total := decimal.Zero
	for on, v := range s.Values() {
		total = total.Add(v)
		out.Set(on, total)
	}
	return out
}

// Total returns the sum of all recorded values.
func (s *Series) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range s.values {
		total = total.Add(v)
	}
	return total
}

// Neg returns a new series with every value negated.
func (s *Series) Neg() *Series {
	out := NewSeries()
	for on, v := range s.Values() {
		out.Set(on, v.Neg())
	}
	return out
}

// AddSeries accumulates every point of t into s and returns s.
func (s *Series) AddSeries(t *Series) *Series {
	for on, v := range t.Values() {
		s.Add(on, v)
	}
	return s
}
