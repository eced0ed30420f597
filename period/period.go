// Package period provides the monthly timeline shared by every component
// of a deal analysis. Every time-indexed quantity in the simulation is
// aligned to a gapless sequence of Periods.
package period

import (
	"fmt"
	"time"
)

// readFormat is the permissive parse format (allows single-digit months).
const readFormat = "2006-1"

// Format is the canonical string representation of a period.
const Format = "2006-01"

// Period represents a calendar month, the finest granularity of the
// simulation timeline.
type Period struct {
	y int
	m time.Month
}

// New returns a normalized Period for the given year and month.
// Out-of-range months roll over into adjacent years.
func New(year int, month time.Month) Period {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{y: t.Year(), m: t.Month()}
}

// time returns a canonical time.Time for the first day of the period.
func (p Period) time() time.Time { return time.Date(p.y, p.m, 1, 0, 0, 0, 0, time.UTC) }

// Year returns the period's year.
func (p Period) Year() int { return p.y }

// Month returns the period's month.
func (p Period) Month() time.Month { return p.m }

// IsZero reports whether p is the zero period.
func (p Period) IsZero() bool { return p.y == 0 && p.m == 0 }

// Before reports whether p is strictly before q.
func (p Period) Before(q Period) bool { return p.time().Before(q.time()) }

// After reports whether p is strictly after q.
func (p Period) After(q Period) bool { return p.time().After(q.time()) }

// Add returns the period n months after p (n may be negative).
func (p Period) Add(n int) Period { return New(p.y, p.m+time.Month(n)) }

// Sub returns the number of months from q to p. It is zero when p == q
// and negative when p is before q.
func (p Period) Sub(q Period) int { return (p.y-q.y)*12 + int(p.m-q.m) }

// String formats the period in its canonical "2006-01" form.
func (p Period) String() string { return p.time().Format(Format) }

// Parse parses a Period from a string. It is lenient and accepts
// single-digit months like "2026-7".
func Parse(s string) (Period, error) {
	t, err := time.Parse(readFormat, s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q want format %q: %w", s, readFormat, err)
	}
	return New(t.Year(), t.Month()), nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Period {
	p, err := Parse(s)
	if err != nil {
		panic(err.Error())
	}
	return p
}

// MarshalText implements encoding.TextMarshaler, used by both the JSON
// and YAML encoders.
func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
