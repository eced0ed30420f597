package proforma

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"proforma/period"
)

func jan(year int) period.Period { return period.New(year, time.January) }

func TestSeries_SetKeepsChronologicalOrder(t *testing.T) {
	s := NewSeries()
	s.Set(period.New(2026, time.June), decimal.NewFromInt(3))
	s.Set(period.New(2026, time.January), decimal.NewFromInt(1))
	s.Set(period.New(2026, time.March), decimal.NewFromInt(2))

	var got []period.Period
	for on := range s.Values() {
		got = append(got, on)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Before(got[i-1]) {
			t.Fatalf("Values() out of order: %s before %s", got[i], got[i-1])
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestSeries_SetOverwritesAddAccumulates(t *testing.T) {
	on := jan(2026)
	s := NewSeries()
	s.Set(on, decimal.NewFromInt(10))
	s.Set(on, decimal.NewFromInt(20))
	if got := s.Get(on); !got.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Set() twice Get() = %s, want 20", got)
	}
	s.Add(on, decimal.NewFromInt(5))
	if got := s.Get(on); !got.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Add() Get() = %s, want 25", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestSeries_GetMissingIsZero(t *testing.T) {
	s := NewSeries().Set(jan(2026), decimal.NewFromInt(7))
	if got := s.Get(jan(2030)); !got.IsZero() {
		t.Errorf("Get() on missing period = %s, want 0", got)
	}
}

func TestSeries_Aligned(t *testing.T) {
	s := NewSeries().
		Set(period.New(2026, time.February), decimal.NewFromInt(2)).
		Set(period.New(2026, time.April), decimal.NewFromInt(4)).
		Set(period.New(2027, time.January), decimal.NewFromInt(9)) // outside

	r := period.NewRange(jan(2026), 6)
	got := s.Aligned(r)
	if len(got) != 6 {
		t.Fatalf("Aligned() length = %d, want 6", len(got))
	}
	want := []int64{0, 2, 0, 4, 0, 0}
	for i, w := range want {
		if !got[i].Equal(decimal.NewFromInt(w)) {
			t.Errorf("Aligned()[%d] = %s, want %d", i, got[i], w)
		}
	}
}

func TestSeries_CumulativeTotalNeg(t *testing.T) {
	s := NewSeries().
		Set(jan(2026), decimal.NewFromInt(100)).
		Set(period.New(2026, time.February), decimal.NewFromInt(-40))

	if got := s.Total(); !got.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Total() = %s, want 60", got)
	}
	cum := s.Cumulative()
	if got := cum.Get(period.New(2026, time.February)); !got.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Cumulative() final = %s, want 60", got)
	}
	neg := s.Neg()
	if got := neg.Get(jan(2026)); !got.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("Neg() = %s, want -100", got)
	}
}

func TestSeries_AddSeries(t *testing.T) {
	s := NewSeries().Set(jan(2026), decimal.NewFromInt(1))
	u := NewSeries().
		Set(jan(2026), decimal.NewFromInt(2)).
		Set(period.New(2026, time.March), decimal.NewFromInt(3))
	s.AddSeries(u)
	if got := s.Get(jan(2026)); !got.Equal(decimal.NewFromInt(3)) {
		t.Errorf("AddSeries() overlapping point = %s, want 3", got)
	}
	if got := s.Get(period.New(2026, time.March)); !got.Equal(decimal.NewFromInt(3)) {
		t.Errorf("AddSeries() new point = %s, want 3", got)
	}
}

func TestSeries_Span(t *testing.T) {
	s := NewSeries()
	if _, ok := s.Span(); ok {
		t.Errorf("Span() on empty series reported a range")
	}
	s.Set(period.New(2026, time.March), decimal.NewFromInt(1))
	s.Set(period.New(2027, time.August), decimal.NewFromInt(1))
	r, ok := s.Span()
	if !ok {
		t.Fatalf("Span() = not ok, want ok")
	}
	if r.From != period.New(2026, time.March) || r.To != period.New(2027, time.August) {
		t.Errorf("Span() = %s, want 2026-03..2027-08", r)
	}
}
