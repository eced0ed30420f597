package proforma

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"proforma/period"
)

func noiMeta() Metadata {
	return Metadata{Purpose: Operating, Category: CategoryNOI, Item: "net operating income", AssetID: "asset-1", Pass: Pass1}
}

func TestLedger_AddSeriesFiltersZeroes(t *testing.T) {
	s := NewSeries().
		Set(jan(2026), decimal.NewFromInt(100)).
		Set(period.New(2026, time.February), decimal.Zero).
		Set(period.New(2026, time.March), decimal.NewFromInt(120))

	l := NewLedger()
	if err := l.AddSeries(s, noiMeta()); err != nil {
		t.Fatalf("AddSeries() error = %v", err)
	}
	if got := l.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2: zero-valued facts must not be recorded", got)
	}
	// The zero-valued point reads back as zero anyway.
	if got := l.NOISeries().Get(period.New(2026, time.February)); !got.IsZero() {
		t.Errorf("zero period reads back as %s, want 0", got)
	}
}

func TestLedger_AddSkipsZero(t *testing.T) {
	l := NewLedger()
	if err := l.Add(jan(2026), M(0), noiMeta()); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d after adding a zero amount, want 0", l.Len())
	}
}

func TestLedger_RejectsInvalidMetadata(t *testing.T) {
	testCases := []struct {
		name string
		meta Metadata
	}{
		{"missing category", Metadata{Item: "x", Pass: Pass1}},
		{"missing item", Metadata{Category: CategoryNOI, Pass: Pass1}},
		{"missing pass", Metadata{Category: CategoryNOI, Item: "x"}},
		{"bad pass", Metadata{Category: CategoryNOI, Item: "x", Pass: Pass(3)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := NewLedger()
			if err := l.Add(jan(2026), M(1), tc.meta); err == nil {
				t.Errorf("Add() error = nil, want validation error")
			}
			if l.Len() != 0 {
				t.Errorf("invalid record was stored")
			}
		})
	}
}

func TestLedger_PassBarrier(t *testing.T) {
	l := NewLedger()
	if err := l.Add(jan(2026), M(100), noiMeta()); err != nil {
		t.Fatalf("pass-1 Add() error = %v", err)
	}
	dist := Metadata{Purpose: FinancingService, Category: CategoryDistribution, Item: "partner distribution", SourceID: "lp", Pass: Pass2}
	if err := l.Add(jan(2026), M(-50), dist); err != nil {
		t.Fatalf("pass-2 Add() error = %v", err)
	}
	// The first pass-2 record seals the ledger against pass-1 postings.
	if err := l.Add(period.New(2026, time.February), M(100), noiMeta()); err == nil {
		t.Errorf("pass-1 Add() after pass-2 = nil, want error")
	}
	if err := l.Add(period.New(2026, time.February), M(-50), dist); err != nil {
		t.Errorf("pass-2 Add() after sealing error = %v, want nil", err)
	}
}

func TestLedger_MaterializeIsCached(t *testing.T) {
	l := NewLedger()
	if err := l.Add(jan(2026), M(100), noiMeta()); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	first := l.Materialize()
	if second := l.Materialize(); second != first {
		t.Errorf("Materialize() without intervening additions returned a different table")
	}
	if err := l.Add(period.New(2026, time.February), M(100), noiMeta()); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if third := l.Materialize(); third == first {
		t.Errorf("Materialize() after an addition returned the stale table")
	}
}

func TestLedger_RecordsAreChronological(t *testing.T) {
	l := NewLedger()
	for _, m := range []time.Month{time.June, time.January, time.March} {
		if err := l.Add(period.New(2026, m), M(10), noiMeta()); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	// Same-period records keep their posting order, even after a later
	// out-of-order record forces a re-sort.
	a, b := noiMeta(), noiMeta()
	a.Item, b.Item = "first", "second"
	july := period.New(2026, time.July)
	for _, add := range []error{
		l.Add(july, M(1), a),
		l.Add(july, M(2), b),
		l.Add(period.New(2026, time.February), M(1), noiMeta()),
	} {
		if add != nil {
			t.Fatalf("Add() error = %v", add)
		}
	}

	prev := period.Period{}
	for _, r := range l.Records() {
		if !prev.IsZero() && r.Period.Before(prev) {
			t.Fatalf("Records() out of order: %s before %s", r.Period, prev)
		}
		prev = r.Period
	}
	var julys []string
	for _, r := range l.Records() {
		if r.Period == july {
			julys = append(julys, r.Item)
		}
	}
	if len(julys) != 2 || julys[0] != "first" || julys[1] != "second" {
		t.Errorf("same-period posting order = %v, want [first second]", julys)
	}
}

func TestLedger_AddBatchIsAllOrNothing(t *testing.T) {
	good := BatchEntry{Series: NewSeries().Set(jan(2026), decimal.NewFromInt(1)), Meta: noiMeta()}
	bad := BatchEntry{Series: NewSeries().Set(jan(2026), decimal.NewFromInt(1)), Meta: Metadata{Pass: Pass1}}

	l := NewLedger()
	if err := l.AddBatch([]BatchEntry{good, bad}); err == nil {
		t.Fatalf("AddBatch() error = nil, want validation error")
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d after failed batch, want 0", l.Len())
	}
}

func TestLedger_QuerySeries(t *testing.T) {
	l := NewLedger()
	on := jan(2026)
	post := func(amount Money, meta Metadata) {
		t.Helper()
		if err := l.Add(on, amount, meta); err != nil {
			t.Fatalf("Add(%q) error = %v", meta.Item, err)
		}
	}
	post(M(1000), noiMeta())
	post(M(-300), Metadata{Purpose: FinancingService, Category: CategoryInterest, Item: "interest expense", SourceID: "loan", Pass: Pass1})
	post(M(-100), Metadata{Purpose: FinancingService, Category: CategoryPrincipal, Item: "scheduled amortization", SourceID: "loan", Pass: Pass1})
	post(M(5000), Metadata{Purpose: CapitalSource, Category: CategoryDebt, Item: "loan draw", SourceID: "loan", Pass: Pass1})
	post(M(2000), Metadata{Purpose: CapitalSource, Category: CategoryEquity, Item: "equity contribution", SourceID: "lp", Pass: Pass1})
	post(M(-7000), Metadata{Purpose: CapitalUse, Category: CategoryProjectCost, Item: "capital uses", Pass: Pass1})

	if got := l.DebtServiceSeries().Get(on); !got.Equal(decimal.NewFromInt(400)) {
		t.Errorf("DebtServiceSeries() = %s, want 400 (positive magnitude)", got)
	}
	if got := l.DebtDrawSeries().Get(on); !got.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("DebtDrawSeries() = %s, want 5000", got)
	}
	if got := l.EquityContributionSeries().Get(on); !got.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("EquityContributionSeries() = %s, want 2000", got)
	}
	if got := l.CapitalUseSeries().Get(on); !got.Equal(decimal.NewFromInt(7000)) {
		t.Errorf("CapitalUseSeries() = %s, want 7000 (positive magnitude)", got)
	}
	// The partner view flips the sign: a contribution is the partner's
	// outflow.
	if got := l.PartnerFlowSeries("lp").Get(on); !got.Equal(decimal.NewFromInt(-2000)) {
		t.Errorf("PartnerFlowSeries() = %s, want -2000", got)
	}
	// Net of all pass-1 records: 1000-300-100+5000+2000-7000 = 600.
	if got := l.DistributableSeries().Get(on); !got.Equal(decimal.NewFromInt(600)) {
		t.Errorf("DistributableSeries() = %s, want 600", got)
	}
}

func TestLedger_DistributableFloorsAtZero(t *testing.T) {
	l := NewLedger()
	if err := l.Add(jan(2026), M(-500), Metadata{Purpose: CapitalUse, Category: CategoryProjectCost, Item: "capital uses", Pass: Pass1}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got := l.DistributableSeries().Get(jan(2026)); !got.IsZero() {
		t.Errorf("DistributableSeries() = %s for a net-negative period, want 0", got)
	}
}

func TestLedger_Span(t *testing.T) {
	l := NewLedger()
	if _, ok := l.Span(); ok {
		t.Errorf("Span() on empty ledger reported a range")
	}
	l.Add(period.New(2026, time.May), M(1), noiMeta())
	l.Add(jan(2026), M(1), noiMeta())
	r, ok := l.Span()
	if !ok {
		t.Fatalf("Span() = not ok, want ok")
	}
	if r.From != jan(2026) || r.To != period.New(2026, time.May) {
		t.Errorf("Span() = %s, want 2026-01..2026-05", r)
	}
}
