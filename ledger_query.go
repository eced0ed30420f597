package proforma

import (
	"github.com/shopspring/decimal"
)

// Filter predicates for Ledger.Records and SeriesWhere.

// ByPurpose returns a predicate that filters records by flow purpose.
func ByPurpose(p FlowPurpose) func(Record) bool {
	return func(r Record) bool { return r.Purpose == p }
}

// ByCategory returns a predicate that filters records by category.
func ByCategory(category string) func(Record) bool {
	return func(r Record) bool { return r.Category == category }
}

// BySource returns a predicate that filters records by source entity.
func BySource(sourceID string) func(Record) bool {
	return func(r Record) bool { return r.SourceID == sourceID }
}

// ByPass returns a predicate that filters records by posting pass.
func ByPass(p Pass) func(Record) bool {
	return func(r Record) bool { return r.Pass == p }
}

// and combines predicates that must all hold.
func and(preds ...func(Record) bool) func(Record) bool {
	return func(r Record) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// SeriesWhere folds all matching records into a per-period series.
func (l *Ledger) SeriesWhere(filters ...func(Record) bool) *Series {
	out := NewSeries()
	for _, r := range l.Records(filters...) {
		out.Add(r.Period, r.Amount.Decimal())
	}
	return out
}

// NOISeries returns the per-period net operating income.
func (l *Ledger) NOISeries() *Series {
	return l.SeriesWhere(ByPurpose(Operating))
}

// DebtServiceSeries returns per-period debt service (interest and
// principal actually paid from cash) as positive magnitudes.
func (l *Ledger) DebtServiceSeries() *Series {
	return l.SeriesWhere(and(ByPurpose(FinancingService), ByCategory(CategoryInterest))).
		AddSeries(l.SeriesWhere(and(ByPurpose(FinancingService), ByCategory(CategoryPrincipal)))).
		Neg()
}

// EquityContributionSeries returns per-period equity contributed, as
// positive amounts.
func (l *Ledger) EquityContributionSeries() *Series {
	return l.SeriesWhere(and(ByPurpose(CapitalSource), ByCategory(CategoryEquity)))
}

// DebtDrawSeries returns per-period debt proceeds as positive amounts:
// construction draws plus permanent takeout proceeds at a refinancing.
func (l *Ledger) DebtDrawSeries() *Series {
	return l.SeriesWhere(
		and(ByPurpose(CapitalSource), ByCategory(CategoryDebt)),
		and(ByPurpose(CapitalSource), ByCategory(CategoryRefinance)),
	)
}

// CapitalUseSeries returns per-period capital uses as positive
// magnitudes (uses are stored as negative amounts).
func (l *Ledger) CapitalUseSeries() *Series {
	return l.SeriesWhere(ByPurpose(CapitalUse)).Neg()
}

// PartnerFlowSeries returns the cash flow of one partner from the
// partner's own perspective: contributions negative, distributions
// positive. Ledger records are stored from the project's perspective,
// so the partner view is the negation of the partner-tagged records.
func (l *Ledger) PartnerFlowSeries(partner string) *Series {
	return l.SeriesWhere(BySource(partner)).Neg()
}

// SummaryByPurpose returns the ledger total per flow purpose.
func (l *Ledger) SummaryByPurpose() map[FlowPurpose]decimal.Decimal {
	out := make(map[FlowPurpose]decimal.Decimal)
	for _, r := range l.Records() {
		out[r.Purpose] = out[r.Purpose].Add(r.Amount.Decimal())
	}
	return out
}

// DistributableSeries returns per-period cash available for partner
// distributions: the net of every pass-1 record. The funding cascade
// calls equity for exactly the periods' shortfalls, so the net is never
// meaningfully negative; it is floored at zero to absorb rounding.
func (l *Ledger) DistributableSeries() *Series {
	net := NewSeries()
	for _, r := range l.Records(ByPass(Pass1)) {
		net.Add(r.Period, r.Amount.Decimal())
	}
	out := NewSeries()
	for on, v := range net.Values() {
		if v.IsPositive() {
			out.Set(on, v)
		}
	}
	return out
}
