package proforma

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"proforma/period"
)

// ErrLedgerMismatch reports that a caller-supplied ledger cannot host
// this run: it is already sealed, or it already holds records for the
// deal's asset.
var ErrLedgerMismatch = errors.New("ledger already holds a conflicting analysis")

// Deal is the complete specification of one investment: the asset's
// projected cash flows, the debt facilities financing it, and the
// partnership splitting the proceeds.
//
// A Deal is inert configuration; Run produces the analysis without
// mutating it, so one Deal can be run many times (against scenario
// variations of its inputs, for instance).
type Deal struct {
	Name    string
	AssetID string

	Timeline period.Range

	// NOI is the projected net operating income per period, positive.
	NOI *Series
	// CapitalUses is the projected capital spending per period, as
	// positive magnitudes.
	CapitalUses *Series

	// PropertyValue is the stabilized value used for loan-to-value
	// sizing and covenant monitoring.
	PropertyValue Money
	// TotalCost is the loan-to-cost base for tranche thresholds. Zero
	// means it is derived from the capital uses.
	TotalCost Money

	Facilities  []*DebtFacility
	Partnership *PartnershipStructure

	log *zerolog.Logger
}

// SetLogger attaches a logger to the deal. The default is a no-op
// logger.
func (d *Deal) SetLogger(l zerolog.Logger) { d.log = &l }

func (d *Deal) logger() zerolog.Logger {
	if d.log == nil {
		return zerolog.Nop()
	}
	return *d.log
}

// DealMetrics are the headline results of an analysis.
type DealMetrics struct {
	LeveredIRR      Rate
	IRRDefined      bool
	EquityMultiple  float64
	MultipleDefined bool
	MinDSCR         float64
	AvgDSCR         float64
	DSCRDefined     bool
	TotalEquity     Money
	TotalDebt       Money
	TotalNOI        Money
}

// Analysis is the result of one deal run. The ledger's materialized
// table is the full audit trail; everything else is derived from it.
type Analysis struct {
	Deal          *Deal
	Ledger        *Ledger
	Table         *Table
	Metrics       DealMetrics
	Financing     []FinancingResult
	Distributions map[string]*Series
	PartnerFlows  map[string]*Series
	Distributable *Series
}

// Validate rejects a malformed deal before any simulation runs.
func (d *Deal) Validate() error {
	var errs error
	if d.Name == "" {
		errs = errors.Join(errs, errors.New("deal name is missing"))
	}
	if err := d.Timeline.Validate(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("deal timeline: %w", err))
	}
	if d.Partnership == nil {
		errs = errors.Join(errs, errors.New("deal requires a partnership structure"))
	} else if err := d.Partnership.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	for _, f := range d.Facilities {
		if err := f.Validate(); err != nil {
			errs = errors.Join(errs, err)
		}
		if f.RefinanceAt != nil && !d.Timeline.Contains(*f.RefinanceAt) {
			errs = errors.Join(errs, fmt.Errorf("facility %q refinances at %s, outside the deal timeline %s", f.Name, f.RefinanceAt, d.Timeline))
		}
	}
	return errs
}

// Run executes the full analysis pipeline on a fresh ledger.
func (d *Deal) Run() (*Analysis, error) {
	return d.RunWith(NewLedger())
}

// RunWith executes the analysis pipeline against a caller-supplied
// ledger, which must not already hold a conflicting analysis. The
// pipeline posts the asset's own flows, runs the funding cascade, runs
// the distribution waterfall, and derives metrics from the final
// ledger. Every pass either completes or the run fails; there are no
// partially applied passes visible in the result.
func (d *Deal) RunWith(ledger *Ledger) (*Analysis, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("deal %q: %w", d.Name, err)
	}
	if err := d.checkLedger(ledger); err != nil {
		return nil, fmt.Errorf("deal %q: %w", d.Name, err)
	}

	noi := d.NOI
	if noi == nil {
		noi = NewSeries()
	}
	uses := d.CapitalUses
	if uses == nil {
		uses = NewSeries()
	}
	totalCost := d.TotalCost
	if totalCost.IsZero() {
		totalCost = Money{value: uses.Total()}
	}

	// Financing analysis: resolve every facility's commitment. A
	// permanent takeout is re-sized at the refinancing event; its plan
	// here is provisional.
	log := d.logger()
	plans := make([]FacilityPlan, 0, len(d.Facilities))
	for _, f := range d.Facilities {
		report := f.Size(d.Timeline.From, d.PropertyValue, d.stabilizedNOI(noi))
		plans = append(plans, FacilityPlan{Facility: f, Commitment: report.Amount, Sizing: report})
		log.Info().Str("deal", d.Name).Str("facility", f.Name).
			Str("amount", report.Amount.String()).Stringer("bound", report.Bound).
			Msg("facility sized")
	}

	// Funding cascade: the sequential pass-1 simulation.
	engine := NewCashFlowEngine(ledger, d.Timeline, d.AssetID, d.Partnership, d.PropertyValue, totalCost, log)
	financing, err := engine.Run(noi, uses, plans)
	if err != nil {
		return nil, fmt.Errorf("deal %q: funding cascade: %w", d.Name, err)
	}
	log.Info().Str("deal", d.Name).Int("records", ledger.Len()).Msg("funding cascade complete")

	// Distribution waterfall: the pass-2 allocation. Posting the first
	// distribution seals the ledger against further pass-1 records.
	calc := NewWaterfallCalculator(ledger, d.Timeline, d.Partnership, d.AssetID, log)
	distributions, err := calc.Distribute()
	if err != nil {
		return nil, fmt.Errorf("deal %q: distribution waterfall: %w", d.Name, err)
	}
	log.Info().Str("deal", d.Name).Int("records", ledger.Len()).Msg("distributions complete")

	analysis := &Analysis{
		Deal:          d,
		Ledger:        ledger,
		Table:         ledger.Materialize(),
		Financing:     financing,
		Distributions: distributions,
		PartnerFlows:  make(map[string]*Series, len(d.Partnership.Partners)),
		Distributable: ledger.DistributableSeries(),
	}
	for _, p := range d.Partnership.Partners {
		analysis.PartnerFlows[p.Name] = ledger.PartnerFlowSeries(p.Name)
	}
	analysis.Metrics = d.metrics(ledger, analysis.PartnerFlows, financing)
	return analysis, nil
}

// checkLedger rejects a ledger that cannot host this run.
func (d *Deal) checkLedger(ledger *Ledger) error {
	if ledger.sealed {
		return fmt.Errorf("%w: ledger is sealed by pass-2 records", ErrLedgerMismatch)
	}
	for _, r := range ledger.Records() {
		if r.AssetID == d.AssetID {
			return fmt.Errorf("%w: asset %q already has records", ErrLedgerMismatch, d.AssetID)
		}
	}
	return nil
}

// stabilizedNOI annualizes the trailing twelve months of projected NOI
// at the end of the timeline, the basis for debt sizing.
func (d *Deal) stabilizedNOI(noi *Series) Money {
	months := d.Timeline.Months()
	window := 12
	if months < window {
		window = months
	}
	total := decimal.Zero
	for i := 0; i < window; i++ {
		total = total.Add(noi.Get(d.Timeline.To.Add(-i)))
	}
	if window < 12 {
		total = total.Mul(decimal.NewFromInt(12)).Div(decimal.NewFromInt(int64(window)))
	}
	return Money{value: total}
}

// metrics derives the headline numbers from the final ledger.
func (d *Deal) metrics(ledger *Ledger, partnerFlows map[string]*Series, financing []FinancingResult) DealMetrics {
	m := DealMetrics{
		TotalEquity: Money{value: ledger.EquityContributionSeries().Total()},
		TotalDebt:   Money{value: ledger.DebtDrawSeries().Total()},
		TotalNOI:    Money{value: ledger.NOISeries().Total()},
	}

	combined := NewSeries()
	for _, s := range partnerFlows {
		combined = combined.AddSeries(s)
	}
	flows := seriesFlows(combined, d.Timeline)
	m.LeveredIRR, m.IRRDefined = AnnualIRR(flows)
	m.EquityMultiple, m.MultipleDefined = EquityMultiple(flows)

	for _, f := range financing {
		if min, ok := f.Covenants.MinDSCR(); ok {
			if !m.DSCRDefined || min < m.MinDSCR {
				m.MinDSCR = min
			}
			m.DSCRDefined = true
		}
	}
	var sum float64
	var n int
	for _, f := range financing {
		if avg, ok := f.Covenants.AvgDSCR(); ok {
			sum += avg
			n++
		}
	}
	if n > 0 {
		m.AvgDSCR = sum / float64(n)
	}
	return m
}
