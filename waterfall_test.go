package proforma

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"proforma/period"
)

// seedLedger posts the minimal pass-1 facts for a distribution test:
// equity calls per partner at the start and a single cash surplus at
// the end.
func seedLedger(t *testing.T, timeline period.Range, contributions map[string]Money, surplus Money) *Ledger {
	t.Helper()
	l := NewLedger()
	total := M(0)
	for partner, amount := range contributions {
		err := l.Add(timeline.From, amount, Metadata{
			Purpose: CapitalSource, Category: CategoryEquity, Subcategory: SubcategoryCapitalCall,
			Item: "equity contribution", SourceID: partner, AssetID: "asset-1", Pass: Pass1,
		})
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		total = total.Add(amount)
	}
	err := l.Add(timeline.From, total.Neg(), Metadata{
		Purpose: CapitalUse, Category: CategoryProjectCost, Item: "capital uses", AssetID: "asset-1", Pass: Pass1,
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	err = l.Add(timeline.To, surplus, Metadata{
		Purpose: Operating, Category: CategoryNOI, Item: "net operating income", AssetID: "asset-1", Pass: Pass1,
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return l
}

func TestWaterfall_PariPassu(t *testing.T) {
	timeline := period.NewRange(period.MustParse("2026-01"), 13)
	l := seedLedger(t, timeline,
		map[string]Money{"lp": M(900), "gp": M(100)},
		M(1_600))

	calc := NewWaterfallCalculator(l, timeline, twoPartners(), "asset-1", zerolog.Nop())
	dists, err := calc.Distribute()
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	if got := dists["lp"].Total().InexactFloat64(); math.Abs(got-1_440) > 0.01 {
		t.Errorf("lp distributions = %s, want $1440 (90%%)", dists["lp"].Total())
	}
	if got := dists["gp"].Total().InexactFloat64(); math.Abs(got-160) > 0.01 {
		t.Errorf("gp distributions = %s, want $160 (10%%)", dists["gp"].Total())
	}
	// Distributions conserve cash exactly.
	sum := dists["lp"].Total().Add(dists["gp"].Total())
	if !sum.Equal(decimal.NewFromInt(1_600)) {
		t.Errorf("distributions sum to %s, want exactly $1600", sum)
	}
	// The ledger is sealed once distributions post.
	if err := l.Add(timeline.From, M(1), noiMeta()); err == nil {
		t.Errorf("pass-1 posting after distributions = nil, want error")
	}
}

func TestWaterfall_TieredPromote(t *testing.T) {
	// A single LP funds $1,000 and receives $1,600 twelve months later.
	// Pref 8%, then 20% promote to a 15% hurdle, then 30%.
	//
	// Return of capital: 1000. Preferred: 80 (exactly 8% over one
	// year). First tier: the LP needs 70 more to reach a 15% return,
	// at 20% promote that consumes 87.50 (GP keeps 17.50). Residual
	// 432.50 at 30%: GP 129.75, LP 302.75.
	timeline := period.NewRange(period.MustParse("2026-01"), 13)
	partnership := &PartnershipStructure{
		Partners: []Partner{
			NewPartner("lp", LP, 1.0),
			NewPartner("gp", GP, 0.0),
		},
		Method: Waterfall,
		Promote: &CarryPromote{
			Preferred: 0.08,
			Tiers: []PromoteTier{
				{Hurdle: 0.08, Promote: 0.20},
				{Hurdle: 0.15, Promote: 0.30},
			},
		},
	}
	if err := partnership.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	l := seedLedger(t, timeline, map[string]Money{"lp": M(1_000)}, M(1_600))
	calc := NewWaterfallCalculator(l, timeline, partnership, "asset-1", zerolog.Nop())
	dists, err := calc.Distribute()
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	lp := dists["lp"].Total()
	gp := dists["gp"].Total()
	if got := lp.InexactFloat64(); math.Abs(got-1_452.75) > 0.02 {
		t.Errorf("lp distributions = %s, want $1452.75", lp)
	}
	if got := gp.InexactFloat64(); math.Abs(got-147.25) > 0.02 {
		t.Errorf("gp distributions = %s, want $147.25", gp)
	}
	if sum := lp.Add(gp); !sum.Equal(decimal.NewFromInt(1_600)) {
		t.Errorf("distributions sum to %s, want exactly $1600", sum)
	}

	// The LP return lands at 15% up to the second hurdle, and above it
	// only through the final tier: overall between the hurdles.
	flows := seriesFlows(l.PartnerFlowSeries("lp"), timeline)
	irr, ok := AnnualIRR(flows)
	if !ok {
		t.Fatalf("lp IRR undefined")
	}
	if irr < 0.15 {
		t.Errorf("lp annual IRR = %s, want above the 15%% hurdle", irr)
	}

	// Stage decomposition: capital and preferred go entirely to the LP.
	capital := l.SeriesWhere(and(ByCategory(CategoryDistribution), func(r Record) bool {
		return r.Subcategory == SubcategoryReturnOfCapital
	})).Neg().Total()
	if got := capital.InexactFloat64(); math.Abs(got-1_000) > 0.01 {
		t.Errorf("return of capital = %s, want $1000", capital)
	}
	pref := l.SeriesWhere(and(ByCategory(CategoryDistribution), func(r Record) bool {
		return r.Subcategory == SubcategoryPreferred
	})).Neg().Total()
	if got := pref.InexactFloat64(); math.Abs(got-80) > 0.01 {
		t.Errorf("preferred return = %s, want $80", pref)
	}
}

func TestWaterfall_PreferredOnly(t *testing.T) {
	// Cash runs out inside the preferred stage: the LP gets everything
	// and the GP promote never triggers.
	timeline := period.NewRange(period.MustParse("2026-01"), 13)
	partnership := &PartnershipStructure{
		Partners: []Partner{
			NewPartner("lp", LP, 1.0),
			NewPartner("gp", GP, 0.0),
		},
		Method: Waterfall,
		Promote: &CarryPromote{
			Preferred: 0.08,
			Tiers:     []PromoteTier{{Hurdle: 0.08, Promote: 0.20}},
		},
	}

	l := seedLedger(t, timeline, map[string]Money{"lp": M(1_000)}, M(1_040))
	calc := NewWaterfallCalculator(l, timeline, partnership, "asset-1", zerolog.Nop())
	dists, err := calc.Distribute()
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if got := dists["gp"].Total(); !got.IsZero() {
		t.Errorf("gp distributions = %s, want 0 below the preferred", got)
	}
	if got := dists["lp"].Total(); !got.Equal(decimal.NewFromInt(1_040)) {
		t.Errorf("lp distributions = %s, want $1040", got)
	}
}

func TestDistribute_RejectsInvalidPartnership(t *testing.T) {
	timeline := period.NewRange(period.MustParse("2026-01"), 13)
	l := seedLedger(t, timeline, map[string]Money{"lp": M(1_000)}, M(1_200))

	// Waterfall method with no promote structure.
	noPromote := &PartnershipStructure{
		Partners: []Partner{NewPartner("lp", LP, 0.9), NewPartner("gp", GP, 0.1)},
		Method:   Waterfall,
	}
	calc := NewWaterfallCalculator(l, timeline, noPromote, "asset-1", zerolog.Nop())
	if _, err := calc.Distribute(); err == nil {
		t.Errorf("Distribute() with nil promote = nil, want error")
	}

	// Waterfall method with a promote but no general partner.
	noGP := &PartnershipStructure{
		Partners: []Partner{NewPartner("a", LP, 0.5), NewPartner("b", LP, 0.5)},
		Method:   Waterfall,
		Promote:  &CarryPromote{Preferred: 0.08, Tiers: []PromoteTier{{Hurdle: 0.08, Promote: 0.20}}},
	}
	calc = NewWaterfallCalculator(l, timeline, noGP, "asset-1", zerolog.Nop())
	if _, err := calc.Distribute(); !errors.Is(err, ErrNoGeneralPartner) {
		t.Errorf("Distribute() without a GP error = %v, want ErrNoGeneralPartner", err)
	}

	// Nothing posted: the ledger is still open to pass-1 records.
	if err := l.Add(timeline.From, M(1), noiMeta()); err != nil {
		t.Errorf("pass-1 Add() after rejected distributions error = %v", err)
	}
}

func TestSolveTierInflow(t *testing.T) {
	// -1000 at t=0, 1080 already flowing at t=12: 70 more brings the
	// return to exactly 15%.
	flows := make([]float64, 13)
	flows[0] = -1000
	flows[12] = 1080
	hurdle := math.Pow(1.15, 1.0/12) - 1

	got, err := solveTierInflow(flows, 12, hurdle)
	if err != nil {
		t.Fatalf("solveTierInflow() error = %v", err)
	}
	if math.Abs(got-70) > 0.01 {
		t.Errorf("solveTierInflow() = %g, want 70", got)
	}

	// Already above the hurdle: no inflow needed.
	flows[12] = 1200
	got, err = solveTierInflow(flows, 12, hurdle)
	if err != nil {
		t.Fatalf("solveTierInflow() error = %v", err)
	}
	if got != 0 {
		t.Errorf("solveTierInflow() above hurdle = %g, want 0", got)
	}
}
