package proforma

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"proforma/period"
)

// Distribution subcategories, one per waterfall stage.
const (
	SubcategoryReturnOfCapital = "return of capital"
	SubcategoryPreferred       = "preferred return"
	SubcategoryPromote         = "promote"
)

// ErrNoConvergence reports that a promote tier boundary could not be
// located. It indicates malformed flows, not a business condition, and
// aborts the run.
var ErrNoConvergence = errors.New("tier boundary search did not converge")

// WaterfallCalculator allocates each period's distributable cash to the
// partners and posts the result as pass-2 distribution records. It
// reads everything it needs back from the ledger: distributable cash
// from the pass-1 records, and partner capital from the equity
// contributions posted by the funding cascade.
type WaterfallCalculator struct {
	ledger      *Ledger
	timeline    period.Range
	partnership *PartnershipStructure
	assetID     string
	log         zerolog.Logger
}

// NewWaterfallCalculator wires a calculator over a ledger that already
// holds the pass-1 simulation.
func NewWaterfallCalculator(ledger *Ledger, timeline period.Range, partnership *PartnershipStructure, assetID string, log zerolog.Logger) *WaterfallCalculator {
	return &WaterfallCalculator{
		ledger:      ledger,
		timeline:    timeline,
		partnership: partnership,
		assetID:     assetID,
		log:         log,
	}
}

// Distribute runs the configured distribution method over the whole
// timeline and returns each partner's distribution series (positive
// amounts, partner perspective). A malformed partnership is rejected
// before anything posts.
func (w *WaterfallCalculator) Distribute() (map[string]*Series, error) {
	if w.partnership == nil {
		return nil, errors.New("distribution requires a partnership structure")
	}
	if err := w.partnership.Validate(); err != nil {
		return nil, err
	}
	switch w.partnership.Method {
	case PariPassu:
		return w.pariPassu()
	case Waterfall:
		return w.waterfall()
	default:
		return nil, fmt.Errorf("unknown distribution method %d", w.partnership.Method)
	}
}

// allocation is one partner's share of one period, by stage.
type allocation struct {
	partner     string
	subcategory string
	amount      decimal.Decimal
}

// postPeriod rounds a period's allocations to cents and posts them. The
// rounding residue lands on the last allocation so that the posted
// distributions sum exactly to the cash distributed.
func (w *WaterfallCalculator) postPeriod(p period.Period, total decimal.Decimal, allocs []allocation, out map[string]*Series) error {
	if len(allocs) == 0 {
		return nil
	}
	rounded := make([]decimal.Decimal, len(allocs))
	sum := decimal.Zero
	for i, a := range allocs {
		rounded[i] = a.amount.Round(2)
		sum = sum.Add(rounded[i])
	}
	rounded[len(allocs)-1] = rounded[len(allocs)-1].Add(total.Round(2).Sub(sum))

	for i, a := range allocs {
		if rounded[i].IsZero() {
			continue
		}
		err := w.ledger.Add(p, Money{value: rounded[i].Neg()}, Metadata{
			Purpose: FinancingService, Category: CategoryDistribution, Subcategory: a.subcategory,
			Item: "partner distribution", SourceID: a.partner, AssetID: w.assetID, Pass: Pass2,
		})
		if err != nil {
			return err
		}
		out[a.partner].Add(p, rounded[i])
	}
	return nil
}

// pariPassu splits every period's distributable cash strictly pro-rata
// to ownership shares.
func (w *WaterfallCalculator) pariPassu() (map[string]*Series, error) {
	dist := w.ledger.DistributableSeries()
	out := make(map[string]*Series, len(w.partnership.Partners))
	for _, p := range w.partnership.Partners {
		out[p.Name] = NewSeries()
	}

	for p := range w.timeline.Periods() {
		d := dist.Get(p)
		if !d.IsPositive() {
			continue
		}
		allocs := make([]allocation, 0, len(w.partnership.Partners))
		for _, partner := range w.partnership.Partners {
			share := decimal.NewFromFloat(float64(partner.Share))
			allocs = append(allocs, allocation{
				partner:     partner.Name,
				subcategory: SubcategoryReturnOfCapital,
				amount:      d.Mul(share),
			})
		}
		if err := w.postPeriod(p, d, allocs, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// partnerState is the running waterfall position of one partner.
type partnerState struct {
	partner    Partner
	unreturned decimal.Decimal // capital contributed, not yet returned
	accrued    decimal.Decimal // accrued unpaid preferred return
}

// promoteBand is one slice of the promote schedule: distributions in
// the band carry the band's promote until the class return reaches the
// upper hurdle. The last band is unbounded.
type promoteBand struct {
	promote float64
	upper   float64 // monthly hurdle rate
	bounded bool
}

// bands flattens the promote configuration into ascending bands,
// inserting an implicit zero-promote band between the preferred return
// and the first hurdle when they differ.
func bands(c *CarryPromote) []promoteBand {
	var out []promoteBand
	if c.Tiers[0].Hurdle > c.Preferred {
		out = append(out, promoteBand{promote: 0, upper: c.Tiers[0].Hurdle.Monthly(), bounded: true})
	}
	for i, t := range c.Tiers {
		b := promoteBand{promote: float64(t.Promote)}
		if i+1 < len(c.Tiers) {
			b.upper = c.Tiers[i+1].Hurdle.Monthly()
			b.bounded = true
		}
		out = append(out, b)
	}
	return out
}

// waterfall runs the tiered allocation: return of capital, compounding
// preferred, then promote bands gated on the limited-partner class
// return.
func (w *WaterfallCalculator) waterfall() (map[string]*Series, error) {
	dist := w.ledger.DistributableSeries()
	partners := w.partnership.Partners
	out := make(map[string]*Series, len(partners))

	states := make([]*partnerState, len(partners))
	contrib := make([]*Series, len(partners))
	lpShare, gpShare := 0.0, 0.0
	for i, p := range partners {
		out[p.Name] = NewSeries()
		states[i] = &partnerState{partner: p}
		contrib[i] = w.ledger.SeriesWhere(and(ByPurpose(CapitalSource), ByCategory(CategoryEquity), BySource(p.Name)))
		if p.Role == LP {
			lpShare += float64(p.Share)
		} else {
			gpShare += float64(p.Share)
		}
	}

	prefRate := w.partnership.Promote.Preferred.MonthlyDecimal()
	schedule := bands(w.partnership.Promote)
	lpFlows := make([]float64, w.timeline.Months())

	for p := range w.timeline.Periods() {
		t := w.timeline.Index(p)

		// The preferred return accrues on the prior period's position
		// and compounds on itself. Capital contributed this period
		// starts accruing next period.
		for _, ps := range states {
			ps.accrued = ps.accrued.Add(ps.unreturned.Add(ps.accrued).Mul(prefRate))
		}
		for i, ps := range states {
			c := contrib[i].Get(p)
			if c.IsZero() {
				continue
			}
			ps.unreturned = ps.unreturned.Add(c)
			if ps.partner.Role == LP {
				lpFlows[t] -= c.InexactFloat64()
			}
		}

		remaining := dist.Get(p)
		if !remaining.IsPositive() {
			continue
		}
		var allocs []allocation
		total := remaining

		// Stage 1: return of capital, pro-rata to unreturned balances.
		remaining = w.payDown(remaining, states, SubcategoryReturnOfCapital, &allocs, lpFlows, t,
			func(ps *partnerState) *decimal.Decimal { return &ps.unreturned })

		// Stage 2: accrued preferred, pro-rata to accrued balances.
		remaining = w.payDown(remaining, states, SubcategoryPreferred, &allocs, lpFlows, t,
			func(ps *partnerState) *decimal.Decimal { return &ps.accrued })

		// Stage 3: promote bands. Each bounded band absorbs cash until
		// the limited-partner class return reaches its upper hurdle;
		// the last band takes all residual.
		for _, band := range schedule {
			if !remaining.IsPositive() {
				break
			}
			slice := remaining
			if band.bounded && lpShare > 0 {
				classInflow, err := solveTierInflow(lpFlows, t, band.upper)
				if err != nil {
					return nil, err
				}
				lambda := (1 - band.promote) * lpShare
				need := decimal.NewFromFloat(classInflow / lambda)
				slice = decimal.Min(slice, need)
			}
			if !slice.IsPositive() {
				continue
			}
			w.allocateBand(slice, band.promote, states, gpShare, &allocs, lpFlows, t)
			remaining = remaining.Sub(slice)
		}

		if err := w.postPeriod(p, total, allocs, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// payDown distributes cash pro-rata against a per-partner balance
// (unreturned capital or accrued preferred), reduces the balances, and
// returns the cash left over.
func (w *WaterfallCalculator) payDown(cash decimal.Decimal, states []*partnerState, subcategory string, allocs *[]allocation, lpFlows []float64, t int, balance func(*partnerState) *decimal.Decimal) decimal.Decimal {
	if !cash.IsPositive() {
		return cash
	}
	total := decimal.Zero
	for _, ps := range states {
		total = total.Add(*balance(ps))
	}
	if !total.IsPositive() {
		return cash
	}
	pay := decimal.Min(cash, total)
	for _, ps := range states {
		b := balance(ps)
		amount := pay.Mul(b.Div(total))
		if !amount.IsPositive() {
			continue
		}
		*b = b.Sub(amount)
		if b.IsNegative() {
			*b = decimal.Zero
		}
		*allocs = append(*allocs, allocation{partner: ps.partner.Name, subcategory: subcategory, amount: amount})
		if ps.partner.Role == LP {
			lpFlows[t] += amount.InexactFloat64()
		}
	}
	return cash.Sub(pay)
}

// allocateBand splits one band's cash: the promote comes off the top to
// the general partners, the rest is pro-rata to ownership across all
// partners.
func (w *WaterfallCalculator) allocateBand(cash decimal.Decimal, promote float64, states []*partnerState, gpShare float64, allocs *[]allocation, lpFlows []float64, t int) {
	carry := cash.Mul(decimal.NewFromFloat(promote))
	residual := cash.Sub(carry)

	if carry.IsPositive() {
		gps := 0
		for _, ps := range states {
			if ps.partner.Role == GP {
				gps++
			}
		}
		for _, ps := range states {
			if ps.partner.Role != GP {
				continue
			}
			var amount decimal.Decimal
			if gpShare > 0 {
				amount = carry.Mul(decimal.NewFromFloat(float64(ps.partner.Share) / gpShare))
			} else {
				amount = carry.Div(decimal.NewFromInt(int64(gps)))
			}
			*allocs = append(*allocs, allocation{partner: ps.partner.Name, subcategory: SubcategoryPromote, amount: amount})
		}
	}

	for _, ps := range states {
		amount := residual.Mul(decimal.NewFromFloat(float64(ps.partner.Share)))
		if !amount.IsPositive() {
			continue
		}
		*allocs = append(*allocs, allocation{partner: ps.partner.Name, subcategory: SubcategoryPromote, amount: amount})
		if ps.partner.Role == LP {
			lpFlows[t] += amount.InexactFloat64()
		}
	}
}

// solveTierInflow returns the additional class inflow at index t that
// lifts the class internal rate of return exactly to the monthly hurdle
// rate. Zero when the class is already at or above the hurdle.
//
// The net present value at the hurdle rate gives a closed-form estimate
// that brackets the answer; a bisection on the realized rate then
// resolves it to 1e-7.
func solveTierInflow(flows []float64, t int, hurdle float64) (float64, error) {
	work := make([]float64, t+1)
	copy(work, flows[:t+1])

	if rate, ok := IRR(work); ok && rate >= hurdle {
		return 0, nil
	}
	estimate := -NPV(hurdle, work) * math.Pow(1+hurdle, float64(t))
	if estimate <= 0 {
		return 0, nil
	}

	lo, hi := 0.0, estimate*2
	base := flows[t]
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		work[t] = base + mid
		rate, ok := IRR(work)
		switch {
		case ok && math.Abs(rate-hurdle) < 1e-7:
			return mid, nil
		case hi-lo < 0.005:
			return mid, nil
		case !ok || rate < hurdle:
			lo = mid
		default:
			hi = mid
		}
	}
	return 0, ErrNoConvergence
}
