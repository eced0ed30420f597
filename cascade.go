package proforma

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"proforma/period"
)

// Equity subcategories, used to keep the funding-conservation invariant
// checkable: capital calls fund capital uses, operating shortfalls fund
// debt service the property could not cover.
const (
	SubcategoryCapitalCall        = "capital call"
	SubcategoryOperatingShortfall = "operating shortfall"
	SubcategoryRefiShortfall      = "refinancing shortfall"
)

// FacilityPlan pairs a facility with its resolved commitment, the
// output of the financing-analysis pass and the input to the cascade.
type FacilityPlan struct {
	Facility   *DebtFacility
	Commitment Money
	Sizing     SizingReport
}

// RefinanceDetail records the construction-to-permanent takeout event.
type RefinanceDetail struct {
	Period       period.Period
	Payoff       Money // construction principal incl. capitalized interest
	ClosingCosts Money
	Proceeds     Money // permanent loan amount
	Net          Money // proceeds - payoff - closing costs
	Sizing       SizingReport
}

// FinancingResult summarizes one facility after the cascade has run.
type FinancingResult struct {
	Facility            string
	Kind                FacilityKind
	Commitment          Money
	Sizing              SizingReport
	TrancheDraws        map[string]Money
	TotalInterest       Money // cash + capitalized
	CashInterest        Money
	CapitalizedInterest Money
	SweptToEscrow       Money
	Prepaid             Money
	EndingBalance       Money
	Covenants           CovenantReport
	Refinance           *RefinanceDetail
}

// facilityState is the mutable per-facility simulation state. The
// facility spec itself stays immutable; every state change here is
// mirrored by a posting to the ledger, which remains the source of
// truth for the running balance.
type facilityState struct {
	plan     FacilityPlan
	tranches []Tranche
	caps     []Money // cumulative balance cap through each tranche
	drawn    []Money // cumulative tranche draws
	balance  Money
	reserve  Money
	trap     Money

	totalInterest Money
	cashInterest  Money
	capInterest   Money
	prepaid       Money
	swept         Money

	upfront     Money // per-period upfront interest charge (legacy regime)
	upfrontLeft int   // periods remaining on the upfront schedule

	active  bool
	retired bool
	takeout *facilityState // permanent facility paying this one off
	refi    *RefinanceDetail
	checks  []CovenantCheck
}

func (fs *facilityState) f() *DebtFacility { return fs.plan.Facility }

// headroom returns the remaining draw capacity, honoring strict tranche
// seniority: capacity opens tranche by tranche as cumulative thresholds
// fill.
func (fs *facilityState) headroom() Money {
	var total Money
	for i := range fs.tranches {
		total = total.Add(fs.caps[i].Sub(fs.drawn[i]))
	}
	return total
}

// trancheDraw is one tranche's share of a draw, in seniority order.
type trancheDraw struct {
	tranche string
	amount  Money
}

// draw takes up to amount from the facility's tranches in seniority
// order and returns what was actually drawn, per tranche.
func (fs *facilityState) draw(amount Money) []trancheDraw {
	var out []trancheDraw
	remaining := amount
	for i, t := range fs.tranches {
		if !remaining.IsPositive() {
			break
		}
		room := fs.caps[i].Sub(fs.drawn[i])
		if !room.IsPositive() {
			continue
		}
		take := remaining.Min(room)
		fs.drawn[i] = fs.drawn[i].Add(take)
		fs.balance = fs.balance.Add(take)
		remaining = remaining.Sub(take)
		out = append(out, trancheDraw{tranche: t.Name, amount: take})
	}
	return out
}

// CashFlowEngine reconciles, period by period, what the project needs
// to spend against what is available from equity and debt, and records
// every movement to the ledger. The loop is inherently sequential:
// each period's interest depends on the prior period's resolved ending
// balance.
type CashFlowEngine struct {
	ledger        *Ledger
	timeline      period.Range
	assetID       string
	partnership   *PartnershipStructure
	propertyValue Money
	totalCost     Money
	log           zerolog.Logger
}

// NewCashFlowEngine wires a cascade over the given ledger. totalCost is
// the loan-to-cost base for tranche thresholds.
func NewCashFlowEngine(ledger *Ledger, timeline period.Range, assetID string, partnership *PartnershipStructure, propertyValue, totalCost Money, log zerolog.Logger) *CashFlowEngine {
	return &CashFlowEngine{
		ledger:        ledger,
		timeline:      timeline,
		assetID:       assetID,
		partnership:   partnership,
		propertyValue: propertyValue,
		totalCost:     totalCost,
		log:           log,
	}
}

// Run executes the funding cascade over the timeline. noi and uses are
// the asset-analysis inputs (uses as positive magnitudes). All postings
// are pass 1.
func (e *CashFlowEngine) Run(noi, uses *Series, plans []FacilityPlan) ([]FinancingResult, error) {
	states, err := e.prepare(plans)
	if err != nil {
		return nil, err
	}

	for p := range e.timeline.Periods() {
		if err := e.runPeriod(p, noi, uses, states); err != nil {
			return nil, fmt.Errorf("period %s: %w", p, err)
		}
	}

	// Terminal event: release any remaining trap escrow as a lump sum.
	last := e.timeline.To
	for _, fs := range states {
		if fs.trap.IsPositive() {
			if err := e.post(last, fs.trap, Metadata{
				Purpose: FinancingService, Category: CategorySweep,
				Item: "cash trap release", SourceID: fs.f().Name, AssetID: e.assetID, Pass: Pass1,
			}); err != nil {
				return nil, err
			}
			fs.trap = M(0)
		}
	}

	results := make([]FinancingResult, 0, len(states))
	for _, fs := range states {
		draws := make(map[string]Money, len(fs.tranches))
		for i, t := range fs.tranches {
			draws[t.Name] = fs.drawn[i]
		}
		results = append(results, FinancingResult{
			Facility:            fs.f().Name,
			Kind:                fs.f().Kind,
			Commitment:          fs.plan.Commitment,
			Sizing:              fs.plan.Sizing,
			TrancheDraws:        draws,
			TotalInterest:       fs.totalInterest,
			CashInterest:        fs.cashInterest,
			CapitalizedInterest: fs.capInterest,
			SweptToEscrow:       fs.swept,
			Prepaid:             fs.prepaid,
			EndingBalance:       fs.balance,
			Covenants:           CovenantReport{Facility: fs.f().Name, Checks: fs.checks},
			Refinance:           fs.refi,
		})
	}
	return results, nil
}

// prepare builds runtime state and links construction facilities to
// their permanent takeouts.
func (e *CashFlowEngine) prepare(plans []FacilityPlan) ([]*facilityState, error) {
	states := make([]*facilityState, 0, len(plans))
	var takeout *facilityState
	for _, plan := range plans {
		f := plan.Facility
		tranches := sortedTranches(f.Tranches)
		fs := &facilityState{
			plan:     plan,
			tranches: tranches,
			caps:     make([]Money, len(tranches)),
			drawn:    make([]Money, len(tranches)),
			reserve:  f.InterestReserve,
			active:   true,
		}
		// Cumulative LTC thresholds translate into incremental tranche
		// capacity, clamped overall by the facility commitment.
		prevCap := M(0)
		for i, t := range tranches {
			cum := e.totalCost.Scale(t.LTC).Min(plan.Commitment)
			fs.caps[i] = cum.Sub(prevCap)
			if fs.caps[i].IsNegative() {
				fs.caps[i] = M(0)
			}
			prevCap = cum
		}
		if f.Regime == InterestUpfront {
			total := f.UpfrontInterest(plan.Commitment, e.timeline.From)
			fs.upfront = total.Div(decimal.NewFromInt(int64(f.TermMonths))).Round()
			fs.upfrontLeft = f.TermMonths
		}
		if f.Kind == Permanent && takeout == nil {
			takeout = fs
		}
		states = append(states, fs)
	}

	for _, fs := range states {
		if fs.f().Kind == Construction && fs.f().RefinanceAt != nil {
			if takeout == nil {
				return nil, fmt.Errorf("facility %q has refinance timing but no permanent facility is configured", fs.f().Name)
			}
			fs.takeout = takeout
			// The takeout funds nothing until the refinancing event.
			takeout.active = false
		}
	}
	return states, nil
}

// runPeriod fully resolves one period's sources and uses. The next
// period's interest depends on the ending balances resolved here.
func (e *CashFlowEngine) runPeriod(p period.Period, noi, uses *Series, states []*facilityState) error {
	equityNeed := M(0) // capital-call portion
	cashDebtService := M(0)

	// 1. Interest accrual on prior-period balances, and scheduled
	// amortization.
	for _, fs := range states {
		if !fs.active || fs.retired {
			continue
		}
		f := fs.f()
		if f.Regime == InterestSynchronous && fs.balance.IsPositive() {
			interest := fs.balance.Mul(f.Rate.Monthly(p)).Round()
			fs.totalInterest = fs.totalInterest.Add(interest)

			fromReserve := interest.Min(fs.reserve)
			if fromReserve.IsPositive() {
				// Reserve-funded interest capitalizes: it adds to the
				// balance and never touches operating cash flow.
				fs.reserve = fs.reserve.Sub(fromReserve)
				fs.balance = fs.balance.Add(fromReserve)
				fs.capInterest = fs.capInterest.Add(fromReserve)
				if err := e.post(p, fromReserve.Neg(), Metadata{
					Purpose: CapitalUse, Category: CategoryInterest,
					Item: "capitalized interest", SourceID: f.Name, AssetID: e.assetID, Pass: Pass1,
				}); err != nil {
					return err
				}
				if err := e.post(p, fromReserve, Metadata{
					Purpose: CapitalSource, Category: CategoryDebt, Subcategory: "interest reserve",
					Item: "interest reserve draw", SourceID: f.Name, AssetID: e.assetID, Pass: Pass1,
				}); err != nil {
					return err
				}
			}
			cash := interest.Sub(fromReserve)
			if cash.IsPositive() {
				fs.cashInterest = fs.cashInterest.Add(cash)
				cashDebtService = cashDebtService.Add(cash)
				if err := e.post(p, cash.Neg(), Metadata{
					Purpose: FinancingService, Category: CategoryInterest,
					Item: "interest expense", SourceID: f.Name, AssetID: e.assetID, Pass: Pass1,
				}); err != nil {
					return err
				}
			}

			// Scheduled amortization on permanent debt: level payment
			// re-derived monthly from the outstanding balance.
			if f.Kind == Permanent && f.AmortYears > 0 {
				payment := fs.balance.Mul(decimal.NewFromFloat(f.DebtConstant(p) / 12)).Round()
				principal := payment.Sub(interest)
				if principal.IsPositive() {
					principal = principal.Min(fs.balance)
					fs.balance = fs.balance.Sub(principal)
					cashDebtService = cashDebtService.Add(principal)
					if err := e.post(p, principal.Neg(), Metadata{
						Purpose: FinancingService, Category: CategoryPrincipal,
						Item: "scheduled amortization", SourceID: f.Name, AssetID: e.assetID, Pass: Pass1,
					}); err != nil {
						return err
					}
				}
			}
		}
	}

	// 2. Capital uses due, including legacy upfront interest charges,
	// funded by tranche draws in seniority order, remainder by equity.
	need := Money{value: uses.Get(p)}
	if need.IsPositive() {
		if err := e.post(p, need.Neg(), Metadata{
			Purpose: CapitalUse, Category: CategoryProjectCost,
			Item: "capital uses", AssetID: e.assetID, Pass: Pass1,
		}); err != nil {
			return err
		}
	}
	for _, fs := range states {
		if !fs.active || fs.retired || fs.upfrontLeft == 0 || !fs.upfront.IsPositive() {
			continue
		}
		fs.upfrontLeft--
		fs.totalInterest = fs.totalInterest.Add(fs.upfront)
		fs.capInterest = fs.capInterest.Add(fs.upfront)
		need = need.Add(fs.upfront)
		if err := e.post(p, fs.upfront.Neg(), Metadata{
			Purpose: CapitalUse, Category: CategoryInterest,
			Item: "upfront interest", SourceID: fs.f().Name, AssetID: e.assetID, Pass: Pass1,
		}); err != nil {
			return err
		}
	}
	for _, fs := range states {
		if !need.IsPositive() {
			break
		}
		if !fs.active || fs.retired {
			continue
		}
		amount := need.Min(fs.headroom())
		if !amount.IsPositive() {
			continue
		}
		for _, d := range fs.draw(amount) {
			if err := e.post(p, d.amount, Metadata{
				Purpose: CapitalSource, Category: CategoryDebt, Subcategory: d.tranche,
				Item: "loan draw", SourceID: fs.f().Name, AssetID: e.assetID, Pass: Pass1,
			}); err != nil {
				return err
			}
			e.log.Debug().Stringer("period", p).Str("facility", fs.f().Name).
				Str("tranche", d.tranche).Str("amount", d.amount.String()).Msg("debt draw")
		}
		need = need.Sub(amount)
	}
	equityNeed = equityNeed.Add(need)

	// 3. Operating cash flow: NOI covers cash debt service; shortfall
	// is an operating equity call, surplus is available for sweeps and
	// distributions.
	noiP := Money{value: noi.Get(p)}
	if !noiP.IsZero() {
		if err := e.post(p, noiP, Metadata{
			Purpose: Operating, Category: CategoryNOI,
			Item: "net operating income", AssetID: e.assetID, Pass: Pass1,
		}); err != nil {
			return err
		}
	}
	opCash := noiP.Sub(cashDebtService)
	opShortfall := M(0)
	if opCash.IsNegative() {
		opShortfall = opCash.Neg()
		opCash = M(0)
	}

	// 4. Covenant-driven cash sweeps, applied before the period's
	// balance is final. Cash first covers interest (already paid
	// above); only the remainder above debt service is sweepable, up to
	// the configured cap. A shortfall is never covered by the sweep.
	for _, fs := range states {
		f := fs.f()
		if !fs.active || fs.retired || f.Sweep.Mode == SweepNone || !fs.balance.IsPositive() {
			continue
		}
		excess := opCash
		if f.Sweep.Cap.IsPositive() {
			excess = excess.Min(f.Sweep.Cap)
		}
		if !excess.IsPositive() {
			continue
		}
		switch f.Sweep.Mode {
		case SweepTrap:
			fs.trap = fs.trap.Add(excess)
			fs.swept = fs.swept.Add(excess)
			opCash = opCash.Sub(excess)
			if err := e.post(p, excess.Neg(), Metadata{
				Purpose: FinancingService, Category: CategorySweep,
				Item: "cash trap escrow", SourceID: f.Name, AssetID: e.assetID, Pass: Pass1,
			}); err != nil {
				return err
			}
		case SweepPrepay:
			reduce := excess.Min(fs.balance)
			fs.balance = fs.balance.Sub(reduce)
			fs.prepaid = fs.prepaid.Add(reduce)
			opCash = opCash.Sub(reduce)
			if err := e.post(p, reduce.Neg(), Metadata{
				Purpose: FinancingService, Category: CategorySweep, Subcategory: CategoryPrincipal,
				Item: "sweep prepayment", SourceID: f.Name, AssetID: e.assetID, Pass: Pass1,
			}); err != nil {
				return err
			}
		}
	}

	// 5. Construction-to-permanent refinancing.
	refiShortfall := M(0)
	for _, fs := range states {
		f := fs.f()
		if fs.retired || f.RefinanceAt == nil || *f.RefinanceAt != p {
			continue
		}
		shortfall, err := e.refinance(p, fs, noi)
		if err != nil {
			return err
		}
		refiShortfall = refiShortfall.Add(shortfall)
	}

	// 6. Equity calls, split per partner.
	if err := e.callEquity(p, equityNeed, SubcategoryCapitalCall); err != nil {
		return err
	}
	if err := e.callEquity(p, opShortfall, SubcategoryOperatingShortfall); err != nil {
		return err
	}
	if err := e.callEquity(p, refiShortfall, SubcategoryRefiShortfall); err != nil {
		return err
	}

	// 7. Covenant monitoring against the period's final balances.
	annualNOI := noiP.Mul(decimal.NewFromInt(12))
	annualDS := cashDebtService.Mul(decimal.NewFromInt(12))
	for _, fs := range states {
		if !fs.active || fs.retired {
			continue
		}
		fs.checks = append(fs.checks, monitorPeriod(fs.f(), p, fs.balance, e.propertyValue, annualNOI, annualDS)...)
	}
	return nil
}

// refinance retires a construction facility into its permanent takeout.
// The permanent proceeds must exactly pay off the outstanding balance
// (principal plus accrued, capitalized interest) plus closing costs;
// positive net proceeds flow to the project, negative ones are returned
// as an equity shortfall. After payoff the construction facility
// accrues no further interest.
func (e *CashFlowEngine) refinance(p period.Period, fs *facilityState, noi *Series) (Money, error) {
	cons, perm := fs.f(), fs.takeout
	payoff := fs.balance

	sizing := perm.plan.Sizing
	if perm.f().Sizing == SizeAuto {
		sizing = perm.f().Size(p, e.propertyValue, e.forwardNOI(p, noi))
	}
	loan := sizing.Amount
	closing := loan.Scale(cons.ClosingCostRate).Round()

	if err := e.post(p, loan, Metadata{
		Purpose: CapitalSource, Category: CategoryRefinance,
		Item: "permanent loan proceeds", SourceID: perm.f().Name, AssetID: e.assetID, Pass: Pass1,
	}); err != nil {
		return M(0), err
	}
	if err := e.post(p, payoff.Add(closing).Neg(), Metadata{
		Purpose: CapitalUse, Category: CategoryRefinance,
		Item: "construction payoff and closing costs", SourceID: cons.Name, AssetID: e.assetID, Pass: Pass1,
	}); err != nil {
		return M(0), err
	}

	net := loan.Sub(payoff).Sub(closing)
	fs.refi = &RefinanceDetail{
		Period:       p,
		Payoff:       payoff,
		ClosingCosts: closing,
		Proceeds:     loan,
		Net:          net,
		Sizing:       sizing,
	}
	e.log.Info().Stringer("period", p).Str("construction", cons.Name).
		Str("permanent", perm.f().Name).Str("payoff", payoff.String()).
		Str("proceeds", loan.String()).Str("bound", sizing.Bound.String()).
		Msg("refinancing")

	// Release the trap escrow at the refinancing event.
	if fs.trap.IsPositive() {
		if err := e.post(p, fs.trap, Metadata{
			Purpose: FinancingService, Category: CategorySweep,
			Item: "cash trap release", SourceID: cons.Name, AssetID: e.assetID, Pass: Pass1,
		}); err != nil {
			return M(0), err
		}
		fs.trap = M(0)
	}

	fs.balance = M(0)
	fs.retired = true
	perm.balance = loan
	perm.plan.Sizing = sizing
	perm.plan.Commitment = loan
	perm.active = true
	// The takeout is fully funded at closing and opens no further draw
	// capacity; the funding is recorded on its senior tranche.
	for i := range perm.caps {
		perm.caps[i] = M(0)
		perm.drawn[i] = M(0)
	}
	perm.drawn[0] = loan

	if net.IsNegative() {
		return net.Neg(), nil
	}
	return M(0), nil
}

// forwardNOI returns the twelve-month NOI from a period onward when the
// timeline extends that far, otherwise twelve times the period's NOI.
func (e *CashFlowEngine) forwardNOI(from period.Period, noi *Series) Money {
	if from.Add(11).After(e.timeline.To) {
		return Money{value: noi.Get(from)}.Mul(decimal.NewFromInt(12))
	}
	total := decimal.Zero
	for i := 0; i < 12; i++ {
		total = total.Add(noi.Get(from.Add(i)))
	}
	return Money{value: total}
}

// callEquity splits an equity need across partners and posts the
// contributions.
func (e *CashFlowEngine) callEquity(p period.Period, need Money, subcategory string) error {
	if !need.IsPositive() {
		return nil
	}
	shares := e.partnership.CallShares()
	allocated := M(0)
	partners := e.partnership.Partners
	for i, partner := range partners {
		var amount Money
		if i == len(partners)-1 {
			// The last partner absorbs the rounding residue so that
			// contributions sum exactly to the call.
			amount = need.Sub(allocated)
		} else {
			amount = need.Mul(shares[partner.Name]).Round()
		}
		allocated = allocated.Add(amount)
		if err := e.post(p, amount, Metadata{
			Purpose: CapitalSource, Category: CategoryEquity, Subcategory: subcategory,
			Item: "equity contribution", SourceID: partner.Name, AssetID: e.assetID, Pass: Pass1,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *CashFlowEngine) post(p period.Period, amount Money, meta Metadata) error {
	return e.ledger.Add(p, amount, meta)
}
