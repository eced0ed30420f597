package proforma

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"proforma/period"
)

// FacilityKind distinguishes a construction facility (draw-based, often
// refinanced) from a permanent one (funded at once, amortizing).
type FacilityKind int

const (
	Construction FacilityKind = iota
	Permanent
)

func (k FacilityKind) String() string {
	switch k {
	case Construction:
		return "construction"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ParseFacilityKind parses a string into a FacilityKind.
func ParseFacilityKind(s string) (FacilityKind, error) {
	switch s {
	case "construction":
		return Construction, nil
	case "permanent":
		return Permanent, nil
	default:
		return 0, fmt.Errorf("unknown facility kind: %q", s)
	}
}

// SizingMethod selects how the loan amount is determined.
type SizingMethod int

const (
	// SizeManual uses the facility's explicit amount unconditionally.
	SizeManual SizingMethod = iota
	// SizeAuto resolves the binding constraint among LTV, DSCR and
	// debt-yield hurdles.
	SizeAuto
)

// SizingConstraint names the constraint that bound under automatic
// sizing.
type SizingConstraint int

const (
	BoundManual SizingConstraint = iota
	BoundLTV
	BoundDSCR
	BoundDebtYield
)

func (c SizingConstraint) String() string {
	switch c {
	case BoundManual:
		return "manual"
	case BoundLTV:
		return "ltv"
	case BoundDSCR:
		return "dscr"
	case BoundDebtYield:
		return "debt yield"
	default:
		return "unknown"
	}
}

// InterestRegime selects the interest-calculation method.
type InterestRegime int

const (
	// InterestSynchronous accrues interest per period on realized
	// balances read back from the ledger. Required whenever a cash
	// sweep is configured.
	InterestSynchronous InterestRegime = iota
	// InterestUpfront is the legacy regime: total interest is
	// pre-computed from the loan term at construction time and spread
	// evenly over the term as a capitalized cost.
	InterestUpfront
)

// SweepMode is the cash-sweep covenant attached to a facility.
type SweepMode int

const (
	// SweepNone applies no adjustment.
	SweepNone SweepMode = iota
	// SweepTrap escrows excess operating cash and releases it as a
	// lump sum at the facility's terminal or refinancing event. Pure
	// timing effect: total interest is unchanged.
	SweepTrap
	// SweepPrepay mandatorily reduces outstanding principal every
	// period, permanently lowering total interest cost.
	SweepPrepay
)

func (m SweepMode) String() string {
	switch m {
	case SweepNone:
		return "none"
	case SweepTrap:
		return "trap"
	case SweepPrepay:
		return "prepay"
	default:
		return "unknown"
	}
}

// ParseSweepMode parses a string into a SweepMode.
func ParseSweepMode(s string) (SweepMode, error) {
	switch s {
	case "", "none":
		return SweepNone, nil
	case "trap":
		return SweepTrap, nil
	case "prepay":
		return SweepPrepay, nil
	default:
		return 0, fmt.Errorf("unknown sweep mode: %q", s)
	}
}

// CashSweep configures the sweep covenant. Cap limits the amount swept
// per period; zero means uncapped.
type CashSweep struct {
	Mode SweepMode
	Cap  Money
}

// RateSpec is the interest-rate specification of a facility: a fixed
// annual rate, or a floating index series plus spread, clamped by an
// optional cap and floor.
type RateSpec struct {
	Fixed  Rate
	Index  *Series // optional: annual index rate per period
	Spread Rate
	Cap    Rate // zero means no cap
	Floor  Rate
}

// Annual returns the annual rate in effect for a period.
func (r RateSpec) Annual(on period.Period) Rate {
	if r.Index == nil {
		return r.Fixed
	}
	rate := Rate(r.Index.Get(on).InexactFloat64()) + r.Spread
	if r.Cap > 0 && rate > r.Cap {
		rate = r.Cap
	}
	if rate < r.Floor {
		rate = r.Floor
	}
	return rate
}

// Monthly returns the periodic rate for a period as a decimal, for
// exact balance arithmetic.
func (r RateSpec) Monthly(on period.Period) decimal.Decimal {
	return r.Annual(on).MonthlyDecimal()
}

// Tranche is a sub-portion of a facility with its own seniority and
// draw threshold. A tranche's LTC threshold caps the cumulative
// facility balance once that tranche is active; a junior tranche may
// not be drawn while a senior tranche has remaining capacity.
type Tranche struct {
	Name      string
	Seniority int     // lower is more senior
	LTC       Percent // cumulative loan-to-cost threshold through this tranche
}

// Covenants holds the ongoing monitoring thresholds. A zero value
// disables monitoring for that metric.
type Covenants struct {
	MaxLTV       Percent
	MinDSCR      float64
	MinDebtYield Percent
}

// DebtFacility is the immutable specification of one loan. Its running
// balance is never stored on the facility: it is derived from accrual
// and prepayment postings to the ledger.
type DebtFacility struct {
	Name     string
	Kind     FacilityKind
	Tranches []Tranche
	Rate     RateSpec
	Regime   InterestRegime

	Sizing       SizingMethod
	Amount       Money   // manual sizing amount
	MaxLTV       Percent // sizing hurdles (auto)
	MinDSCR      float64
	MinDebtYield Percent

	AmortYears int // 0 means interest-only
	TermMonths int

	InterestReserve Money
	Sweep           CashSweep
	Monitor         Covenants

	// RefinanceAt, when set on a construction facility, is the period
	// in which the permanent takeout pays the facility off.
	RefinanceAt     *period.Period
	ClosingCostRate Percent // of the new loan amount, at refinancing
}

// Validate rejects malformed facility configuration at construction
// time.
func (f *DebtFacility) Validate() error {
	var errs error
	if f.Name == "" {
		errs = errors.Join(errs, errors.New("facility name is missing"))
	}
	if len(f.Tranches) == 0 {
		errs = errors.Join(errs, fmt.Errorf("facility %q requires at least one tranche", f.Name))
	}
	seniorities := make(map[int]struct{})
	prevLTC := Percent(0)
	for _, t := range sortedTranches(f.Tranches) {
		if _, dup := seniorities[t.Seniority]; dup {
			errs = errors.Join(errs, fmt.Errorf("facility %q tranche seniority %d is not a strict total order", f.Name, t.Seniority))
		}
		seniorities[t.Seniority] = struct{}{}
		if t.LTC <= prevLTC {
			errs = errors.Join(errs, fmt.Errorf("facility %q tranche %q threshold %s does not exceed the senior threshold %s", f.Name, t.Name, t.LTC, prevLTC))
		}
		prevLTC = t.LTC
	}
	if f.Sizing == SizeManual && !f.Amount.IsPositive() {
		errs = errors.Join(errs, fmt.Errorf("facility %q manual sizing requires a positive amount", f.Name))
	}
	if f.Sizing == SizeAuto && f.MaxLTV <= 0 && f.MinDSCR <= 0 && f.MinDebtYield <= 0 {
		errs = errors.Join(errs, fmt.Errorf("facility %q automatic sizing requires at least one positive hurdle", f.Name))
	}
	if f.Regime == InterestUpfront && f.TermMonths <= 0 {
		errs = errors.Join(errs, fmt.Errorf("facility %q upfront interest requires a positive term", f.Name))
	}
	if f.Sweep.Mode != SweepNone && f.Regime != InterestSynchronous {
		errs = errors.Join(errs, fmt.Errorf("facility %q cash sweep requires the synchronous interest regime", f.Name))
	}
	if f.RefinanceAt != nil && f.Kind != Construction {
		errs = errors.Join(errs, fmt.Errorf("facility %q refinance timing only applies to a construction facility", f.Name))
	}
	return errs
}

// sortedTranches returns the tranches in strict seniority order.
func sortedTranches(tranches []Tranche) []Tranche {
	out := make([]Tranche, len(tranches))
	copy(out, tranches)
	sort.Slice(out, func(i, j int) bool { return out[i].Seniority < out[j].Seniority })
	return out
}

// DebtConstant returns the annual debt constant: annual debt service
// per dollar of loan. Interest-only facilities pay the annual rate;
// amortizing ones pay the standard mortgage constant.
func (f *DebtFacility) DebtConstant(on period.Period) float64 {
	annual := float64(f.Rate.Annual(on))
	if f.AmortYears == 0 {
		return annual
	}
	rm := f.Rate.Annual(on).Monthly()
	n := float64(f.AmortYears * 12)
	if rm == 0 {
		return 12 / n
	}
	return 12 * rm / (1 - math.Pow(1+rm, -n))
}

// SizingReport records all three candidate amounts of the sizing
// trifecta and which constraint bound.
type SizingReport struct {
	Facility    string
	ByLTV       Money
	ByDSCR      Money
	ByDebtYield Money
	Amount      Money
	Bound       SizingConstraint
}

// Size resolves the loan amount. Manual sizing returns the explicit
// amount unconditionally. Automatic sizing returns
// min(value*LTV, NOI/DSCR/debt-constant, NOI/debt-yield) over the
// configured hurdles and records which one bound. An unset hurdle is
// not a constraint, and the DSCR hurdle cannot bind while the debt
// constant is zero.
func (f *DebtFacility) Size(on period.Period, propertyValue, annualNOI Money) SizingReport {
	if f.Sizing == SizeManual {
		return SizingReport{Facility: f.Name, Amount: f.Amount.Round(), Bound: BoundManual}
	}

	report := SizingReport{Facility: f.Name}
	bound := false
	consider := func(amount Money, c SizingConstraint) {
		if !bound || amount.LessThan(report.Amount) {
			report.Amount, report.Bound, bound = amount, c, true
		}
	}
	if f.MaxLTV > 0 {
		report.ByLTV = propertyValue.Scale(f.MaxLTV)
		consider(report.ByLTV, BoundLTV)
	}
	if dc := f.DebtConstant(on); f.MinDSCR > 0 && dc > 0 {
		report.ByDSCR = annualNOI.Div(decimal.NewFromFloat(f.MinDSCR)).Div(decimal.NewFromFloat(dc))
		consider(report.ByDSCR, BoundDSCR)
	}
	if f.MinDebtYield > 0 {
		report.ByDebtYield = annualNOI.Div(decimal.NewFromFloat(float64(f.MinDebtYield)))
		consider(report.ByDebtYield, BoundDebtYield)
	}
	report.Amount = report.Amount.Round()
	return report
}

// UpfrontInterest is the legacy estimate of total interest over the
// facility's term: loan amount at the periodic rate over the full term,
// at an assumed 50% average utilization of the commitment.
func (f *DebtFacility) UpfrontInterest(commitment Money, from period.Period) Money {
	rm := f.Rate.Monthly(from)
	months := decimal.NewFromInt(int64(f.TermMonths))
	half := decimal.NewFromFloat(0.5)
	return commitment.Mul(rm).Mul(months).Mul(half).Round()
}
