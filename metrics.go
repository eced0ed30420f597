package proforma

import (
	"math"

	"proforma/period"
)

// NPV returns the net present value of a periodic cash flow series at
// the given periodic discount rate. flows[0] is undiscounted.
func NPV(rate float64, flows []float64) float64 {
	var npv float64
	df := 1.0
	for _, f := range flows {
		npv += f / df
		df *= 1 + rate
	}
	return npv
}

// hasSignChange reports whether the flows contain both an inflow and an
// outflow, the precondition for a defined IRR.
func hasSignChange(flows []float64) bool {
	var pos, neg bool
	for _, f := range flows {
		if f > 0 {
			pos = true
		}
		if f < 0 {
			neg = true
		}
	}
	return pos && neg
}

// IRR returns the periodic internal rate of return of a cash flow
// series. The second result is false when the IRR is undefined: an
// empty or all-zero series, or one with no sign change. These are valid
// real-world states (an all-equity deal with no loss), not errors.
//
// The root is located by bisection over a bracketed sign change of the
// NPV; the rate is resolved to 1e-10.
func IRR(flows []float64) (float64, bool) {
	if len(flows) == 0 || !hasSignChange(flows) {
		return 0, false
	}

	lo, hi := -0.9999, 10.0
	flo, fhi := NPV(lo, flows), NPV(hi, flows)
	if flo == 0 {
		return lo, true
	}
	if fhi == 0 {
		return hi, true
	}
	if math.Signbit(flo) == math.Signbit(fhi) {
		// No root in the bracket: pathological flows.
		return 0, false
	}

	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		fmid := NPV(mid, flows)
		if fmid == 0 || hi-lo < 1e-10 {
			return mid, true
		}
		if math.Signbit(fmid) == math.Signbit(flo) {
			lo, flo = mid, fmid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, true
}

// AnnualIRR is IRR over monthly flows, annualized geometrically.
func AnnualIRR(flows []float64) (Rate, bool) {
	monthly, ok := IRR(flows)
	if !ok {
		return 0, false
	}
	return Annualize(monthly), true
}

// EquityMultiple returns total inflows divided by total outflows for a
// signed cash flow series. It is undefined (false) when there are no
// outflows.
func EquityMultiple(flows []float64) (float64, bool) {
	var in, out float64
	for _, f := range flows {
		if f > 0 {
			in += f
		} else {
			out -= f
		}
	}
	if out == 0 {
		return 0, false
	}
	return in / out, true
}

// seriesFlows flattens a series into a dense float64 slice over the
// given range, the shape the iterative kernels consume.
func seriesFlows(s *Series, r period.Range) []float64 {
	aligned := s.Aligned(r)
	out := make([]float64, len(aligned))
	for i, v := range aligned {
		out[i] = v.InexactFloat64()
	}
	return out
}
