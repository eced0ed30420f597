package proforma

import (
	"proforma/period"
)

// CovenantStatus classifies one period/metric pair.
type CovenantStatus int

const (
	Compliant CovenantStatus = iota
	Breach
)

func (s CovenantStatus) String() string {
	if s == Breach {
		return "BREACH"
	}
	return "COMPLIANT"
}

// Covenant metric names, as reported.
const (
	MetricLTV       = "ltv"
	MetricDSCR      = "dscr"
	MetricDebtYield = "debt yield"
)

// CovenantCheck is the classification of one metric in one period.
// Breaches are a business signal reported to the caller; they are never
// remediated by the engine.
type CovenantCheck struct {
	Period    period.Period
	Metric    string
	Value     float64
	Threshold float64
	Status    CovenantStatus
}

// CovenantReport collects every check run against one facility.
type CovenantReport struct {
	Facility string
	Checks   []CovenantCheck
}

// Breaches returns only the breached checks.
func (r CovenantReport) Breaches() []CovenantCheck {
	var out []CovenantCheck
	for _, c := range r.Checks {
		if c.Status == Breach {
			out = append(out, c)
		}
	}
	return out
}

// MinDSCR returns the lowest DSCR observed, and false when no DSCR was
// monitored.
func (r CovenantReport) MinDSCR() (float64, bool) {
	min, found := 0.0, false
	for _, c := range r.Checks {
		if c.Metric != MetricDSCR {
			continue
		}
		if !found || c.Value < min {
			min, found = c.Value, true
		}
	}
	return min, found
}

// AvgDSCR returns the mean DSCR observed, and false when no DSCR was
// monitored.
func (r CovenantReport) AvgDSCR() (float64, bool) {
	var sum float64
	var n int
	for _, c := range r.Checks {
		if c.Metric == MetricDSCR {
			sum += c.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// monitorPeriod classifies one period of a facility against its ongoing
// thresholds. Metrics with a zero threshold are not monitored. annualNOI
// and annualDebtService are the period's flows annualized (twelve times
// the monthly amount).
func monitorPeriod(f *DebtFacility, on period.Period, balance, propertyValue, annualNOI, annualDebtService Money) []CovenantCheck {
	var checks []CovenantCheck
	if balance.IsZero() {
		return checks
	}

	if f.Monitor.MaxLTV > 0 && propertyValue.IsPositive() {
		ltv := balance.Float() / propertyValue.Float()
		status := Compliant
		if ltv > float64(f.Monitor.MaxLTV) {
			status = Breach
		}
		checks = append(checks, CovenantCheck{
			Period: on, Metric: MetricLTV,
			Value: ltv, Threshold: float64(f.Monitor.MaxLTV), Status: status,
		})
	}

	if f.Monitor.MinDSCR > 0 && annualDebtService.IsPositive() {
		dscr := annualNOI.Float() / annualDebtService.Float()
		status := Compliant
		if dscr < f.Monitor.MinDSCR {
			status = Breach
		}
		checks = append(checks, CovenantCheck{
			Period: on, Metric: MetricDSCR,
			Value: dscr, Threshold: f.Monitor.MinDSCR, Status: status,
		})
	}

	if f.Monitor.MinDebtYield > 0 {
		dy := annualNOI.Float() / balance.Float()
		status := Compliant
		if dy < float64(f.Monitor.MinDebtYield) {
			status = Breach
		}
		checks = append(checks, CovenantCheck{
			Period: on, Metric: MetricDebtYield,
			Value: dy, Threshold: float64(f.Monitor.MinDebtYield), Status: status,
		})
	}
	return checks
}
