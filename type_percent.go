package proforma

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Percent is a dimensionless fraction: 0.75 means 75%.
type Percent float64

func (p Percent) Equal(q Percent) bool {
	// it has to be compared with some precision
	const precision = 0.0001
	diff := float64(p - q)
	if diff < 0 {
		diff = -diff
	}
	return diff < precision
}

func (p Percent) String() string {
	return fmt.Sprintf("%.2f%%", float64(p)*100)
}

// Rate is an annual rate expressed as a fraction: 0.08 means 8% per year.
type Rate float64

// Monthly returns the geometric monthly equivalent of the annual rate,
// so that compounding twelve monthly periods reproduces the annual rate
// exactly.
func (r Rate) Monthly() float64 {
	return math.Pow(1+float64(r), 1.0/12) - 1
}

// MonthlyDecimal returns the monthly rate as a decimal for exact
// balance arithmetic. Twelve digits keep the rounding error below a
// cent on any realistic balance.
func (r Rate) MonthlyDecimal() decimal.Decimal {
	return decimal.NewFromFloat(r.Monthly()).Round(12)
}

// Annualize converts a periodic (monthly) rate back to an annual Rate.
func Annualize(monthly float64) Rate {
	return Rate(math.Pow(1+monthly, 12) - 1)
}

func (r Rate) String() string {
	return fmt.Sprintf("%.4f%%", float64(r)*100)
}
