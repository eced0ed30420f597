package proforma

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// The simulation is single-currency: every Money in a deal analysis is
// denominated in the deal currency, fixed at USD.
const dealCurrency = "USD"

// newDecimal is a convenient factory for decimal.Decimal.
func newDecimal[T float32 | float64 | int | int32 | int64 | decimal.Decimal](value T) decimal.Decimal {
	switch v := any(value).(type) {
	case decimal.Decimal:
		return v
	case float32:
		return decimal.NewFromFloat32(v)
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int32:
		return decimal.NewFromInt32(v)
	case int64:
		return decimal.NewFromInt(v)
	default:
		panic("unsupported type")
	}
}

// Money represents an exact monetary value in the deal currency.
type Money struct {
	value decimal.Decimal // as major unit value
}

func M[T float32 | float64 | int | int32 | int64 | decimal.Decimal](value T) Money {
	return Money{value: newDecimal(value)}
}

// currency returns the full go-money currency for formatting.
func (m Money) currency() money.Currency {
	// to get a never nil currency I need to call the Money constructor
	return *money.New(0, dealCurrency).Currency()
}

// String returns the formatted representation of the money value.
func (m Money) String() string {
	cur := m.currency()
	dec := m.value.Shift(int32(cur.Fraction))
	return cur.Formatter().Format(dec.Round(0).IntPart())
}

// Simple wrappers around decimal.Decimal.

func (m Money) Decimal() decimal.Decimal        { return m.value }
func (m Money) Equal(n Money) bool              { return m.value.Equal(n.value) }
func (m Money) IsZero() bool                    { return m.value.IsZero() }
func (m Money) IsPositive() bool                { return m.value.IsPositive() }
func (m Money) IsNegative() bool                { return m.value.IsNegative() }
func (m Money) LessThan(n Money) bool           { return m.value.LessThan(n.value) }
func (m Money) LessThanOrEqual(n Money) bool    { return m.value.LessThanOrEqual(n.value) }
func (m Money) GreaterThan(n Money) bool        { return m.value.GreaterThan(n.value) }
func (m Money) GreaterThanOrEqual(n Money) bool { return m.value.GreaterThanOrEqual(n.value) }
func (m Money) Neg() Money                      { return Money{value: m.value.Neg()} }

// binary operators.
func (m Money) Add(n Money) Money { return Money{value: m.value.Add(n.value)} }
func (m Money) Sub(n Money) Money { return Money{value: m.value.Sub(n.value)} }

// scaling operators.
func (m Money) Mul(d decimal.Decimal) Money { return Money{value: m.value.Mul(d)} }
func (m Money) Div(d decimal.Decimal) Money { return Money{value: m.value.Div(d)} }

// Scale returns the given fraction of m.
func (m Money) Scale(p Percent) Money {
	return Money{value: m.value.Mul(decimal.NewFromFloat(float64(p)))}
}

// Round returns m rounded to the currency's minor unit.
func (m Money) Round() Money {
	return Money{value: m.value.Round(int32(m.currency().Fraction))}
}

// Float returns an inexact float64 view of m, for iterative numeric
// kernels (IRR, NPV). Ledger postings stay exact.
func (m Money) Float() float64 { return m.value.InexactFloat64() }

// Min returns the smaller of m and n.
func (m Money) Min(n Money) Money {
	if n.LessThan(m) {
		return n
	}
	return m
}

func (m Money) MarshalJSON() ([]byte, error) {
	return m.value.MarshalJSON()
}

func (m *Money) UnmarshalJSON(data []byte) error {
	return m.value.UnmarshalJSON(data)
}
