package models

import "fmt"

// Cents is a monetary amount in hundredths of a currency unit.
// Spend accounting is integer arithmetic so ledger sums stay exact.
type Cents int64

// CentsFromDollars converts a decimal amount to Cents, rounding half away
// from zero.
func CentsFromDollars(d float64) Cents {
	if d < 0 {
		return Cents(d*100 - 0.5)
	}
	return Cents(d*100 + 0.5)
}

// Dollars returns the amount as a decimal currency value.
func (c Cents) Dollars() float64 {
	return float64(c) / 100
}

// String formats the amount as a dollar value like "$12.50".
func (c Cents) String() string {
	if c < 0 {
		return fmt.Sprintf("-$%d.%02d", -c/100, -c%100)
	}
	return fmt.Sprintf("$%d.%02d", c/100, c%100)
}
