// Package money holds the rounding rules applied to every monetary value
// before it is stored or returned.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// epsilon nudges values that sit just below a half-cent boundary because of
// their binary representation (1.005 stored as 1.00499999...).
const epsilon = 2.220446049250313e-16

var (
	half     = decimal.NewFromFloat(0.5)
	epsDelta = decimal.NewFromFloat(epsilon)
)

// Round2 rounds x to two decimal places, half toward positive infinity.
// Non-finite input yields 0.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	d := decimal.NewFromFloat(x).Add(epsDelta).Shift(2)
	rounded := d.Add(half).Floor().Shift(-2)
	out := rounded.InexactFloat64()
	if out == 0 {
		// avoid -0 leaking into JSON
		return 0
	}
	return out
}

// Finite returns x, or 0 when x is NaN or infinite.
func Finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// Sum adds the values and rounds the result.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(Finite(v)))
	}
	return Round2(total.InexactFloat64())
}
