package util

import "github.com/shopspring/decimal"

// quotientPlaces bounds the intermediate quotient before flooring to a unit.
const quotientPlaces = 20

// FloorTo rounds x down to a multiple of unit. A zero unit leaves x untouched.
func FloorTo(x, unit decimal.Decimal) decimal.Decimal {
	if unit.Sign() <= 0 {
		return x
	}
	q, _ := x.QuoRem(unit, 0)
	return q.Mul(unit)
}

// ProRata returns floor(amount * part / whole) to unit. The result never
// exceeds the exact share, so summing shares over a partition of whole never
// exceeds amount.
func ProRata(amount, part, whole, unit decimal.Decimal) decimal.Decimal {
	if whole.Sign() <= 0 || amount.Sign() <= 0 || part.Sign() <= 0 {
		return decimal.Zero
	}
	q, _ := amount.Mul(part).QuoRem(whole, quotientPlaces)
	return FloorTo(q, unit)
}
