package outcome

import "math"

// MulFloor multiplies a currency amount and floors the product. Multipliers are
// applied in basis points so 1.1 is exact; a float product like 121*1.1 would
// otherwise land on 133.10000000000002 or 132.99999999999997.
func MulFloor(amount int64, multiplier float64) int64 {
	bp := int64(math.Round(multiplier * 10000))
	prod := amount * bp
	q := prod / 10000
	if prod%10000 != 0 && prod < 0 {
		q--
	}
	return q
}

// ApplyMultipliers floors after every step, in order. Floor does not
// distribute over multiplication, so the order is part of the contract.
func ApplyMultipliers(amount int64, multipliers ...float64) int64 {
	for _, m := range multipliers {
		amount = MulFloor(amount, m)
	}
	return amount
}

// FeeFor returns the fee in whole units for a basis-point rate, floored.
func FeeFor(amount int64, basisPoints int64) int64 {
	if amount <= 0 || basisPoints <= 0 {
		return 0
	}
	return amount * basisPoints / 10000
}
