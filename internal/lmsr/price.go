package lmsr

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Agree reports whether two prices agree at two decimal places under
// ceiling rounding: ceil(p1*100) == ceil(p2*100). A buyer quoting anywhere
// inside the same cent bucket as the true price is treated as having
// accepted it.
func Agree(expected, actual float64) bool {
	return ceilCents(expected).Equal(ceilCents(actual))
}

func ceilCents(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).RoundCeil(2)
}

// Round2 rounds a price to cents, half away from zero. Used for response
// payloads and logs; settlement always uses the unrounded price.
func Round2(p float64) float64 {
	return decimal.NewFromFloat(p).Round(2).InexactFloat64()
}

// CheckNormalized verifies that a belief vector is a probability
// distribution: strictly positive entries summing to one within tol.
func CheckNormalized(m []float64, tol float64) error {
	if len(m) == 0 {
		return fmt.Errorf("%w: empty belief vector", ErrNumericDomain)
	}
	var sum float64
	for i, v := range m {
		if v <= 0 {
			return fmt.Errorf("%w: belief component %d is %v, must be positive", ErrNumericDomain, i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > tol {
		return fmt.Errorf("%w: belief vector sums to %v, expected 1", ErrNumericDomain, sum)
	}
	return nil
}
