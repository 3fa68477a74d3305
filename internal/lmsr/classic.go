// Package lmsr implements the market-maker math for both market variants:
// the classic logarithmic market scoring rule over a team's score
// distribution, and the long/short variant over a player's net position.
// Each comes in a scalar form (one snapshot) and a vectorized form (a whole
// history of snapshots evaluated in one pass).
//
// All cost evaluations shift by the inventory maximum before exponentiating.
// Without the shift, exp(x_i/b) overflows as soon as x_i/b leaves ~[-700,
// 700], which small b reaches immediately.
package lmsr

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrNumericDomain marks inputs the math cannot accept: non-positive
// liquidity, empty or misaligned inventories, unnormalized beliefs.
var ErrNumericDomain = errors.New("value outside numeric domain")

// Maker prices one team market: a fixed inventory vector x and liquidity b.
// The zero value is not usable; construct with NewMaker.
type Maker struct {
	x    []float64
	b    float64
	xmax float64
	w    []float64 // exp((x_i - xmax)/b), reused across calls
	wsum float64
}

// NewMaker validates the snapshot and precomputes the exponential weights.
func NewMaker(x []float64, b float64) (*Maker, error) {
	if b <= 0 {
		return nil, fmt.Errorf("%w: liquidity b must be positive, got %v", ErrNumericDomain, b)
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: empty inventory vector", ErrNumericDomain)
	}

	xmax := floats.Max(x)
	w := make([]float64, len(x))
	for i, xi := range x {
		w[i] = math.Exp((xi - xmax) / b)
	}

	return &Maker{x: x, b: b, xmax: xmax, w: w, wsum: floats.Sum(w)}, nil
}

// N returns the number of outcomes.
func (m *Maker) N() int { return len(m.x) }

// B returns the liquidity parameter.
func (m *Maker) B() float64 { return m.b }

// Cost is the LMSR cost function C(x) = xmax + b log Σ exp((x_i - xmax)/b)
// evaluated at the maker's own inventory.
func (m *Maker) Cost() float64 {
	return m.xmax + m.b*math.Log(m.wsum)
}

// CostAt evaluates the cost function at an arbitrary inventory vector.
func (m *Maker) CostAt(y []float64) float64 {
	ymax := floats.Max(y)
	var sum float64
	for _, yi := range y {
		sum += math.Exp((yi - ymax) / m.b)
	}
	return ymax + m.b*math.Log(sum)
}

// PriceTrade is the cost of moving the inventory from x to x+q:
// C(x+q) - C(x).
func (m *Maker) PriceTrade(q []float64) (float64, error) {
	if len(q) != len(m.x) {
		return 0, fmt.Errorf("%w: quantity has %d components, market has %d", ErrNumericDomain, len(q), len(m.x))
	}
	shifted := make([]float64, len(m.x))
	floats.AddTo(shifted, m.x, q)
	return m.CostAt(shifted) - m.Cost(), nil
}

// SpotValue is the instantaneous value of holding the claim vector q:
// the probability-weighted payout Σ q_i w_i / Σ w_i.
func (m *Maker) SpotValue(q []float64) (float64, error) {
	if len(q) != len(m.x) {
		return 0, fmt.Errorf("%w: claim has %d components, market has %d", ErrNumericDomain, len(q), len(m.x))
	}
	return floats.Dot(q, m.w) / m.wsum, nil
}

// BackPrice is the spot value of the fixed reference claim (see BackClaim).
func (m *Maker) BackPrice(divisor float64) float64 {
	v, _ := m.SpotValue(BackClaim(len(m.x), divisor))
	return v
}

// MultiMaker evaluates one team market across T historical rows, each with
// its own inventory vector and liquidity. One (T,N) weight buffer is
// allocated at construction and reused for every claim evaluated against it.
type MultiMaker struct {
	t, n int
	w    [][]float64 // per-row exp((x - rowmax)/b)
	sums []float64   // per-row Σ weights
}

// NewMultiMaker validates the parallel histories and builds the weight
// buffer. xs rows must all have equal length; bs must align with xs.
func NewMultiMaker(xs [][]float64, bs []float64) (*MultiMaker, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: empty history", ErrNumericDomain)
	}
	if len(xs) != len(bs) {
		return nil, fmt.Errorf("%w: %d inventory rows but %d liquidity rows", ErrNumericDomain, len(xs), len(bs))
	}

	n := len(xs[0])
	if n == 0 {
		return nil, fmt.Errorf("%w: empty inventory vector", ErrNumericDomain)
	}

	w := make([][]float64, len(xs))
	sums := make([]float64, len(xs))
	for t, row := range xs {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d components, expected %d", ErrNumericDomain, t, len(row), n)
		}
		if bs[t] <= 0 {
			return nil, fmt.Errorf("%w: liquidity b must be positive, got %v at row %d", ErrNumericDomain, bs[t], t)
		}
		rowMax := floats.Max(row)
		wr := make([]float64, n)
		for i, xi := range row {
			wr[i] = math.Exp((xi - rowMax) / bs[t])
		}
		w[t] = wr
		sums[t] = floats.Sum(wr)
	}

	return &MultiMaker{t: len(xs), n: n, w: w, sums: sums}, nil
}

// T returns the number of history rows.
func (m *MultiMaker) T() int { return m.t }

// SpotValues returns the spot value of claim q at every row, aligned
// one-to-one with the input history.
func (m *MultiMaker) SpotValues(q []float64) ([]float64, error) {
	if len(q) != m.n {
		return nil, fmt.Errorf("%w: claim has %d components, market has %d", ErrNumericDomain, len(q), m.n)
	}
	out := make([]float64, m.t)
	for t := 0; t < m.t; t++ {
		out[t] = floats.Dot(q, m.w[t]) / m.sums[t]
	}
	return out, nil
}

// BackPrices returns the back-price series: spot values of the reference
// claim at every row.
func (m *MultiMaker) BackPrices(divisor float64) []float64 {
	out, _ := m.SpotValues(BackClaim(m.n, divisor))
	return out
}

// BackClaim is the fixed exponentially-weighted reference claim used for
// back prices: q[i] = 10 exp(-(n-1-i)/divisor). The last outcome carries
// the full weight of 10 and earlier outcomes decay by the divisor, so the
// back price reads as a weighted finishing position.
func BackClaim(n int, divisor float64) []float64 {
	q := make([]float64, n)
	for i := range q {
		q[i] = 10 * math.Exp(-float64(n-1-i)/divisor)
	}
	return q
}
