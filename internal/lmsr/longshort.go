package lmsr

import (
	"fmt"
	"math"
)

// LongShort prices one player market: a scalar net long position N and
// liquidity b. Positive N means the market is net long the player,
// negative means net short.
type LongShort struct {
	n float64
	b float64
}

// NewLongShort validates the snapshot.
func NewLongShort(n, b float64) (*LongShort, error) {
	if b <= 0 {
		return nil, fmt.Errorf("%w: liquidity b must be positive, got %v", ErrNumericDomain, b)
	}
	return &LongShort{n: n, b: b}, nil
}

// N returns the net long position.
func (ls *LongShort) N() float64 { return ls.n }

// B returns the liquidity parameter.
func (ls *LongShort) B() float64 { return ls.b }

// SpotLong is the instantaneous price of one long unit. With k = N/b:
//
//	k = 0:  1/2
//	k > 0:  ((k-1) + e^-k) / (k (1 - e^-k))
//	k < 0:  (e^k (k-1) + 1) / (k (e^k - 1))
func (ls *LongShort) SpotLong() float64 {
	return spotLong(ls.n / ls.b)
}

// SpotShort is the instantaneous price of one short unit, the complement of
// the long price.
func (ls *LongShort) SpotShort() float64 {
	return 1 - ls.SpotLong()
}

// PriceTrade is the cost of buying n units, long or short. Shorts are
// priced as n + f(-n) where f is the long-trade price: shorting n units is
// selling n longs plus collecting the unit payout.
//
// The long-trade price branches on the sign of the current position N and
// of n, with the exact closed form at the boundary N = -n where the naive
// expression degenerates to 0/0.
func (ls *LongShort) PriceTrade(n float64, long bool) float64 {
	if !long {
		return n + ls.priceLong(-n)
	}
	return ls.priceLong(n)
}

func (ls *LongShort) priceLong(n float64) float64 {
	N := ls.n
	b := ls.b

	switch {
	case n == 0:
		return 0

	case N == 0:
		if n < 0 {
			return b * math.Log(b*(math.Exp(n/b)-1)/n)
		}
		return b * math.Log(b*(1-math.Exp(-n/b))/(n*math.Exp(-n/b)))

	case N < 0:
		if N == -n {
			return b * math.Log(N/(b*(math.Exp(N/b)-1)))
		}
		return b * math.Log(N/(N+n)*(math.Exp((N+n)/b)-1)/(math.Exp(N/b)-1))

	default: // N > 0
		if N == -n {
			return b * math.Log(N*math.Exp(-N/b)/(b*(1-math.Exp(-N/b))))
		}
		return b * math.Log(N/(N+n)*(math.Exp(n/b)-math.Exp(-N/b))/(1-math.Exp(-N/b)))
	}
}

// PositionValue is the instantaneous value of a signed holding: q longs
// when q is positive, -q shorts when negative.
func (ls *LongShort) PositionValue(q float64) float64 {
	if q >= 0 {
		return q * ls.SpotLong()
	}
	return -q * ls.SpotShort()
}

// MultiLongShort evaluates one player market across T historical rows.
type MultiLongShort struct {
	ks []float64 // N_t / b_t per row
}

// NewMultiLongShort validates the parallel histories.
func NewMultiLongShort(ns, bs []float64) (*MultiLongShort, error) {
	if len(ns) == 0 {
		return nil, fmt.Errorf("%w: empty history", ErrNumericDomain)
	}
	if len(ns) != len(bs) {
		return nil, fmt.Errorf("%w: %d position rows but %d liquidity rows", ErrNumericDomain, len(ns), len(bs))
	}
	ks := make([]float64, len(ns))
	for t := range ns {
		if bs[t] <= 0 {
			return nil, fmt.Errorf("%w: liquidity b must be positive, got %v at row %d", ErrNumericDomain, bs[t], t)
		}
		ks[t] = ns[t] / bs[t]
	}
	return &MultiLongShort{ks: ks}, nil
}

// T returns the number of history rows.
func (m *MultiLongShort) T() int { return len(m.ks) }

// SpotLongs returns the long price at every row, aligned one-to-one with
// the input history.
func (m *MultiLongShort) SpotLongs() []float64 {
	out := make([]float64, len(m.ks))
	for t, k := range m.ks {
		out[t] = spotLong(k)
	}
	return out
}

// SpotShorts returns the short price at every row.
func (m *MultiLongShort) SpotShorts() []float64 {
	out := m.SpotLongs()
	for t := range out {
		out[t] = 1 - out[t]
	}
	return out
}

// PositionValues is the rowwise value of a signed holding, as in
// LongShort.PositionValue.
func (m *MultiLongShort) PositionValues(q float64) []float64 {
	out := m.SpotLongs()
	for t := range out {
		if q >= 0 {
			out[t] = q * out[t]
		} else {
			out[t] = -q * (1 - out[t])
		}
	}
	return out
}

func spotLong(k float64) float64 {
	switch {
	case k == 0:
		return 0.5
	case k > 0:
		return ((k - 1) + math.Exp(-k)) / (k * (1 - math.Exp(-k)))
	default:
		return (math.Exp(k)*(k-1) + 1) / (k * (math.Exp(k) - 1))
	}
}
