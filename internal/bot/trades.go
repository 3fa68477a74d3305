package bot

import (
	"fmt"
	"math"
	"sort"

	"github.com/nickelnine37/sportfolios-server/internal/lmsr"
	"github.com/nickelnine37/sportfolios-server/internal/solve"
)

const (
	// minTeamCost: trades cheaper than this are noise, not liquidity.
	minTeamCost = 10

	// playerSkipTolerance: the market already quotes the belief.
	playerSkipTolerance = 5e-4

	beliefTolerance = 1e-4
)

// optimalTeamTrade finds the claim vector that moves the quoted distribution
// toward the belief m within budget budgetFactor·b.
//
// The unconstrained target is q_opt = b·log(m) − x, which may prescribe
// selling outcomes the bot does not hold. Relax by sorting dimensions by
// q_opt and, for growing j, pinning the j smallest to zero while solving for
// the scalar shift k that prices the remaining trade exactly at budget. The
// first candidate that is component-wise non-negative wins; a candidate
// cheaper than minTeamCost ends the search with no trade.
//
// A nil vector with a nil error means no qualifying trade.
func (b *Bot) optimalTeamTrade(m, x []float64, liquidity float64) ([]float64, float64, error) {
	if err := lmsr.CheckNormalized(m, beliefTolerance); err != nil {
		return nil, 0, err
	}
	maker, err := lmsr.NewMaker(x, liquidity)
	if err != nil {
		return nil, 0, err
	}

	n := len(x)
	budget := b.budgetFactor * liquidity

	qOpt := make([]float64, n)
	for i := range x {
		qOpt[i] = liquidity*math.Log(m[i]) - x[i]
	}
	dims := make([]int, n)
	for i := range dims {
		dims[i] = i
	}
	sort.Slice(dims, func(a, c int) bool { return qOpt[dims[a]] < qOpt[dims[c]] })

	kMin := -qOpt[dims[n-1]]

	candidate := func(k float64, j int) []float64 {
		q := make([]float64, n)
		for i := range q {
			q[i] = qOpt[i] + k
		}
		for _, d := range dims[:j] {
			q[d] = 0
		}
		return q
	}
	priced := func(k float64, j int) float64 {
		p, _ := maker.PriceTrade(candidate(k, j))
		return p
	}

	for j := 0; j < n; j++ {
		// Bracket the budget crossing: cost is monotone in k above kMin.
		kMax := kMin + liquidity
		var bracketed bool
		for i := 0; i < 64; i++ {
			if priced(kMax, j) >= budget {
				bracketed = true
				break
			}
			kMax = kMin + 2*(kMax-kMin)
		}
		if !bracketed {
			return nil, 0, fmt.Errorf("budget crossing not bracketed for market dimension %d", j)
		}

		k, err := solve.Brent(func(k float64) float64 { return priced(k, j) - budget }, kMin, kMax)
		if err != nil {
			return nil, 0, fmt.Errorf("solve budget shift: %w", err)
		}

		q := candidate(k, j)
		for i := range q {
			q[i] = round2(q[i])
		}
		cost, err := maker.PriceTrade(q)
		if err != nil {
			return nil, 0, err
		}
		if cost < minTeamCost {
			return nil, 0, nil
		}
		if allNonNegative(q) {
			return q, cost, nil
		}
	}
	return nil, 0, nil
}

// optimalPlayerTrade sizes a long or short purchase that moves the spot long
// price toward the belief m, capped at budget budgetFactor·b. Zero quantity
// means no trade.
func (b *Bot) optimalPlayerTrade(m, net, liquidity float64) (float64, bool, float64, error) {
	if m < 0 || m > 1 {
		return 0, false, 0, fmt.Errorf("%w: player belief %v outside [0, 1]", lmsr.ErrNumericDomain, m)
	}
	ls, err := lmsr.NewLongShort(net, liquidity)
	if err != nil {
		return 0, false, 0, err
	}
	if math.Abs(ls.SpotLong()-m) < playerSkipTolerance {
		return 0, false, 0, nil
	}

	budget := b.budgetFactor * liquidity

	// Net position at which the market would quote exactly m.
	target, err := widenBrent(func(n float64) float64 {
		return spotLongAt(n, liquidity) - m
	}, liquidity)
	if err != nil {
		return 0, false, 0, fmt.Errorf("solve target position: %w", err)
	}
	n0 := target - net

	long := n0 >= 0
	size := math.Abs(n0)
	cost := ls.PriceTrade(size, long)
	if cost > budget {
		size, err = widenBrent(func(n float64) float64 {
			return ls.PriceTrade(n, long) - budget
		}, liquidity)
		if err != nil {
			return 0, false, 0, fmt.Errorf("solve budget size: %w", err)
		}
		cost = budget
	}

	size = round2(size)
	if size == 0 {
		return 0, false, 0, nil
	}
	return size, long, cost, nil
}

// widenBrent solves f on [-40b, 40b], retrying once on [-400b, 400b] when
// the narrow interval does not bracket a root.
func widenBrent(f func(float64) float64, b float64) (float64, error) {
	root, err := solve.Brent(f, -40*b, 40*b)
	if err == nil {
		return root, nil
	}
	return solve.Brent(f, -400*b, 400*b)
}

func spotLongAt(n, b float64) float64 {
	ls, err := lmsr.NewLongShort(n, b)
	if err != nil {
		return math.NaN()
	}
	return ls.SpotLong()
}

// perturbPlayer adds Gaussian noise to the belief and clips it inside the
// open unit interval.
func (b *Bot) perturbPlayer(m float64) float64 {
	m += b.rng.NormFloat64() * 0.05
	return math.Min(0.995, math.Max(0.005, m))
}

// perturbTeam multiplies the belief by an exponential ramp over the index,
// ascending or descending at random with steepness drawn from U(1, 3), then
// renormalizes.
func (b *Bot) perturbTeam(m []float64) []float64 {
	n := len(m)
	out := make([]float64, n)
	if n == 1 {
		out[0] = 1
		return out
	}

	steepness := 1 + 2*b.rng.Float64()
	ascending := b.rng.Intn(2) == 0

	var sum float64
	for i := range m {
		pos := float64(i) / float64(n-1)
		if !ascending {
			pos = 1 - pos
		}
		out[i] = m[i] * math.Exp(steepness*pos)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func allNonNegative(q []float64) bool {
	for _, v := range q {
		if v < 0 {
			return false
		}
	}
	return true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
