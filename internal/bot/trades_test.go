package bot

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/nickelnine37/sportfolios-server/internal/config"
	"github.com/nickelnine37/sportfolios-server/internal/lmsr"
	"github.com/nickelnine37/sportfolios-server/internal/state"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testBot(t *testing.T) *Bot {
	t.Helper()
	b := New(state.NewMemory(), config.BotConfig{
		LogDir:       t.TempDir(),
		BudgetFactor: 0.01,
	}, t.TempDir(), nil, discardLogger())
	b.rng = rand.New(rand.NewSource(1))
	return b
}

func uniformBelief(n int) []float64 {
	m := make([]float64, n)
	for i := range m {
		m[i] = 1 / float64(n)
	}
	return m
}

func TestOptimalTeamTradeMatchesBudget(t *testing.T) {
	t.Parallel()
	b := testBot(t)

	// Skew the belief toward the last outcome so a real trade exists.
	m := uniformBelief(10)
	m[9] += 0.09
	for i := 0; i < 9; i++ {
		m[i] -= 0.01
	}

	x := make([]float64, 10)
	q, cost, err := b.optimalTeamTrade(m, x, 4000)
	if err != nil {
		t.Fatalf("optimalTeamTrade: %v", err)
	}
	if q == nil {
		t.Fatal("expected a trade, got none")
	}
	for i, v := range q {
		if v < 0 {
			t.Fatalf("q[%d] = %v, want >= 0", i, v)
		}
	}
	// Budget is 0.01 * 4000 = 40; rounding the vector to cents moves the
	// final cost slightly off the exact solve.
	if math.Abs(cost-40) > 1 {
		t.Fatalf("cost = %v, want ~40", cost)
	}
}

func TestOptimalTeamTradeSkipsAlignedMarket(t *testing.T) {
	t.Parallel()
	b := testBot(t)

	// A uniform belief over a flat market prescribes a pure translation,
	// which shifts to the zero vector and prices below the minimum.
	q, cost, err := b.optimalTeamTrade(uniformBelief(20), make([]float64, 20), 100)
	if err != nil {
		t.Fatalf("optimalTeamTrade: %v", err)
	}
	if q != nil || cost != 0 {
		t.Fatalf("expected no trade, got q=%v cost=%v", q, cost)
	}
}

func TestOptimalTeamTradeRejectsBadBelief(t *testing.T) {
	t.Parallel()
	b := testBot(t)

	if _, _, err := b.optimalTeamTrade([]float64{0.9, 0.9}, []float64{0, 0}, 100); err == nil {
		t.Fatal("expected error for unnormalized belief")
	}
}

func TestOptimalPlayerTradeMovesTowardBelief(t *testing.T) {
	t.Parallel()
	b := testBot(t)
	b.budgetFactor = 1 // roomy budget so the target is reachable

	n, long, cost, err := b.optimalPlayerTrade(0.6, 0, 100)
	if err != nil {
		t.Fatalf("optimalPlayerTrade: %v", err)
	}
	if !long {
		t.Fatal("belief above spot should buy longs")
	}
	if n <= 0 || cost <= 0 {
		t.Fatalf("n = %v, cost = %v, want both positive", n, cost)
	}

	ls, err := lmsr.NewLongShort(n, 100)
	if err != nil {
		t.Fatalf("NewLongShort: %v", err)
	}
	if math.Abs(ls.SpotLong()-0.6) > 0.01 {
		t.Fatalf("post-trade spot long = %v, want ~0.6", ls.SpotLong())
	}
}

func TestOptimalPlayerTradeShortsBelowSpot(t *testing.T) {
	t.Parallel()
	b := testBot(t)
	b.budgetFactor = 0.25

	n, long, _, err := b.optimalPlayerTrade(0.4, 0, 100)
	if err != nil {
		t.Fatalf("optimalPlayerTrade: %v", err)
	}
	if long {
		t.Fatal("belief below spot should buy shorts")
	}
	if n <= 0 {
		t.Fatalf("n = %v, want positive short size", n)
	}
}

func TestOptimalPlayerTradeRespectsBudget(t *testing.T) {
	t.Parallel()
	b := testBot(t)

	// Budget 0.01 * 100 = 1 is far too small to reach 0.9.
	n, long, cost, err := b.optimalPlayerTrade(0.9, 0, 100)
	if err != nil {
		t.Fatalf("optimalPlayerTrade: %v", err)
	}
	if !long || n <= 0 {
		t.Fatalf("n = %v long = %v, want a positive long trade", n, long)
	}
	if cost > 1+1e-9 {
		t.Fatalf("cost = %v, want <= budget 1", cost)
	}
}

func TestOptimalPlayerTradeSkipsQuotedBelief(t *testing.T) {
	t.Parallel()
	b := testBot(t)

	n, _, cost, err := b.optimalPlayerTrade(0.5, 0, 100)
	if err != nil {
		t.Fatalf("optimalPlayerTrade: %v", err)
	}
	if n != 0 || cost != 0 {
		t.Fatalf("expected no trade at quoted belief, got n=%v cost=%v", n, cost)
	}
}

func TestPerturbPlayerStaysInUnitInterval(t *testing.T) {
	t.Parallel()
	b := testBot(t)

	for i := 0; i < 1000; i++ {
		for _, m := range []float64{0, 0.001, 0.5, 0.999, 1} {
			got := b.perturbPlayer(m)
			if got < 0.005 || got > 0.995 {
				t.Fatalf("perturbPlayer(%v) = %v, outside [0.005, 0.995]", m, got)
			}
		}
	}
}

func TestPerturbTeamRemainsNormalized(t *testing.T) {
	t.Parallel()
	b := testBot(t)

	for i := 0; i < 100; i++ {
		got := b.perturbTeam(uniformBelief(12))
		if err := lmsr.CheckNormalized(got, 1e-9); err != nil {
			t.Fatalf("perturbTeam output not normalized: %v", err)
		}
	}
}
