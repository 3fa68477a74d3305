package lmsr

import (
	"math"
	"testing"
)

func TestSpotPricesSumToOne(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ n, b float64 }{
		{0, 100},
		{10, 100},
		{-10, 100},
		{250, 100},
		{-3, 4000},
	} {
		ls, err := NewLongShort(tc.n, tc.b)
		if err != nil {
			t.Fatal(err)
		}
		sum := ls.SpotLong() + ls.SpotShort()
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("N=%v b=%v: spot long + spot short = %v", tc.n, tc.b, sum)
		}
	}
}

func TestSpotLongAtZeroIsHalf(t *testing.T) {
	t.Parallel()

	for _, b := range []float64{0.5, 1, 100, 4000} {
		ls, err := NewLongShort(0, b)
		if err != nil {
			t.Fatal(err)
		}
		if ls.SpotLong() != 0.5 {
			t.Errorf("b=%v: spot long at N=0 = %v, want exactly 0.5", b, ls.SpotLong())
		}
	}
}

func TestSpotLongMovesWithPosition(t *testing.T) {
	t.Parallel()

	long, _ := NewLongShort(10, 100)
	short, _ := NewLongShort(-10, 100)

	if long.SpotLong() <= 0.5 {
		t.Errorf("net long market should price longs above 0.5, got %v", long.SpotLong())
	}
	if short.SpotLong() >= 0.5 {
		t.Errorf("net short market should price longs below 0.5, got %v", short.SpotLong())
	}
	if math.Abs(long.SpotLong()-0.5083319447750411) > 1e-9 {
		t.Errorf("spot long at k=0.1 = %v", long.SpotLong())
	}
	// Long at +N mirrors short at -N.
	if math.Abs(long.SpotLong()-short.SpotShort()) > 1e-12 {
		t.Errorf("symmetry broken: %v vs %v", long.SpotLong(), short.SpotShort())
	}
}

func TestTenLongsFromFlat(t *testing.T) {
	t.Parallel()

	ls, err := NewLongShort(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	p := ls.PriceTrade(10, true)
	if math.Abs(p-5.041663194995571) > 1e-9 {
		t.Errorf("10 longs from flat = %v", p)
	}
	// A touch above the naive 10 x 0.5 because the trade moves the price.
	if p <= 5 {
		t.Errorf("price %v should exceed 10 spot-half units", p)
	}
}

func TestPriceTradeZeroIsFree(t *testing.T) {
	t.Parallel()

	ls, _ := NewLongShort(25, 100)
	if p := ls.PriceTrade(0, true); p != 0 {
		t.Errorf("zero-quantity trade priced at %v", p)
	}
}

func TestShortPricing(t *testing.T) {
	t.Parallel()

	// Buying n shorts = n + price of -n longs.
	ls, _ := NewLongShort(12, 100)
	n := 7.0
	want := n + ls.PriceTrade(-n, true)
	if got := ls.PriceTrade(n, false); math.Abs(got-want) > 1e-12 {
		t.Errorf("short price = %v, want %v", got, want)
	}

	// From a flat market, n longs and n shorts cost the same.
	flat, _ := NewLongShort(0, 100)
	longP := flat.PriceTrade(5, true)
	shortP := flat.PriceTrade(5, false)
	if math.Abs(longP-shortP) > 1e-9 {
		t.Errorf("flat market asymmetric: longs %v shorts %v", longP, shortP)
	}
}

func TestUnwindBoundaryBranch(t *testing.T) {
	t.Parallel()

	// Selling the entire net position hits the N == -n closed form; it must
	// continue the generic branch smoothly.
	ls, _ := NewLongShort(5, 100)
	exact := ls.PriceTrade(-5, true)
	near := ls.PriceTrade(-4.9999, true)

	if math.Abs(exact-(-2.5104164496613675)) > 1e-9 {
		t.Errorf("full unwind price = %v", exact)
	}
	if math.Abs(exact-near) > 1e-3 {
		t.Errorf("boundary discontinuity: %v vs %v", exact, near)
	}

	neg, _ := NewLongShort(-5, 100)
	exactNeg := neg.PriceTrade(5, true)
	nearNeg := neg.PriceTrade(4.9999, true)
	if math.Abs(exactNeg-nearNeg) > 1e-3 {
		t.Errorf("negative boundary discontinuity: %v vs %v", exactNeg, nearNeg)
	}
}

func TestPositionValue(t *testing.T) {
	t.Parallel()

	ls, _ := NewLongShort(10, 100)
	if v := ls.PositionValue(4); math.Abs(v-4*ls.SpotLong()) > 1e-12 {
		t.Errorf("long value = %v", v)
	}
	if v := ls.PositionValue(-4); math.Abs(v-4*ls.SpotShort()) > 1e-12 {
		t.Errorf("short value = %v", v)
	}
}

func TestMultiLongShortMatchesScalar(t *testing.T) {
	t.Parallel()

	ns := []float64{0, 10, -10, 120}
	bs := []float64{100, 100, 100, 4000}

	m, err := NewMultiLongShort(ns, bs)
	if err != nil {
		t.Fatal(err)
	}

	longs := m.SpotLongs()
	shorts := m.SpotShorts()
	values := m.PositionValues(-3)
	if len(longs) != len(ns) {
		t.Fatalf("expected %d rows, got %d", len(ns), len(longs))
	}

	for i := range ns {
		ls, _ := NewLongShort(ns[i], bs[i])
		if math.Abs(longs[i]-ls.SpotLong()) > 1e-12 {
			t.Errorf("row %d long: %v vs %v", i, longs[i], ls.SpotLong())
		}
		if math.Abs(shorts[i]-ls.SpotShort()) > 1e-12 {
			t.Errorf("row %d short: %v vs %v", i, shorts[i], ls.SpotShort())
		}
		if math.Abs(values[i]-ls.PositionValue(-3)) > 1e-12 {
			t.Errorf("row %d value: %v vs %v", i, values[i], ls.PositionValue(-3))
		}
	}
}

func TestMultiLongShortRejectsMisalignedHistory(t *testing.T) {
	t.Parallel()

	if _, err := NewMultiLongShort([]float64{1}, []float64{10, 20}); err == nil {
		t.Error("expected error for mismatched lengths")
	}
	if _, err := NewMultiLongShort([]float64{1}, []float64{-1}); err == nil {
		t.Error("expected error for negative liquidity")
	}
}
