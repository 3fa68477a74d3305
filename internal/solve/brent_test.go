package solve

import (
	"errors"
	"math"
	"testing"
)

func TestBrentKnownRoots(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		f    func(float64) float64
		a, b float64
		want float64
	}{
		{
			name: "cosine fixed point",
			f:    func(x float64) float64 { return math.Cos(x) - x },
			a:    0, b: 1,
			want: 0.7390851332151607,
		},
		{
			name: "cubic",
			f:    func(x float64) float64 { return x*x*x - 2*x - 5 },
			a:    2, b: 3,
			want: 2.0945514815423265,
		},
		{
			name: "linear",
			f:    func(x float64) float64 { return 2*x - 1 },
			a:    -4, b: 4,
			want: 0.5,
		},
		{
			name: "steep exponential",
			f:    func(x float64) float64 { return math.Exp(x) - 1e6 },
			a:    0, b: 20,
			want: 13.815510557964274,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Brent(tc.f, tc.a, tc.b)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("root = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBrentEndpointRoot(t *testing.T) {
	t.Parallel()

	f := func(x float64) float64 { return x * (x - 3) }
	got, err := Brent(f, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("root = %v, want exact endpoint 0", got)
	}
}

func TestBrentRejectsUnbracketedInterval(t *testing.T) {
	t.Parallel()

	f := func(x float64) float64 { return x*x + 1 }
	if _, err := Brent(f, -1, 1); !errors.Is(err, ErrNoBracket) {
		t.Errorf("expected ErrNoBracket, got %v", err)
	}
}
