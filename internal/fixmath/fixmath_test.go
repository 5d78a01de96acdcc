package fixmath

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// relClose reports whether got is within tol relative error of want.
func relClose(got, want decimal.Decimal, tol float64) bool {
	g := got.InexactFloat64()
	w := want.InexactFloat64()
	if w == 0 {
		return math.Abs(g) <= tol
	}
	return math.Abs(g-w)/math.Abs(w) <= tol
}

func TestMul_Basic(t *testing.T) {
	got, err := Mul(d(12.5), d(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d(50)) {
		t.Errorf("expected 50, got %s", got)
	}
}

func TestMul_Overflow(t *testing.T) {
	huge := decimal.New(1, 30)
	if _, err := Mul(huge, huge); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestDiv_ByZero(t *testing.T) {
	if _, err := Div(d(1), decimal.Zero); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestDivUp_DivDown_RoundingBias(t *testing.T) {
	up, err := DivUp(d(1), d(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	down, err := DivDown(d(1), d(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !up.GreaterThan(down) {
		t.Errorf("DivUp should exceed DivDown for 1/3: up=%s down=%s", up, down)
	}
	third := d(1).Div(d(3))
	if up.LessThan(third) || down.GreaterThan(third) {
		t.Errorf("rounding direction wrong: up=%s down=%s exact=%s", up, down, third)
	}
}

func TestPow_IntegerExponent(t *testing.T) {
	got, err := Pow(d(2), d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !relClose(got, d(1024), 1e-12) {
		t.Errorf("2^10: expected 1024, got %s", got)
	}
}

func TestPow_FractionalExponent(t *testing.T) {
	// Weight ratios are the main use: base^(wIn/wOut).
	cases := []struct {
		base, exp, want float64
	}{
		{4, 0.5, 2},
		{9, 0.5, 3},
		{1.5, 2.5, math.Pow(1.5, 2.5)},
		{0.97, 0.8, math.Pow(0.97, 0.8)},
		{1000, 1.0 / 3.0, math.Pow(1000, 1.0 / 3.0)},
	}
	for _, tc := range cases {
		got, err := Pow(d(tc.base), d(tc.exp))
		if err != nil {
			t.Fatalf("Pow(%v,%v): unexpected error: %v", tc.base, tc.exp, err)
		}
		if !relClose(got, d(tc.want), 1e-12) {
			t.Errorf("Pow(%v,%v): expected %v, got %s", tc.base, tc.exp, tc.want, got)
		}
	}
}

func TestPow_BaseOutOfRange(t *testing.T) {
	for _, base := range []decimal.Decimal{decimal.Zero, d(-1), decimal.New(1, 13)} {
		if _, err := Pow(base, d(0.5)); !errors.Is(err, ErrBaseOutOfRange) {
			t.Errorf("Pow(%s, 0.5): expected ErrBaseOutOfRange, got %v", base, err)
		}
	}
}

func TestPow_ZeroExponent(t *testing.T) {
	got, err := Pow(d(7.3), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(One) {
		t.Errorf("x^0: expected 1, got %s", got)
	}
}

func TestLn_Exp_RoundTrip(t *testing.T) {
	for _, v := range []float64{0.001, 0.5, 1, 2.718281828, 1000} {
		ln, err := Ln(d(v))
		if err != nil {
			t.Fatalf("Ln(%v): unexpected error: %v", v, err)
		}
		back, err := Exp(ln)
		if err != nil {
			t.Fatalf("Exp(ln %v): unexpected error: %v", v, err)
		}
		if !relClose(back, d(v), 1e-12) {
			t.Errorf("exp(ln(%v)): expected %v, got %s", v, v, back)
		}
	}
}

func TestLn_NonPositive(t *testing.T) {
	for _, v := range []decimal.Decimal{decimal.Zero, d(-3)} {
		if _, err := Ln(v); !errors.Is(err, ErrBaseOutOfRange) {
			t.Errorf("Ln(%s): expected ErrBaseOutOfRange, got %v", v, err)
		}
	}
}

func TestExp_Overflow(t *testing.T) {
	if _, err := Exp(d(1000)); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestSqrt(t *testing.T) {
	got, err := Sqrt(d(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !relClose(got, d(math.Sqrt2), 1e-12) {
		t.Errorf("sqrt(2): got %s", got)
	}
	zero, err := Sqrt(decimal.Zero)
	if err != nil || !zero.IsZero() {
		t.Errorf("sqrt(0): expected 0, got %s err=%v", zero, err)
	}
	if _, err := Sqrt(d(-1)); !errors.Is(err, ErrBaseOutOfRange) {
		t.Errorf("sqrt(-1): expected ErrBaseOutOfRange, got %v", err)
	}
}
