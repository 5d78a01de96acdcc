// Package fixmath provides the safe fixed-point arithmetic used by the
// pricing core: checked multiply/divide on shopspring decimals plus the
// transcendental functions (ln, exp, sqrt, fractional pow) the weighted
// invariant and the spread engine are built on.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Transcendentals are evaluated in float64 and converted straight back to
// decimal; the approximation error is below 1e-12 relative over the domain
// the invariant formulas use, and the same routines back both the return
// estimation and the spread application so the two stay consistent.
package fixmath

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/errcode"
)

var (
	// ErrOverflow is returned when an exact product/sum cannot be
	// represented within the supported magnitude bounds.
	ErrOverflow = errcode.New("ARITHMETIC_OVERFLOW", "fixmath: value exceeds representable range")

	// ErrDivisionByZero is returned when a divisor is exactly zero.
	ErrDivisionByZero = errcode.New("DIVISION_BY_ZERO", "fixmath: division by zero")

	// ErrBaseOutOfRange is returned by Pow/Ln for bases that are not
	// economically meaningful weight or balance ratios.
	ErrBaseOutOfRange = errcode.New("BASE_OUT_OF_RANGE", "fixmath: pow base out of range")
)

// Scale is the number of decimal places amounts are rounded to.
const Scale int32 = 18

// maxAbs bounds the magnitude of any intermediate value. Reserves and
// prices in this system never approach 1e38; anything beyond it is a bug
// or an attack, not a trade.
var maxAbs = decimal.New(1, 38)

// maxPowBase bounds the base accepted by Pow. Balance ratios outside
// (0, 1e12] do not occur for any trade the ratio guards admit.
var maxPowBase = decimal.New(1, 12)

// One is the decimal unit, shared to avoid re-allocation at call sites.
var One = decimal.NewFromInt(1)

// Mul returns a*b, failing with ErrOverflow when the exact product
// leaves the representable range.
func Mul(a, b decimal.Decimal) (decimal.Decimal, error) {
	p := a.Mul(b)
	if p.Abs().GreaterThan(maxAbs) {
		return decimal.Zero, ErrOverflow
	}
	return p, nil
}

// Div returns a/b at full precision, failing with ErrDivisionByZero when
// b is zero and ErrOverflow when the quotient leaves the representable
// range.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q := a.Div(b)
	if q.Abs().GreaterThan(maxAbs) {
		return decimal.Zero, ErrOverflow
	}
	return q, nil
}

// DivUp divides and rounds the result up (away from zero for positive
// operands). Used for amounts owed to the pool.
func DivUp(a, b decimal.Decimal) (decimal.Decimal, error) {
	q, err := Div(a, b)
	if err != nil {
		return decimal.Zero, err
	}
	return q.RoundUp(Scale), nil
}

// DivDown divides and rounds the result down. Used for amounts owed to
// the trader.
func DivDown(a, b decimal.Decimal) (decimal.Decimal, error) {
	q, err := Div(a, b)
	if err != nil {
		return decimal.Zero, err
	}
	return q.RoundDown(Scale), nil
}

// RoundUpAmount rounds an amount owed to the pool up to Scale places.
func RoundUpAmount(a decimal.Decimal) decimal.Decimal {
	return a.RoundUp(Scale)
}

// RoundDownAmount rounds an amount owed to the trader down to Scale places.
func RoundDownAmount(a decimal.Decimal) decimal.Decimal {
	return a.RoundDown(Scale)
}

// Pow computes base**exponent for a positive base and an arbitrary (in
// general non-integer) exponent, e.g. weightIn/weightOut ratios. The base
// must lie in (0, 1e12]; anything else fails with ErrBaseOutOfRange.
func Pow(base, exponent decimal.Decimal) (decimal.Decimal, error) {
	if base.LessThanOrEqual(decimal.Zero) || base.GreaterThan(maxPowBase) {
		return decimal.Zero, ErrBaseOutOfRange
	}
	if exponent.IsZero() {
		return One, nil
	}
	r := math.Pow(base.InexactFloat64(), exponent.InexactFloat64())
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return decimal.Zero, ErrOverflow
	}
	return decimal.NewFromFloat(r), nil
}

// Ln computes the natural logarithm of a positive decimal.
func Ln(v decimal.Decimal) (decimal.Decimal, error) {
	if v.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrBaseOutOfRange
	}
	return decimal.NewFromFloat(math.Log(v.InexactFloat64())), nil
}

// Exp computes e**v, failing with ErrOverflow when the result leaves the
// representable range.
func Exp(v decimal.Decimal) (decimal.Decimal, error) {
	r := math.Exp(v.InexactFloat64())
	if math.IsInf(r, 0) {
		return decimal.Zero, ErrOverflow
	}
	return decimal.NewFromFloat(r), nil
}

// Sqrt computes the square root of a non-negative decimal.
func Sqrt(v decimal.Decimal) (decimal.Decimal, error) {
	if v.IsNegative() {
		return decimal.Zero, ErrBaseOutOfRange
	}
	if v.IsZero() {
		return decimal.Zero, nil
	}
	return decimal.NewFromFloat(math.Sqrt(v.InexactFloat64())), nil
}
