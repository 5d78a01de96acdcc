// Package weighted implements the unprotected two-asset weighted
// constant-product swap formulas: spot price, amount-out-given-in,
// amount-in-given-out, and the closed-form equilibrium input balance
// at which the pool's internal price matches an external reference.
//
// All functions are pure; the only failure modes are propagated
// arithmetic errors and draining requests (amountOut >= balanceOut).
package weighted

import (
	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/errcode"
	"github.com/ammlabs/coverage-engine/internal/fixmath"
)

// ErrAmountExceedsReserve is returned when a requested output amount
// meets or exceeds the output reserve.
var ErrAmountExceedsReserve = errcode.New("AMOUNT_EXCEEDS_RESERVE", "weighted: amount out exceeds reserve")

// SpotPrice returns the instantaneous price of the output asset in input
// asset units, fee included:
//
//	(balanceIn/weightIn) / (balanceOut/weightOut) / (1 - fee)
func SpotPrice(balanceIn, weightIn, balanceOut, weightOut, fee decimal.Decimal) (decimal.Decimal, error) {
	numer, err := fixmath.Div(balanceIn, weightIn)
	if err != nil {
		return decimal.Zero, err
	}
	denom, err := fixmath.Div(balanceOut, weightOut)
	if err != nil {
		return decimal.Zero, err
	}
	ratio, err := fixmath.Div(numer, denom)
	if err != nil {
		return decimal.Zero, err
	}
	return fixmath.Div(ratio, fixmath.One.Sub(fee))
}

// OutGivenIn returns the output amount for a given input amount:
//
//	balanceOut * (1 - (balanceIn / (balanceIn + amountIn*(1-fee)))^(weightIn/weightOut))
//
// The result is rounded down (owed to the trader).
func OutGivenIn(balanceIn, weightIn, balanceOut, weightOut, amountIn, fee decimal.Decimal) (decimal.Decimal, error) {
	adjustedIn, err := fixmath.Mul(amountIn, fixmath.One.Sub(fee))
	if err != nil {
		return decimal.Zero, err
	}
	base, err := fixmath.Div(balanceIn, balanceIn.Add(adjustedIn))
	if err != nil {
		return decimal.Zero, err
	}
	exponent, err := fixmath.Div(weightIn, weightOut)
	if err != nil {
		return decimal.Zero, err
	}
	power, err := fixmath.Pow(base, exponent)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := fixmath.Mul(balanceOut, fixmath.One.Sub(power))
	if err != nil {
		return decimal.Zero, err
	}
	return fixmath.RoundDownAmount(out), nil
}

// InGivenOut returns the input amount required for a given output amount:
//
//	balanceIn * ((balanceOut / (balanceOut - amountOut))^(weightOut/weightIn) - 1) / (1-fee)
//
// Fails with ErrAmountExceedsReserve when amountOut >= balanceOut. The
// result is rounded up (owed to the pool).
func InGivenOut(balanceIn, weightIn, balanceOut, weightOut, amountOut, fee decimal.Decimal) (decimal.Decimal, error) {
	if amountOut.GreaterThanOrEqual(balanceOut) {
		return decimal.Zero, ErrAmountExceedsReserve
	}
	base, err := fixmath.Div(balanceOut, balanceOut.Sub(amountOut))
	if err != nil {
		return decimal.Zero, err
	}
	exponent, err := fixmath.Div(weightOut, weightIn)
	if err != nil {
		return decimal.Zero, err
	}
	power, err := fixmath.Pow(base, exponent)
	if err != nil {
		return decimal.Zero, err
	}
	gross, err := fixmath.Mul(balanceIn, power.Sub(fixmath.One))
	if err != nil {
		return decimal.Zero, err
	}
	in, err := fixmath.Div(gross, fixmath.One.Sub(fee))
	if err != nil {
		return decimal.Zero, err
	}
	return fixmath.RoundUpAmount(in), nil
}

// EquilibriumInBalance returns the hypothetical input balance at which
// the fee-free spot price equals relativePrice (output-asset price in
// input-asset units), in closed form:
//
//	(relativePrice * weightIn/weightOut)^(weightOut/(weightIn+weightOut))
//	  * balanceIn^(weightIn/(weightIn+weightOut))
//	  * balanceOut^(weightOut/(weightIn+weightOut))
func EquilibriumInBalance(balanceIn, weightIn, balanceOut, weightOut, relativePrice decimal.Decimal) (decimal.Decimal, error) {
	weightSum := weightIn.Add(weightOut)
	wOutShare, err := fixmath.Div(weightOut, weightSum)
	if err != nil {
		return decimal.Zero, err
	}
	wInShare, err := fixmath.Div(weightIn, weightSum)
	if err != nil {
		return decimal.Zero, err
	}

	weightRatio, err := fixmath.Div(weightIn, weightOut)
	if err != nil {
		return decimal.Zero, err
	}
	priceTerm, err := fixmath.Mul(relativePrice, weightRatio)
	if err != nil {
		return decimal.Zero, err
	}

	t1, err := fixmath.Pow(priceTerm, wOutShare)
	if err != nil {
		return decimal.Zero, err
	}
	t2, err := fixmath.Pow(balanceIn, wInShare)
	if err != nil {
		return decimal.Zero, err
	}
	t3, err := fixmath.Pow(balanceOut, wOutShare)
	if err != nil {
		return decimal.Zero, err
	}

	p, err := fixmath.Mul(t1, t2)
	if err != nil {
		return decimal.Zero, err
	}
	return fixmath.Mul(p, t3)
}
