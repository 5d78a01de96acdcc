// Package spread implements the coverage spread engine: it sizes a
// one-sided protective markup from the GBM drift/variance estimate and
// applies it piecewise across a trade, splitting at the equilibrium
// balance where the pool's internal price crosses the external fair
// price. Trades toward equilibrium restore balance and pay no coverage;
// trades past it pay the spread-adjusted price.
package spread

import (
	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/fixmath"
	"github.com/ammlabs/coverage-engine/internal/gbm"
	"github.com/ammlabs/coverage-engine/internal/weighted"
)

// Parameters hold the coverage configuration: the confidence parameter z
// scaling the volatility term and the horizon over which adverse drift
// is bounded. Horizon zero disables protection entirely (spread = 1).
type Parameters struct {
	Z          decimal.Decimal `json:"z"`
	HorizonSec int64           `json:"horizon_sec"`
}

// Quote is the transient result of one swap computation.
type Quote struct {
	Amount          decimal.Decimal // amountOut for exact-in, amountIn for exact-out
	SpreadAboveOne  decimal.Decimal // spread − 1, exposed for observability
	SpotPriceBefore decimal.Decimal
	SpotPriceAfter  decimal.Decimal
}

// two is hoisted; the variance term of the spread uses 2·variance·horizon.
var two = decimal.NewFromInt(2)

// LogSpreadFactor computes mean·horizon + z·sqrt(variance·2·horizon),
// the upper confidence bound on the adverse log-price drift.
func LogSpreadFactor(est gbm.Result, p Parameters) (decimal.Decimal, error) {
	horizon := decimal.NewFromInt(p.HorizonSec)
	driftTerm, err := fixmath.Mul(est.Mean, horizon)
	if err != nil {
		return decimal.Zero, err
	}
	varTerm, err := fixmath.Mul(est.Variance, two)
	if err != nil {
		return decimal.Zero, err
	}
	varTerm, err = fixmath.Mul(varTerm, horizon)
	if err != nil {
		return decimal.Zero, err
	}
	vol, err := fixmath.Sqrt(varTerm)
	if err != nil {
		return decimal.Zero, err
	}
	volTerm, err := fixmath.Mul(p.Z, vol)
	if err != nil {
		return decimal.Zero, err
	}
	return driftTerm.Add(volTerm), nil
}

// Spread returns the multiplicative coverage spread, always >= 1. It is 1
// exactly when the horizon is zero or the log factor is non-positive: the
// spread is a one-sided bound on adverse movement, never a discount.
func Spread(est gbm.Result, p Parameters) (decimal.Decimal, error) {
	if p.HorizonSec == 0 {
		return fixmath.One, nil
	}
	factor, err := LogSpreadFactor(est, p)
	if err != nil {
		return decimal.Zero, err
	}
	if factor.LessThanOrEqual(decimal.Zero) {
		return fixmath.One, nil
	}
	return fixmath.Exp(factor)
}

// AdjustedWeight scales a weight by the spread. Applied to the output
// asset's weight it makes output more expensive in both trade directions.
func AdjustedWeight(weight, spread decimal.Decimal) (decimal.Decimal, error) {
	return fixmath.Mul(weight, spread)
}

// SwapOutGivenIn prices an exact-in trade, splitting it at the
// equilibrium input balance implied by relativePrice (the output asset's
// oracle price in input-asset units):
//
//   - input reserve already at or past equilibrium: the pool is short of
//     the output asset, the whole trade is priced at the adjusted weight;
//   - otherwise the leg up to the equilibrium point trades at the
//     unadjusted weight (it restores balance), and any remainder trades
//     at the adjusted weight from the post-leg balances.
func SwapOutGivenIn(balanceIn, weightIn, balanceOut, weightOut, amountIn, fee decimal.Decimal,
	est gbm.Result, p Parameters, relativePrice decimal.Decimal) (Quote, error) {

	spreadFactor, err := Spread(est, p)
	if err != nil {
		return Quote{}, err
	}
	protectedWeightOut, err := AdjustedWeight(weightOut, spreadFactor)
	if err != nil {
		return Quote{}, err
	}
	equilibriumIn, err := weighted.EquilibriumInBalance(balanceIn, weightIn, balanceOut, weightOut, relativePrice)
	if err != nil {
		return Quote{}, err
	}

	var amountOut decimal.Decimal
	switch {
	case balanceIn.GreaterThanOrEqual(equilibriumIn):
		// Shortage of the output asset: fully protected.
		amountOut, err = weighted.OutGivenIn(balanceIn, weightIn, balanceOut, protectedWeightOut, amountIn, fee)
		if err != nil {
			return Quote{}, err
		}

	case amountIn.LessThanOrEqual(equilibriumIn.Sub(balanceIn)):
		// The whole trade moves toward equilibrium: unprotected.
		amountOut, err = weighted.OutGivenIn(balanceIn, weightIn, balanceOut, weightOut, amountIn, fee)
		if err != nil {
			return Quote{}, err
		}

	default:
		// The trade crosses equilibrium mid-execution: price the leg up
		// to the crossing unprotected, the remainder protected from the
		// post-leg-1 balances.
		capIn := equilibriumIn.Sub(balanceIn)
		out1, err := weighted.OutGivenIn(balanceIn, weightIn, balanceOut, weightOut, capIn, fee)
		if err != nil {
			return Quote{}, err
		}
		out2, err := weighted.OutGivenIn(balanceIn.Add(capIn), weightIn, balanceOut.Sub(out1), protectedWeightOut,
			amountIn.Sub(capIn), fee)
		if err != nil {
			return Quote{}, err
		}
		amountOut = out1.Add(out2)
	}

	q, err := quoteFor(balanceIn, weightIn, balanceOut, weightOut, amountIn, amountOut, fee, spreadFactor)
	if err != nil {
		return Quote{}, err
	}
	q.Amount = amountOut
	return q, nil
}

// SwapInGivenOut prices an exact-out trade. It is the symmetric inverse
// of SwapOutGivenIn: the split point is the equilibrium output balance,
// derived by viewing the pool from the output side with the inverted
// relative price.
func SwapInGivenOut(balanceIn, weightIn, balanceOut, weightOut, amountOut, fee decimal.Decimal,
	est gbm.Result, p Parameters, relativePrice decimal.Decimal) (Quote, error) {

	if amountOut.GreaterThanOrEqual(balanceOut) {
		return Quote{}, weighted.ErrAmountExceedsReserve
	}

	spreadFactor, err := Spread(est, p)
	if err != nil {
		return Quote{}, err
	}
	protectedWeightOut, err := AdjustedWeight(weightOut, spreadFactor)
	if err != nil {
		return Quote{}, err
	}
	inversePrice, err := fixmath.Div(fixmath.One, relativePrice)
	if err != nil {
		return Quote{}, err
	}
	equilibriumOut, err := weighted.EquilibriumInBalance(balanceOut, weightOut, balanceIn, weightIn, inversePrice)
	if err != nil {
		return Quote{}, err
	}

	var amountIn decimal.Decimal
	switch {
	case balanceOut.LessThanOrEqual(equilibriumOut):
		// Already short of the output asset: fully protected.
		amountIn, err = weighted.InGivenOut(balanceIn, weightIn, balanceOut, protectedWeightOut, amountOut, fee)
		if err != nil {
			return Quote{}, err
		}

	case amountOut.LessThanOrEqual(balanceOut.Sub(equilibriumOut)):
		// The whole trade drains surplus output: unprotected.
		amountIn, err = weighted.InGivenOut(balanceIn, weightIn, balanceOut, weightOut, amountOut, fee)
		if err != nil {
			return Quote{}, err
		}

	default:
		capOut := balanceOut.Sub(equilibriumOut)
		in1, err := weighted.InGivenOut(balanceIn, weightIn, balanceOut, weightOut, capOut, fee)
		if err != nil {
			return Quote{}, err
		}
		in2, err := weighted.InGivenOut(balanceIn.Add(in1), weightIn, balanceOut.Sub(capOut), protectedWeightOut,
			amountOut.Sub(capOut), fee)
		if err != nil {
			return Quote{}, err
		}
		amountIn = in1.Add(in2)
	}

	q, err := quoteFor(balanceIn, weightIn, balanceOut, weightOut, amountIn, amountOut, fee, spreadFactor)
	if err != nil {
		return Quote{}, err
	}
	q.Amount = amountIn
	return q, nil
}

// quoteFor fills the Quote envelope with the before/after spot prices
// and the observable spread; the traded Amount is set by the caller.
func quoteFor(balanceIn, weightIn, balanceOut, weightOut, amountIn, amountOut, fee, spreadFactor decimal.Decimal) (Quote, error) {
	before, err := weighted.SpotPrice(balanceIn, weightIn, balanceOut, weightOut, fee)
	if err != nil {
		return Quote{}, err
	}
	after, err := weighted.SpotPrice(balanceIn.Add(amountIn), weightIn, balanceOut.Sub(amountOut), weightOut, fee)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		SpreadAboveOne:  spreadFactor.Sub(fixmath.One),
		SpotPriceBefore: before,
		SpotPriceAfter:  after,
	}, nil
}
