package spread

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/fixmath"
	"github.com/ammlabs/coverage-engine/internal/gbm"
	"github.com/ammlabs/coverage-engine/internal/weighted"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func est(mean, variance float64) gbm.Result {
	return gbm.Result{Mean: d(mean), Variance: d(variance)}
}

func mustSpread(t *testing.T, e gbm.Result, p Parameters) decimal.Decimal {
	t.Helper()
	s, err := Spread(e, p)
	if err != nil {
		t.Fatalf("spread: %v", err)
	}
	return s
}

func TestSpread_OneWhenHorizonZero(t *testing.T) {
	s := mustSpread(t, est(0.01, 0.5), Parameters{Z: d(3), HorizonSec: 0})
	if !s.Equal(fixmath.One) {
		t.Errorf("horizon=0 must force spread=1, got %s", s)
	}
}

func TestSpread_NeverBelowOne(t *testing.T) {
	// Strongly negative drift with no variance: the one-sided bound
	// clamps at 1, never a discount.
	s := mustSpread(t, est(-0.1, 0), Parameters{Z: d(1), HorizonSec: 600})
	if !s.Equal(fixmath.One) {
		t.Errorf("negative log factor must clamp to 1, got %s", s)
	}
}

func TestSpread_Monotonicity(t *testing.T) {
	base := Parameters{Z: d(1), HorizonSec: 300}

	s0 := mustSpread(t, est(1e-6, 1e-8), base)
	if s0.LessThan(fixmath.One) {
		t.Fatalf("spread below one: %s", s0)
	}

	// Non-decreasing in z.
	if mustSpread(t, est(1e-6, 1e-8), Parameters{Z: d(2), HorizonSec: 300}).LessThan(s0) {
		t.Error("spread decreased when z increased")
	}
	// Non-decreasing in variance.
	if mustSpread(t, est(1e-6, 4e-8), base).LessThan(s0) {
		t.Error("spread decreased when variance increased")
	}
	// Non-decreasing in horizon.
	if mustSpread(t, est(1e-6, 1e-8), Parameters{Z: d(1), HorizonSec: 1200}).LessThan(s0) {
		t.Error("spread decreased when horizon increased")
	}
	// Non-decreasing in mean for positive mean.
	if mustSpread(t, est(2e-6, 1e-8), base).LessThan(s0) {
		t.Error("spread decreased when positive mean increased")
	}
}

func TestLogSpreadFactor_Components(t *testing.T) {
	// mean·h + z·sqrt(2·var·h) with easy numbers:
	// 0.001·100 + 2·sqrt(2·0.00005·100) = 0.1 + 2·0.1 = 0.3
	f, err := LogSpreadFactor(est(0.001, 0.00005), Parameters{Z: d(2), HorizonSec: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Sub(d(0.3)).Abs().GreaterThan(d(1e-12)) {
		t.Errorf("expected 0.3, got %s", f)
	}
}

func TestAdjustedWeight(t *testing.T) {
	w, err := AdjustedWeight(d(10), d(1.05))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Equal(d(10.5)) {
		t.Errorf("expected 10.5, got %s", w)
	}
}

// Fixture pool: balanced 1000/500 at equal weights, internal fee-free
// price 2. A relative price of 2 puts the pool exactly at equilibrium.
var (
	bI, wI = d(1000), d(25)
	bO, wO = d(500), d(25)
	fee    = d(0.0025)
)

// protective returns parameters that yield a spread comfortably above 1.
func protective() (gbm.Result, Parameters) {
	return est(1e-6, 1e-9), Parameters{Z: d(1.282), HorizonSec: 3600}
}

func TestSwapOutGivenIn_ShortageFullyProtected(t *testing.T) {
	// relativePrice below the internal price → equilibriumIn < balanceIn
	// → the pool already has surplus input: fully protected.
	e, p := protective()
	prot, err := SwapOutGivenIn(bI, wI, bO, wO, d(10), fee, e, p, d(1.8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unprot, err := weighted.OutGivenIn(bI, wI, bO, wO, d(10), fee)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !prot.Amount.LessThan(unprot) {
		t.Errorf("protected output %s should be below unprotected %s", prot.Amount, unprot)
	}
	if !prot.SpreadAboveOne.GreaterThan(decimal.Zero) {
		t.Errorf("expected positive observable spread, got %s", prot.SpreadAboveOne)
	}
}

func TestSwapOutGivenIn_TowardEquilibriumUnprotected(t *testing.T) {
	// relativePrice above the internal price → pool has surplus output;
	// a small trade toward equilibrium pays no coverage.
	e, p := protective()
	q, err := SwapOutGivenIn(bI, wI, bO, wO, d(10), fee, e, p, d(2.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unprot, err := weighted.OutGivenIn(bI, wI, bO, wO, d(10), fee)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Amount.Equal(unprot) {
		t.Errorf("toward-equilibrium leg must be unprotected: got %s want %s", q.Amount, unprot)
	}
}

func TestSwapOutGivenIn_CrossingSplitsTrade(t *testing.T) {
	e, p := protective()
	rel := d(2.5)
	eq, err := weighted.EquilibriumInBalance(bI, wI, bO, wO, rel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	capIn := eq.Sub(bI)
	if capIn.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("fixture broken: expected positive cap, got %s", capIn)
	}

	amountIn := capIn.Add(d(20))
	split, err := SwapOutGivenIn(bI, wI, bO, wO, amountIn, fee, e, p, rel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	allUnprotected, err := weighted.OutGivenIn(bI, wI, bO, wO, amountIn, fee)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !split.Amount.LessThan(allUnprotected) {
		t.Errorf("the protected remainder must cost something: %s >= %s", split.Amount, allUnprotected)
	}
}

func TestSwapOutGivenIn_ContinuityAtEquilibrium(t *testing.T) {
	e, p := protective()
	rel := d(2.5)
	eq, _ := weighted.EquilibriumInBalance(bI, wI, bO, wO, rel)
	capIn := eq.Sub(bI)

	eps := d(1e-6)
	below, err := SwapOutGivenIn(bI, wI, bO, wO, capIn.Sub(eps), fee, e, p, rel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	at, err := SwapOutGivenIn(bI, wI, bO, wO, capIn, fee, e, p, rel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	above, err := SwapOutGivenIn(bI, wI, bO, wO, capIn.Add(eps), fee, e, p, rel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No output discontinuity as amountIn crosses the leg boundary.
	gapBelow := at.Amount.Sub(below.Amount).Abs()
	gapAbove := above.Amount.Sub(at.Amount).Abs()
	tol := d(1e-5)
	if gapBelow.GreaterThan(tol) || gapAbove.GreaterThan(tol) {
		t.Errorf("output discontinuity at equilibrium: below=%s at=%s above=%s",
			below.Amount, at.Amount, above.Amount)
	}
}

func TestSwapInGivenOut_ExceedsReserve(t *testing.T) {
	e, p := protective()
	_, err := SwapInGivenOut(bI, wI, bO, wO, bO, fee, e, p, d(2))
	if err == nil {
		t.Fatal("expected error for amountOut == balanceOut")
	}
}

func TestSwapInGivenOut_ShortageFullyProtected(t *testing.T) {
	// relativePrice below internal price: output already scarce.
	e, p := protective()
	prot, err := SwapInGivenOut(bI, wI, bO, wO, d(5), fee, e, p, d(1.8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unprot, err := weighted.InGivenOut(bI, wI, bO, wO, d(5), fee)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !prot.Amount.GreaterThan(unprot) {
		t.Errorf("protected input %s should exceed unprotected %s", prot.Amount, unprot)
	}
}

func TestSwapInGivenOut_TowardEquilibriumUnprotected(t *testing.T) {
	e, p := protective()
	q, err := SwapInGivenOut(bI, wI, bO, wO, d(5), fee, e, p, d(2.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unprot, err := weighted.InGivenOut(bI, wI, bO, wO, d(5), fee)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Amount.Equal(unprot) {
		t.Errorf("toward-equilibrium exact-out must be unprotected: got %s want %s", q.Amount, unprot)
	}
}

func TestSwapInGivenOut_ContinuityAtEquilibrium(t *testing.T) {
	e, p := protective()
	rel := d(2.5)
	inv, _ := fixmath.Div(fixmath.One, rel)
	eqOut, err := weighted.EquilibriumInBalance(bO, wO, bI, wI, inv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	capOut := bO.Sub(eqOut)
	if capOut.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("fixture broken: expected positive output cap, got %s", capOut)
	}

	eps := d(1e-6)
	below, err := SwapInGivenOut(bI, wI, bO, wO, capOut.Sub(eps), fee, e, p, rel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	above, err := SwapInGivenOut(bI, wI, bO, wO, capOut.Add(eps), fee, e, p, rel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if above.Amount.Sub(below.Amount).Abs().GreaterThan(d(1e-4)) {
		t.Errorf("input discontinuity at equilibrium: below=%s above=%s", below.Amount, above.Amount)
	}
}

func TestSwap_SpotPricesBracketTrade(t *testing.T) {
	e, p := protective()
	q, err := SwapOutGivenIn(bI, wI, bO, wO, d(50), fee, e, p, d(2.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.SpotPriceAfter.GreaterThan(q.SpotPriceBefore) {
		t.Errorf("buying output must raise its price: before=%s after=%s",
			q.SpotPriceBefore, q.SpotPriceAfter)
	}
}
