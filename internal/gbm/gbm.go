// Package gbm estimates the drift and variance of the relative log-price
// process ln(priceOut/priceIn) over a bounded recent window, under the
// modeling assumption that the ratio follows geometric Brownian motion.
// The estimates parameterize the coverage spread; when history is too
// thin the estimator degrades to (0, 0) and protection goes neutral
// rather than blocking trading.
package gbm

import (
	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/fixmath"
	"github.com/ammlabs/coverage-engine/internal/oracle"
)

// Result holds the per-second drift and variance-rate estimates.
// Variance is never negative; both are exactly zero when the window
// contains no usable return pairs.
type Result struct {
	Mean     decimal.Decimal `json:"mean"`
	Variance decimal.Decimal `json:"variance"`
}

// LookbackConfig bounds the estimation window.
type LookbackConfig struct {
	MaxRounds int   // most samples examined across both series
	MaxAgeSec int64 // oldest admissible sample age relative to now
	Stride    int   // keep every stride-th merged anchor (>= 1)
}

// Return is one retained (logReturn, timeDelta) observation.
type Return struct {
	LogReturn decimal.Decimal
	DeltaSec  int64
}

// anchor is one point on the merged timeline with both series valued.
type anchor struct {
	ts       int64
	priceIn  decimal.Decimal
	priceOut decimal.Decimal
}

// StartIndices walks both histories from their newest samples backward
// and returns the retained prefix length of each. The two series share a
// single examined-round budget: each step extends whichever series has
// the more recent unretained sample, so the retained windows cover
// comparable spans. A sample older than now-maxAgeSec ends its series.
func StartIndices(in, out oracle.History, cfg LookbackConfig, now int64) (int, int) {
	cutoff := now - cfg.MaxAgeSec

	fresh := func(h oracle.History, i int) bool {
		return i < len(h.Samples) && h.Samples[i].Timestamp >= cutoff
	}

	nIn, nOut := 0, 0
	if fresh(in, 0) {
		nIn = 1
	}
	if fresh(out, 0) {
		nOut = 1
	}
	if nIn == 0 || nOut == 0 {
		return nIn, nOut
	}

	for count := 1; count < cfg.MaxRounds; count++ {
		okIn, okOut := fresh(in, nIn), fresh(out, nOut)
		switch {
		case okIn && (!okOut || in.Samples[nIn].Timestamp >= out.Samples[nOut].Timestamp):
			nIn++
		case okOut:
			nOut++
		default:
			return nIn, nOut
		}
	}
	return nIn, nOut
}

// mergedAnchors builds the union timeline of the retained prefixes,
// newest first. At each anchor a series is valued at its most recent
// sample at-or-before the anchor; anchors where either series has no
// such retained sample are dropped, and duplicate timestamps collapse.
func mergedAnchors(in, out oracle.History, nIn, nOut int) []anchor {
	a, b := in.Samples[:nIn], out.Samples[:nOut]

	// Heads are newest-first, so at each step the older anchors all lie
	// ahead and the current heads are each series' most recent sample
	// at-or-before the proposed anchor timestamp.
	var anchors []anchor
	iA, iB := 0, 0
	for iA < len(a) && iB < len(b) {
		ts := a[iA].Timestamp
		if b[iB].Timestamp > ts {
			ts = b[iB].Timestamp
		}
		anchors = append(anchors, anchor{ts: ts, priceIn: a[iA].Price, priceOut: b[iB].Price})

		// Consume the sample(s) sitting exactly at this anchor so the
		// next iteration proposes a strictly older timestamp.
		if a[iA].Timestamp == ts {
			iA++
		}
		if iB < len(b) && b[iB].Timestamp == ts {
			iB++
		}
	}
	return anchors
}

// PairedReturns produces the finite sequence of (logReturn, timeDelta)
// pairs over the merged timeline, stepping by the configured stride from
// newest to the window boundary. Zero-length output is valid: it means
// the window held no usable return.
func PairedReturns(in, out oracle.History, cfg LookbackConfig, now int64) ([]Return, error) {
	nIn, nOut := StartIndices(in, out, cfg, now)
	if nIn == 0 || nOut == 0 {
		return nil, nil
	}
	anchors := mergedAnchors(in, out, nIn, nOut)

	stride := cfg.Stride
	if stride < 1 {
		stride = 1
	}
	var kept []anchor
	for i := 0; i < len(anchors); i += stride {
		kept = append(kept, anchors[i])
	}

	var returns []Return
	for i := 1; i < len(kept); i++ {
		newer, older := kept[i-1], kept[i]
		delta := newer.ts - older.ts
		if delta <= 0 {
			continue
		}
		outRatio, err := fixmath.Div(newer.priceOut, older.priceOut)
		if err != nil {
			return nil, err
		}
		inRatio, err := fixmath.Div(newer.priceIn, older.priceIn)
		if err != nil {
			return nil, err
		}
		rel, err := fixmath.Div(outRatio, inRatio)
		if err != nil {
			return nil, err
		}
		logReturn, err := fixmath.Ln(rel)
		if err != nil {
			return nil, err
		}
		returns = append(returns, Return{LogReturn: logReturn, DeltaSec: delta})
	}
	return returns, nil
}

// Statistics reduces return pairs to the per-second (mean, variance)
// estimate:
//
//	mean     = Σ r_i / Σ Δ_i
//	variance = Σ (r_i − mean·Δ_i)²/Δ_i / Σ Δ_i
//
// An empty window returns (0, 0): absence of data degrades protection to
// neutral, it does not block trading.
func Statistics(returns []Return) (Result, error) {
	totalDelta := decimal.Zero
	totalReturn := decimal.Zero
	for _, r := range returns {
		totalDelta = totalDelta.Add(decimal.NewFromInt(r.DeltaSec))
		totalReturn = totalReturn.Add(r.LogReturn)
	}
	if totalDelta.IsZero() {
		return Result{Mean: decimal.Zero, Variance: decimal.Zero}, nil
	}

	mean, err := fixmath.Div(totalReturn, totalDelta)
	if err != nil {
		return Result{}, err
	}

	sum := decimal.Zero
	for _, r := range returns {
		delta := decimal.NewFromInt(r.DeltaSec)
		expected, err := fixmath.Mul(mean, delta)
		if err != nil {
			return Result{}, err
		}
		dev := r.LogReturn.Sub(expected)
		sq, err := fixmath.Mul(dev, dev)
		if err != nil {
			return Result{}, err
		}
		term, err := fixmath.Div(sq, delta)
		if err != nil {
			return Result{}, err
		}
		sum = sum.Add(term)
	}
	variance, err := fixmath.Div(sum, totalDelta)
	if err != nil {
		return Result{}, err
	}
	return Result{Mean: mean, Variance: variance}, nil
}

// Estimate runs the full pipeline over two aligned histories.
func Estimate(in, out oracle.History, cfg LookbackConfig, now int64) (Result, error) {
	returns, err := PairedReturns(in, out, cfg, now)
	if err != nil {
		return Result{}, err
	}
	return Statistics(returns)
}
