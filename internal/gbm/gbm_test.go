package gbm

import (
	"context"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/oracle"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func hist(samples ...oracle.Sample) oracle.History {
	return oracle.History{Samples: samples}
}

func relErr(got decimal.Decimal, want float64) float64 {
	g := got.InexactFloat64()
	if want == 0 {
		return math.Abs(g)
	}
	return math.Abs(g-want) / math.Abs(want)
}

var defaultCfg = LookbackConfig{MaxRounds: 6, MaxAgeSec: 7200, Stride: 1}

func TestStartIndices_SharedBudget(t *testing.T) {
	in := hist(
		oracle.Sample{Round: 7, Price: d(3240.15), Timestamp: 1641889937},
		oracle.Sample{Round: 6, Price: d(3236.50), Timestamp: 1641886467},
		oracle.Sample{Round: 5, Price: d(3251.08), Timestamp: 1641882953},
	)
	out := hist(
		oracle.Sample{Round: 5, Price: d(1.00012), Timestamp: 1641892596},
		oracle.Sample{Round: 4, Price: d(0.99991), Timestamp: 1641885840},
		oracle.Sample{Round: 3, Price: d(1.00004), Timestamp: 1641879120},
	)
	nIn, nOut := StartIndices(in, out, defaultCfg, 1641893000)
	if nIn != 2 || nOut != 2 {
		t.Errorf("expected (2,2), got (%d,%d): stale samples must be excluded", nIn, nOut)
	}
}

func TestStartIndices_MaxRoundsCapsWindow(t *testing.T) {
	in := hist(
		oracle.Sample{Round: 3, Price: d(100), Timestamp: 900},
		oracle.Sample{Round: 2, Price: d(101), Timestamp: 800},
		oracle.Sample{Round: 1, Price: d(102), Timestamp: 700},
	)
	out := hist(
		oracle.Sample{Round: 3, Price: d(1), Timestamp: 950},
		oracle.Sample{Round: 2, Price: d(1), Timestamp: 850},
		oracle.Sample{Round: 1, Price: d(1), Timestamp: 750},
	)
	// Budget of 2 rounds: the latest of each series is retained, then a
	// single extension step goes to the series with the more recent
	// unretained sample (out, ts=850).
	cfg := LookbackConfig{MaxRounds: 2, MaxAgeSec: 10000, Stride: 1}
	nIn, nOut := StartIndices(in, out, cfg, 1000)
	if nIn != 1 || nOut != 2 {
		t.Errorf("expected (1,2), got (%d,%d)", nIn, nOut)
	}
}

func TestStartIndices_EmptySeries(t *testing.T) {
	out := hist(oracle.Sample{Round: 1, Price: d(1), Timestamp: 900})
	nIn, nOut := StartIndices(hist(), out, defaultCfg, 1000)
	if nIn != 0 {
		t.Errorf("empty series boundary should be 0, got %d", nIn)
	}
	if nOut != 1 {
		t.Errorf("fresh single sample should be retained, got %d", nOut)
	}
}

func TestPairedReturns_DegenerateWindows(t *testing.T) {
	// Empty and single-sample windows produce no pairs and no error.
	cases := []struct {
		name    string
		in, out oracle.History
	}{
		{"both empty", hist(), hist()},
		{"one empty", hist(oracle.Sample{Round: 1, Price: d(100), Timestamp: 900}), hist()},
		{"single samples", hist(oracle.Sample{Round: 1, Price: d(100), Timestamp: 900}),
			hist(oracle.Sample{Round: 1, Price: d(1), Timestamp: 900})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pairs, err := PairedReturns(tc.in, tc.out, defaultCfg, 1000)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(pairs) != 0 {
				t.Errorf("expected no pairs, got %d", len(pairs))
			}
			res, err := Statistics(pairs)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.Mean.IsZero() || !res.Variance.IsZero() {
				t.Errorf("expected (0,0), got (%s,%s)", res.Mean, res.Variance)
			}
		})
	}
}

func TestPairedReturns_ConstantPricesGiveZeroReturns(t *testing.T) {
	in := hist(
		oracle.Sample{Round: 2, Price: d(3200), Timestamp: 900},
		oracle.Sample{Round: 1, Price: d(3200), Timestamp: 800},
	)
	out := hist(
		oracle.Sample{Round: 2, Price: d(1), Timestamp: 900},
		oracle.Sample{Round: 1, Price: d(1), Timestamp: 800},
	)
	pairs, err := PairedReturns(in, out, defaultCfg, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if !pairs[0].LogReturn.IsZero() {
		t.Errorf("constant prices should give zero log return, got %s", pairs[0].LogReturn)
	}
	res, _ := Statistics(pairs)
	if !res.Mean.IsZero() || !res.Variance.IsZero() {
		t.Errorf("expected (0,0), got (%s,%s)", res.Mean, res.Variance)
	}
}

func TestStatistics_KnownValues(t *testing.T) {
	// Two pairs, hand-computed:
	// mean = (0.001 - 0.002) / (100 + 300) = -2.5e-6
	// variance = ((0.001 - mean*100)^2/100 + (-0.002 - mean*300)^2/300) / 400
	pairs := []Return{
		{LogReturn: d(0.001), DeltaSec: 100},
		{LogReturn: d(-0.002), DeltaSec: 300},
	}
	res, err := Statistics(pairs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mean := -2.5e-6
	v1 := math.Pow(0.001-mean*100, 2) / 100
	v2 := math.Pow(-0.002-mean*300, 2) / 300
	wantVar := (v1 + v2) / 400

	if relErr(res.Mean, mean) > 1e-9 {
		t.Errorf("mean: expected %v, got %s", mean, res.Mean)
	}
	if relErr(res.Variance, wantVar) > 1e-9 {
		t.Errorf("variance: expected %v, got %s", wantVar, res.Variance)
	}
	if res.Variance.IsNegative() {
		t.Error("variance must never be negative")
	}
}

func TestStatistics_SinglePairHasZeroVariance(t *testing.T) {
	pairs := []Return{{LogReturn: d(0.004), DeltaSec: 200}}
	res, err := Statistics(pairs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if relErr(res.Mean, 0.004/200) > 1e-12 {
		t.Errorf("mean: expected 2e-5, got %s", res.Mean)
	}
	// With one pair the deviation from its own mean is exactly zero.
	if !res.Variance.IsZero() {
		t.Errorf("expected zero variance, got %s", res.Variance)
	}
}

func TestStride_SkipsAnchors(t *testing.T) {
	in := hist(
		oracle.Sample{Round: 4, Price: d(100), Timestamp: 1000},
		oracle.Sample{Round: 3, Price: d(101), Timestamp: 900},
		oracle.Sample{Round: 2, Price: d(102), Timestamp: 800},
		oracle.Sample{Round: 1, Price: d(103), Timestamp: 700},
	)
	out := hist(
		oracle.Sample{Round: 4, Price: d(1), Timestamp: 1000},
		oracle.Sample{Round: 3, Price: d(1), Timestamp: 900},
		oracle.Sample{Round: 2, Price: d(1), Timestamp: 800},
		oracle.Sample{Round: 1, Price: d(1), Timestamp: 700},
	)
	cfg := LookbackConfig{MaxRounds: 10, MaxAgeSec: 10000, Stride: 2}
	pairs, err := PairedReturns(in, out, cfg, 1100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Anchors 1000,900,800,700 → stride 2 keeps 1000,800 → one pair of Δ=200.
	if len(pairs) != 1 {
		t.Fatalf("expected 1 strided pair, got %d", len(pairs))
	}
	if pairs[0].DeltaSec != 200 {
		t.Errorf("expected delta 200, got %d", pairs[0].DeltaSec)
	}
}

// Golden regression fixture: WETH/USD and DAI/USD histories ending at
// timestamps 1641889937 and 1641892596 respectively, estimated with
// lookbackRounds=6, lookbackSec=7200, stride=1 at now=1641893000.
func TestEstimate_GoldenWETHDAI(t *testing.T) {
	ctx := context.Background()

	weth := oracle.NewMemoryFeed("ETH / USD", 8)
	for _, s := range []struct {
		price int64
		ts    int64
	}{
		{324210000000, 1641868801},
		{323785000000, 1641872366},
		{322961000000, 1641875905},
		{324402000000, 1641879421},
		{325108000000, 1641882953},
		{323650000000, 1641886467},
		{324015000000, 1641889937},
	} {
		weth.Append(s.price, s.ts)
	}

	dai := oracle.NewMemoryFeed("DAI / USD", 8)
	for _, s := range []struct {
		price int64
		ts    int64
	}{
		{100009000, 1641865680},
		{99987000, 1641872400},
		{100004000, 1641879120},
		{99991000, 1641885840},
		{100012000, 1641892596},
	} {
		dai.Append(s.price, s.ts)
	}

	now := int64(1641893000)
	cfg := LookbackConfig{MaxRounds: 6, MaxAgeSec: 7200, Stride: 1}

	inHist, err := oracle.FetchHistory(ctx, weth, cfg.MaxRounds, cfg.MaxAgeSec, now)
	if err != nil {
		t.Fatalf("fetch weth history: %v", err)
	}
	outHist, err := oracle.FetchHistory(ctx, dai, cfg.MaxRounds, cfg.MaxAgeSec, now)
	if err != nil {
		t.Fatalf("fetch dai history: %v", err)
	}

	res, err := Estimate(inHist, outHist, cfg, now)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	const (
		wantMean     = -1.496376529038e-07
		wantVariance = 4.004909555052e-14
	)
	if relErr(res.Mean, wantMean) > 1e-6 {
		t.Errorf("mean: expected %v, got %s", wantMean, res.Mean)
	}
	if relErr(res.Variance, wantVariance) > 1e-6 {
		t.Errorf("variance: expected %v, got %s", wantVariance, res.Variance)
	}
}
