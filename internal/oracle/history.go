package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/fixmath"
)

// History is a bounded, newest-first slice of normalized samples from one
// feed. Prices are scaled to quote units (the feed's decimal count is
// already applied).
type History struct {
	Samples []Sample
}

// Latest returns the newest sample. ok is false for an empty history.
func (h History) Latest() (Sample, bool) {
	if len(h.Samples) == 0 {
		return Sample{}, false
	}
	return h.Samples[0], true
}

// normalize scales a raw feed answer to quote units and rejects
// non-positive prices.
func normalize(raw decimal.Decimal, decimals uint8) (decimal.Decimal, error) {
	if raw.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrBadPrice
	}
	return raw.Shift(-int32(decimals)), nil
}

// FetchHistory walks a feed backward from its latest round, collecting at
// most maxRounds samples and stopping at the first sample older than
// now-maxAgeSec. The latest sample is mandatory: if the feed cannot
// produce it the error propagates and the caller fails closed. Running
// out of recorded rounds mid-walk ends the history without error.
//
// Oracle data is re-read on every call; history is never cached across
// swaps, since bounding staleness is the whole point of the block-price
// and unpeg checks downstream.
func FetchHistory(ctx context.Context, f Feed, maxRounds int, maxAgeSec, now int64) (History, error) {
	decimals, err := f.Decimals(ctx)
	if err != nil {
		return History{}, err
	}

	latest, err := f.LatestSample(ctx)
	if err != nil {
		return History{}, err
	}
	price, err := normalize(latest.Price, decimals)
	if err != nil {
		return History{}, err
	}

	cutoff := now - maxAgeSec
	samples := []Sample{{Round: latest.Round, Price: price, Timestamp: latest.Timestamp}}

	round := latest.Round
	for len(samples) < maxRounds && round > 0 {
		round--
		s, err := f.SampleAt(ctx, round)
		if err != nil {
			if errors.Is(err, ErrNoData) {
				break // history exhausted
			}
			return History{}, err
		}
		price, err := normalize(s.Price, decimals)
		if err != nil {
			return History{}, err
		}
		samples = append(samples, Sample{Round: s.Round, Price: price, Timestamp: s.Timestamp})
		if s.Timestamp < cutoff {
			break
		}
	}

	return History{Samples: samples}, nil
}

// PriceAtOrBefore returns the feed price at the reference timestamp,
// linearly interpolating between the two adjacent recorded samples. When
// the reference lies outside the recorded range the nearest two samples
// extrapolate the line. A single-sample history returns that price.
func PriceAtOrBefore(h History, ts int64) (decimal.Decimal, error) {
	n := len(h.Samples)
	if n == 0 {
		return decimal.Zero, ErrNoData
	}
	if n == 1 {
		return h.Samples[0].Price, nil
	}

	// Samples are newest-first: pick the segment [older, newer]
	// bracketing ts, clamping to the end segments for extrapolation.
	newer, older := h.Samples[0], h.Samples[1]
	for i := 1; i < n; i++ {
		newer, older = h.Samples[i-1], h.Samples[i]
		if h.Samples[i].Timestamp <= ts {
			break
		}
	}

	dt := newer.Timestamp - older.Timestamp
	if dt == 0 {
		return newer.Price, nil
	}
	slope, err := fixmath.Div(newer.Price.Sub(older.Price), decimal.NewFromInt(dt))
	if err != nil {
		return decimal.Zero, err
	}
	offset, err := fixmath.Mul(slope, decimal.NewFromInt(ts-older.Timestamp))
	if err != nil {
		return decimal.Zero, err
	}
	return older.Price.Add(offset), nil
}

// BlockPrices holds the latest per-feed prices and the most adverse
// relative price achievable with samples recorded in the current block.
type BlockPrices struct {
	PriceIn  decimal.Decimal // latest input-feed price
	PriceOut decimal.Decimal // latest output-feed price
	MaxRel   decimal.Decimal // highest priceOut/priceIn within the block
}

// MaxRelativeBlockPrice returns the highest priceOut/priceIn reachable
// using only samples recorded at the current block timestamp. For each
// feed it considers the latest sample and, when that sample shares the
// block timestamp, the immediately prior one, then pairs the candidates
// to maximize the ratio. This bounds manipulation through same-block
// oracle updates.
func MaxRelativeBlockPrice(ctx context.Context, feedIn, feedOut Feed, blockTime int64) (BlockPrices, error) {
	candIn, err := blockCandidates(ctx, feedIn, blockTime)
	if err != nil {
		return BlockPrices{}, err
	}
	candOut, err := blockCandidates(ctx, feedOut, blockTime)
	if err != nil {
		return BlockPrices{}, err
	}

	minIn := candIn[0]
	for _, p := range candIn[1:] {
		if p.LessThan(minIn) {
			minIn = p
		}
	}
	maxOut := candOut[0]
	for _, p := range candOut[1:] {
		if p.GreaterThan(maxOut) {
			maxOut = p
		}
	}

	rel, err := fixmath.Div(maxOut, minIn)
	if err != nil {
		return BlockPrices{}, err
	}
	return BlockPrices{PriceIn: candIn[0], PriceOut: candOut[0], MaxRel: rel}, nil
}

// blockCandidates returns the normalized prices a manipulator could have
// pinned within the current block: always the latest, plus the prior
// round when the latest was recorded at the block timestamp. The latest
// price is always candidate zero.
func blockCandidates(ctx context.Context, f Feed, blockTime int64) ([]decimal.Decimal, error) {
	decimals, err := f.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := f.LatestSample(ctx)
	if err != nil {
		return nil, err
	}
	price, err := normalize(latest.Price, decimals)
	if err != nil {
		return nil, err
	}

	candidates := []decimal.Decimal{price}
	if latest.Timestamp == blockTime && latest.Round > 0 {
		prior, err := f.SampleAt(ctx, latest.Round-1)
		if err != nil {
			// The same-block latest means a prior round must exist;
			// a feed that cannot produce it fails the swap closed.
			return nil, err
		}
		priorPrice, err := normalize(prior.Price, decimals)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, priorPrice)
	}
	return candidates, nil
}
