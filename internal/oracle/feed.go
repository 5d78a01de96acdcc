// Package oracle reads external price feeds: the feed collaborator
// interface, bounded chronological history fetching with decimal
// normalization, point interpolation, and the worst-case same-block
// relative price used to bound oracle manipulation.
package oracle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/errcode"
)

var (
	// ErrNoData is returned when a feed has no sample for a requested
	// round. Callers fail closed; a missing price is never substituted.
	ErrNoData = errcode.New("ORACLE_NO_DATA", "oracle: no data for requested round")

	// ErrBadPrice is returned when a feed reports a zero or negative price.
	ErrBadPrice = errcode.New("ORACLE_BAD_PRICE", "oracle: zero or negative price")

	// ErrUnknownFeed is returned when a feed identifier cannot be resolved.
	ErrUnknownFeed = errcode.New("ORACLE_UNKNOWN_FEED", "oracle: unknown feed identifier")
)

// Sample is a single (round, price, timestamp) observation. Price is the
// feed's raw integer answer expressed as a decimal; normalization by the
// feed's decimal count happens in the history adapter.
type Sample struct {
	Round     uint64          `json:"round"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // unix seconds
}

// Feed is the external price-feed collaborator: an append-only source of
// timestamped price observations for one asset. Implementations must
// return ErrNoData (possibly wrapped) when a round does not exist.
type Feed interface {
	// LatestSample returns the most recent observation.
	LatestSample(ctx context.Context) (Sample, error)

	// SampleAt returns the observation for a specific round.
	SampleAt(ctx context.Context, round uint64) (Sample, error)

	// Decimals returns the feed's native decimal count.
	Decimals(ctx context.Context) (uint8, error)

	// Description returns the feed's pair description, e.g. "ETH / USD".
	Description(ctx context.Context) (string, error)
}
