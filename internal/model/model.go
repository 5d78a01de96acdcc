// Package model defines the persisted domain types shared across the
// coverage pool engine. All monetary values use shopspring/decimal —
// never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool lifecycle states.
const (
	StatusEmpty     = "empty"     // no assets bound yet
	StatusBound     = "bound"     // assets bound, not yet finalized
	StatusFinalized = "finalized" // terminal, tradable
)

// Swap kinds recorded on the ledger.
const (
	KindExactIn  = "EXACT_IN"
	KindExactOut = "EXACT_OUT"
)

// BindingRecord is the persisted form of one asset binding.
type BindingRecord struct {
	Asset        string          `json:"asset" db:"asset"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	Weight       decimal.Decimal `json:"weight" db:"weight"` // denormalized
	FeedID       string          `json:"feed_id" db:"feed_id"`
	FeedDecimals uint8           `json:"feed_decimals" db:"feed_decimals"`
	FeedPair     string          `json:"feed_pair" db:"feed_pair"`
	BindPrice    decimal.Decimal `json:"bind_price" db:"bind_price"` // feed price at bind time
}

// PoolRecord is the persisted snapshot of one pool's state and
// configuration.
type PoolRecord struct {
	ID             string          `json:"id" db:"id"`
	Controller     string          `json:"controller" db:"controller"`
	Status         string          `json:"status" db:"status"`
	PublicSwap     bool            `json:"public_swap" db:"public_swap"`
	Paused         bool            `json:"paused" db:"paused"`
	SwapFee        decimal.Decimal `json:"swap_fee" db:"swap_fee"`
	Z              decimal.Decimal `json:"z" db:"z"`
	HorizonSec     int64           `json:"horizon_sec" db:"horizon_sec"`
	LookbackRounds int             `json:"lookback_rounds" db:"lookback_rounds"`
	LookbackSec    int64           `json:"lookback_sec" db:"lookback_sec"`
	LookbackStride int             `json:"lookback_stride" db:"lookback_stride"`
	MaxUnpegRatio  decimal.Decimal `json:"max_unpeg_ratio" db:"max_unpeg_ratio"`
	Bindings       []BindingRecord `json:"bindings" db:"-"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// SwapRecord is an immutable record of one executed swap. Once created,
// these are never modified or deleted.
type SwapRecord struct {
	ID             string          `json:"id" db:"id"`
	PoolID         string          `json:"pool_id" db:"pool_id"`
	Caller         string          `json:"caller" db:"caller"`
	Kind           string          `json:"kind" db:"kind"` // EXACT_IN or EXACT_OUT
	AssetIn        string          `json:"asset_in" db:"asset_in"`
	AssetOut       string          `json:"asset_out" db:"asset_out"`
	AmountIn       decimal.Decimal `json:"amount_in" db:"amount_in"`
	AmountOut      decimal.Decimal `json:"amount_out" db:"amount_out"`
	SpreadAboveOne decimal.Decimal `json:"spread_above_one" db:"spread_above_one"`
	SpotPriceAfter decimal.Decimal `json:"spot_price_after" db:"spot_price_after"`
	OraclePriceIn  decimal.Decimal `json:"oracle_price_in" db:"oracle_price_in"`
	OraclePriceOut decimal.Decimal `json:"oracle_price_out" db:"oracle_price_out"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}
