package pool

import (
	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/errcode"
)

// ErrParamOutOfRange is returned by configuration setters for values
// outside their fixed admissible ranges.
var ErrParamOutOfRange = errcode.New("PARAM_OUT_OF_RANGE", "pool: parameter out of range")

// Binding limits. Weights are denormalized.
var (
	MinWeight      = decimal.NewFromInt(1)
	MaxWeight      = decimal.NewFromInt(50)
	MaxTotalWeight = decimal.NewFromInt(50)
)

const (
	MinBoundAssets = 2
	MaxBoundAssets = 8
)

// Trade-size guards: no single swap may move more than this fraction of
// the corresponding reserve.
var (
	MaxInRatio  = decimal.NewFromFloat(0.3)
	MaxOutRatio = decimal.NewFromFloat(0.3)
)

// Fee and coverage parameter ranges.
var (
	MinSwapFee       = decimal.New(1, -6)
	MaxSwapFee       = decimal.NewFromFloat(0.1)
	MinMaxUnpegRatio = decimal.NewFromInt(1)
	MaxMaxUnpegRatio = decimal.NewFromInt(5)
)

const (
	MaxLookbackRounds = 100
	MaxLookbackSec    = 86400
)

// Params holds a pool's tunable configuration.
type Params struct {
	SwapFee        decimal.Decimal `json:"swap_fee"`
	Z              decimal.Decimal `json:"z"`
	HorizonSec     int64           `json:"horizon_sec"`
	LookbackRounds int             `json:"lookback_rounds"`
	LookbackSec    int64           `json:"lookback_sec"`
	LookbackStride int             `json:"lookback_stride"`
	MaxUnpegRatio  decimal.Decimal `json:"max_unpeg_ratio"`
}

// DefaultParams returns the standard pool configuration: 25 bps fee,
// z at the 90% one-sided confidence level, a 5 minute horizon, and a
// 2 hour / 6 round lookback.
func DefaultParams() Params {
	return Params{
		SwapFee:        decimal.NewFromFloat(0.0025),
		Z:              decimal.NewFromFloat(1.282),
		HorizonSec:     300,
		LookbackRounds: 6,
		LookbackSec:    7200,
		LookbackStride: 1,
		MaxUnpegRatio:  decimal.NewFromFloat(1.02),
	}
}

// Validate checks every field against its fixed range.
func (p Params) Validate() error {
	if p.SwapFee.LessThan(MinSwapFee) || p.SwapFee.GreaterThan(MaxSwapFee) {
		return ErrParamOutOfRange
	}
	if p.Z.IsNegative() {
		return ErrParamOutOfRange
	}
	if p.HorizonSec < 0 {
		return ErrParamOutOfRange
	}
	if p.LookbackRounds < 1 || p.LookbackRounds > MaxLookbackRounds {
		return ErrParamOutOfRange
	}
	if p.LookbackSec < 1 || p.LookbackSec > MaxLookbackSec {
		return ErrParamOutOfRange
	}
	if p.LookbackStride < 1 {
		return ErrParamOutOfRange
	}
	if p.MaxUnpegRatio.LessThan(MinMaxUnpegRatio) || p.MaxUnpegRatio.GreaterThan(MaxMaxUnpegRatio) {
		return ErrParamOutOfRange
	}
	return nil
}
