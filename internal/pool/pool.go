// Package pool implements the coverage pool orchestrator: asset binding
// and the pool lifecycle, controller configuration, and the swap path
// that stitches oracle history, the GBM estimator, and the piecewise
// spread pricing into atomic reserve updates.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/asset"
	"github.com/ammlabs/coverage-engine/internal/errcode"
	"github.com/ammlabs/coverage-engine/internal/fixmath"
	"github.com/ammlabs/coverage-engine/internal/gbm"
	"github.com/ammlabs/coverage-engine/internal/guard"
	"github.com/ammlabs/coverage-engine/internal/model"
	"github.com/ammlabs/coverage-engine/internal/oracle"
	"github.com/ammlabs/coverage-engine/internal/spread"
	"github.com/ammlabs/coverage-engine/internal/weighted"
)

var (
	ErrNotController       = errcode.New("NOT_CONTROLLER", "pool: caller is not the controller")
	ErrPoolFinalized       = errcode.New("POOL_FINALIZED", "pool: operation not allowed after finalize")
	ErrNotFinalized        = errcode.New("POOL_NOT_FINALIZED", "pool: pool is not finalized")
	ErrNotTradable         = errcode.New("POOL_NOT_TRADABLE", "pool: swaps are not enabled")
	ErrPoolPaused          = errcode.New("POOL_PAUSED", "pool: pool is paused")
	ErrAlreadyBound        = errcode.New("ASSET_ALREADY_BOUND", "pool: asset already bound")
	ErrUnboundAsset        = errcode.New("UNBOUND_ASSET", "pool: asset not bound")
	ErrSameAsset           = errcode.New("SAME_ASSET", "pool: input and output asset are identical")
	ErrTooManyAssets       = errcode.New("TOO_MANY_ASSETS", "pool: binding limit reached")
	ErrTooFewAssets        = errcode.New("TOO_FEW_ASSETS", "pool: not enough bound assets to finalize")
	ErrWeightOutOfRange    = errcode.New("WEIGHT_OUT_OF_RANGE", "pool: weight outside admissible range")
	ErrTotalWeightExceeded = errcode.New("TOTAL_WEIGHT_EXCEEDED", "pool: total weight limit exceeded")
	ErrInvalidAmount       = errcode.New("INVALID_AMOUNT", "pool: amount must be positive")
	ErrRatioExceeded       = errcode.New("RATIO_EXCEEDED", "pool: trade size exceeds reserve ratio limit")
	ErrLimitOutNotMet      = errcode.New("LIMIT_OUT_NOT_MET", "pool: output below requested minimum")
	ErrLimitInExceeded     = errcode.New("LIMIT_IN_EXCEEDED", "pool: input above requested maximum")
	ErrPriceLimitExceeded  = errcode.New("PRICE_LIMIT_EXCEEDED", "pool: spot price beyond caller limit")
	ErrPriceUnpegged       = errcode.New("PRICE_UNPEGGED", "pool: pool price diverged from oracle price")
)

// Clock supplies the swap timestamp and a monotone block height for the
// deposit-gap guard. The default deployment has no chain head to follow,
// so heights advance with wall time.
type Clock interface {
	Now() time.Time
	BlockNumber() uint64
}

// SystemClock derives block heights from wall time at a fixed cadence.
type SystemClock struct {
	BlockSec uint64 // seconds per height step; 0 means 12
}

func (c SystemClock) Now() time.Time { return time.Now() }

func (c SystemClock) BlockNumber() uint64 {
	step := c.BlockSec
	if step == 0 {
		step = 12
	}
	return uint64(time.Now().Unix()) / step
}

// minDepositGap is the number of elapsed block heights required between
// a liquidity deposit and the depositor's next withdrawal.
const minDepositGap = 1

type binding struct {
	record model.BindingRecord
	feed   oracle.Feed
}

// Pool is one coverage pool: bound reserves, coverage configuration and
// the swap engine over them. All methods are safe for concurrent use;
// swaps additionally hold a non-reentrant token so that a token callback
// into the same pool fails instead of observing half-applied reserves.
type Pool struct {
	id         string
	controller string
	clock      Clock
	feeds      *oracle.Registry

	reentrancy guard.Reentrancy
	deposits   *guard.BlockGap

	mu         sync.Mutex
	status     string
	publicSwap bool
	paused     bool
	params     Params
	bindings   map[string]*binding
	order      []string // bind order, for deterministic snapshots
	tokens     map[string]Token
	createdAt  time.Time
}

// New creates an empty pool owned by controller.
func New(id, controller string, feeds *oracle.Registry, clock Clock, params Params) (*Pool, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Pool{
		id:         id,
		controller: controller,
		clock:      clock,
		feeds:      feeds,
		deposits:   guard.NewBlockGap(minDepositGap),
		status:     model.StatusEmpty,
		params:     params,
		bindings:   make(map[string]*binding),
		tokens:     make(map[string]Token),
		createdAt:  clock.Now().UTC(),
	}, nil
}

// Restore rebuilds a pool from its persisted record, re-resolving each
// binding's feed against the registry.
func Restore(rec model.PoolRecord, feeds *oracle.Registry, clock Clock) (*Pool, error) {
	params := Params{
		SwapFee:        rec.SwapFee,
		Z:              rec.Z,
		HorizonSec:     rec.HorizonSec,
		LookbackRounds: rec.LookbackRounds,
		LookbackSec:    rec.LookbackSec,
		LookbackStride: rec.LookbackStride,
		MaxUnpegRatio:  rec.MaxUnpegRatio,
	}
	p, err := New(rec.ID, rec.Controller, feeds, clock, params)
	if err != nil {
		return nil, err
	}
	p.status = rec.Status
	p.publicSwap = rec.PublicSwap
	p.paused = rec.Paused
	p.createdAt = rec.CreatedAt
	for _, b := range rec.Bindings {
		feed, err := feeds.Resolve(b.FeedID)
		if err != nil {
			return nil, err
		}
		p.bindings[b.Asset] = &binding{record: b, feed: feed}
		p.order = append(p.order, b.Asset)
	}
	return p, nil
}

func (p *Pool) ID() string { return p.id }

// AttachToken wires a settlement token for one bound asset. Pools
// without attached tokens run in pure accounting mode.
func (p *Pool) AttachToken(assetSym string, t Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[assetSym] = t
}

// Record snapshots the pool for persistence.
func (p *Pool) Record() model.PoolRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := model.PoolRecord{
		ID:             p.id,
		Controller:     p.controller,
		Status:         p.status,
		PublicSwap:     p.publicSwap,
		Paused:         p.paused,
		SwapFee:        p.params.SwapFee,
		Z:              p.params.Z,
		HorizonSec:     p.params.HorizonSec,
		LookbackRounds: p.params.LookbackRounds,
		LookbackSec:    p.params.LookbackSec,
		LookbackStride: p.params.LookbackStride,
		MaxUnpegRatio:  p.params.MaxUnpegRatio,
		CreatedAt:      p.createdAt,
	}
	for _, sym := range p.order {
		rec.Bindings = append(rec.Bindings, p.bindings[sym].record)
	}
	return rec
}

// enter serializes a mutating operation. The reentrancy token is taken
// before the mutex so a token callback into the pool fails fast instead
// of deadlocking.
func (p *Pool) enter() (func(), error) {
	if err := p.reentrancy.Enter(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	return func() {
		p.mu.Unlock()
		p.reentrancy.Exit()
	}, nil
}

func (p *Pool) requireController(caller string) error {
	if caller != p.controller {
		return ErrNotController
	}
	return nil
}

// Bind adds an asset with an initial balance, a denormalized weight and
// a price feed. Only the controller may bind, and only before finalize.
func (p *Pool) Bind(ctx context.Context, caller, assetSym string, balance, weight decimal.Decimal, feedID string) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()

	if err := p.requireController(caller); err != nil {
		return err
	}
	if p.status == model.StatusFinalized {
		return ErrPoolFinalized
	}
	sym, err := asset.ParseSymbol(assetSym)
	if err != nil {
		return err
	}
	if _, ok := p.bindings[sym]; ok {
		return ErrAlreadyBound
	}
	if len(p.bindings) >= MaxBoundAssets {
		return ErrTooManyAssets
	}
	if !balance.IsPositive() {
		return ErrInvalidAmount
	}
	if err := p.checkWeight(weight, decimal.Zero); err != nil {
		return err
	}

	rec, feed, err := p.resolveBinding(ctx, sym, balance, weight, feedID)
	if err != nil {
		return err
	}
	if err := p.collect(ctx, sym, caller, balance); err != nil {
		return err
	}

	p.bindings[sym] = &binding{record: rec, feed: feed}
	p.order = append(p.order, sym)
	p.status = model.StatusBound
	p.deposits.RecordDeposit(caller, p.clock.BlockNumber())
	return nil
}

// Rebind adjusts a bound asset's balance and weight before finalize.
// Balance increases are deposits; decreases are withdrawals and must
// clear the deposit-gap guard.
func (p *Pool) Rebind(ctx context.Context, caller, assetSym string, balance, weight decimal.Decimal) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()

	if err := p.requireController(caller); err != nil {
		return err
	}
	if p.status == model.StatusFinalized {
		return ErrPoolFinalized
	}
	b, ok := p.bindings[assetSym]
	if !ok {
		return ErrUnboundAsset
	}
	if !balance.IsPositive() {
		return ErrInvalidAmount
	}
	if err := p.checkWeight(weight, b.record.Weight); err != nil {
		return err
	}

	block := p.clock.BlockNumber()
	diff := balance.Sub(b.record.Balance)
	switch {
	case diff.IsPositive():
		if err := p.collect(ctx, assetSym, caller, diff); err != nil {
			return err
		}
		p.deposits.RecordDeposit(caller, block)
	case diff.IsNegative():
		if err := p.deposits.CheckExit(caller, block); err != nil {
			return err
		}
		if err := p.refund(ctx, assetSym, caller, diff.Neg()); err != nil {
			return err
		}
	}
	b.record.Balance = balance
	b.record.Weight = weight
	return nil
}

// Unbind removes an asset before finalize and returns its full balance
// to the controller.
func (p *Pool) Unbind(ctx context.Context, caller, assetSym string) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()

	if err := p.requireController(caller); err != nil {
		return err
	}
	if p.status == model.StatusFinalized {
		return ErrPoolFinalized
	}
	b, ok := p.bindings[assetSym]
	if !ok {
		return ErrUnboundAsset
	}
	if err := p.deposits.CheckExit(caller, p.clock.BlockNumber()); err != nil {
		return err
	}
	if err := p.refund(ctx, assetSym, caller, b.record.Balance); err != nil {
		return err
	}

	delete(p.bindings, assetSym)
	for i, sym := range p.order {
		if sym == assetSym {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if len(p.bindings) == 0 {
		p.status = model.StatusEmpty
	}
	return nil
}

// Finalize makes the pool permanently tradable. It requires at least
// MinBoundAssets bindings and cannot be undone.
func (p *Pool) Finalize(caller string) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()

	if err := p.requireController(caller); err != nil {
		return err
	}
	if p.status == model.StatusFinalized {
		return ErrPoolFinalized
	}
	if len(p.bindings) < MinBoundAssets {
		return ErrTooFewAssets
	}
	p.status = model.StatusFinalized
	p.publicSwap = true
	return nil
}

// SetPublicSwap opens or closes swaps on a pre-finalize pool. Finalized
// pools are always public.
func (p *Pool) SetPublicSwap(caller string, public bool) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()
	if err := p.requireController(caller); err != nil {
		return err
	}
	if p.status == model.StatusFinalized {
		return ErrPoolFinalized
	}
	p.publicSwap = public
	return nil
}

// SetPaused halts or resumes swaps without touching the lifecycle state.
func (p *Pool) SetPaused(caller string, paused bool) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()
	if err := p.requireController(caller); err != nil {
		return err
	}
	p.paused = paused
	return nil
}

// SetSwapFee changes the fee before finalize; the fee is frozen after.
func (p *Pool) SetSwapFee(caller string, fee decimal.Decimal) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()
	if err := p.requireController(caller); err != nil {
		return err
	}
	if p.status == model.StatusFinalized {
		return ErrPoolFinalized
	}
	next := p.params
	next.SwapFee = fee
	if err := next.Validate(); err != nil {
		return err
	}
	p.params = next
	return nil
}

// SetCoverage tunes the confidence parameter and horizon live.
func (p *Pool) SetCoverage(caller string, z decimal.Decimal, horizonSec int64) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()
	if err := p.requireController(caller); err != nil {
		return err
	}
	next := p.params
	next.Z = z
	next.HorizonSec = horizonSec
	if err := next.Validate(); err != nil {
		return err
	}
	p.params = next
	return nil
}

// SetLookback tunes the estimation window live.
func (p *Pool) SetLookback(caller string, rounds int, maxAgeSec int64, stride int) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()
	if err := p.requireController(caller); err != nil {
		return err
	}
	next := p.params
	next.LookbackRounds = rounds
	next.LookbackSec = maxAgeSec
	next.LookbackStride = stride
	if err := next.Validate(); err != nil {
		return err
	}
	p.params = next
	return nil
}

// SetMaxUnpegRatio tunes the oracle-divergence circuit breaker live.
func (p *Pool) SetMaxUnpegRatio(caller string, ratio decimal.Decimal) error {
	exit, err := p.enter()
	if err != nil {
		return err
	}
	defer exit()
	if err := p.requireController(caller); err != nil {
		return err
	}
	next := p.params
	next.MaxUnpegRatio = ratio
	if err := next.Validate(); err != nil {
		return err
	}
	p.params = next
	return nil
}

// QuoteResult is a priced but unexecuted swap.
type QuoteResult struct {
	Kind            string          `json:"kind"`
	AssetIn         string          `json:"asset_in"`
	AssetOut        string          `json:"asset_out"`
	AmountIn        decimal.Decimal `json:"amount_in"`
	AmountOut       decimal.Decimal `json:"amount_out"`
	SpreadAboveOne  decimal.Decimal `json:"spread_above_one"`
	SpotPriceBefore decimal.Decimal `json:"spot_price_before"`
	SpotPriceAfter  decimal.Decimal `json:"spot_price_after"`
	OraclePriceIn   decimal.Decimal `json:"oracle_price_in"`
	OraclePriceOut  decimal.Decimal `json:"oracle_price_out"`
}

// QuoteExactIn prices an exact-in swap without executing it.
func (p *Pool) QuoteExactIn(ctx context.Context, assetIn string, amountIn decimal.Decimal, assetOut string) (QuoteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price(ctx, model.KindExactIn, assetIn, assetOut, amountIn)
}

// QuoteExactOut prices an exact-out swap without executing it.
func (p *Pool) QuoteExactOut(ctx context.Context, assetIn, assetOut string, amountOut decimal.Decimal) (QuoteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price(ctx, model.KindExactOut, assetIn, assetOut, amountOut)
}

// SwapExactIn trades a fixed input amount for at least minAmountOut of
// the output asset. maxPrice, when positive, bounds the post-trade spot
// price. Reserve effects are applied before token interactions; a failed
// transfer rolls the reserves back.
func (p *Pool) SwapExactIn(ctx context.Context, caller, assetIn string, amountIn decimal.Decimal,
	assetOut string, minAmountOut, maxPrice decimal.Decimal) (*model.SwapRecord, error) {

	exit, err := p.enter()
	if err != nil {
		return nil, err
	}
	defer exit()

	q, err := p.price(ctx, model.KindExactIn, assetIn, assetOut, amountIn)
	if err != nil {
		return nil, err
	}
	if q.AmountOut.LessThan(minAmountOut) {
		return nil, ErrLimitOutNotMet
	}
	if maxPrice.IsPositive() && q.SpotPriceAfter.GreaterThan(maxPrice) {
		return nil, ErrPriceLimitExceeded
	}
	return p.settle(ctx, caller, q)
}

// SwapExactOut trades at most maxAmountIn of the input asset for a fixed
// output amount. A zero maxAmountIn disables the input limit.
func (p *Pool) SwapExactOut(ctx context.Context, caller, assetIn string, maxAmountIn decimal.Decimal,
	assetOut string, amountOut, maxPrice decimal.Decimal) (*model.SwapRecord, error) {

	exit, err := p.enter()
	if err != nil {
		return nil, err
	}
	defer exit()

	q, err := p.price(ctx, model.KindExactOut, assetIn, assetOut, amountOut)
	if err != nil {
		return nil, err
	}
	if maxAmountIn.IsPositive() && q.AmountIn.GreaterThan(maxAmountIn) {
		return nil, ErrLimitInExceeded
	}
	if maxPrice.IsPositive() && q.SpotPriceAfter.GreaterThan(maxPrice) {
		return nil, ErrPriceLimitExceeded
	}
	return p.settle(ctx, caller, q)
}

// price runs the full pricing pipeline under the pool mutex: tradability
// and size guards, fresh oracle history, the GBM estimate, the piecewise
// spread computation, and the oracle-divergence check.
func (p *Pool) price(ctx context.Context, kind, assetIn, assetOut string, amount decimal.Decimal) (QuoteResult, error) {
	if p.paused {
		return QuoteResult{}, ErrPoolPaused
	}
	if !p.publicSwap || p.status == model.StatusEmpty {
		return QuoteResult{}, ErrNotTradable
	}
	if assetIn == assetOut {
		return QuoteResult{}, ErrSameAsset
	}
	bIn, ok := p.bindings[assetIn]
	if !ok {
		return QuoteResult{}, ErrUnboundAsset
	}
	bOut, ok := p.bindings[assetOut]
	if !ok {
		return QuoteResult{}, ErrUnboundAsset
	}
	if !amount.IsPositive() {
		return QuoteResult{}, ErrInvalidAmount
	}

	switch kind {
	case model.KindExactIn:
		limit, err := fixmath.Mul(bIn.record.Balance, MaxInRatio)
		if err != nil {
			return QuoteResult{}, err
		}
		if amount.GreaterThan(limit) {
			return QuoteResult{}, ErrRatioExceeded
		}
	case model.KindExactOut:
		limit, err := fixmath.Mul(bOut.record.Balance, MaxOutRatio)
		if err != nil {
			return QuoteResult{}, err
		}
		if amount.GreaterThan(limit) {
			return QuoteResult{}, ErrRatioExceeded
		}
	}

	now := p.clock.Now().Unix()
	cfg := gbm.LookbackConfig{
		MaxRounds: p.params.LookbackRounds,
		MaxAgeSec: p.params.LookbackSec,
		Stride:    p.params.LookbackStride,
	}
	histIn, err := oracle.FetchHistory(ctx, bIn.feed, cfg.MaxRounds, cfg.MaxAgeSec, now)
	if err != nil {
		return QuoteResult{}, err
	}
	histOut, err := oracle.FetchHistory(ctx, bOut.feed, cfg.MaxRounds, cfg.MaxAgeSec, now)
	if err != nil {
		return QuoteResult{}, err
	}
	block, err := oracle.MaxRelativeBlockPrice(ctx, bIn.feed, bOut.feed, now)
	if err != nil {
		return QuoteResult{}, err
	}
	// Feed rounds rarely land exactly on the swap timestamp; the reported
	// oracle prices are interpolated to the swap instant.
	oraclePriceIn, err := oracle.PriceAtOrBefore(histIn, now)
	if err != nil {
		return QuoteResult{}, err
	}
	oraclePriceOut, err := oracle.PriceAtOrBefore(histOut, now)
	if err != nil {
		return QuoteResult{}, err
	}
	est, err := gbm.Estimate(histIn, histOut, cfg, now)
	if err != nil {
		return QuoteResult{}, err
	}

	params := spread.Parameters{Z: p.params.Z, HorizonSec: p.params.HorizonSec}
	in, out := bIn.record, bOut.record

	var q spread.Quote
	switch kind {
	case model.KindExactIn:
		q, err = spread.SwapOutGivenIn(in.Balance, in.Weight, out.Balance, out.Weight,
			amount, p.params.SwapFee, est, params, block.MaxRel)
	case model.KindExactOut:
		q, err = spread.SwapInGivenOut(in.Balance, in.Weight, out.Balance, out.Weight,
			amount, p.params.SwapFee, est, params, block.MaxRel)
	}
	if err != nil {
		return QuoteResult{}, err
	}

	result := QuoteResult{
		Kind:            kind,
		AssetIn:         assetIn,
		AssetOut:        assetOut,
		SpreadAboveOne:  q.SpreadAboveOne,
		SpotPriceBefore: q.SpotPriceBefore,
		SpotPriceAfter:  q.SpotPriceAfter,
		OraclePriceIn:   oraclePriceIn,
		OraclePriceOut:  oraclePriceOut,
	}
	if kind == model.KindExactIn {
		result.AmountIn, result.AmountOut = amount, q.Amount
	} else {
		result.AmountIn, result.AmountOut = q.Amount, amount
	}

	// Circuit breaker: the post-trade pool price may not diverge from the
	// most adverse same-block oracle price by more than the unpeg ratio.
	// The check is one-sided: a pool that prices the output asset below
	// the oracle price never trips it.
	divergence, err := fixmath.Div(result.SpotPriceAfter, block.MaxRel)
	if err != nil {
		return QuoteResult{}, err
	}
	if divergence.GreaterThan(p.params.MaxUnpegRatio) {
		return QuoteResult{}, ErrPriceUnpegged
	}
	return result, nil
}

// settle applies the priced swap: reserve effects first, then token
// interactions, rolling reserves back if a transfer fails.
func (p *Pool) settle(ctx context.Context, caller string, q QuoteResult) (*model.SwapRecord, error) {
	bIn, bOut := p.bindings[q.AssetIn], p.bindings[q.AssetOut]
	prevIn, prevOut := bIn.record.Balance, bOut.record.Balance

	bIn.record.Balance = prevIn.Add(q.AmountIn)
	bOut.record.Balance = prevOut.Sub(q.AmountOut)

	if err := p.collect(ctx, q.AssetIn, caller, q.AmountIn); err != nil {
		bIn.record.Balance, bOut.record.Balance = prevIn, prevOut
		return nil, err
	}
	if err := p.refund(ctx, q.AssetOut, caller, q.AmountOut); err != nil {
		bOut.record.Balance = prevOut
		// Give the collected input back. Should that transfer fail too,
		// the input stays credited to the reserve so reserves keep
		// tracking token holdings.
		if cerr := p.refund(ctx, q.AssetIn, caller, q.AmountIn); cerr == nil {
			bIn.record.Balance = prevIn
		}
		return nil, err
	}

	rec := &model.SwapRecord{
		ID:             uuid.NewString(),
		PoolID:         p.id,
		Caller:         caller,
		Kind:           q.Kind,
		AssetIn:        q.AssetIn,
		AssetOut:       q.AssetOut,
		AmountIn:       q.AmountIn,
		AmountOut:      q.AmountOut,
		SpreadAboveOne: q.SpreadAboveOne,
		SpotPriceAfter: q.SpotPriceAfter,
		OraclePriceIn:  q.OraclePriceIn,
		OraclePriceOut: q.OraclePriceOut,
		Timestamp:      p.clock.Now().UTC(),
	}
	return rec, nil
}

// collect pulls amount of an asset from the caller into the pool.
func (p *Pool) collect(ctx context.Context, assetSym, from string, amount decimal.Decimal) error {
	t, ok := p.tokens[assetSym]
	if !ok {
		return nil
	}
	return t.TransferFrom(ctx, p.id, from, p.id, amount)
}

// refund pushes amount of an asset from the pool to the caller.
func (p *Pool) refund(ctx context.Context, assetSym, to string, amount decimal.Decimal) error {
	t, ok := p.tokens[assetSym]
	if !ok {
		return nil
	}
	return t.Transfer(ctx, p.id, to, amount)
}

func (p *Pool) checkWeight(weight, replaced decimal.Decimal) error {
	if weight.LessThan(MinWeight) || weight.GreaterThan(MaxWeight) {
		return ErrWeightOutOfRange
	}
	total := weight
	for _, b := range p.bindings {
		total = total.Add(b.record.Weight)
	}
	total = total.Sub(replaced)
	if total.GreaterThan(MaxTotalWeight) {
		return ErrTotalWeightExceeded
	}
	return nil
}

// resolveBinding reads the feed's metadata and latest price for the
// binding record. A feed that cannot produce a current price fails the
// bind closed.
func (p *Pool) resolveBinding(ctx context.Context, sym string, balance, weight decimal.Decimal, feedID string) (model.BindingRecord, oracle.Feed, error) {
	feed, err := p.feeds.Resolve(feedID)
	if err != nil {
		return model.BindingRecord{}, nil, err
	}
	decimals, err := feed.Decimals(ctx)
	if err != nil {
		return model.BindingRecord{}, nil, err
	}
	desc, err := feed.Description(ctx)
	if err != nil {
		return model.BindingRecord{}, nil, err
	}
	pair, err := asset.ParsePair(desc)
	if err != nil {
		return model.BindingRecord{}, nil, err
	}
	now := p.clock.Now().Unix()
	hist, err := oracle.FetchHistory(ctx, feed, 1, p.params.LookbackSec, now)
	if err != nil {
		return model.BindingRecord{}, nil, err
	}
	latest, _ := hist.Latest()

	rec := model.BindingRecord{
		Asset:        sym,
		Balance:      balance,
		Weight:       weight,
		FeedID:       feedID,
		FeedDecimals: decimals,
		FeedPair:     pair.String(),
		BindPrice:    latest.Price,
	}
	return rec, feed, nil
}

// SpotPrice reports the current pool spot price between two bound
// assets, fee included.
func (p *Pool) SpotPrice(assetIn, assetOut string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bIn, ok := p.bindings[assetIn]
	if !ok {
		return decimal.Zero, ErrUnboundAsset
	}
	bOut, ok := p.bindings[assetOut]
	if !ok {
		return decimal.Zero, ErrUnboundAsset
	}
	return weighted.SpotPrice(bIn.record.Balance, bIn.record.Weight, bOut.record.Balance, bOut.record.Weight, p.params.SwapFee)
}
