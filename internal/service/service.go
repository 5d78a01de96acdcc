// Package service provides the HTTP handlers and business logic for
// creating coverage pools, executing swaps, and querying the ledger.
//
// All monetary values use shopspring/decimal — never float64 for money.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/errcode"
	"github.com/ammlabs/coverage-engine/internal/metrics"
	"github.com/ammlabs/coverage-engine/internal/model"
	"github.com/ammlabs/coverage-engine/internal/oracle"
	"github.com/ammlabs/coverage-engine/internal/pool"
	"github.com/ammlabs/coverage-engine/internal/store"
)

// Service handles pool operations. Live pools are held in memory and
// snapshotted to the store after every mutation; on startup Restore
// rebuilds them from the store (single-instance — horizontal scaling
// would need distributed locking).
type Service struct {
	store store.Store
	feeds *oracle.Registry
	clock pool.Clock

	mu    sync.RWMutex
	pools map[string]*pool.Pool

	wsHub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new pool service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, feeds *oracle.Registry, clock pool.Clock, hub *WSHub) *Service {
	return &Service{
		store: st,
		feeds: feeds,
		clock: clock,
		pools: make(map[string]*pool.Pool),
		wsHub: hub,
	}
}

// Restore rebuilds the live pool set from persisted snapshots.
func (s *Service) Restore(ctx context.Context) error {
	records, err := s.store.ListPools(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tradable := 0
	for _, rec := range records {
		p, err := pool.Restore(rec, s.feeds, s.clock)
		if err != nil {
			return err
		}
		s.pools[rec.ID] = p
		if rec.Status == model.StatusFinalized {
			tradable++
		}
	}
	metrics.ActivePools.Set(float64(tradable))
	slog.Info("pools restored", "count", len(records), "tradable", tradable)
	return nil
}

func (s *Service) livePool(id string) (*pool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for pool creation. Absent fields
// fall back to the default configuration.
type CreatePoolRequest struct {
	Controller     string           `json:"controller"`
	SwapFee        *decimal.Decimal `json:"swap_fee,omitempty"`
	Z              *decimal.Decimal `json:"z,omitempty"`
	HorizonSec     *int64           `json:"horizon_sec,omitempty"`
	LookbackRounds *int             `json:"lookback_rounds,omitempty"`
	LookbackSec    *int64           `json:"lookback_sec,omitempty"`
	LookbackStride *int             `json:"lookback_stride,omitempty"`
	MaxUnpegRatio  *decimal.Decimal `json:"max_unpeg_ratio,omitempty"`
}

// BindRequest is the JSON body for POST /pools/{poolID}/bindings.
type BindRequest struct {
	Caller  string          `json:"caller"`
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
	Weight  decimal.Decimal `json:"weight"`
	FeedID  string          `json:"feed_id"`
}

// RebindRequest is the JSON body for PUT /pools/{poolID}/bindings/{asset}.
type RebindRequest struct {
	Caller  string          `json:"caller"`
	Balance decimal.Decimal `json:"balance"`
	Weight  decimal.Decimal `json:"weight"`
}

// CallerRequest carries just the acting caller.
type CallerRequest struct {
	Caller string `json:"caller"`
}

// UpdateParamsRequest is the JSON body for PATCH /pools/{poolID}/params.
// Each present field is applied through its own setter.
type UpdateParamsRequest struct {
	Caller         string           `json:"caller"`
	PublicSwap     *bool            `json:"public_swap,omitempty"`
	Paused         *bool            `json:"paused,omitempty"`
	SwapFee        *decimal.Decimal `json:"swap_fee,omitempty"`
	Z              *decimal.Decimal `json:"z,omitempty"`
	HorizonSec     *int64           `json:"horizon_sec,omitempty"`
	LookbackRounds *int             `json:"lookback_rounds,omitempty"`
	LookbackSec    *int64           `json:"lookback_sec,omitempty"`
	LookbackStride *int             `json:"lookback_stride,omitempty"`
	MaxUnpegRatio  *decimal.Decimal `json:"max_unpeg_ratio,omitempty"`
}

// SwapRequest is the JSON body for POST /pools/{poolID}/swaps. Amount is
// the fixed leg: input for EXACT_IN, output for EXACT_OUT.
type SwapRequest struct {
	Caller       string          `json:"caller"`
	Kind         string          `json:"kind"`
	AssetIn      string          `json:"asset_in"`
	AssetOut     string          `json:"asset_out"`
	Amount       decimal.Decimal `json:"amount"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	MaxAmountIn  decimal.Decimal `json:"max_amount_in"`
	MaxPrice     decimal.Decimal `json:"max_price"`
}

// --- HTTP Handlers ---

// CreatePool handles POST /api/v1/pools
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Controller == "" {
		writeMessage(w, "controller is required", http.StatusBadRequest)
		return
	}

	params := pool.DefaultParams()
	if req.SwapFee != nil {
		params.SwapFee = *req.SwapFee
	}
	if req.Z != nil {
		params.Z = *req.Z
	}
	if req.HorizonSec != nil {
		params.HorizonSec = *req.HorizonSec
	}
	if req.LookbackRounds != nil {
		params.LookbackRounds = *req.LookbackRounds
	}
	if req.LookbackSec != nil {
		params.LookbackSec = *req.LookbackSec
	}
	if req.LookbackStride != nil {
		params.LookbackStride = *req.LookbackStride
	}
	if req.MaxUnpegRatio != nil {
		params.MaxUnpegRatio = *req.MaxUnpegRatio
	}

	p, err := pool.New(uuid.NewString(), req.Controller, s.feeds, s.clock, params)
	if err != nil {
		writeError(w, err)
		return
	}

	rec := p.Record()
	if err := s.store.CreatePool(r.Context(), &rec); err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	s.pools[rec.ID] = p
	s.mu.Unlock()

	slog.Info("pool created",
		"id", rec.ID,
		"controller", rec.Controller,
		"swap_fee", rec.SwapFee.String(),
		"z", rec.Z.String(),
		"horizon_sec", rec.HorizonSec,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	p, err := s.livePool(chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.Record())
}

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	records := make([]model.PoolRecord, 0, len(s.pools))
	for _, p := range s.pools {
		records = append(records, p.Record())
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// Bind handles POST /api/v1/pools/{poolID}/bindings
func (s *Service) Bind(w http.ResponseWriter, r *http.Request) {
	var req BindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := s.livePool(chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := p.Bind(ctx, req.Caller, req.Asset, req.Balance, req.Weight, req.FeedID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.persist(ctx, p); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("asset bound",
		"pool", p.ID(),
		"asset", req.Asset,
		"balance", req.Balance.String(),
		"weight", req.Weight.String(),
		"feed", req.FeedID,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p.Record())
}

// Rebind handles PUT /api/v1/pools/{poolID}/bindings/{asset}
func (s *Service) Rebind(w http.ResponseWriter, r *http.Request) {
	var req RebindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := s.livePool(chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := p.Rebind(ctx, req.Caller, chi.URLParam(r, "asset"), req.Balance, req.Weight); err != nil {
		writeError(w, err)
		return
	}
	if err := s.persist(ctx, p); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.Record())
}

// Unbind handles DELETE /api/v1/pools/{poolID}/bindings/{asset}
func (s *Service) Unbind(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := s.livePool(chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := p.Unbind(ctx, req.Caller, chi.URLParam(r, "asset")); err != nil {
		writeError(w, err)
		return
	}
	if err := s.persist(ctx, p); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.Record())
}

// Finalize handles POST /api/v1/pools/{poolID}/finalize
func (s *Service) Finalize(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := s.livePool(chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := p.Finalize(req.Caller); err != nil {
		writeError(w, err)
		return
	}
	if err := s.persist(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	metrics.ActivePools.Inc()

	slog.Info("pool finalized", "pool", p.ID())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.Record())
}

// UpdateParams handles PATCH /api/v1/pools/{poolID}/params
func (s *Service) UpdateParams(w http.ResponseWriter, r *http.Request) {
	var req UpdateParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := s.livePool(chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}

	if req.PublicSwap != nil {
		if err := p.SetPublicSwap(req.Caller, *req.PublicSwap); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Paused != nil {
		if err := p.SetPaused(req.Caller, *req.Paused); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.SwapFee != nil {
		if err := p.SetSwapFee(req.Caller, *req.SwapFee); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Z != nil || req.HorizonSec != nil {
		rec := p.Record()
		z, horizon := rec.Z, rec.HorizonSec
		if req.Z != nil {
			z = *req.Z
		}
		if req.HorizonSec != nil {
			horizon = *req.HorizonSec
		}
		if err := p.SetCoverage(req.Caller, z, horizon); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.LookbackRounds != nil || req.LookbackSec != nil || req.LookbackStride != nil {
		rec := p.Record()
		rounds, age, stride := rec.LookbackRounds, rec.LookbackSec, rec.LookbackStride
		if req.LookbackRounds != nil {
			rounds = *req.LookbackRounds
		}
		if req.LookbackSec != nil {
			age = *req.LookbackSec
		}
		if req.LookbackStride != nil {
			stride = *req.LookbackStride
		}
		if err := p.SetLookback(req.Caller, rounds, age, stride); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.MaxUnpegRatio != nil {
		if err := p.SetMaxUnpegRatio(req.Caller, *req.MaxUnpegRatio); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.persist(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.Record())
}

// ExecuteSwap handles POST /api/v1/pools/{poolID}/swaps
// Prices against the coverage curve, applies the reserve delta, and
// appends to the immutable swap ledger.
func (s *Service) ExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" {
		writeMessage(w, "caller is required", http.StatusBadRequest)
		return
	}
	if req.Kind != model.KindExactIn && req.Kind != model.KindExactOut {
		writeMessage(w, "kind must be EXACT_IN or EXACT_OUT", http.StatusBadRequest)
		return
	}
	p, err := s.livePool(chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()

	var rec *model.SwapRecord
	if req.Kind == model.KindExactIn {
		rec, err = p.SwapExactIn(ctx, req.Caller, req.AssetIn, req.Amount, req.AssetOut, req.MinAmountOut, req.MaxPrice)
	} else {
		rec, err = p.SwapExactOut(ctx, req.Caller, req.AssetIn, req.MaxAmountIn, req.AssetOut, req.Amount, req.MaxPrice)
	}
	if err != nil {
		code := errcode.CodeOf(err)
		metrics.SwapRejections.WithLabelValues(code).Inc()
		if errors.Is(err, oracle.ErrNoData) || errors.Is(err, oracle.ErrBadPrice) {
			metrics.OracleErrors.Inc()
		}
		writeError(w, err)
		return
	}

	if err := s.store.InsertSwap(ctx, rec); err != nil {
		writeError(w, err)
		return
	}
	if err := s.persist(ctx, p); err != nil {
		writeError(w, err)
		return
	}

	metrics.SwapsTotal.WithLabelValues(rec.Kind).Inc()
	metrics.SwapLatency.WithLabelValues(rec.Kind).Observe(time.Since(start).Seconds())
	spread, _ := rec.SpreadAboveOne.Float64()
	metrics.SpreadAboveOne.Observe(spread)
	amountIn, _ := rec.AmountIn.Float64()
	amountOut, _ := rec.AmountOut.Float64()
	metrics.PoolVolume.WithLabelValues(rec.PoolID, rec.AssetIn).Add(amountIn)
	metrics.PoolVolume.WithLabelValues(rec.PoolID, rec.AssetOut).Add(amountOut)

	slog.Info("swap executed",
		"swap_id", rec.ID,
		"pool", rec.PoolID,
		"caller", rec.Caller,
		"kind", rec.Kind,
		"asset_in", rec.AssetIn,
		"asset_out", rec.AssetOut,
		"amount_in", rec.AmountIn.String(),
		"amount_out", rec.AmountOut.String(),
		"spread", rec.SpreadAboveOne.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:           "swap_executed",
			PoolID:         rec.PoolID,
			AssetIn:        rec.AssetIn,
			AssetOut:       rec.AssetOut,
			AmountIn:       rec.AmountIn.String(),
			AmountOut:      rec.AmountOut.String(),
			SpotPrice:      rec.SpotPriceAfter.String(),
			SpreadAboveOne: rec.SpreadAboveOne.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// Quote handles GET /api/v1/pools/{poolID}/quote
// Query parameters: kind, asset_in, asset_out, amount.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	p, err := s.livePool(chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeMessage(w, "amount must be a decimal", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var result pool.QuoteResult
	switch q.Get("kind") {
	case model.KindExactIn, "":
		result, err = p.QuoteExactIn(ctx, q.Get("asset_in"), amount, q.Get("asset_out"))
	case model.KindExactOut:
		result, err = p.QuoteExactOut(ctx, q.Get("asset_in"), q.Get("asset_out"), amount)
	default:
		writeMessage(w, "kind must be EXACT_IN or EXACT_OUT", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.SwapRejections.WithLabelValues(errcode.CodeOf(err)).Inc()
		if errors.Is(err, oracle.ErrNoData) || errors.Is(err, oracle.ErrBadPrice) {
			metrics.OracleErrors.Inc()
		}
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetPoolSwaps handles GET /api/v1/pools/{poolID}/swaps
func (s *Service) GetPoolSwaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := s.store.GetSwapsByPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if swaps == nil {
		swaps = []model.SwapRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(swaps)
}

// GetCallerSwaps handles GET /api/v1/accounts/{caller}/swaps
func (s *Service) GetCallerSwaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := s.store.GetSwapsByCaller(r.Context(), chi.URLParam(r, "caller"))
	if err != nil {
		writeError(w, err)
		return
	}
	if swaps == nil {
		swaps = []model.SwapRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(swaps)
}

// GetPoolVolume handles GET /api/v1/pools/{poolID}/volume
func (s *Service) GetPoolVolume(w http.ResponseWriter, r *http.Request) {
	volume, err := s.store.GetPoolVolume(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(volume)
}

// persist snapshots a live pool back to the store.
func (s *Service) persist(ctx context.Context, p *pool.Pool) error {
	rec := p.Record()
	return s.store.UpdatePool(ctx, &rec)
}

// writeError maps a domain error code to an HTTP status and writes the
// JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := errcode.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(code))
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": code})
}

// writeMessage writes a JSON error response for request-shape problems
// that never reach the domain layer.
func writeMessage(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func statusFor(code string) int {
	switch code {
	case "POOL_NOT_FOUND", "ORACLE_UNKNOWN_FEED", "UNBOUND_ASSET":
		return http.StatusNotFound
	case "NOT_CONTROLLER":
		return http.StatusForbidden
	case "POOL_EXISTS", "ASSET_ALREADY_BOUND", "POOL_FINALIZED", "POOL_NOT_FINALIZED",
		"POOL_NOT_TRADABLE", "POOL_PAUSED", "REENTRANCY", "JIT_BLOCK_GAP",
		"LIMIT_OUT_NOT_MET", "LIMIT_IN_EXCEEDED", "PRICE_LIMIT_EXCEEDED",
		"PRICE_UNPEGGED", "RATIO_EXCEEDED", "INSUFFICIENT_BALANCE", "INSUFFICIENT_ALLOWANCE":
		return http.StatusConflict
	case "INVALID_AMOUNT", "INVALID_SYMBOL", "INVALID_PAIR", "PARAM_OUT_OF_RANGE",
		"WEIGHT_OUT_OF_RANGE", "TOTAL_WEIGHT_EXCEEDED", "TOO_MANY_ASSETS", "TOO_FEW_ASSETS",
		"SAME_ASSET", "AMOUNT_EXCEEDS_RESERVE", "BASE_OUT_OF_RANGE":
		return http.StatusBadRequest
	case "ORACLE_NO_DATA", "ORACLE_BAD_PRICE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
