package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/errcode"
	"github.com/ammlabs/coverage-engine/internal/model"
)

// ErrDuplicatePool is returned when creating a pool whose ID exists.
var ErrDuplicatePool = errcode.New("POOL_EXISTS", "store: pool already exists")

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	pools map[string]*model.PoolRecord
	swaps []model.SwapRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[string]*model.PoolRecord),
	}
}

func (s *MemoryStore) CreatePool(_ context.Context, p *model.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; ok {
		return ErrDuplicatePool
	}
	cp := clonePool(p)
	s.pools[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.PoolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := clonePool(p)
	return &cp, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.PoolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.PoolRecord, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, clonePool(p))
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].CreatedAt.After(pools[j].CreatedAt) })
	return pools, nil
}

func (s *MemoryStore) UpdatePool(_ context.Context, p *model.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; !ok {
		return ErrNotFound
	}
	cp := clonePool(p)
	s.pools[p.ID] = &cp
	return nil
}

func (s *MemoryStore) InsertSwap(_ context.Context, swap *model.SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.swaps = append(s.swaps, *swap)
	return nil
}

func (s *MemoryStore) GetSwapsByPool(_ context.Context, poolID string) ([]model.SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SwapRecord
	for _, sw := range s.swaps {
		if sw.PoolID == poolID {
			result = append(result, sw)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetSwapsByCaller(_ context.Context, caller string) ([]model.SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SwapRecord
	for _, sw := range s.swaps {
		if sw.Caller == caller {
			result = append(result, sw)
		}
	}
	return result, nil
}

// GetPoolVolume sums each asset's traded amounts across the pool's swap
// ledger, counting the input and output legs alike.
func (s *MemoryStore) GetPoolVolume(_ context.Context, poolID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	volume := make(map[string]decimal.Decimal)
	for _, sw := range s.swaps {
		if sw.PoolID != poolID {
			continue
		}
		volume[sw.AssetIn] = volume[sw.AssetIn].Add(sw.AmountIn)
		volume[sw.AssetOut] = volume[sw.AssetOut].Add(sw.AmountOut)
	}
	return volume, nil
}

// clonePool deep-copies a record so callers cannot mutate stored state.
func clonePool(p *model.PoolRecord) model.PoolRecord {
	cp := *p
	cp.Bindings = append([]model.BindingRecord(nil), p.Bindings...)
	return cp
}
