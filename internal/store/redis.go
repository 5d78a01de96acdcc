package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Only pool snapshots
// are cached; the swap ledger and volume aggregates pass through, and
// oracle data never enters a cache at all.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.PoolRecord) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cachePool(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePool(ctx context.Context, p *model.PoolRecord) error {
	if err := s.primary.UpdatePool(ctx, p); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, poolKey(p.ID))
	return nil
}

func (s *CachedStore) InsertSwap(ctx context.Context, sw *model.SwapRecord) error {
	if err := s.primary.InsertSwap(ctx, sw); err != nil {
		return err
	}
	// The swap changed the pool's reserves.
	s.rdb.Del(ctx, poolKey(sw.PoolID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.PoolRecord, error) {
	data, err := s.rdb.Get(ctx, poolKey(id)).Bytes()
	if err == nil {
		var p model.PoolRecord
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePool(ctx, p)
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.PoolRecord, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) GetSwapsByPool(ctx context.Context, poolID string) ([]model.SwapRecord, error) {
	return s.primary.GetSwapsByPool(ctx, poolID)
}

func (s *CachedStore) GetSwapsByCaller(ctx context.Context, caller string) ([]model.SwapRecord, error) {
	return s.primary.GetSwapsByCaller(ctx, caller)
}

func (s *CachedStore) GetPoolVolume(ctx context.Context, poolID string) (map[string]decimal.Decimal, error) {
	return s.primary.GetPoolVolume(ctx, poolID)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.PoolRecord) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(p.ID), data, s.ttl)
	}
}

func poolKey(id string) string { return fmt.Sprintf("pool:%s", id) }
