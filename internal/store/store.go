// Package store defines the persistence interface for the coverage pool
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing). Only pool snapshots
// and the swap ledger are persisted; oracle data is never cached.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/errcode"
	"github.com/ammlabs/coverage-engine/internal/model"
)

// ErrNotFound is returned when a requested pool does not exist.
var ErrNotFound = errcode.New("POOL_NOT_FOUND", "store: pool not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Pool snapshots ---

	// CreatePool persists a new pool snapshot, bindings included.
	CreatePool(ctx context.Context, pool *model.PoolRecord) error

	// GetPool retrieves a pool snapshot by ID.
	GetPool(ctx context.Context, id string) (*model.PoolRecord, error)

	// ListPools returns all pool snapshots.
	ListPools(ctx context.Context) ([]model.PoolRecord, error)

	// UpdatePool replaces a pool's snapshot after a state change.
	UpdatePool(ctx context.Context, pool *model.PoolRecord) error

	// --- Immutable swap ledger ---

	// InsertSwap appends an immutable swap record.
	InsertSwap(ctx context.Context, swap *model.SwapRecord) error

	// GetSwapsByPool returns all swaps executed against a pool.
	GetSwapsByPool(ctx context.Context, poolID string) ([]model.SwapRecord, error)

	// GetSwapsByCaller returns all swaps executed by a caller.
	GetSwapsByCaller(ctx context.Context, caller string) ([]model.SwapRecord, error)

	// GetPoolVolume aggregates per-asset traded volume (input plus
	// output side) from the swap ledger.
	GetPoolVolume(ctx context.Context, poolID string) (map[string]decimal.Decimal, error)
}
