package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.PoolRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO pools (id, controller, status, public_swap, paused,
		                    swap_fee, z, horizon_sec, lookback_rounds, lookback_sec, lookback_stride,
		                    max_unpeg_ratio, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11, $12::NUMERIC, $13)`,
		p.ID, p.Controller, p.Status, p.PublicSwap, p.Paused,
		p.SwapFee.String(), p.Z.String(), p.HorizonSec,
		p.LookbackRounds, p.LookbackSec, p.LookbackStride,
		p.MaxUnpegRatio.String(), p.CreatedAt,
	)
	if err != nil {
		return err
	}
	if err := insertBindings(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.PoolRecord, error) {
	p, err := scanPool(s.pool.QueryRow(ctx, selectPool+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	if err := s.loadBindings(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.PoolRecord, error) {
	rows, err := s.pool.Query(ctx, selectPool+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.PoolRecord
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range pools {
		if err := s.loadBindings(ctx, &pools[i]); err != nil {
			return nil, err
		}
	}
	return pools, nil
}

// UpdatePool replaces the snapshot: the pool row is updated in place and
// the bindings are rewritten, all in one transaction.
func (s *PostgresStore) UpdatePool(ctx context.Context, p *model.PoolRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE pools
		 SET status = $2, public_swap = $3, paused = $4,
		     swap_fee = $5::NUMERIC, z = $6::NUMERIC, horizon_sec = $7,
		     lookback_rounds = $8, lookback_sec = $9, lookback_stride = $10,
		     max_unpeg_ratio = $11::NUMERIC
		 WHERE id = $1`,
		p.ID, p.Status, p.PublicSwap, p.Paused,
		p.SwapFee.String(), p.Z.String(), p.HorizonSec,
		p.LookbackRounds, p.LookbackSec, p.LookbackStride,
		p.MaxUnpegRatio.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pool_bindings WHERE pool_id = $1`, p.ID); err != nil {
		return err
	}
	if err := insertBindings(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) InsertSwap(ctx context.Context, sw *model.SwapRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO swaps (id, pool_id, caller, kind, asset_in, asset_out,
		                    amount_in, amount_out, spread_above_one, spot_price_after,
		                    oracle_price_in, oracle_price_out, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11::NUMERIC, $12::NUMERIC, $13)`,
		sw.ID, sw.PoolID, sw.Caller, sw.Kind, sw.AssetIn, sw.AssetOut,
		sw.AmountIn.String(), sw.AmountOut.String(),
		sw.SpreadAboveOne.String(), sw.SpotPriceAfter.String(),
		sw.OraclePriceIn.String(), sw.OraclePriceOut.String(),
		sw.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetSwapsByPool(ctx context.Context, poolID string) ([]model.SwapRecord, error) {
	rows, err := s.pool.Query(ctx, selectSwap+` WHERE pool_id = $1 ORDER BY timestamp`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSwaps(rows)
}

func (s *PostgresStore) GetSwapsByCaller(ctx context.Context, caller string) ([]model.SwapRecord, error) {
	rows, err := s.pool.Query(ctx, selectSwap+` WHERE caller = $1 ORDER BY timestamp`, caller)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSwaps(rows)
}

func (s *PostgresStore) GetPoolVolume(ctx context.Context, poolID string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset, SUM(amount)::TEXT FROM (
		     SELECT asset_in  AS asset, amount_in  AS amount FROM swaps WHERE pool_id = $1
		     UNION ALL
		     SELECT asset_out AS asset, amount_out AS amount FROM swaps WHERE pool_id = $1
		 ) legs GROUP BY asset`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	volume := make(map[string]decimal.Decimal)
	for rows.Next() {
		var asset, amountS string
		if err := rows.Scan(&asset, &amountS); err != nil {
			return nil, err
		}
		amount, _ := decimal.NewFromString(amountS)
		volume[asset] = amount
	}
	return volume, rows.Err()
}

const selectPool = `SELECT id, controller, status, public_swap, paused,
        swap_fee::TEXT, z::TEXT, horizon_sec,
        lookback_rounds, lookback_sec, lookback_stride,
        max_unpeg_ratio::TEXT, created_at
 FROM pools`

const selectSwap = `SELECT id, pool_id, caller, kind, asset_in, asset_out,
        amount_in::TEXT, amount_out::TEXT, spread_above_one::TEXT, spot_price_after::TEXT,
        oracle_price_in::TEXT, oracle_price_out::TEXT, timestamp
 FROM swaps`

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanPool(row pgxRow) (*model.PoolRecord, error) {
	var p model.PoolRecord
	var swapFee, z, maxUnpeg string

	err := row.Scan(&p.ID, &p.Controller, &p.Status, &p.PublicSwap, &p.Paused,
		&swapFee, &z, &p.HorizonSec,
		&p.LookbackRounds, &p.LookbackSec, &p.LookbackStride,
		&maxUnpeg, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.SwapFee, _ = decimal.NewFromString(swapFee)
	p.Z, _ = decimal.NewFromString(z)
	p.MaxUnpegRatio, _ = decimal.NewFromString(maxUnpeg)
	return &p, nil
}

func (s *PostgresStore) loadBindings(ctx context.Context, p *model.PoolRecord) error {
	rows, err := s.pool.Query(ctx,
		`SELECT asset, balance::TEXT, weight::TEXT, feed_id, feed_decimals, feed_pair, bind_price::TEXT
		 FROM pool_bindings WHERE pool_id = $1 ORDER BY position`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var b model.BindingRecord
		var balance, weight, bindPrice string
		if err := rows.Scan(&b.Asset, &balance, &weight, &b.FeedID, &b.FeedDecimals, &b.FeedPair, &bindPrice); err != nil {
			return err
		}
		b.Balance, _ = decimal.NewFromString(balance)
		b.Weight, _ = decimal.NewFromString(weight)
		b.BindPrice, _ = decimal.NewFromString(bindPrice)
		p.Bindings = append(p.Bindings, b)
	}
	return rows.Err()
}

func insertBindings(ctx context.Context, tx pgx.Tx, p *model.PoolRecord) error {
	for i, b := range p.Bindings {
		_, err := tx.Exec(ctx,
			`INSERT INTO pool_bindings (pool_id, position, asset, balance, weight, feed_id, feed_decimals, feed_pair, bind_price)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9::NUMERIC)`,
			p.ID, i, b.Asset, b.Balance.String(), b.Weight.String(),
			b.FeedID, b.FeedDecimals, b.FeedPair, b.BindPrice.String(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func scanSwaps(rows pgx.Rows) ([]model.SwapRecord, error) {
	var swaps []model.SwapRecord
	for rows.Next() {
		var sw model.SwapRecord
		var amountIn, amountOut, spread, spotAfter, priceIn, priceOut string

		if err := rows.Scan(&sw.ID, &sw.PoolID, &sw.Caller, &sw.Kind, &sw.AssetIn, &sw.AssetOut,
			&amountIn, &amountOut, &spread, &spotAfter,
			&priceIn, &priceOut, &sw.Timestamp); err != nil {
			return nil, err
		}

		sw.AmountIn, _ = decimal.NewFromString(amountIn)
		sw.AmountOut, _ = decimal.NewFromString(amountOut)
		sw.SpreadAboveOne, _ = decimal.NewFromString(spread)
		sw.SpotPriceAfter, _ = decimal.NewFromString(spotAfter)
		sw.OraclePriceIn, _ = decimal.NewFromString(priceIn)
		sw.OraclePriceOut, _ = decimal.NewFromString(priceOut)

		swaps = append(swaps, sw)
	}
	return swaps, rows.Err()
}
