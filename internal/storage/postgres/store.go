package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"idoScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS sale_pools (
	chain_id        BIGINT      NOT NULL,
	contract        TEXT        NOT NULL,
	pool_id         BIGINT      NOT NULL,
	name            TEXT        NOT NULL,
	owner           TEXT        NOT NULL,
	sale_token      TEXT        NOT NULL,
	base_token      TEXT        NOT NULL,
	curve_type      SMALLINT    NOT NULL,
	offering_amount NUMERIC     NOT NULL,
	start_time      BIGINT      NOT NULL,
	end_time        BIGINT      NOT NULL,
	created_block   BIGINT      NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, contract, pool_id)
);

CREATE TABLE IF NOT EXISTS sale_pool_window_metrics (
	chain_id            BIGINT      NOT NULL,
	contract            TEXT        NOT NULL,
	pool_id             BIGINT      NOT NULL,
	window_size_seconds BIGINT      NOT NULL,
	window_start_ts     TIMESTAMPTZ NOT NULL,
	window_end_ts       TIMESTAMPTZ NOT NULL,
	purchase_count      BIGINT      NOT NULL,
	unique_buyers       BIGINT      NOT NULL,
	base_raised         NUMERIC     NOT NULL,
	sale_sold           NUMERIC     NOT NULL,
	fees                NUMERIC     NOT NULL,
	referral_fees       NUMERIC     NOT NULL,
	avg_price           NUMERIC,
	sold_cumulative     NUMERIC     NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, contract, pool_id, window_size_seconds, window_start_ts)
);

CREATE TABLE IF NOT EXISTS indexer_state (
	name              TEXT PRIMARY KEY,
	last_processed_ts BIGINT      NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for sale pools and their metrics.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// UpsertSalePools inserts or updates pool records. The earliest created block wins.
func (s *Store) UpsertSalePools(ctx context.Context, pools []model.SalePool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO sale_pools (
				chain_id, contract, pool_id, name, owner, sale_token, base_token, curve_type,
				offering_amount, start_time, end_time, created_block, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
			ON CONFLICT (chain_id, contract, pool_id)
			DO UPDATE SET
				name = EXCLUDED.name,
				owner = EXCLUDED.owner,
				sale_token = EXCLUDED.sale_token,
				base_token = EXCLUDED.base_token,
				curve_type = EXCLUDED.curve_type,
				offering_amount = EXCLUDED.offering_amount,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				created_block = LEAST(sale_pools.created_block, EXCLUDED.created_block),
				updated_at = now()
		`,
			int64(pool.ChainID),
			pool.Contract,
			int64(pool.PoolID),
			pool.Name,
			pool.Owner,
			pool.SaleToken,
			pool.BaseToken,
			int16(pool.CurveType),
			pool.OfferingAmount,
			int64(pool.StartTime),
			int64(pool.EndTime),
			int64(pool.CreatedBlock),
		)
	}
	return s.sendBatch(ctx, batch, len(pools))
}

// UpsertSaleWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertSaleWindowMetrics(ctx context.Context, metrics []model.SaleWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO sale_pool_window_metrics (
				chain_id, contract, pool_id, window_size_seconds, window_start_ts, window_end_ts,
				purchase_count, unique_buyers, base_raised, sale_sold, fees, referral_fees,
				avg_price, sold_cumulative, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
			ON CONFLICT (chain_id, contract, pool_id, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				purchase_count = EXCLUDED.purchase_count,
				unique_buyers = EXCLUDED.unique_buyers,
				base_raised = EXCLUDED.base_raised,
				sale_sold = EXCLUDED.sale_sold,
				fees = EXCLUDED.fees,
				referral_fees = EXCLUDED.referral_fees,
				avg_price = EXCLUDED.avg_price,
				sold_cumulative = EXCLUDED.sold_cumulative,
				updated_at = now()
		`,
			int64(m.ChainID),
			m.Contract,
			int64(m.PoolID),
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.PurchaseCount),
			int64(m.UniqueBuyers),
			m.BaseRaised,
			m.SaleSold,
			m.Fees,
			m.ReferralFees,
			m.AvgPrice,
			m.SoldCumulative,
		)
	}
	return s.sendBatch(ctx, batch, len(metrics))
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}
