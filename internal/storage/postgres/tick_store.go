package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// TickStore implements storage.TickStore using PostgreSQL.
type TickStore struct {
	pool *Pool
}

// NewTickStore creates a new TickStore.
func NewTickStore(pool *Pool) *TickStore {
	return &TickStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TickStore = (*TickStore)(nil)

const insertTickQuery = `
	INSERT INTO ticks (
		id, market_key, symbol, timestamp, price, size, side, arrival_seq, ingested_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// Insert adds a new tick. Returns ErrDuplicateKey if exists.
func (s *TickStore) Insert(ctx context.Context, t *domain.Tick) error {
	_, err := s.pool.Exec(ctx, insertTickQuery,
		t.ID,
		t.MarketKey,
		t.Symbol,
		t.Timestamp,
		t.Price,
		t.Size,
		t.Side,
		t.ArrivalSeq,
		t.IngestedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert tick: %w", err)
	}
	return nil
}

// InsertBulk adds multiple ticks. Redelivered ticks are skipped via
// ON CONFLICT DO NOTHING, so replays are idempotent.
func (s *TickStore) InsertBulk(ctx context.Context, ticks []*domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := insertTickQuery + ` ON CONFLICT (id) DO NOTHING`

	for _, t := range ticks {
		_, err := tx.Exec(ctx, query,
			t.ID,
			t.MarketKey,
			t.Symbol,
			t.Timestamp,
			t.Price,
			t.Size,
			t.Side,
			t.ArrivalSeq,
			t.IngestedAt,
		)
		if err != nil {
			return fmt.Errorf("insert tick in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByMarketRange retrieves ticks for a market with timestamp in
// [from, to), ordered by (timestamp, arrival_seq) ASC.
func (s *TickStore) GetByMarketRange(ctx context.Context, marketKey string, from, to int64) ([]*domain.Tick, error) {
	query := `
		SELECT id, market_key, symbol, timestamp, price, size, side, arrival_seq, ingested_at
		FROM ticks
		WHERE market_key = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, arrival_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, marketKey, from, to)
	if err != nil {
		return nil, fmt.Errorf("get ticks by market range: %w", err)
	}
	defer rows.Close()

	return scanTicks(rows)
}

// GetTimeBounds returns the min and max tick timestamp for a market.
func (s *TickStore) GetTimeBounds(ctx context.Context, marketKey string) (int64, int64, error) {
	query := `SELECT min(timestamp), max(timestamp) FROM ticks WHERE market_key = $1`

	var min, max *int64
	if err := s.pool.QueryRow(ctx, query, marketKey).Scan(&min, &max); err != nil {
		return 0, 0, fmt.Errorf("get tick time bounds: %w", err)
	}
	if min == nil || max == nil {
		return 0, 0, storage.ErrNotFound
	}
	return *min, *max, nil
}

// MaxArrivalSeq returns the largest arrival_seq recorded, or 0 when empty.
func (s *TickStore) MaxArrivalSeq(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(max(arrival_seq), 0) FROM ticks`

	var max int64
	if err := s.pool.QueryRow(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("get max arrival seq: %w", err)
	}
	return max, nil
}

// RetagMarketKey rewrites the market_key of matching ticks.
func (s *TickStore) RetagMarketKey(ctx context.Context, oldKey, newKey string) (int64, error) {
	if oldKey == "" || newKey == "" {
		return 0, storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `UPDATE ticks SET market_key = $2 WHERE market_key = $1`, oldKey, newKey)
	if err != nil {
		return 0, fmt.Errorf("retag ticks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByMarket removes all ticks for a market.
func (s *TickStore) DeleteByMarket(ctx context.Context, marketKey string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ticks WHERE market_key = $1`, marketKey)
	if err != nil {
		return 0, fmt.Errorf("delete ticks by market: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanTicks scans multiple rows into a slice of Tick.
func scanTicks(rows pgx.Rows) ([]*domain.Tick, error) {
	var ticks []*domain.Tick

	for rows.Next() {
		var t domain.Tick

		err := rows.Scan(
			&t.ID,
			&t.MarketKey,
			&t.Symbol,
			&t.Timestamp,
			&t.Price,
			&t.Size,
			&t.Side,
			&t.ArrivalSeq,
			&t.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tick row: %w", err)
		}

		ticks = append(ticks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tick rows: %w", err)
	}

	return ticks, nil
}
