package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// PointStore implements storage.PointStore using PostgreSQL.
type PointStore struct {
	pool *Pool
}

// NewPointStore creates a new PointStore.
func NewPointStore(pool *Pool) *PointStore {
	return &PointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PointStore = (*PointStore)(nil)

const insertPointQuery = `
	INSERT INTO points (
		id, market_key, series_key, timestamp, x, value, version, ingested_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Insert adds a new point. Returns ErrDuplicateKey if exists.
func (s *PointStore) Insert(ctx context.Context, p *domain.Point) error {
	_, err := s.pool.Exec(ctx, insertPointQuery,
		p.ID,
		p.MarketKey,
		p.SeriesKey,
		p.Timestamp,
		p.X,
		p.Value,
		p.Version,
		p.IngestedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert point: %w", err)
	}
	return nil
}

// InsertBulk adds multiple points. Redelivered points are skipped via
// ON CONFLICT DO NOTHING.
func (s *PointStore) InsertBulk(ctx context.Context, points []*domain.Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := insertPointQuery + ` ON CONFLICT (id) DO NOTHING`

	for _, p := range points {
		_, err := tx.Exec(ctx, query,
			p.ID,
			p.MarketKey,
			p.SeriesKey,
			p.Timestamp,
			p.X,
			p.Value,
			p.Version,
			p.IngestedAt,
		)
		if err != nil {
			return fmt.Errorf("insert point in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByMarketRange retrieves points for a market with timestamp in
// [from, to), ordered by (timestamp, version) ASC.
func (s *PointStore) GetByMarketRange(ctx context.Context, marketKey string, from, to int64) ([]*domain.Point, error) {
	query := `
		SELECT id, market_key, series_key, timestamp, x, value, version, ingested_at
		FROM points
		WHERE market_key = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, version ASC
	`

	rows, err := s.pool.Query(ctx, query, marketKey, from, to)
	if err != nil {
		return nil, fmt.Errorf("get points by market range: %w", err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

// GetBySeries retrieves all points for one (market_key, series_key),
// ordered by (timestamp, version) ASC.
func (s *PointStore) GetBySeries(ctx context.Context, marketKey, seriesKey string) ([]*domain.Point, error) {
	query := `
		SELECT id, market_key, series_key, timestamp, x, value, version, ingested_at
		FROM points
		WHERE market_key = $1 AND series_key = $2
		ORDER BY timestamp ASC, version ASC
	`

	rows, err := s.pool.Query(ctx, query, marketKey, seriesKey)
	if err != nil {
		return nil, fmt.Errorf("get points by series: %w", err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

// GetTimeBounds returns the min and max point timestamp for a market.
func (s *PointStore) GetTimeBounds(ctx context.Context, marketKey string) (int64, int64, error) {
	query := `SELECT min(timestamp), max(timestamp) FROM points WHERE market_key = $1`

	var min, max *int64
	if err := s.pool.QueryRow(ctx, query, marketKey).Scan(&min, &max); err != nil {
		return 0, 0, fmt.Errorf("get point time bounds: %w", err)
	}
	if min == nil || max == nil {
		return 0, 0, storage.ErrNotFound
	}
	return *min, *max, nil
}

// RetagMarketKey rewrites the market_key of matching points.
func (s *PointStore) RetagMarketKey(ctx context.Context, oldKey, newKey string) (int64, error) {
	if oldKey == "" || newKey == "" {
		return 0, storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `UPDATE points SET market_key = $2 WHERE market_key = $1`, oldKey, newKey)
	if err != nil {
		return 0, fmt.Errorf("retag points: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByMarket removes all points for a market.
func (s *PointStore) DeleteByMarket(ctx context.Context, marketKey string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM points WHERE market_key = $1`, marketKey)
	if err != nil {
		return 0, fmt.Errorf("delete points by market: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanPoints scans multiple rows into a slice of Point.
func scanPoints(rows pgx.Rows) ([]*domain.Point, error) {
	var points []*domain.Point

	for rows.Next() {
		var p domain.Point

		err := rows.Scan(
			&p.ID,
			&p.MarketKey,
			&p.SeriesKey,
			&p.Timestamp,
			&p.X,
			&p.Value,
			&p.Version,
			&p.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan point row: %w", err)
		}

		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate point rows: %w", err)
	}

	return points, nil
}
