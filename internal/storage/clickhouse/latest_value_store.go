package clickhouse

import (
	"context"
	"fmt"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// LatestValueStore implements storage.LatestValueStore using ClickHouse.
//
// Every merged candidate is appended as its own row; the table's sort
// key includes (version, value), so background merges only collapse
// exact redeliveries and never have to pick between candidates. Reads
// resolve the winner per natural key with an argMax over the
// (version, value) tuple, which matches the dedup package's merge
// rule exactly.
type LatestValueStore struct {
	conn *Conn
}

// NewLatestValueStore creates a new LatestValueStore.
func NewLatestValueStore(conn *Conn) *LatestValueStore {
	return &LatestValueStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LatestValueStore = (*LatestValueStore)(nil)

// Merge folds one candidate into the store.
func (s *LatestValueStore) Merge(ctx context.Context, lv *domain.LatestValue) error {
	return s.MergeBulk(ctx, []*domain.LatestValue{lv})
}

// MergeBulk folds multiple candidates into the store.
func (s *LatestValueStore) MergeBulk(ctx context.Context, lvs []*domain.LatestValue) error {
	if len(lvs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO latest_values (
			market_key, series_key, timestamp, x, value, version, updated_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, lv := range lvs {
		if lv == nil || lv.MarketKey == "" || lv.SeriesKey == "" {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			lv.MarketKey, lv.SeriesKey, lv.Timestamp, lv.X,
			lv.Value, lv.Version, lv.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

const latestValueSelect = `
	SELECT
		market_key,
		series_key,
		timestamp,
		x,
		argMax(value, (version, value)) AS value,
		max(version) AS version,
		max(updated_at) AS updated_at
	FROM latest_values
`

// Get retrieves the authoritative value for one natural key. Returns
// ErrNotFound if the key has never been written.
func (s *LatestValueStore) Get(ctx context.Context, marketKey, seriesKey string, timestamp, x int64) (*domain.LatestValue, error) {
	query := latestValueSelect + `
		WHERE market_key = ? AND series_key = ? AND timestamp = ? AND x = ?
		GROUP BY market_key, series_key, timestamp, x
	`

	rows, err := s.conn.Query(ctx, query, marketKey, seriesKey, timestamp, x)
	if err != nil {
		return nil, fmt.Errorf("query latest value: %w", err)
	}
	defer rows.Close()

	lvs, err := scanLatestValues(rows)
	if err != nil {
		return nil, err
	}
	if len(lvs) == 0 {
		return nil, storage.ErrNotFound
	}
	return lvs[0], nil
}

// GetSeries retrieves the authoritative value of every key under one
// (market_key, series_key), ordered by (timestamp, x) ASC.
func (s *LatestValueStore) GetSeries(ctx context.Context, marketKey, seriesKey string) ([]*domain.LatestValue, error) {
	query := latestValueSelect + `
		WHERE market_key = ? AND series_key = ?
		GROUP BY market_key, series_key, timestamp, x
		ORDER BY timestamp ASC, x ASC
	`

	rows, err := s.conn.Query(ctx, query, marketKey, seriesKey)
	if err != nil {
		return nil, fmt.Errorf("query latest value series: %w", err)
	}
	defer rows.Close()

	return scanLatestValues(rows)
}

// DeleteByMarket removes all latest values for a market. The delete
// runs as an asynchronous mutation.
func (s *LatestValueStore) DeleteByMarket(ctx context.Context, marketKey string) error {
	err := s.conn.Exec(ctx, `ALTER TABLE latest_values DELETE WHERE market_key = ?`, marketKey)
	if err != nil {
		return fmt.Errorf("delete latest values by market: %w", err)
	}
	return nil
}

// scanLatestValues scans multiple rows into a slice of LatestValue.
func scanLatestValues(rows chRows) ([]*domain.LatestValue, error) {
	var lvs []*domain.LatestValue

	for rows.Next() {
		var lv domain.LatestValue

		err := rows.Scan(
			&lv.MarketKey, &lv.SeriesKey, &lv.Timestamp, &lv.X,
			&lv.Value, &lv.Version, &lv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan latest value row: %w", err)
		}

		lvs = append(lvs, &lv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest value rows: %w", err)
	}

	return lvs, nil
}
