package postgres

import (
	"context"
	"fmt"

	"market-rollup/internal/storage"
)

// BackfillMarkerStore implements storage.BackfillMarkerStore using PostgreSQL.
type BackfillMarkerStore struct {
	pool *Pool
}

// NewBackfillMarkerStore creates a new BackfillMarkerStore.
func NewBackfillMarkerStore(pool *Pool) *BackfillMarkerStore {
	return &BackfillMarkerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BackfillMarkerStore = (*BackfillMarkerStore)(nil)

// Get returns the marker for one (market_key, target).
func (s *BackfillMarkerStore) Get(ctx context.Context, marketKey, target string) (*storage.BackfillMarker, error) {
	query := `
		SELECT market_key, target, from_ts, to_ts, rows_written, completed_at
		FROM backfill_markers
		WHERE market_key = $1 AND target = $2
	`

	var m storage.BackfillMarker
	err := s.pool.QueryRow(ctx, query, marketKey, target).Scan(
		&m.MarketKey, &m.Target, &m.From, &m.To, &m.RowsWritten, &m.CompletedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get backfill marker: %w", err)
	}
	return &m, nil
}

// Set overwrites the marker for (marker.MarketKey, marker.Target).
func (s *BackfillMarkerStore) Set(ctx context.Context, marker *storage.BackfillMarker) error {
	if marker == nil || marker.MarketKey == "" || marker.Target == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO backfill_markers (market_key, target, from_ts, to_ts, rows_written, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_key, target) DO UPDATE SET
			from_ts = EXCLUDED.from_ts,
			to_ts = EXCLUDED.to_ts,
			rows_written = EXCLUDED.rows_written,
			completed_at = EXCLUDED.completed_at
	`

	_, err := s.pool.Exec(ctx, query,
		marker.MarketKey, marker.Target, marker.From, marker.To, marker.RowsWritten, marker.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("set backfill marker: %w", err)
	}
	return nil
}

// GetByMarket returns all markers for a market, ordered by target ASC.
func (s *BackfillMarkerStore) GetByMarket(ctx context.Context, marketKey string) ([]*storage.BackfillMarker, error) {
	query := `
		SELECT market_key, target, from_ts, to_ts, rows_written, completed_at
		FROM backfill_markers
		WHERE market_key = $1
		ORDER BY target ASC
	`

	rows, err := s.pool.Query(ctx, query, marketKey)
	if err != nil {
		return nil, fmt.Errorf("get backfill markers by market: %w", err)
	}
	defer rows.Close()

	var markers []*storage.BackfillMarker
	for rows.Next() {
		var m storage.BackfillMarker
		if err := rows.Scan(&m.MarketKey, &m.Target, &m.From, &m.To, &m.RowsWritten, &m.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan backfill marker row: %w", err)
		}
		markers = append(markers, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backfill marker rows: %w", err)
	}

	return markers, nil
}

// DeleteByMarket removes all markers for a market.
func (s *BackfillMarkerStore) DeleteByMarket(ctx context.Context, marketKey string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backfill_markers WHERE market_key = $1`, marketKey)
	if err != nil {
		return 0, fmt.Errorf("delete backfill markers by market: %w", err)
	}
	return tag.RowsAffected(), nil
}
