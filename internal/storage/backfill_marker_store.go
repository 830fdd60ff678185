package storage

import "context"

// BackfillMarker records the last completed backfill for one
// (market_key, target) pair.
type BackfillMarker struct {
	MarketKey   string // market the backfill covered
	Target      string // destination table, e.g. "candles_5m" or "latest_values"
	From        int64  // range start in unix ms, inclusive
	To          int64  // range end in unix ms, exclusive
	RowsWritten int64  // rows produced for the target
	CompletedAt int64  // completion time in unix ms
}

// BackfillMarkerStore persists advisory backfill progress. Markers are
// informational only: backfills recompute from raw data and never
// consult them for correctness.
type BackfillMarkerStore interface {
	// Get returns the marker for one (market_key, target). Returns
	// ErrNotFound if that pair has never completed a backfill.
	Get(ctx context.Context, marketKey, target string) (*BackfillMarker, error)

	// Set overwrites the marker for (marker.MarketKey, marker.Target).
	Set(ctx context.Context, marker *BackfillMarker) error

	// GetByMarket returns all markers for a market, ordered by target ASC.
	GetByMarket(ctx context.Context, marketKey string) ([]*BackfillMarker, error)

	// DeleteByMarket removes all markers for a market. Returns the
	// number of markers removed.
	DeleteByMarket(ctx context.Context, marketKey string) (int64, error)
}
