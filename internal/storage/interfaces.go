package storage

import (
	"context"

	"market-rollup/internal/domain"
)

// TickStore provides access to raw tick storage.
type TickStore interface {
	// Insert adds a new tick. Returns ErrDuplicateKey if a tick with
	// the same content hash already exists.
	Insert(ctx context.Context, t *domain.Tick) error

	// InsertBulk adds multiple ticks. Redelivered ticks (same content
	// hash) are skipped, not errors, so replays are idempotent.
	InsertBulk(ctx context.Context, ticks []*domain.Tick) error

	// GetByMarketRange retrieves ticks for a market with timestamp in
	// [from, to), ordered by (timestamp, arrival_seq) ASC.
	GetByMarketRange(ctx context.Context, marketKey string, from, to int64) ([]*domain.Tick, error)

	// GetTimeBounds returns the min and max tick timestamp for a
	// market. Returns ErrNotFound if the market has no ticks.
	GetTimeBounds(ctx context.Context, marketKey string) (min, max int64, err error)

	// MaxArrivalSeq returns the largest arrival_seq recorded across all
	// markets, or 0 when the store is empty.
	MaxArrivalSeq(ctx context.Context) (int64, error)

	// RetagMarketKey rewrites the market_key of every tick currently
	// tagged with oldKey to newKey. Returns the number of rows changed.
	RetagMarketKey(ctx context.Context, oldKey, newKey string) (int64, error)

	// DeleteByMarket removes all ticks for a market. Returns the number
	// of rows removed.
	DeleteByMarket(ctx context.Context, marketKey string) (int64, error)
}

// PointStore provides access to raw point storage.
type PointStore interface {
	// Insert adds a new point. Returns ErrDuplicateKey if a point with
	// the same content hash already exists.
	Insert(ctx context.Context, p *domain.Point) error

	// InsertBulk adds multiple points. Redelivered points are skipped.
	InsertBulk(ctx context.Context, points []*domain.Point) error

	// GetByMarketRange retrieves points for a market with timestamp in
	// [from, to), ordered by (timestamp, version) ASC.
	GetByMarketRange(ctx context.Context, marketKey string, from, to int64) ([]*domain.Point, error)

	// GetBySeries retrieves all points for one (market_key, series_key),
	// ordered by (timestamp, version) ASC.
	GetBySeries(ctx context.Context, marketKey, seriesKey string) ([]*domain.Point, error)

	// GetTimeBounds returns the min and max point timestamp for a
	// market. Returns ErrNotFound if the market has no points.
	GetTimeBounds(ctx context.Context, marketKey string) (min, max int64, err error)

	// RetagMarketKey rewrites the market_key of every point currently
	// tagged with oldKey to newKey. Returns the number of rows changed.
	RetagMarketKey(ctx context.Context, oldKey, newKey string) (int64, error)

	// DeleteByMarket removes all points for a market. Returns the
	// number of rows removed.
	DeleteByMarket(ctx context.Context, marketKey string) (int64, error)
}

// SymbolMappingStore provides access to symbol_mappings storage.
// Mappings are append-only: a symbol resolves to exactly one market
// key forever.
type SymbolMappingStore interface {
	// Insert adds a new mapping. Returns ErrDuplicateKey if the symbol
	// is already mapped.
	Insert(ctx context.Context, m *domain.SymbolMapping) error

	// GetBySymbol retrieves the mapping for a symbol. Returns
	// ErrNotFound if the symbol is unmapped.
	GetBySymbol(ctx context.Context, symbol string) (*domain.SymbolMapping, error)

	// GetAll retrieves every mapping, ordered by symbol ASC.
	GetAll(ctx context.Context) ([]*domain.SymbolMapping, error)
}

// CandleStore provides access to rollup candle storage. Writes are
// versioned: rewriting a (market_key, timeframe, bucket_start) slot
// with a greater version replaces the visible row.
type CandleStore interface {
	// Upsert writes one candle. An existing row for the same slot is
	// replaced unless it carries a strictly greater version.
	Upsert(ctx context.Context, c *domain.Candle) error

	// UpsertBulk writes multiple candles.
	UpsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetBucket retrieves the candle for one bucket. Returns
	// ErrNotFound if the bucket has no candle.
	GetBucket(ctx context.Context, marketKey string, tf domain.Timeframe, bucketStart int64) (*domain.Candle, error)

	// GetRange retrieves candles with bucket_start in [from, to),
	// ordered by bucket_start ASC.
	GetRange(ctx context.Context, marketKey string, tf domain.Timeframe, from, to int64) ([]*domain.Candle, error)

	// DeleteByMarket removes all candles for a market across every
	// timeframe. Backends may apply the delete asynchronously.
	DeleteByMarket(ctx context.Context, marketKey string) error
}

// LatestValueStore provides access to deduplicated latest-value
// storage: one authoritative row per point natural key
// (market_key, series_key, timestamp, x). Writes merge by
// (version, value): a stored row is only superseded by a strictly
// greater candidate.
type LatestValueStore interface {
	// Merge folds one candidate into the store.
	Merge(ctx context.Context, lv *domain.LatestValue) error

	// MergeBulk folds multiple candidates into the store.
	MergeBulk(ctx context.Context, lvs []*domain.LatestValue) error

	// Get retrieves the authoritative value for one natural key.
	// Returns ErrNotFound if the key has never been written.
	Get(ctx context.Context, marketKey, seriesKey string, timestamp, x int64) (*domain.LatestValue, error)

	// GetSeries retrieves the authoritative value of every key under
	// one (market_key, series_key), ordered by (timestamp, x) ASC.
	GetSeries(ctx context.Context, marketKey, seriesKey string) ([]*domain.LatestValue, error)

	// DeleteByMarket removes all latest values for a market. Backends
	// may apply the delete asynchronously.
	DeleteByMarket(ctx context.Context, marketKey string) error
}
