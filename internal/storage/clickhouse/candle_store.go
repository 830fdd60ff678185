package clickhouse

import (
	"context"
	"fmt"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
//
// The candles table is a ReplacingMergeTree keyed by
// (market_key, timeframe, bucket_start) with version as the replacing
// column, so rewriting a bucket is a plain insert and reads collapse
// to the highest version via FINAL.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Upsert writes one candle. An existing row for the same slot is
// replaced unless it carries a strictly greater version.
func (s *CandleStore) Upsert(ctx context.Context, c *domain.Candle) error {
	return s.UpsertBulk(ctx, []*domain.Candle{c})
}

// UpsertBulk writes multiple candles.
func (s *CandleStore) UpsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			market_key, timeframe, bucket_start, open, high, low, close, volume, trade_count, version, updated_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		if c == nil || c.MarketKey == "" || !c.Timeframe.Valid() {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			c.MarketKey, c.Timeframe.String(), c.BucketStart,
			c.Open, c.High, c.Low, c.Close,
			c.Volume, c.TradeCount, c.Version, c.UpdatedAt,
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

// GetBucket retrieves the candle for one bucket. Returns ErrNotFound
// if the bucket has no candle.
func (s *CandleStore) GetBucket(ctx context.Context, marketKey string, tf domain.Timeframe, bucketStart int64) (*domain.Candle, error) {
	query := `
		SELECT market_key, timeframe, bucket_start, open, high, low, close, volume, trade_count, version, updated_at
		FROM candles FINAL
		WHERE market_key = ? AND timeframe = ? AND bucket_start = ?
	`

	rows, err := s.conn.Query(ctx, query, marketKey, tf.String(), bucketStart)
	if err != nil {
		return nil, fmt.Errorf("query bucket: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, storage.ErrNotFound
	}
	return candles[0], nil
}

// GetRange retrieves candles with bucket_start in [from, to), ordered
// by bucket_start ASC.
func (s *CandleStore) GetRange(ctx context.Context, marketKey string, tf domain.Timeframe, from, to int64) ([]*domain.Candle, error) {
	query := `
		SELECT market_key, timeframe, bucket_start, open, high, low, close, volume, trade_count, version, updated_at
		FROM candles FINAL
		WHERE market_key = ? AND timeframe = ? AND bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start ASC
	`

	rows, err := s.conn.Query(ctx, query, marketKey, tf.String(), from, to)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// DeleteByMarket removes all candles for a market across every
// timeframe. The delete runs as an asynchronous mutation.
func (s *CandleStore) DeleteByMarket(ctx context.Context, marketKey string) error {
	err := s.conn.Exec(ctx, `ALTER TABLE candles DELETE WHERE market_key = ?`, marketKey)
	if err != nil {
		return fmt.Errorf("delete candles by market: %w", err)
	}
	return nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanCandles scans multiple rows into a slice of Candle.
func scanCandles(rows chRows) ([]*domain.Candle, error) {
	var candles []*domain.Candle

	for rows.Next() {
		var c domain.Candle
		var timeframe string

		err := rows.Scan(
			&c.MarketKey, &timeframe, &c.BucketStart,
			&c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.TradeCount, &c.Version, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		tf, err := domain.ParseTimeframe(timeframe)
		if err != nil {
			return nil, fmt.Errorf("parse stored timeframe %q: %w", timeframe, err)
		}
		c.Timeframe = tf
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
