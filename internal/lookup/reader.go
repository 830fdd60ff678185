package lookup

import (
	"context"
	"fmt"
	"time"

	"market-rollup/internal/domain"
	"market-rollup/internal/observability"
	"market-rollup/internal/rollup"
	"market-rollup/internal/storage"
)

// Rollup strategies accepted by NewCandleReader.
const (
	StrategyMaterialized = "materialized"
	StrategyDynamic      = "dynamic"
)

// CandleReader serves candle range queries for one rollup strategy.
// Both strategies return identical open/high/low/close/volume/trade_count
// for any market and range, so deployments pick on operational grounds:
// materialized trades storage for cheap reads, dynamic trades read-time
// compute for zero derived state above 1m.
type CandleReader interface {
	// GetCandles returns candles with bucket_start in [from, to),
	// ordered by bucket_start ASC. from aligns down to the timeframe
	// boundary; the partial current bucket is included when the range
	// extends past it. Empty ranges return no candles, not an error.
	GetCandles(ctx context.Context, marketKey string, tf domain.Timeframe, from, to int64) ([]*domain.Candle, error)

	// Strategy names the rollup strategy this reader serves.
	Strategy() string
}

// NewCandleReader picks a reader by strategy name. An empty strategy
// defaults to materialized.
func NewCandleReader(strategy string, candles storage.CandleStore) (CandleReader, error) {
	switch strategy {
	case StrategyMaterialized, "":
		return NewMaterializedReader(candles), nil
	case StrategyDynamic:
		return NewDynamicReader(candles), nil
	default:
		return nil, fmt.Errorf("unknown rollup strategy %q", strategy)
	}
}

// MaterializedReader serves every timeframe as a plain range read over
// rows the cascade writer keeps continuously rewritten.
type MaterializedReader struct {
	candles storage.CandleStore
}

// NewMaterializedReader creates a reader over materialized candle rows.
func NewMaterializedReader(candles storage.CandleStore) *MaterializedReader {
	return &MaterializedReader{candles: candles}
}

// Strategy returns "materialized".
func (r *MaterializedReader) Strategy() string { return StrategyMaterialized }

// GetCandles implements CandleReader.
func (r *MaterializedReader) GetCandles(ctx context.Context, marketKey string, tf domain.Timeframe, from, to int64) ([]*domain.Candle, error) {
	start := time.Now()

	if to <= from {
		return nil, nil
	}

	alignedFrom := rollup.BucketStart(from, tf)
	candles, err := r.candles.GetRange(ctx, marketKey, tf, alignedFrom, to)
	if err != nil {
		return nil, fmt.Errorf("read %s candles: %w", tf, err)
	}

	observability.RecordCandleQuery(tf.String(), StrategyMaterialized, time.Since(start).Seconds())
	return candles, nil
}

// DynamicReader serves higher timeframes by cascading the stored 1m
// candles at query time. Only the 1m table is ever read.
type DynamicReader struct {
	candles storage.CandleStore
}

// NewDynamicReader creates a reader that cascades 1m candles on read.
func NewDynamicReader(candles storage.CandleStore) *DynamicReader {
	return &DynamicReader{candles: candles}
}

// Strategy returns "dynamic".
func (r *DynamicReader) Strategy() string { return StrategyDynamic }

// GetCandles implements CandleReader.
func (r *DynamicReader) GetCandles(ctx context.Context, marketKey string, tf domain.Timeframe, from, to int64) ([]*domain.Candle, error) {
	start := time.Now()

	if to <= from {
		return nil, nil
	}

	alignedFrom := rollup.BucketStart(from, tf)

	if tf == domain.Timeframe1m {
		// 1m is the source series, nothing to cascade.
		candles, err := r.candles.GetRange(ctx, marketKey, tf, alignedFrom, to)
		if err != nil {
			return nil, fmt.Errorf("read 1m candles: %w", err)
		}
		observability.RecordCandleQuery(tf.String(), StrategyDynamic, time.Since(start).Seconds())
		return candles, nil
	}

	// Read whole source windows: the last one is the window containing
	// to-1, so every cascaded bucket_start already falls in
	// [alignedFrom, to).
	sourceTo := rollup.BucketEnd(to-1, tf)
	minutes, err := r.candles.GetRange(ctx, marketKey, domain.Timeframe1m, alignedFrom, sourceTo)
	if err != nil {
		return nil, fmt.Errorf("read 1m candles: %w", err)
	}

	candles := rollup.CascadeCandles(tf, minutes)

	observability.RecordCandleQuery(tf.String(), StrategyDynamic, time.Since(start).Seconds())
	return candles, nil
}

// LatestReader serves deduplicated latest-value reads.
type LatestReader struct {
	latest storage.LatestValueStore
}

// NewLatestReader creates a reader over the latest-value side table.
func NewLatestReader(latest storage.LatestValueStore) *LatestReader {
	return &LatestReader{latest: latest}
}

// Get returns the authoritative value for one slot. Returns
// storage.ErrNotFound if the slot has never been written.
func (r *LatestReader) Get(ctx context.Context, marketKey, seriesKey string, timestamp, x int64) (*domain.LatestValue, error) {
	return r.latest.Get(ctx, marketKey, seriesKey, timestamp, x)
}

// GetSeries returns the authoritative value of every slot under one
// (market_key, series_key), ordered by (timestamp, x) ASC.
func (r *LatestReader) GetSeries(ctx context.Context, marketKey, seriesKey string) ([]*domain.LatestValue, error) {
	return r.latest.GetSeries(ctx, marketKey, seriesKey)
}

// ValueAt returns the series value in effect at the target timestamp.
func (r *LatestReader) ValueAt(ctx context.Context, marketKey, seriesKey string, target int64) (float64, error) {
	values, err := r.latest.GetSeries(ctx, marketKey, seriesKey)
	if err != nil {
		return 0, fmt.Errorf("read series: %w", err)
	}
	return ValueAt(target, values)
}
