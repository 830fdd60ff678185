package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"market-rollup/internal/domain"
	"market-rollup/internal/identity"
	"market-rollup/internal/idhash"
	"market-rollup/internal/observability"
	"market-rollup/internal/rollup"
	"market-rollup/internal/storage"
)

// Ingestor is the write path for ticks and points. It is safe for
// concurrent use: per-call state is local and sequence numbers are atomic.
type Ingestor struct {
	tickStore   storage.TickStore
	pointStore  storage.PointStore
	candleStore storage.CandleStore
	latestStore storage.LatestValueStore
	resolver    *identity.Resolver
	seq         *Sequencer
	logger      *log.Logger
	onMinute    func(marketKey string, bucketStart int64)
}

// IngestorOptions contains configuration for creating an Ingestor.
type IngestorOptions struct {
	TickStore   storage.TickStore
	PointStore  storage.PointStore
	CandleStore storage.CandleStore
	LatestStore storage.LatestValueStore
	Resolver    *identity.Resolver
	Sequencer   *Sequencer
	Logger      *log.Logger
}

// NewIngestor creates a new ingestor.
func NewIngestor(opts IngestorOptions) *Ingestor {
	seq := opts.Sequencer
	if seq == nil {
		seq = NewSequencer(0)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Ingestor{
		tickStore:   opts.TickStore,
		pointStore:  opts.PointStore,
		candleStore: opts.CandleStore,
		latestStore: opts.LatestStore,
		resolver:    opts.Resolver,
		seq:         seq,
		logger:      logger,
	}
}

// WithMinuteCallback registers a callback invoked after each successful
// 1-minute candle refresh, used to schedule higher-timeframe cascading.
func (ing *Ingestor) WithMinuteCallback(fn func(marketKey string, bucketStart int64)) *Ingestor {
	ing.onMinute = fn
	return ing
}

// IngestTick validates, stores, and aggregates one tick. It returns the
// refreshed 1-minute candle for the tick's bucket.
//
// A redelivered tick is not an error: the raw write is skipped and the
// current candle is returned unchanged. A failed aggregation pass is also
// not an error once the raw write succeeded; the method then returns
// (nil, nil) and the bucket is healed by a later pass or by backfill.
func (ing *Ingestor) IngestTick(ctx context.Context, in *TickInput) (*domain.Candle, error) {
	if err := ValidateTick(in); err != nil {
		observability.RecordTickRejected(RejectionReason(err))
		ing.logger.Printf("Rejected tick (market_key=%s symbol=%s ts=%d): %v", in.MarketKey, in.Symbol, in.Timestamp, err)
		return nil, err
	}

	start := time.Now()

	// The id hashes the producer's own identifier, so a redelivery dedups
	// even when a mapping was registered between the deliveries.
	originKey := in.MarketKey
	if originKey == "" {
		originKey = in.Symbol
	}

	marketKey, err := ing.ingestKey(ctx, in)
	if err != nil {
		return nil, err
	}

	tick := &domain.Tick{
		ID:         idhash.ComputeTickID(originKey, in.Timestamp, in.Price, in.Size, in.Side),
		MarketKey:  marketKey,
		Symbol:     in.Symbol,
		Timestamp:  in.Timestamp,
		Price:      in.Price,
		Size:       in.Size,
		Side:       in.Side,
		ArrivalSeq: ing.seq.Next(),
		IngestedAt: time.Now().UnixMilli(),
	}

	if err := ing.tickStore.Insert(ctx, tick); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("store tick: %w", err)
		}
		observability.RecordDuplicateSkipped("tick")
	} else {
		observability.RecordTickIngested()
		observability.DefaultMetrics.HighestArrivalSeq.Set(float64(tick.ArrivalSeq))
	}

	candle, err := ing.RefreshMinute(ctx, marketKey, tick.Timestamp)
	if err != nil {
		observability.RecordAggregationError("minute")
		ing.logger.Printf("Minute aggregation failed (market_key=%s ts=%d): %v", marketKey, tick.Timestamp, err)
		return nil, nil
	}

	observability.DefaultMetrics.IngestLatency.WithLabelValues("tick").Observe(time.Since(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulIngest.SetToCurrentTime()

	return candle, nil
}

// IngestPoint validates, stores, and merges one point. It returns the
// authoritative latest value for the point's natural key after the merge.
//
// Like ticks, a redelivered point is skipped silently and a failed merge
// after a successful raw write returns (nil, nil).
func (ing *Ingestor) IngestPoint(ctx context.Context, in *PointInput) (*domain.LatestValue, error) {
	if err := ValidatePoint(in); err != nil {
		observability.RecordPointRejected(RejectionReason(err))
		ing.logger.Printf("Rejected point (market_key=%s series=%s ts=%d): %v", in.MarketKey, in.SeriesKey, in.Timestamp, err)
		return nil, err
	}

	start := time.Now()

	point := &domain.Point{
		ID:         idhash.ComputePointID(in.MarketKey, in.SeriesKey, in.Timestamp, in.X, in.Value, in.Version),
		MarketKey:  in.MarketKey,
		SeriesKey:  in.SeriesKey,
		Timestamp:  in.Timestamp,
		X:          in.X,
		Value:      in.Value,
		Version:    in.Version,
		IngestedAt: time.Now().UnixMilli(),
	}

	if err := ing.pointStore.Insert(ctx, point); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("store point: %w", err)
		}
		observability.RecordDuplicateSkipped("point")
	} else {
		observability.RecordPointIngested()
	}

	latest, err := ing.mergeLatest(ctx, point)
	if err != nil {
		observability.RecordAggregationError("dedup")
		ing.logger.Printf("Latest-value merge failed (market_key=%s series=%s ts=%d): %v", in.MarketKey, in.SeriesKey, in.Timestamp, err)
		return nil, nil
	}

	observability.DefaultMetrics.IngestLatency.WithLabelValues("point").Observe(time.Since(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulIngest.SetToCurrentTime()

	return latest, nil
}

// RefreshMinute recomputes the 1-minute candle for the bucket containing ts
// from the full raw tick set and upserts it. Returns the recomputed candle,
// or nil when the bucket holds no ticks for the market.
func (ing *Ingestor) RefreshMinute(ctx context.Context, marketKey string, ts int64) (*domain.Candle, error) {
	bucketStart := rollup.BucketStart(ts, domain.Timeframe1m)
	bucketEnd := rollup.BucketEnd(ts, domain.Timeframe1m)

	ticks, err := ing.tickStore.GetByMarketRange(ctx, marketKey, bucketStart, bucketEnd)
	if err != nil {
		return nil, fmt.Errorf("load bucket ticks: %w", err)
	}

	candle := rollup.BuildCandle(marketKey, domain.Timeframe1m, bucketStart, ticks)
	if candle == nil {
		return nil, nil
	}

	rollup.StampVersion([]*domain.Candle{candle})

	if err := ing.candleStore.Upsert(ctx, candle); err != nil {
		return nil, fmt.Errorf("upsert minute candle: %w", err)
	}
	observability.RecordCandleAggregated(domain.Timeframe1m.String())

	if ing.onMinute != nil {
		ing.onMinute(marketKey, bucketStart)
	}

	return candle, nil
}

// ingestKey picks the tick's market key: the producer's market key when
// given, else the resolved key for the symbol, else the bare symbol.
func (ing *Ingestor) ingestKey(ctx context.Context, in *TickInput) (string, error) {
	if in.MarketKey != "" {
		return in.MarketKey, nil
	}

	resolved, ok, err := ing.resolver.Resolve(ctx, in.Symbol)
	if err != nil {
		return "", fmt.Errorf("resolve symbol %q: %w", in.Symbol, err)
	}
	if !ok {
		observability.RecordDeferredIdentity()
		return in.Symbol, nil
	}
	return resolved, nil
}

func (ing *Ingestor) mergeLatest(ctx context.Context, point *domain.Point) (*domain.LatestValue, error) {
	candidate := point.Latest()
	candidate.UpdatedAt = time.Now().UnixMilli()

	if err := ing.latestStore.Merge(ctx, candidate); err != nil {
		return nil, fmt.Errorf("merge latest value: %w", err)
	}

	latest, err := ing.latestStore.Get(ctx, point.MarketKey, point.SeriesKey, point.Timestamp, point.X)
	if err != nil {
		return nil, fmt.Errorf("read merged value: %w", err)
	}

	observability.RecordLatestValueMerged(latest.Version > point.Version)
	return latest, nil
}
