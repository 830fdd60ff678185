package backfill

import (
	"context"
	"errors"
	"testing"

	"market-rollup/internal/domain"
	"market-rollup/internal/idhash"
	"market-rollup/internal/storage"
)

func TestResolveAndBackfill_RetagsAndRebuilds(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	// Raw rows ingested before the mapping existed sit under the bare
	// symbol, along with derived rows built from them.
	f.seedThreeMinutes(t, "NICKEL")
	f.seedPoint(t, "NICKEL", "funding", bucketBase, 0.01, 1)

	stale := &domain.Candle{
		MarketKey:   "NICKEL",
		Timeframe:   domain.Timeframe1m,
		BucketStart: bucketBase,
		Open:        100, High: 100, Low: 100, Close: 100,
		Volume: 5, TradeCount: 1, Version: 1,
	}
	if err := f.candles.Upsert(ctx, stale); err != nil {
		t.Fatalf("seed stale candle: %v", err)
	}
	if err := f.latest.Merge(ctx, &domain.LatestValue{
		MarketKey: "NICKEL", SeriesKey: "funding",
		Timestamp: bucketBase, X: bucketBase, Value: 0.01, Version: 1,
	}); err != nil {
		t.Fatalf("seed stale latest value: %v", err)
	}
	if err := f.markers.Set(ctx, &storage.BackfillMarker{MarketKey: "NICKEL", Target: TargetCandles1m}); err != nil {
		t.Fatalf("seed stale marker: %v", err)
	}

	result, err := f.engine.ResolveAndBackfill(ctx, "NICKEL", "mk-42")
	if err != nil {
		t.Fatalf("ResolveAndBackfill: %v", err)
	}

	if result.Symbol != "NICKEL" || result.MarketKey != "mk-42" {
		t.Errorf("expected NICKEL -> mk-42, got %s -> %s", result.Symbol, result.MarketKey)
	}
	if result.TicksRetagged != 3 {
		t.Errorf("expected 3 ticks retagged, got %d", result.TicksRetagged)
	}
	if result.PointsRetagged != 1 {
		t.Errorf("expected 1 point retagged, got %d", result.PointsRetagged)
	}
	if result.Backfill == nil || !result.Backfill.Succeeded() {
		t.Fatalf("expected a successful backfill, got %+v", result.Backfill)
	}

	// Nothing survives under the old key.
	oldCandles, err := f.candles.GetRange(ctx, "NICKEL", domain.Timeframe1m, 0, bucketBase+3600000)
	if err != nil {
		t.Fatalf("read old candles: %v", err)
	}
	if len(oldCandles) != 0 {
		t.Errorf("old key still has %d candles", len(oldCandles))
	}
	oldLatest, err := f.latest.GetSeries(ctx, "NICKEL", "funding")
	if err != nil {
		t.Fatalf("read old latest values: %v", err)
	}
	if len(oldLatest) != 0 {
		t.Errorf("old key still has %d latest values", len(oldLatest))
	}
	oldMarkers, err := f.markers.GetByMarket(ctx, "NICKEL")
	if err != nil {
		t.Fatalf("read old markers: %v", err)
	}
	if len(oldMarkers) != 0 {
		t.Errorf("old key still has %d markers", len(oldMarkers))
	}

	// The resolved key owns the rebuilt history.
	candle, err := f.candles.GetBucket(ctx, "mk-42", domain.Timeframe1m, bucketBase)
	if err != nil {
		t.Fatalf("get rebuilt 1m bucket: %v", err)
	}
	if candle.Open != 100 || candle.Volume != 5 {
		t.Errorf("expected rebuilt open 100 volume 5, got open %f volume %f", candle.Open, candle.Volume)
	}
	lv, err := f.latest.Get(ctx, "mk-42", "funding", bucketBase, bucketBase)
	if err != nil {
		t.Fatalf("get rebuilt latest value: %v", err)
	}
	if lv.Value != 0.01 {
		t.Errorf("expected rebuilt value 0.01, got %f", lv.Value)
	}
}

func TestResolveAndBackfill_DerivesKey(t *testing.T) {
	f := newEngineFixture()
	f.seedTick(t, "COPPER", bucketBase, 50, 1, 1)

	result, err := f.engine.ResolveAndBackfill(context.Background(), "COPPER", "")
	if err != nil {
		t.Fatalf("ResolveAndBackfill: %v", err)
	}

	want := idhash.ComputeMarketKey("COPPER")
	if result.MarketKey != want {
		t.Errorf("expected derived key %s, got %s", want, result.MarketKey)
	}
	if result.TicksRetagged != 1 {
		t.Errorf("expected 1 tick retagged, got %d", result.TicksRetagged)
	}

	if _, err := f.candles.GetBucket(context.Background(), want, domain.Timeframe1m, bucketBase); err != nil {
		t.Errorf("expected a rebuilt candle under the derived key: %v", err)
	}
}

func TestResolveAndBackfill_Rerun(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	f.seedThreeMinutes(t, "NICKEL")

	if _, err := f.engine.ResolveAndBackfill(ctx, "NICKEL", "mk-42"); err != nil {
		t.Fatalf("first resolution: %v", err)
	}

	// A redelivered event finds nothing left to move and converges on
	// the same derived rows.
	result, err := f.engine.ResolveAndBackfill(ctx, "NICKEL", "mk-42")
	if err != nil {
		t.Fatalf("second resolution: %v", err)
	}
	if result.TicksRetagged != 0 {
		t.Errorf("second run retagged %d ticks", result.TicksRetagged)
	}
	if !result.Backfill.Succeeded() {
		t.Errorf("second backfill failed: %+v", result.Backfill.Targets)
	}

	candle, err := f.candles.GetBucket(ctx, "mk-42", domain.Timeframe1m, bucketBase)
	if err != nil {
		t.Fatalf("get 1m bucket: %v", err)
	}
	if candle.Open != 100 {
		t.Errorf("expected open 100, got %f", candle.Open)
	}
}

func TestResolveAndBackfill_ConflictingKey(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	if _, err := f.resolver.Register(ctx, "NICKEL", "mk-42"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := f.engine.ResolveAndBackfill(ctx, "NICKEL", "mk-99")
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestPurgeMarket(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	f.seedThreeMinutes(t, "mk-1")
	f.seedPoint(t, "mk-1", "oi", bucketBase, 10, 1)
	if _, err := f.engine.Run(ctx, Options{MarketKey: "mk-1"}); err != nil {
		t.Fatalf("seed backfill: %v", err)
	}

	result, err := f.engine.PurgeMarket(ctx, "mk-1")
	if err != nil {
		t.Fatalf("PurgeMarket: %v", err)
	}

	if result.TicksDeleted != 3 {
		t.Errorf("expected 3 ticks deleted, got %d", result.TicksDeleted)
	}
	if result.PointsDeleted != 1 {
		t.Errorf("expected 1 point deleted, got %d", result.PointsDeleted)
	}
	if result.MarkersDeleted != int64(len(AllTargets())) {
		t.Errorf("expected %d markers deleted, got %d", len(AllTargets()), result.MarkersDeleted)
	}
	if !result.DerivedPurged {
		t.Error("expected derived tables purged")
	}

	if _, _, err := f.ticks.GetTimeBounds(ctx, "mk-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected empty tick store, got %v", err)
	}
	candles, err := f.candles.GetRange(ctx, "mk-1", domain.Timeframe1m, 0, bucketBase+3600000)
	if err != nil {
		t.Fatalf("read candles: %v", err)
	}
	if len(candles) != 0 {
		t.Errorf("purge left %d candles", len(candles))
	}
}

func TestPurgeMarket_Validation(t *testing.T) {
	f := newEngineFixture()

	if _, err := f.engine.PurgeMarket(context.Background(), ""); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	// Purging a market that never existed removes nothing and is not
	// an error.
	result, err := f.engine.PurgeMarket(context.Background(), "mk-ghost")
	if err != nil {
		t.Fatalf("PurgeMarket: %v", err)
	}
	if result.TicksDeleted != 0 || result.PointsDeleted != 0 || result.MarkersDeleted != 0 {
		t.Errorf("expected zero deletions, got %+v", result)
	}
}
