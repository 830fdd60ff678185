package verify

import (
	"context"
	"testing"

	"market-rollup/internal/domain"
	"market-rollup/internal/rollup"
	"market-rollup/internal/storage/memory"
)

// 2024-01-01T10:00:00Z
const baseTS = int64(1704103200000)

func seedStore(t *testing.T, n int) *memory.CandleStore {
	t.Helper()

	store := memory.NewCandleStore()
	minutes := make([]*domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		open := 100 + float64(i)
		minutes = append(minutes, &domain.Candle{
			MarketKey:   "mk-1",
			Timeframe:   domain.Timeframe1m,
			BucketStart: baseTS + int64(i)*60000,
			Open:        open,
			High:        open + 2,
			Low:         open - 1,
			Close:       open + 1,
			Volume:      float64(1 + i%3),
			TradeCount:  int64(1 + i%2),
		})
	}
	rollup.StampVersion(minutes)
	if err := store.UpsertBulk(context.Background(), minutes); err != nil {
		t.Fatalf("seed minutes: %v", err)
	}

	for _, tf := range domain.CascadeTimeframes() {
		candles := rollup.CascadeCandles(tf, minutes)
		rollup.StampVersion(candles)
		if err := store.UpsertBulk(context.Background(), candles); err != nil {
			t.Fatalf("materialize %s: %v", tf, err)
		}
	}

	return store
}

func TestCompareCandles_Match(t *testing.T) {
	a := &domain.Candle{Open: 100, High: 105, Low: 98, Close: 98, Volume: 3, TradeCount: 3}
	b := &domain.Candle{Open: 100, High: 105, Low: 98, Close: 98, Volume: 3, TradeCount: 3}

	if divergences := CompareCandles(a, b); len(divergences) != 0 {
		t.Errorf("expected no divergences, got %v", divergences)
	}
}

func TestCompareCandles_Divergence(t *testing.T) {
	a := &domain.Candle{Open: 100, High: 105, Low: 98, Close: 98, Volume: 3, TradeCount: 3}
	b := &domain.Candle{Open: 100, High: 105, Low: 98, Close: 99, Volume: 4, TradeCount: 3}

	divergences := CompareCandles(a, b)
	if len(divergences) != 2 {
		t.Fatalf("expected 2 divergences, got %d: %v", len(divergences), divergences)
	}
	if divergences[0].Field != "Close" {
		t.Errorf("expected Close divergence, got %s", divergences[0].Field)
	}
	if divergences[1].Field != "Volume" {
		t.Errorf("expected Volume divergence, got %s", divergences[1].Field)
	}
}

func TestVerifier_CleanMarket(t *testing.T) {
	store := seedStore(t, 90)
	verifier := NewVerifier(store)

	report, err := verifier.VerifyMarket(context.Background(), "mk-1", baseTS, baseTS+90*60000)
	if err != nil {
		t.Fatalf("VerifyMarket: %v", err)
	}

	if report.TotalBuckets == 0 {
		t.Fatal("expected buckets to verify")
	}
	if report.DivergentBuckets != 0 {
		t.Errorf("expected no divergent buckets, got %d: %+v",
			report.DivergentBuckets, report.Results)
	}
	if report.MatchedBuckets != report.TotalBuckets {
		t.Errorf("matched %d of %d buckets", report.MatchedBuckets, report.TotalBuckets)
	}
}

func TestVerifier_StaleMaterializedRow(t *testing.T) {
	store := seedStore(t, 10)

	// Overwrite one 5m row with a higher version and a wrong volume,
	// the way a missed recompute after late 1m data would look.
	stale := &domain.Candle{
		MarketKey:   "mk-1",
		Timeframe:   domain.Timeframe5m,
		BucketStart: baseTS,
		Open:        100,
		High:        106,
		Low:         99,
		Close:       105,
		Volume:      999,
		TradeCount:  5,
	}
	rollup.StampVersion([]*domain.Candle{stale})
	if err := store.Upsert(context.Background(), stale); err != nil {
		t.Fatalf("upsert stale row: %v", err)
	}

	verifier := NewVerifier(store)
	results, err := verifier.VerifyTimeframe(context.Background(), "mk-1", domain.Timeframe5m, baseTS, baseTS+10*60000)
	if err != nil {
		t.Fatalf("VerifyTimeframe: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(results))
	}
	if results[0].Match {
		t.Error("expected first bucket to diverge")
	}
	if !results[1].Match {
		t.Error("expected second bucket to match")
	}

	foundVolume := false
	for _, d := range results[0].Divergences {
		if d.Field == "Volume" {
			foundVolume = true
			if d.Actual != 999.0 {
				t.Errorf("expected actual volume 999, got %v", d.Actual)
			}
		}
	}
	if !foundVolume {
		t.Errorf("expected Volume divergence, got %v", results[0].Divergences)
	}
}

func TestVerifier_MissingMaterializedRow(t *testing.T) {
	store := memory.NewCandleStore()
	minutes := []*domain.Candle{
		{MarketKey: "mk-1", Timeframe: domain.Timeframe1m, BucketStart: baseTS,
			Open: 100, High: 100, Low: 100, Close: 100, Volume: 5, TradeCount: 1},
	}
	rollup.StampVersion(minutes)
	if err := store.UpsertBulk(context.Background(), minutes); err != nil {
		t.Fatalf("seed: %v", err)
	}

	verifier := NewVerifier(store)
	results, err := verifier.VerifyTimeframe(context.Background(), "mk-1", domain.Timeframe5m, baseTS, baseTS+5*60000)
	if err != nil {
		t.Fatalf("VerifyTimeframe: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(results))
	}
	if results[0].Match {
		t.Error("expected divergence for missing materialized row")
	}
	if results[0].Divergences[0].Field != "Row" {
		t.Errorf("expected Row divergence, got %v", results[0].Divergences)
	}
}

func TestVerifier_OrphanedMaterializedRow(t *testing.T) {
	store := memory.NewCandleStore()
	orphan := []*domain.Candle{
		{MarketKey: "mk-1", Timeframe: domain.Timeframe5m, BucketStart: baseTS,
			Open: 100, High: 100, Low: 100, Close: 100, Volume: 5, TradeCount: 1},
	}
	rollup.StampVersion(orphan)
	if err := store.UpsertBulk(context.Background(), orphan); err != nil {
		t.Fatalf("seed: %v", err)
	}

	verifier := NewVerifier(store)
	results, err := verifier.VerifyTimeframe(context.Background(), "mk-1", domain.Timeframe5m, baseTS, baseTS+5*60000)
	if err != nil {
		t.Fatalf("VerifyTimeframe: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(results))
	}
	if results[0].Match {
		t.Error("expected divergence for orphaned materialized row")
	}
	d := results[0].Divergences[0]
	if d.Field != "Row" || d.Expected != "missing" {
		t.Errorf("expected orphaned Row divergence, got %+v", d)
	}
}

func TestVerifier_EmptyMarket(t *testing.T) {
	store := memory.NewCandleStore()
	verifier := NewVerifier(store)

	report, err := verifier.VerifyMarket(context.Background(), "mk-missing", baseTS, baseTS+3600000)
	if err != nil {
		t.Fatalf("VerifyMarket: %v", err)
	}
	if report.TotalBuckets != 0 {
		t.Errorf("expected no buckets, got %d", report.TotalBuckets)
	}
}
