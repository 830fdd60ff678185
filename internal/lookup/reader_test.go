package lookup

import (
	"context"
	"errors"
	"testing"

	"market-rollup/internal/domain"
	"market-rollup/internal/rollup"
	"market-rollup/internal/storage"
	"market-rollup/internal/storage/memory"
)

// 2024-01-01T10:00:00Z, aligned to the 1h boundary.
const hourBase = int64(1704103200000)

// seedMinutes writes n 1m candles with varied shapes starting at base.
func seedMinutes(t *testing.T, store *memory.CandleStore, marketKey string, base int64, n int) []*domain.Candle {
	t.Helper()

	minutes := make([]*domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		open := 100 + float64(i)
		minutes = append(minutes, &domain.Candle{
			MarketKey:   marketKey,
			Timeframe:   domain.Timeframe1m,
			BucketStart: base + int64(i)*domain.Timeframe1m.Millis(),
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
	return minutes
}

// materialize cascades the minutes into every higher timeframe and
// stores the result, the way the cascade writer does.
func materialize(t *testing.T, store *memory.CandleStore, minutes []*domain.Candle) {
	t.Helper()

	for _, tf := range domain.CascadeTimeframes() {
		candles := rollup.CascadeCandles(tf, minutes)
		rollup.StampVersion(candles)
		if err := store.UpsertBulk(context.Background(), candles); err != nil {
			t.Fatalf("materialize %s: %v", tf, err)
		}
	}
}

func TestMaterializedAndDynamicAgree(t *testing.T) {
	store := memory.NewCandleStore()
	minutes := seedMinutes(t, store, "mk-1", hourBase, 90)
	materialize(t, store, minutes)

	mat := NewMaterializedReader(store)
	dyn := NewDynamicReader(store)

	ranges := []struct {
		name     string
		from, to int64
	}{
		{"whole span", hourBase, hourBase + 90*60000},
		{"unaligned bounds", hourBase + 7*60000, hourBase + 63*60000},
		{"past the data", hourBase, hourBase + 6*3600000},
	}

	for _, tf := range domain.CascadeTimeframes() {
		for _, rng := range ranges {
			matCandles, err := mat.GetCandles(context.Background(), "mk-1", tf, rng.from, rng.to)
			if err != nil {
				t.Fatalf("%s %s materialized: %v", tf, rng.name, err)
			}
			dynCandles, err := dyn.GetCandles(context.Background(), "mk-1", tf, rng.from, rng.to)
			if err != nil {
				t.Fatalf("%s %s dynamic: %v", tf, rng.name, err)
			}

			if len(matCandles) == 0 {
				t.Fatalf("%s %s: materialized returned no candles", tf, rng.name)
			}
			if len(matCandles) != len(dynCandles) {
				t.Fatalf("%s %s: materialized %d candles, dynamic %d",
					tf, rng.name, len(matCandles), len(dynCandles))
			}

			for i := range matCandles {
				m, d := matCandles[i], dynCandles[i]
				if m.BucketStart != d.BucketStart ||
					m.Open != d.Open || m.High != d.High ||
					m.Low != d.Low || m.Close != d.Close ||
					m.Volume != d.Volume || m.TradeCount != d.TradeCount {
					t.Errorf("%s %s bucket %d: materialized %+v, dynamic %+v",
						tf, rng.name, m.BucketStart, m, d)
				}
			}
		}
	}
}

func TestDynamicReader_FiveMinuteFold(t *testing.T) {
	store := memory.NewCandleStore()
	closes := []float64{100, 102, 101}
	volumes := []float64{5, 3, 4}

	minutes := make([]*domain.Candle, 0, 3)
	for i := range closes {
		minutes = append(minutes, &domain.Candle{
			MarketKey:   "mk-1",
			Timeframe:   domain.Timeframe1m,
			BucketStart: hourBase + int64(i)*60000,
			Open:        closes[i],
			High:        closes[i],
			Low:         closes[i],
			Close:       closes[i],
			Volume:      volumes[i],
			TradeCount:  1,
		})
	}
	rollup.StampVersion(minutes)
	if err := store.UpsertBulk(context.Background(), minutes); err != nil {
		t.Fatalf("seed: %v", err)
	}

	dyn := NewDynamicReader(store)
	candles, err := dyn.GetCandles(context.Background(), "mk-1", domain.Timeframe5m, hourBase, hourBase+5*60000)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	c := candles[0]
	if c.Open != 100 {
		t.Errorf("expected open 100, got %f", c.Open)
	}
	if c.Close != 101 {
		t.Errorf("expected close 101, got %f", c.Close)
	}
	if c.Volume != 12 {
		t.Errorf("expected volume 12, got %f", c.Volume)
	}
	if c.TradeCount != 3 {
		t.Errorf("expected trade count 3, got %d", c.TradeCount)
	}
}

func TestDynamicReader_PartialWindowIncluded(t *testing.T) {
	store := memory.NewCandleStore()
	// Only the first two minutes of the 5m window exist yet
	seedMinutes(t, store, "mk-1", hourBase, 2)

	dyn := NewDynamicReader(store)
	candles, err := dyn.GetCandles(context.Background(), "mk-1", domain.Timeframe5m, hourBase, hourBase+5*60000)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(candles) != 1 {
		t.Fatalf("expected 1 partial candle, got %d", len(candles))
	}
	if candles[0].TradeCount != 2 {
		t.Errorf("expected trade count 2, got %d", candles[0].TradeCount)
	}
}

func TestMaterializedReader_AlignsFromDown(t *testing.T) {
	store := memory.NewCandleStore()
	minutes := seedMinutes(t, store, "mk-1", hourBase, 10)
	materialize(t, store, minutes)

	mat := NewMaterializedReader(store)
	// from inside the first 5m window still returns that window
	candles, err := mat.GetCandles(context.Background(), "mk-1", domain.Timeframe5m, hourBase+2*60000, hourBase+10*60000)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].BucketStart != hourBase {
		t.Errorf("expected first bucket %d, got %d", hourBase, candles[0].BucketStart)
	}
}

func TestReaders_EmptyRangesAreNotErrors(t *testing.T) {
	store := memory.NewCandleStore()
	mat := NewMaterializedReader(store)
	dyn := NewDynamicReader(store)

	for _, r := range []CandleReader{mat, dyn} {
		// Inverted range
		candles, err := r.GetCandles(context.Background(), "mk-1", domain.Timeframe5m, 2000, 1000)
		if err != nil {
			t.Fatalf("%s inverted range: %v", r.Strategy(), err)
		}
		if len(candles) != 0 {
			t.Errorf("%s inverted range: expected no candles, got %d", r.Strategy(), len(candles))
		}

		// Market with no data
		candles, err = r.GetCandles(context.Background(), "mk-missing", domain.Timeframe5m, hourBase, hourBase+3600000)
		if err != nil {
			t.Fatalf("%s missing market: %v", r.Strategy(), err)
		}
		if len(candles) != 0 {
			t.Errorf("%s missing market: expected no candles, got %d", r.Strategy(), len(candles))
		}
	}
}

func TestDynamicReader_MinutePassthrough(t *testing.T) {
	store := memory.NewCandleStore()
	seedMinutes(t, store, "mk-1", hourBase, 3)

	dyn := NewDynamicReader(store)
	candles, err := dyn.GetCandles(context.Background(), "mk-1", domain.Timeframe1m, hourBase, hourBase+3*60000)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	for i, c := range candles {
		if c.BucketStart != hourBase+int64(i)*60000 {
			t.Errorf("candle %d: unexpected bucket %d", i, c.BucketStart)
		}
	}
}

func TestNewCandleReader(t *testing.T) {
	store := memory.NewCandleStore()

	r, err := NewCandleReader(StrategyMaterialized, store)
	if err != nil {
		t.Fatalf("materialized: %v", err)
	}
	if r.Strategy() != StrategyMaterialized {
		t.Errorf("expected materialized, got %s", r.Strategy())
	}

	r, err = NewCandleReader(StrategyDynamic, store)
	if err != nil {
		t.Fatalf("dynamic: %v", err)
	}
	if r.Strategy() != StrategyDynamic {
		t.Errorf("expected dynamic, got %s", r.Strategy())
	}

	// Empty defaults to materialized
	r, err = NewCandleReader("", store)
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if r.Strategy() != StrategyMaterialized {
		t.Errorf("expected materialized default, got %s", r.Strategy())
	}

	if _, err := NewCandleReader("bogus", store); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestLatestReader(t *testing.T) {
	store := memory.NewLatestValueStore()
	reader := NewLatestReader(store)

	values := []*domain.LatestValue{
		{MarketKey: "mk-1", SeriesKey: "oi", Timestamp: 1000, X: 0, Value: 10, Version: 1},
		{MarketKey: "mk-1", SeriesKey: "oi", Timestamp: 2000, X: 0, Value: 20, Version: 1},
	}
	if err := store.MergeBulk(context.Background(), values); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := reader.Get(context.Background(), "mk-1", "oi", 1000, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != 10 {
		t.Errorf("expected 10, got %f", got.Value)
	}

	if _, err := reader.Get(context.Background(), "mk-1", "oi", 3000, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	series, err := reader.GetSeries(context.Background(), "mk-1", "oi")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 values, got %d", len(series))
	}

	v, err := reader.ValueAt(context.Background(), "mk-1", "oi", 1500)
	if err != nil {
		t.Fatalf("ValueAt: %v", err)
	}
	if v != 10 {
		t.Errorf("expected 10 at 1500, got %f", v)
	}
}
