package rollup

import (
	"sort"

	"market-rollup/internal/domain"
)

// BuildCandle folds all ticks of a single (market_key, bucket) into one
// candle. Ticks outside [bucketStart, bucketStart + tf) or belonging to a
// different market are ignored, so the caller may pass an over-fetched range.
// Returns nil if no tick falls inside the bucket.
//
// The fold recomputes the full bucket from scratch on every call; it never
// depends on a previous candle. Re-running it over the identical tick set
// yields byte-identical fields, which is what makes redelivered input safe.
//
// Aggregation per bucket:
//   - open  = price of the tick with the smallest (timestamp, arrival_seq)
//   - close = price of the tick with the largest (timestamp, arrival_seq)
//   - high  = MAX(price), low = MIN(price)
//   - volume = SUM(size), trade_count = COUNT(*)
func BuildCandle(marketKey string, tf domain.Timeframe, bucketStart int64, ticks []*domain.Tick) *domain.Candle {
	bucketEnd := BucketEnd(bucketStart, tf)

	var bucket []*domain.Tick
	for _, t := range ticks {
		if t.MarketKey != marketKey {
			continue
		}
		if t.Timestamp < bucketStart || t.Timestamp >= bucketEnd {
			continue
		}
		bucket = append(bucket, t)
	}

	if len(bucket) == 0 {
		return nil
	}

	SortTicks(bucket)

	candle := &domain.Candle{
		MarketKey:   marketKey,
		Timeframe:   tf,
		BucketStart: bucketStart,
		Open:        bucket[0].Price,
		High:        bucket[0].Price,
		Low:         bucket[0].Price,
		Close:       bucket[len(bucket)-1].Price,
		TradeCount:  int64(len(bucket)),
	}

	for _, t := range bucket {
		if t.Price > candle.High {
			candle.High = t.Price
		}
		if t.Price < candle.Low {
			candle.Low = t.Price
		}
		candle.Volume += t.Size
	}

	return candle
}

// BuildCandles folds a batch of ticks into one candle per touched
// (market_key, bucket). Output is ordered by (market_key, bucket_start).
func BuildCandles(tf domain.Timeframe, ticks []*domain.Tick) []*domain.Candle {
	if len(ticks) == 0 {
		return nil
	}

	// Map: marketKey -> bucketStart -> ticks
	buckets := make(map[string]map[int64][]*domain.Tick)

	for _, t := range ticks {
		bucketStart := BucketStart(t.Timestamp, tf)

		marketBuckets, ok := buckets[t.MarketKey]
		if !ok {
			marketBuckets = make(map[int64][]*domain.Tick)
			buckets[t.MarketKey] = marketBuckets
		}
		marketBuckets[bucketStart] = append(marketBuckets[bucketStart], t)
	}

	var result []*domain.Candle
	for marketKey, marketBuckets := range buckets {
		for bucketStart, bucketTicks := range marketBuckets {
			if c := BuildCandle(marketKey, tf, bucketStart, bucketTicks); c != nil {
				result = append(result, c)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketKey != result[j].MarketKey {
			return result[i].MarketKey < result[j].MarketKey
		}
		return result[i].BucketStart < result[j].BucketStart
	})

	return result
}
