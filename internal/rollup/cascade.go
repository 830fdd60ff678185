package rollup

import (
	"sort"

	"market-rollup/internal/domain"
)

// CascadeCandle folds 1-minute candles into a single candle at a higher
// timeframe. The rule is self-similar to the minute fold, one level up:
//   - open  = open of the 1m candle with the earliest bucket_start
//   - close = close of the 1m candle with the latest bucket_start
//   - high  = MAX(high), low = MIN(low)
//   - volume = SUM(volume), trade_count = SUM(trade_count)
//
// Minute candles outside [bucketStart, bucketStart + tf) or for another
// market are ignored. Returns nil if the window is empty. A window whose
// wall-clock end has not passed yet folds the same way and yields the
// partially-formed current candle.
func CascadeCandle(marketKey string, tf domain.Timeframe, bucketStart int64, minutes []*domain.Candle) *domain.Candle {
	bucketEnd := BucketEnd(bucketStart, tf)

	var window []*domain.Candle
	for _, m := range minutes {
		if m.MarketKey != marketKey || m.Timeframe != domain.Timeframe1m {
			continue
		}
		if m.BucketStart < bucketStart || m.BucketStart >= bucketEnd {
			continue
		}
		window = append(window, m)
	}

	if len(window) == 0 {
		return nil
	}

	// 1m bucket starts are unique per market, so this order is total.
	sort.Slice(window, func(i, j int) bool {
		return window[i].BucketStart < window[j].BucketStart
	})

	candle := &domain.Candle{
		MarketKey:   marketKey,
		Timeframe:   tf,
		BucketStart: bucketStart,
		Open:        window[0].Open,
		High:        window[0].High,
		Low:         window[0].Low,
		Close:       window[len(window)-1].Close,
	}

	for _, m := range window {
		if m.High > candle.High {
			candle.High = m.High
		}
		if m.Low < candle.Low {
			candle.Low = m.Low
		}
		candle.Volume += m.Volume
		candle.TradeCount += m.TradeCount
	}

	return candle
}

// CascadeCandles folds a batch of 1-minute candles into one candle per
// touched (market_key, window) at the target timeframe. Output is ordered by
// (market_key, bucket_start).
func CascadeCandles(tf domain.Timeframe, minutes []*domain.Candle) []*domain.Candle {
	if len(minutes) == 0 {
		return nil
	}

	// Map: marketKey -> windowStart -> minute candles
	windows := make(map[string]map[int64][]*domain.Candle)

	for _, m := range minutes {
		if m.Timeframe != domain.Timeframe1m {
			continue
		}
		windowStart := BucketStart(m.BucketStart, tf)

		marketWindows, ok := windows[m.MarketKey]
		if !ok {
			marketWindows = make(map[int64][]*domain.Candle)
			windows[m.MarketKey] = marketWindows
		}
		marketWindows[windowStart] = append(marketWindows[windowStart], m)
	}

	var result []*domain.Candle
	for marketKey, marketWindows := range windows {
		for windowStart, window := range marketWindows {
			if c := CascadeCandle(marketKey, tf, windowStart, window); c != nil {
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
