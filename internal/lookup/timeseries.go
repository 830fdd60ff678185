package lookup

import (
	"errors"

	"market-rollup/internal/domain"
)

// Errors returned by lookup functions.
var (
	ErrNoSeriesData = errors.New("no series data available")
	ErrNoCandleData = errors.New("no candle data available")
)

// ValueAt returns the series value in effect at the target timestamp:
// the closest slot at or before target. Latest-value series are step
// functions, so the value holds until the next slot begins.
// If no slot is at or before target, returns the first available value.
// Returns ErrNoSeriesData if the slice is empty.
func ValueAt(target int64, values []*domain.LatestValue) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoSeriesData
	}

	// Find closest slot at or before target
	for i := len(values) - 1; i >= 0; i-- {
		if values[i].Timestamp <= target {
			return values[i].Value, nil
		}
	}

	// If no slot before target, use first available
	return values[0].Value, nil
}

// CandleAt returns the most recent candle with bucket_start at or before
// the target timestamp.
// Returns (nil, nil) if every candle starts after target (valid case:
// the series begins later).
// Returns ErrNoCandleData if the slice is empty.
func CandleAt(target int64, candles []*domain.Candle) (*domain.Candle, error) {
	if len(candles) == 0 {
		return nil, ErrNoCandleData
	}

	// Find closest bucket at or before target
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].BucketStart <= target {
			return candles[i], nil
		}
	}

	// No bucket at or before target (valid case)
	return nil, nil
}
