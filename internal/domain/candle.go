package domain

// Candle represents an OHLCV aggregate over one timeframe bucket.
// Corresponds to candles table in ClickHouse.
//
// One logical row exists per (MarketKey, Timeframe, BucketStart); storage is
// versioned append-only with last-write-wins on Version, so a full-bucket
// recompute safely overwrites any previous state of the bucket.
type Candle struct {
	MarketKey   string  // stable market id, or bare symbol while unresolved
	Timeframe   Timeframe
	BucketStart int64   // bucket start, Unix milliseconds, aligned to Timeframe
	Open        float64 // price of the first tick by (timestamp, arrival_seq)
	High        float64 // max price in bucket
	Low         float64 // min price in bucket
	Close       float64 // price of the last tick by (timestamp, arrival_seq)
	Volume      float64 // sum of tick sizes
	TradeCount  int64   // number of contributing ticks
	Version     int64   // recompute version (wall clock µs), last write wins
	UpdatedAt   int64   // recompute timestamp (ms)
}
