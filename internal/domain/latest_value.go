package domain

// LatestValue represents the authoritative value for a point natural key:
// the argmax-by-(Version, Value) winner over all point rows sharing
// (MarketKey, SeriesKey, Timestamp, X).
// Corresponds to latest_values table in ClickHouse.
type LatestValue struct {
	MarketKey string // stable market id, or bare symbol while unresolved
	SeriesKey string // timeframe name or metric name
	Timestamp int64  // observation time, Unix milliseconds
	X         int64  // secondary ordinate
	Value     float64
	Version   uint64
	UpdatedAt int64 // merge timestamp (ms)
}
