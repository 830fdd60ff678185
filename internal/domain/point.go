package domain

// Point represents a single raw metric observation.
// Corresponds to points table in PostgreSQL.
//
// The natural key is (MarketKey, SeriesKey, Timestamp, X). Multiple rows may
// share it; only the row winning the argmax-by-(Version, Value) merge is
// authoritative (see the dedup package). Rows are append-only.
type Point struct {
	ID         string  // deterministic content hash (idhash.ComputePointID)
	MarketKey  string  // stable market id, or the bare symbol while unresolved
	SeriesKey  string  // timeframe name or metric name
	Timestamp  int64   // observation time, Unix milliseconds
	X          int64   // secondary ordinate, often equals Timestamp
	Value      float64 // observed value
	Version    uint64  // writer version, monotonic per natural key
	IngestedAt int64   // record creation timestamp (ms)
}

// Latest converts the point into its latest-value representation, used as the
// unit of the dedup merge.
func (p *Point) Latest() *LatestValue {
	return &LatestValue{
		MarketKey: p.MarketKey,
		SeriesKey: p.SeriesKey,
		Timestamp: p.Timestamp,
		X:         p.X,
		Value:     p.Value,
		Version:   p.Version,
	}
}
