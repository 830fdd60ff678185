package domain

// Tick represents a single raw trade event.
// Corresponds to ticks table in PostgreSQL.
type Tick struct {
	ID         string  // deterministic content hash (idhash.ComputeTickID)
	MarketKey  string  // stable market id, or the bare symbol while unresolved
	Symbol     string  // producer-supplied human label ("" if producer sent a market key)
	Timestamp  int64   // trade time, Unix milliseconds
	Price      float64 // execution price, > 0
	Size       float64 // traded size, >= 0
	Side       string  // "buy" | "sell"
	ArrivalSeq int64   // ingestion sequence number, tie-break within a millisecond
	IngestedAt int64   // record creation timestamp (ms)
}

// Tick side constants
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// ValidSide reports whether s is a known tick side.
func ValidSide(s string) bool {
	return s == SideBuy || s == SideSell
}
