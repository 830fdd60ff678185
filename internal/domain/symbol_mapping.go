package domain

// SymbolMapping binds a human-readable symbol to its stable market key.
// Corresponds to symbol_mappings table in PostgreSQL.
//
// Mappings are append-only and created once per symbol; ticks ingested before
// the mapping exists are keyed by the bare symbol and re-tagged by the
// backfill engine when the mapping arrives.
type SymbolMapping struct {
	Symbol    string // human label, unique
	MarketKey string // stable market id
	CreatedAt int64  // registration timestamp (ms)
}
