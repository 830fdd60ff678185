package reporting

import (
	"time"

	"market-rollup/internal/backfill"
	"market-rollup/internal/storage"
	"market-rollup/internal/verify"
)

// Report bundles the outcome of one operational run for rendering.
// Sections are nil when the run did not produce them: a plain backfill
// carries Backfill, a resolution carries Resolution, and so on.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	MarketKey   string

	// Raw data coverage and recorded backfill history
	Summary *MarketSummary

	// Operation outcomes
	Backfill     *backfill.Result
	Resolution   *backfill.ResolutionResult
	Purge        *backfill.PurgeResult
	Verification *verify.VerificationReport
}

// MarketSummary describes the raw rows on record for a market. Range
// bounds are Unix milliseconds, zero when the source holds no rows.
type MarketSummary struct {
	TickRangeStart  int64
	TickRangeEnd    int64
	PointRangeStart int64
	PointRangeEnd   int64

	// Markers lists the last completed backfill per target.
	Markers []*storage.BackfillMarker
}
