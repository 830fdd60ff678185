package reporting

import (
	"fmt"
	"strings"

	"market-rollup/internal/backfill"
	"market-rollup/internal/verify"
)

// RenderBackfillCSV renders per-target backfill results as CSV string.
func RenderBackfillCSV(r *backfill.Result) string {
	var sb strings.Builder

	// Header
	sb.WriteString("run_id,market_key,target,status,rows_written,duration_ms,error\n")

	// Rows
	for _, t := range r.Targets {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%d,%d,%q\n",
			r.RunID,
			r.MarketKey,
			t.Target,
			t.Status,
			t.RowsWritten,
			t.Duration.Milliseconds(),
			t.Error,
		))
	}

	return sb.String()
}

// RenderVerificationCSV renders field divergences as CSV string, one
// row per divergent field. A clean report renders the header only.
func RenderVerificationCSV(r *verify.VerificationReport) string {
	var sb strings.Builder

	// Header
	sb.WriteString("market_key,timeframe,bucket_start,field,recomputed,materialized\n")

	// Rows
	for _, bucket := range r.Results {
		for _, d := range bucket.Divergences {
			sb.WriteString(fmt.Sprintf("%s,%s,%d,%s,%v,%v\n",
				r.MarketKey,
				bucket.Timeframe,
				bucket.BucketStart,
				d.Field,
				d.Expected,
				d.Actual,
			))
		}
	}

	return sb.String()
}
