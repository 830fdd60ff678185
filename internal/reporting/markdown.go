package reporting

import (
	"fmt"
	"strings"
	"time"

	"market-rollup/internal/backfill"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Rollup Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Market: %s\n\n", r.MarketKey))

	// Raw Data
	if r.Summary != nil {
		sb.WriteString("## Raw Data\n\n")
		sb.WriteString("| Source | First (ms) | Last (ms) |\n")
		sb.WriteString("|--------|------------|-----------|\n")
		sb.WriteString(fmt.Sprintf("| Ticks | %d | %d |\n", r.Summary.TickRangeStart, r.Summary.TickRangeEnd))
		sb.WriteString(fmt.Sprintf("| Points | %d | %d |\n", r.Summary.PointRangeStart, r.Summary.PointRangeEnd))
		sb.WriteString("\n")

		sb.WriteString("### Backfill Markers\n\n")
		if len(r.Summary.Markers) > 0 {
			sb.WriteString("| Target | From (ms) | To (ms) | Rows | Completed (ms) |\n")
			sb.WriteString("|--------|-----------|---------|------|----------------|\n")
			for _, m := range r.Summary.Markers {
				sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d |\n",
					m.Target, m.From, m.To, m.RowsWritten, m.CompletedAt))
			}
		} else {
			sb.WriteString("No completed backfills on record.\n")
		}
		sb.WriteString("\n")
	}

	// Backfill
	if r.Backfill != nil {
		sb.WriteString("## Backfill\n\n")
		writeBackfillResult(&sb, r.Backfill)
	}

	// Identity Resolution
	if r.Resolution != nil {
		sb.WriteString("## Identity Resolution\n\n")
		sb.WriteString(fmt.Sprintf("Symbol `%s` resolved to `%s`: %d ticks and %d points re-tagged.\n\n",
			r.Resolution.Symbol, r.Resolution.MarketKey,
			r.Resolution.TicksRetagged, r.Resolution.PointsRetagged))
		if r.Resolution.Backfill != nil {
			sb.WriteString("### Rebuild\n\n")
			writeBackfillResult(&sb, r.Resolution.Backfill)
		}
	}

	// Purge
	if r.Purge != nil {
		sb.WriteString("## Purge\n\n")
		sb.WriteString("| Table | Rows Removed |\n")
		sb.WriteString("|-------|--------------|\n")
		sb.WriteString(fmt.Sprintf("| ticks | %d |\n", r.Purge.TicksDeleted))
		sb.WriteString(fmt.Sprintf("| points | %d |\n", r.Purge.PointsDeleted))
		sb.WriteString(fmt.Sprintf("| backfill_markers | %d |\n", r.Purge.MarkersDeleted))
		sb.WriteString("\n")
		if r.Purge.DerivedPurged {
			sb.WriteString("Derived tables (candles, latest values) purge issued; row counts are not reported for asynchronous deletes.\n\n")
		}
	}

	// Verification
	if r.Verification != nil {
		v := r.Verification
		sb.WriteString("## Verification\n\n")
		sb.WriteString(fmt.Sprintf("Range: [%d, %d) | Buckets: %d | Matched: %d | Divergent: %d\n\n",
			v.From, v.To, v.TotalBuckets, v.MatchedBuckets, v.DivergentBuckets))

		if v.DivergentBuckets == 0 {
			sb.WriteString("**Materialized and dynamic readers agree.**\n\n")
		} else {
			sb.WriteString("| Timeframe | Bucket Start | Field | Recomputed | Materialized |\n")
			sb.WriteString("|-----------|--------------|-------|------------|-------------|\n")
			for _, bucket := range v.Results {
				if bucket.Match {
					continue
				}
				for _, d := range bucket.Divergences {
					sb.WriteString(fmt.Sprintf("| %s | %d | %s | %v | %v |\n",
						bucket.Timeframe, bucket.BucketStart, d.Field, d.Expected, d.Actual))
				}
			}
			sb.WriteString("\n**Some buckets diverge.** The materialized rows above are stale or orphaned.\n\n")
		}
	}

	return sb.String()
}

// writeBackfillResult writes the per-target table shared by the
// backfill and resolution sections.
func writeBackfillResult(sb *strings.Builder, r *backfill.Result) {
	sb.WriteString(fmt.Sprintf("Run: %s | Range: [%d, %d) | Duration: %s\n\n",
		r.RunID, r.From, r.To, r.Duration.Round(time.Millisecond)))
	if r.DryRun {
		sb.WriteString("Dry run: counted without writing.\n\n")
	}

	sb.WriteString("| Target | Status | Rows | Duration | Error |\n")
	sb.WriteString("|--------|--------|------|----------|-------|\n")
	for _, t := range r.Targets {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s |\n",
			t.Target, t.Status, t.RowsWritten, t.Duration.Round(time.Millisecond), t.Error))
	}
	sb.WriteString("\n")

	if r.Succeeded() {
		sb.WriteString("**All targets succeeded.**\n\n")
	} else {
		sb.WriteString("**Some targets failed.** Each target is independently retryable.\n\n")
	}
}
