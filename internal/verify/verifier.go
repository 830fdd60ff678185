// Package verify checks that materialized candle rows agree with an
// on-read cascade of the same 1m source. The two strategies run the same
// fold over the same rows, so comparisons are exact, not tolerance-based:
// any divergence means a stale or orphaned materialized row.
package verify

import (
	"context"
	"fmt"
	"sort"

	"market-rollup/internal/domain"
	"market-rollup/internal/lookup"
	"market-rollup/internal/storage"
)

// FieldDivergence represents a mismatch between recomputed and
// materialized values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // recomputed from the 1m source
	Actual   interface{} // materialized row
}

// BucketResult contains the result of verifying a single bucket.
type BucketResult struct {
	Timeframe   domain.Timeframe
	BucketStart int64
	Match       bool
	Divergences []FieldDivergence
}

// VerificationReport contains results for one market and range.
type VerificationReport struct {
	MarketKey        string
	From             int64
	To               int64
	TotalBuckets     int
	MatchedBuckets   int
	DivergentBuckets int
	Results          []BucketResult
}

// Verifier compares the two candle read strategies over the same store.
type Verifier struct {
	materialized *lookup.MaterializedReader
	dynamic      *lookup.DynamicReader
}

// NewVerifier creates a verifier over one candle store.
func NewVerifier(candles storage.CandleStore) *Verifier {
	return &Verifier{
		materialized: lookup.NewMaterializedReader(candles),
		dynamic:      lookup.NewDynamicReader(candles),
	}
}

// VerifyMarket verifies every cascade timeframe for a market over
// [from, to). 1m is the shared source of both strategies and is not
// checked against itself.
func (v *Verifier) VerifyMarket(ctx context.Context, marketKey string, from, to int64) (*VerificationReport, error) {
	report := &VerificationReport{
		MarketKey: marketKey,
		From:      from,
		To:        to,
	}

	for _, tf := range domain.CascadeTimeframes() {
		results, err := v.VerifyTimeframe(ctx, marketKey, tf, from, to)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", tf, err)
		}

		for _, result := range results {
			report.Results = append(report.Results, result)
			report.TotalBuckets++
			if result.Match {
				report.MatchedBuckets++
			} else {
				report.DivergentBuckets++
			}
		}
	}

	return report, nil
}

// VerifyTimeframe compares materialized rows with recomputed candles for
// one timeframe. Buckets present on only one side are divergences too:
// a recomputed-only bucket is a missing materialized row, a
// materialized-only bucket is an orphan with no surviving 1m source.
func (v *Verifier) VerifyTimeframe(ctx context.Context, marketKey string, tf domain.Timeframe, from, to int64) ([]BucketResult, error) {
	recomputed, err := v.dynamic.GetCandles(ctx, marketKey, tf, from, to)
	if err != nil {
		return nil, err
	}

	materialized, err := v.materialized.GetCandles(ctx, marketKey, tf, from, to)
	if err != nil {
		return nil, err
	}

	recomputedByBucket := make(map[int64]*domain.Candle, len(recomputed))
	for _, c := range recomputed {
		recomputedByBucket[c.BucketStart] = c
	}
	materializedByBucket := make(map[int64]*domain.Candle, len(materialized))
	for _, c := range materialized {
		materializedByBucket[c.BucketStart] = c
	}

	buckets := make([]int64, 0, len(recomputedByBucket))
	for bucket := range recomputedByBucket {
		buckets = append(buckets, bucket)
	}
	for bucket := range materializedByBucket {
		if _, ok := recomputedByBucket[bucket]; !ok {
			buckets = append(buckets, bucket)
		}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	results := make([]BucketResult, 0, len(buckets))
	for _, bucket := range buckets {
		rec := recomputedByBucket[bucket]
		mat := materializedByBucket[bucket]

		var divergences []FieldDivergence
		switch {
		case mat == nil:
			divergences = []FieldDivergence{
				{Field: "Row", Expected: "present", Actual: "missing"},
			}
		case rec == nil:
			divergences = []FieldDivergence{
				{Field: "Row", Expected: "missing", Actual: "present"},
			}
		default:
			divergences = CompareCandles(rec, mat)
		}

		results = append(results, BucketResult{
			Timeframe:   tf,
			BucketStart: bucket,
			Match:       len(divergences) == 0,
			Divergences: divergences,
		})
	}

	return results, nil
}

// CompareCandles compares a recomputed candle with a materialized row and
// returns divergences. Comparison is exact.
func CompareCandles(recomputed, materialized *domain.Candle) []FieldDivergence {
	var divergences []FieldDivergence

	if recomputed.Open != materialized.Open {
		divergences = append(divergences, FieldDivergence{
			Field:    "Open",
			Expected: recomputed.Open,
			Actual:   materialized.Open,
		})
	}

	if recomputed.High != materialized.High {
		divergences = append(divergences, FieldDivergence{
			Field:    "High",
			Expected: recomputed.High,
			Actual:   materialized.High,
		})
	}

	if recomputed.Low != materialized.Low {
		divergences = append(divergences, FieldDivergence{
			Field:    "Low",
			Expected: recomputed.Low,
			Actual:   materialized.Low,
		})
	}

	if recomputed.Close != materialized.Close {
		divergences = append(divergences, FieldDivergence{
			Field:    "Close",
			Expected: recomputed.Close,
			Actual:   materialized.Close,
		})
	}

	if recomputed.Volume != materialized.Volume {
		divergences = append(divergences, FieldDivergence{
			Field:    "Volume",
			Expected: recomputed.Volume,
			Actual:   materialized.Volume,
		})
	}

	if recomputed.TradeCount != materialized.TradeCount {
		divergences = append(divergences, FieldDivergence{
			Field:    "TradeCount",
			Expected: recomputed.TradeCount,
			Actual:   materialized.TradeCount,
		})
	}

	return divergences
}
