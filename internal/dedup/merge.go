// Package dedup implements the merge rule that collapses redundant
// point writes into a single authoritative value per natural key
// (market_key, series_key, timestamp, x).
//
// The rule is an argmax over (version, value): the candidate with the
// greater version wins, and between candidates carrying the same
// version the greater value wins. Because the comparison is a total
// order over the distinguishing payload, Merge is associative,
// commutative, and idempotent, so any merge tree over any delivery
// order converges to the same survivor.
package dedup

import (
	"sort"

	"market-rollup/internal/domain"
)

// Compare orders two candidates for the same natural key by
// (version, value). Returns -1 if a loses to b, 1 if a beats b, 0 if
// the two are interchangeable.
func Compare(a, b *domain.LatestValue) int {
	if a.Version != b.Version {
		if a.Version < b.Version {
			return -1
		}
		return 1
	}
	if a.Value != b.Value {
		if a.Value < b.Value {
			return -1
		}
		return 1
	}
	return 0
}

// Merge returns the surviving candidate of a and b. Either side may be
// nil. The survivor is returned as-is, not copied.
func Merge(a, b *domain.LatestValue) *domain.LatestValue {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// FoldPoints collapses a batch of raw points into one survivor per
// natural key, sorted by (market_key, series_key, timestamp, x).
// Input order does not affect the result.
func FoldPoints(points []*domain.Point) []*domain.LatestValue {
	type naturalKey struct {
		market string
		series string
		ts     int64
		x      int64
	}

	survivors := make(map[naturalKey]*domain.LatestValue)
	for _, p := range points {
		k := naturalKey{market: p.MarketKey, series: p.SeriesKey, ts: p.Timestamp, x: p.X}
		survivors[k] = Merge(survivors[k], p.Latest())
	}

	out := make([]*domain.LatestValue, 0, len(survivors))
	for _, lv := range survivors {
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MarketKey != b.MarketKey {
			return a.MarketKey < b.MarketKey
		}
		if a.SeriesKey != b.SeriesKey {
			return a.SeriesKey < b.SeriesKey
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.X < b.X
	})
	return out
}
