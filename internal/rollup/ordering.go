package rollup

import (
	"errors"
	"sort"

	"market-rollup/internal/domain"
)

// ErrInvalidOrdering is returned when ticks are not properly ordered.
var ErrInvalidOrdering = errors.New("ticks are not in deterministic order")

// SortTicks orders ticks by (timestamp ASC, arrival_seq ASC) in place.
// This is the ordering that defines a bucket's open and close: multiple ticks
// at the identical millisecond still yield a deterministic first and last.
func SortTicks(ticks []*domain.Tick) {
	sort.Slice(ticks, func(i, j int) bool {
		return CompareTicks(ticks[i], ticks[j]) < 0
	})
}

// ValidateTickOrdering checks if ticks are strictly ordered.
// Returns ErrInvalidOrdering if not.
func ValidateTickOrdering(ticks []*domain.Tick) error {
	for i := 1; i < len(ticks); i++ {
		if CompareTicks(ticks[i-1], ticks[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// CompareTicks returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp ASC, arrival_seq ASC)
func CompareTicks(a, b *domain.Tick) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	if a.ArrivalSeq != b.ArrivalSeq {
		if a.ArrivalSeq < b.ArrivalSeq {
			return -1
		}
		return 1
	}
	return 0
}
