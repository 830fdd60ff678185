package rollup

import (
	"time"

	"market-rollup/internal/domain"
)

// StampVersion marks candles as the output of a single recompute pass.
// The version is the pass's wall clock in microseconds: stores keep the
// highest-versioned row per bucket, so a later full-bucket recompute
// replaces any earlier state while a stale concurrent pass loses.
func StampVersion(candles []*domain.Candle) {
	now := time.Now()
	version := now.UnixMicro()
	updatedAt := now.UnixMilli()

	for _, c := range candles {
		c.Version = version
		c.UpdatedAt = updatedAt
	}
}
