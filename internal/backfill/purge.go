package backfill

import (
	"context"
	"fmt"

	"market-rollup/internal/storage"
)

// PurgeResult reports what an administrative purge removed. ClickHouse
// applies its deletes as asynchronous mutations, so derived tables
// report issued, not counted.
type PurgeResult struct {
	MarketKey      string `json:"market_key"`
	TicksDeleted   int64  `json:"ticks_deleted"`
	PointsDeleted  int64  `json:"points_deleted"`
	MarkersDeleted int64  `json:"markers_deleted"`
	DerivedPurged  bool   `json:"derived_purged"`
}

// PurgeMarket removes every raw and derived row for a market. The
// operation is irreversible. Derived tables go first, so an interrupted
// purge never leaves derived rows without their raw source.
func (e *Engine) PurgeMarket(ctx context.Context, marketKey string) (*PurgeResult, error) {
	if marketKey == "" {
		return nil, fmt.Errorf("%w: market key required", storage.ErrInvalidInput)
	}

	result := &PurgeResult{MarketKey: marketKey}

	if err := e.candles.DeleteByMarket(ctx, marketKey); err != nil {
		return nil, fmt.Errorf("purge candles: %w", err)
	}
	if err := e.latest.DeleteByMarket(ctx, marketKey); err != nil {
		return nil, fmt.Errorf("purge latest values: %w", err)
	}
	result.DerivedPurged = true

	var err error
	result.TicksDeleted, err = e.ticks.DeleteByMarket(ctx, marketKey)
	if err != nil {
		return nil, fmt.Errorf("purge ticks: %w", err)
	}
	result.PointsDeleted, err = e.points.DeleteByMarket(ctx, marketKey)
	if err != nil {
		return nil, fmt.Errorf("purge points: %w", err)
	}
	result.MarkersDeleted, err = e.markers.DeleteByMarket(ctx, marketKey)
	if err != nil {
		return nil, fmt.Errorf("purge markers: %w", err)
	}

	e.logger.Printf("Purged market %s: %d ticks, %d points, %d markers",
		marketKey, result.TicksDeleted, result.PointsDeleted, result.MarkersDeleted)

	return result, nil
}
