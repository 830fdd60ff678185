package backfill

import (
	"context"
	"fmt"
)

// ResolutionResult is the outcome of an identity resolution event.
type ResolutionResult struct {
	Symbol         string  `json:"symbol"`
	MarketKey      string  `json:"market_key"`
	TicksRetagged  int64   `json:"ticks_retagged"`
	PointsRetagged int64   `json:"points_retagged"`
	Backfill       *Result `json:"backfill,omitempty"`
}

// ResolveAndBackfill handles an identity resolution event: it registers
// the symbol mapping, moves raw rows filed under the bare symbol to the
// resolved key, drops derived rows under the old key, and rebuilds the
// resolved market from its full raw history.
//
// Re-running the same event is harmless: registration is idempotent, a
// second retag moves nothing, and the backfill converges.
func (e *Engine) ResolveAndBackfill(ctx context.Context, symbol, marketKey string) (*ResolutionResult, error) {
	if e.resolver == nil {
		return nil, fmt.Errorf("no resolver configured")
	}

	mapping, err := e.resolver.Register(ctx, symbol, marketKey)
	if err != nil {
		return nil, fmt.Errorf("register mapping: %w", err)
	}

	result := &ResolutionResult{Symbol: symbol, MarketKey: mapping.MarketKey}

	// Raw rows ingested before the mapping existed sit under the bare
	// symbol.
	result.TicksRetagged, err = e.ticks.RetagMarketKey(ctx, symbol, mapping.MarketKey)
	if err != nil {
		return nil, fmt.Errorf("retag ticks: %w", err)
	}
	result.PointsRetagged, err = e.points.RetagMarketKey(ctx, symbol, mapping.MarketKey)
	if err != nil {
		return nil, fmt.Errorf("retag points: %w", err)
	}

	e.logger.Printf("Resolution %s -> %s: retagged %d ticks, %d points",
		symbol, mapping.MarketKey, result.TicksRetagged, result.PointsRetagged)

	// Derived rows under the old key describe history that now belongs
	// to the resolved market.
	if err := e.candles.DeleteByMarket(ctx, symbol); err != nil {
		return nil, fmt.Errorf("delete candles under %q: %w", symbol, err)
	}
	if err := e.latest.DeleteByMarket(ctx, symbol); err != nil {
		return nil, fmt.Errorf("delete latest values under %q: %w", symbol, err)
	}
	if _, err := e.markers.DeleteByMarket(ctx, symbol); err != nil {
		return nil, fmt.Errorf("delete markers under %q: %w", symbol, err)
	}

	// Rebuild over the full raw history, re-tagged rows included.
	backfillResult, err := e.Run(ctx, Options{MarketKey: mapping.MarketKey})
	if err != nil {
		return nil, fmt.Errorf("backfill %s: %w", mapping.MarketKey, err)
	}
	result.Backfill = backfillResult

	return result, nil
}
