package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-rollup/internal/storage"
)

// Generator assembles report skeletons from stored data.
type Generator struct {
	ticks   storage.TickStore
	points  storage.PointStore
	markers storage.BackfillMarkerStore
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(
	ticks storage.TickStore,
	points storage.PointStore,
	markers storage.BackfillMarkerStore,
) *Generator {
	return &Generator{
		ticks:   ticks,
		points:  points,
		markers: markers,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report for one market: raw coverage plus recorded
// backfill markers. Callers attach operation results before rendering.
func (g *Generator) Generate(ctx context.Context, marketKey string) (*Report, error) {
	summary := &MarketSummary{}

	tickMin, tickMax, err := g.ticks.GetTimeBounds(ctx, marketKey)
	switch {
	case err == nil:
		summary.TickRangeStart, summary.TickRangeEnd = tickMin, tickMax
	case errors.Is(err, storage.ErrNotFound):
		// No ticks on record; bounds stay zero.
	default:
		return nil, fmt.Errorf("tick bounds: %w", err)
	}

	pointMin, pointMax, err := g.points.GetTimeBounds(ctx, marketKey)
	switch {
	case err == nil:
		summary.PointRangeStart, summary.PointRangeEnd = pointMin, pointMax
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("point bounds: %w", err)
	}

	summary.Markers, err = g.markers.GetByMarket(ctx, marketKey)
	if err != nil {
		return nil, fmt.Errorf("backfill markers: %w", err)
	}

	return &Report{
		GeneratedAt: g.now(),
		MarketKey:   marketKey,
		Summary:     summary,
	}, nil
}
