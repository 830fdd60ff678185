// Package backfill rebuilds derived tables from raw history. Every write
// recomputes whole buckets from a single read of their full raw range, so
// re-running the same span converges to the same rows.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"market-rollup/internal/dedup"
	"market-rollup/internal/domain"
	"market-rollup/internal/identity"
	"market-rollup/internal/lock"
	"market-rollup/internal/observability"
	"market-rollup/internal/rollup"
	"market-rollup/internal/storage"
)

// Target statuses reported in results and metrics.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusDryRun  = "dry_run"
)

const (
	// lockTTL bounds how long a crashed run can hold a target.
	lockTTL = 10 * time.Minute

	// chunkMillis is the read window per store round trip. Day-aligned
	// cuts keep every bucket of every timeframe whole.
	chunkMillis = int64(24 * 60 * 60 * 1000)
)

// Options selects what one backfill run covers.
type Options struct {
	MarketKey string
	From      int64    // unix ms inclusive; 0 = start of raw history
	To        int64    // unix ms exclusive; 0 = end of raw history
	Targets   []string // destination tables; empty = all
	DryRun    bool     // compute and count without writing
}

// TargetResult is the outcome of one target within a run.
type TargetResult struct {
	Target      string        `json:"target"`
	Status      string        `json:"status"`
	RowsWritten int64         `json:"rows_written"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Result is the outcome of one backfill run.
type Result struct {
	RunID     string         `json:"run_id"`
	MarketKey string         `json:"market_key"`
	From      int64          `json:"from"`
	To        int64          `json:"to"`
	DryRun    bool           `json:"dry_run,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Targets   []TargetResult `json:"targets"`
}

// Succeeded reports whether no target failed. Skipped targets count as
// success: another run owns them.
func (r *Result) Succeeded() bool {
	for _, t := range r.Targets {
		if t.Status == StatusFailed {
			return false
		}
	}
	return true
}

// Engine rebuilds derived state from the raw stores.
type Engine struct {
	ticks   storage.TickStore
	points  storage.PointStore
	candles storage.CandleStore
	latest  storage.LatestValueStore
	markers storage.BackfillMarkerStore

	resolver *identity.Resolver
	locker   lock.Locker
	logger   *log.Logger
}

// EngineOptions contains configuration for creating an Engine.
type EngineOptions struct {
	TickStore        storage.TickStore
	PointStore       storage.PointStore
	CandleStore      storage.CandleStore
	LatestValueStore storage.LatestValueStore
	MarkerStore      storage.BackfillMarkerStore
	Resolver         *identity.Resolver

	Locker lock.Locker // defaults to an in-process locker
	Logger *log.Logger
}

// NewEngine creates a backfill engine.
func NewEngine(opts EngineOptions) *Engine {
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Engine{
		ticks:    opts.TickStore,
		points:   opts.PointStore,
		candles:  opts.CandleStore,
		latest:   opts.LatestValueStore,
		markers:  opts.MarkerStore,
		resolver: opts.Resolver,
		locker:   locker,
		logger:   logger,
	}
}

// Run rebuilds the requested targets for one market. One target's
// failure never aborts the others; per-target outcomes land in the
// Result. The returned error covers input validation and range
// resolution only.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.MarketKey == "" {
		return nil, fmt.Errorf("%w: market key required", storage.ErrInvalidInput)
	}
	targets, err := normalizeTargets(opts.Targets)
	if err != nil {
		return nil, err
	}

	from, to, hasData, err := e.resolveRange(ctx, opts)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result := &Result{
		RunID:     uuid.New().String(),
		MarketKey: opts.MarketKey,
		From:      from,
		To:        to,
		DryRun:    opts.DryRun,
	}

	if !hasData {
		// No raw history: every target is a completed no-op.
		for _, target := range targets {
			result.Targets = append(result.Targets, TargetResult{Target: target, Status: StatusOK})
		}
		result.Duration = time.Since(started)
		return result, nil
	}

	e.logger.Printf("Backfill %s: market=%s range=[%d,%d) targets=%v dry_run=%v",
		result.RunID, opts.MarketKey, from, to, targets, opts.DryRun)

	// The 1m fold runs first: every higher timeframe cascades from the
	// rows it writes.
	rest := targets
	if targets[0] == TargetCandles1m {
		result.Targets = append(result.Targets,
			e.runTarget(ctx, TargetCandles1m, opts.MarketKey, from, to, opts.DryRun))
		rest = targets[1:]
	}

	if len(rest) > 0 {
		var mu sync.Mutex
		byTarget := make(map[string]TargetResult, len(rest))

		g, gctx := errgroup.WithContext(ctx)
		for _, target := range rest {
			g.Go(func() error {
				res := e.runTarget(gctx, target, opts.MarketKey, from, to, opts.DryRun)
				mu.Lock()
				byTarget[target] = res
				mu.Unlock()
				// Failures live in the result, not the group.
				return nil
			})
		}
		_ = g.Wait()

		for _, target := range rest {
			result.Targets = append(result.Targets, byTarget[target])
		}
	}

	result.Duration = time.Since(started)
	if result.Succeeded() && !opts.DryRun {
		observability.DefaultMetrics.LastSuccessfulBackfill.SetToCurrentTime()
	}

	e.logger.Printf("Backfill %s finished in %s", result.RunID, result.Duration.Round(time.Millisecond))
	return result, nil
}

// resolveRange fills open range ends from the raw time bounds. hasData
// is false when the market has no raw rows to derive an open end from.
func (e *Engine) resolveRange(ctx context.Context, opts Options) (from, to int64, hasData bool, err error) {
	from, to = opts.From, opts.To
	if from != 0 && to != 0 {
		return from, to, true, nil
	}

	minTS, maxTS, found, err := e.rawBounds(ctx, opts.MarketKey)
	if err != nil {
		return 0, 0, false, err
	}
	if !found {
		return from, to, false, nil
	}

	if from == 0 {
		from = minTS
	}
	if to == 0 {
		// Bounds are inclusive maxima, the range end is exclusive.
		to = maxTS + 1
	}
	return from, to, true, nil
}

func (e *Engine) rawBounds(ctx context.Context, marketKey string) (minTS, maxTS int64, found bool, err error) {
	tickMin, tickMax, err := e.ticks.GetTimeBounds(ctx, marketKey)
	switch {
	case err == nil:
		minTS, maxTS, found = tickMin, tickMax, true
	case errors.Is(err, storage.ErrNotFound):
	default:
		return 0, 0, false, fmt.Errorf("tick bounds: %w", err)
	}

	pointMin, pointMax, err := e.points.GetTimeBounds(ctx, marketKey)
	switch {
	case err == nil:
		if !found || pointMin < minTS {
			minTS = pointMin
		}
		if !found || pointMax > maxTS {
			maxTS = pointMax
		}
		found = true
	case errors.Is(err, storage.ErrNotFound):
	default:
		return 0, 0, false, fmt.Errorf("point bounds: %w", err)
	}

	return minTS, maxTS, found, nil
}

// runTarget rebuilds one target under its advisory lock.
func (e *Engine) runTarget(ctx context.Context, target, marketKey string, from, to int64, dryRun bool) TargetResult {
	started := time.Now()
	result := TargetResult{Target: target}

	unlock, err := e.locker.Acquire(ctx, lockKey(marketKey, target), lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			// Another run owns this target; a no-op, not a failure.
			result.Status = StatusSkipped
		} else {
			result.Status = StatusFailed
			result.Error = err.Error()
		}
		result.Duration = time.Since(started)
		observability.RecordBackfillTarget(target, result.Status, result.Duration.Seconds(), 0)
		return result
	}
	defer unlock()

	var rows int64
	if tf, isCandle := timeframeForTarget(target); isCandle {
		rows, err = e.backfillCandles(ctx, marketKey, tf, from, to, dryRun)
	} else {
		rows, err = e.backfillLatestValues(ctx, marketKey, from, to, dryRun)
	}

	result.RowsWritten = rows
	result.Duration = time.Since(started)

	switch {
	case err != nil:
		result.Status = StatusFailed
		result.Error = err.Error()
		e.logger.Printf("Backfill target %s failed for %s: %v", target, marketKey, err)
	case dryRun:
		result.Status = StatusDryRun
	default:
		result.Status = StatusOK
		marker := &storage.BackfillMarker{
			MarketKey:   marketKey,
			Target:      target,
			From:        from,
			To:          to,
			RowsWritten: rows,
			CompletedAt: time.Now().UnixMilli(),
		}
		if markErr := e.markers.Set(ctx, marker); markErr != nil {
			// Markers are informational only.
			e.logger.Printf("Backfill marker write failed for %s/%s: %v", marketKey, target, markErr)
		}
	}

	observability.RecordBackfillTarget(target, result.Status, result.Duration.Seconds(), rows)
	return result
}

func lockKey(marketKey, target string) string {
	return fmt.Sprintf("backfill:%s:%s", marketKey, target)
}

// backfillCandles recomputes one timeframe from its source: raw ticks
// for 1m, stored 1m rows for everything above.
func (e *Engine) backfillCandles(ctx context.Context, marketKey string, tf domain.Timeframe, from, to int64, dryRun bool) (int64, error) {
	alignedFrom := rollup.BucketStart(from, tf)
	alignedTo := rollup.BucketEnd(to-1, tf)

	var rows int64
	for chunkFrom := alignedFrom; chunkFrom < alignedTo; {
		chunkTo := nextChunkCut(chunkFrom, alignedTo)

		if err := ctx.Err(); err != nil {
			return rows, err
		}

		var candles []*domain.Candle
		if tf == domain.Timeframe1m {
			ticks, err := e.ticks.GetByMarketRange(ctx, marketKey, chunkFrom, chunkTo)
			if err != nil {
				return rows, fmt.Errorf("read ticks [%d,%d): %w", chunkFrom, chunkTo, err)
			}
			candles = rollup.BuildCandles(tf, ticks)
		} else {
			minutes, err := e.candles.GetRange(ctx, marketKey, domain.Timeframe1m, chunkFrom, chunkTo)
			if err != nil {
				return rows, fmt.Errorf("read 1m candles [%d,%d): %w", chunkFrom, chunkTo, err)
			}
			candles = rollup.CascadeCandles(tf, minutes)
		}

		if len(candles) > 0 && !dryRun {
			rollup.StampVersion(candles)
			if err := e.candles.UpsertBulk(ctx, candles); err != nil {
				return rows, fmt.Errorf("write %s candles [%d,%d): %w", tf, chunkFrom, chunkTo, err)
			}
		}
		rows += int64(len(candles))

		chunkFrom = chunkTo
	}

	return rows, nil
}

// backfillLatestValues refolds raw points into the side table. The merge
// is idempotent, so refolding over existing rows converges.
func (e *Engine) backfillLatestValues(ctx context.Context, marketKey string, from, to int64, dryRun bool) (int64, error) {
	now := time.Now().UnixMilli()

	var rows int64
	for chunkFrom := from; chunkFrom < to; {
		chunkTo := nextChunkCut(chunkFrom, to)

		if err := ctx.Err(); err != nil {
			return rows, err
		}

		points, err := e.points.GetByMarketRange(ctx, marketKey, chunkFrom, chunkTo)
		if err != nil {
			return rows, fmt.Errorf("read points [%d,%d): %w", chunkFrom, chunkTo, err)
		}
		if len(points) == 0 {
			chunkFrom = chunkTo
			continue
		}

		// One survivor per natural key; the store merge would fold the
		// rest anyway, this keeps the batch small.
		candidates := dedup.FoldPoints(points)
		for _, lv := range candidates {
			lv.UpdatedAt = now
		}

		if !dryRun {
			if err := e.latest.MergeBulk(ctx, candidates); err != nil {
				return rows, fmt.Errorf("merge latest values [%d,%d): %w", chunkFrom, chunkTo, err)
			}
		}
		rows += int64(len(candidates))

		chunkFrom = chunkTo
	}

	return rows, nil
}

// nextChunkCut advances to the next day boundary, capped at end.
func nextChunkCut(from, end int64) int64 {
	cut := (from/chunkMillis + 1) * chunkMillis
	if cut > end {
		return end
	}
	return cut
}
