package ingest

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"market-rollup/internal/domain"
	"market-rollup/internal/observability"
	"market-rollup/internal/rollup"
	"market-rollup/internal/storage"
)

// Touch identifies a refreshed 1-minute bucket awaiting higher-timeframe
// cascading.
type Touch struct {
	MarketKey   string
	BucketStart int64
}

// Runner drives continuous ingestion: it consumes tick and point inputs
// from channels, hands them to the Ingestor, and periodically cascades
// touched 1-minute buckets into the higher timeframes.
//
// Cascading is asynchronous relative to ingestion: a failed pass keeps its
// buckets pending and retries on the next tick of the cascade interval.
type Runner struct {
	ingestor        *Ingestor
	candleStore     storage.CandleStore
	ticks           <-chan *TickInput
	points          <-chan *PointInput
	touches         chan Touch
	cascadeInterval time.Duration
	exitOnDrain     bool
	logger          *log.Logger

	// pending 1m buckets per market, cascaded on the next pass.
	// Owned by the Run goroutine.
	pending map[string]map[int64]bool

	stats runnerCounters
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Ingestor        *Ingestor
	CandleStore     storage.CandleStore
	Ticks           <-chan *TickInput
	Points          <-chan *PointInput
	CascadeInterval time.Duration // default: 5s
	TouchBuffer     int           // default: 1024
	ExitOnDrain     bool          // return nil once all input channels close (replay mode)
	Logger          *log.Logger
}

// RunnerStats is a snapshot of the counters a run has accumulated.
type RunnerStats struct {
	TicksProcessed  int64
	TicksRejected   int64
	PointsProcessed int64
	PointsRejected  int64
	CascadePasses   int64
	CandlesCascaded int64
	TouchesDropped  int64
}

// Counters are atomic: touches are enqueued from whatever goroutine
// runs the ingest, not only the runner's own loop.
type runnerCounters struct {
	ticksProcessed  atomic.Int64
	ticksRejected   atomic.Int64
	pointsProcessed atomic.Int64
	pointsRejected  atomic.Int64
	cascadePasses   atomic.Int64
	candlesCascaded atomic.Int64
	touchesDropped  atomic.Int64
}

// NewRunner creates an ingest runner and registers it as the ingestor's
// minute callback, so every refreshed 1-minute bucket is queued for
// cascading.
func NewRunner(opts RunnerOptions) *Runner {
	cascadeInterval := opts.CascadeInterval
	if cascadeInterval == 0 {
		cascadeInterval = 5 * time.Second
	}

	touchBuffer := opts.TouchBuffer
	if touchBuffer == 0 {
		touchBuffer = 1024
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	r := &Runner{
		ingestor:        opts.Ingestor,
		candleStore:     opts.CandleStore,
		ticks:           opts.Ticks,
		points:          opts.Points,
		touches:         make(chan Touch, touchBuffer),
		cascadeInterval: cascadeInterval,
		exitOnDrain:     opts.ExitOnDrain,
		logger:          logger,
		pending:         make(map[string]map[int64]bool),
	}

	if r.ingestor != nil {
		r.ingestor.WithMinuteCallback(r.EnqueueTouch)
	}

	return r
}

// EnqueueTouch queues a refreshed 1-minute bucket for cascading. It never
// blocks: on overflow the touch is dropped and the window is healed by a
// later touch or by backfill.
func (r *Runner) EnqueueTouch(marketKey string, bucketStart int64) {
	select {
	case r.touches <- Touch{MarketKey: marketKey, BucketStart: bucketStart}:
	default:
		r.stats.touchesDropped.Add(1)
		r.logger.Printf("Touch queue full, dropped (market_key=%s bucket=%d)", marketKey, bucketStart)
	}
}

// Run starts the ingest loop. It blocks until the context is cancelled, an
// input channel closes unexpectedly, or (with ExitOnDrain) all input
// channels are drained.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Printf("Ingest runner started, cascade interval: %v", r.cascadeInterval)

	ticker := time.NewTicker(r.cascadeInterval)
	defer ticker.Stop()

	ticks := r.ticks
	points := r.points

	for {
		if ticks == nil && points == nil && r.exitOnDrain {
			r.drainTouches()
			r.cascadePass(ctx)
			r.logger.Println("Input drained, ingest runner stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			// Final flush runs on a fresh context, the run context is
			// already canceled.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			r.drainTouches()
			r.cascadePass(flushCtx)
			cancel()
			r.logger.Println("Ingest runner stopping...")
			return ctx.Err()

		case in, ok := <-ticks:
			if !ok {
				if !r.exitOnDrain {
					return errors.New("tick input channel closed")
				}
				ticks = nil
				continue
			}
			r.handleTick(ctx, in)

		case in, ok := <-points:
			if !ok {
				if !r.exitOnDrain {
					return errors.New("point input channel closed")
				}
				points = nil
				continue
			}
			r.handlePoint(ctx, in)

		case t := <-r.touches:
			r.note(t)

		case <-ticker.C:
			r.drainTouches()
			r.cascadePass(ctx)
		}
	}
}

// Stats returns a snapshot of the counters accumulated so far.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		TicksProcessed:  r.stats.ticksProcessed.Load(),
		TicksRejected:   r.stats.ticksRejected.Load(),
		PointsProcessed: r.stats.pointsProcessed.Load(),
		PointsRejected:  r.stats.pointsRejected.Load(),
		CascadePasses:   r.stats.cascadePasses.Load(),
		CandlesCascaded: r.stats.candlesCascaded.Load(),
		TouchesDropped:  r.stats.touchesDropped.Load(),
	}
}

func (r *Runner) handleTick(ctx context.Context, in *TickInput) {
	_, err := r.ingestor.IngestTick(ctx, in)
	if err != nil {
		if errors.Is(err, ErrInvalidTick) {
			r.stats.ticksRejected.Add(1)
			return
		}
		r.logger.Printf("Tick ingest failed (market_key=%s symbol=%s): %v", in.MarketKey, in.Symbol, err)
		return
	}
	r.stats.ticksProcessed.Add(1)
}

func (r *Runner) handlePoint(ctx context.Context, in *PointInput) {
	_, err := r.ingestor.IngestPoint(ctx, in)
	if err != nil {
		if errors.Is(err, ErrInvalidPoint) {
			r.stats.pointsRejected.Add(1)
			return
		}
		r.logger.Printf("Point ingest failed (market_key=%s series=%s): %v", in.MarketKey, in.SeriesKey, err)
		return
	}
	r.stats.pointsProcessed.Add(1)
}

func (r *Runner) note(t Touch) {
	buckets, ok := r.pending[t.MarketKey]
	if !ok {
		buckets = make(map[int64]bool)
		r.pending[t.MarketKey] = buckets
	}
	buckets[t.BucketStart] = true
}

// drainTouches moves every queued touch into the pending set without
// blocking.
func (r *Runner) drainTouches() {
	for {
		select {
		case t := <-r.touches:
			r.note(t)
		default:
			return
		}
	}
}

// cascadePass recomputes every higher-timeframe window overlapping the
// pending 1-minute buckets. A market whose recompute fails stays pending
// and is retried on the next pass.
func (r *Runner) cascadePass(ctx context.Context) {
	if len(r.pending) == 0 {
		return
	}

	start := time.Now()
	var written int64

	for marketKey, buckets := range r.pending {
		n, err := r.cascadeMarket(ctx, marketKey, buckets)
		if err != nil {
			observability.RecordAggregationError("cascade")
			r.logger.Printf("Cascade failed (market_key=%s): %v", marketKey, err)
			continue
		}
		written += n
		delete(r.pending, marketKey)
	}

	r.stats.cascadePasses.Add(1)
	r.stats.candlesCascaded.Add(written)
	observability.DefaultMetrics.AggregationLatency.WithLabelValues("cascade").Observe(time.Since(start).Seconds())
}

func (r *Runner) cascadeMarket(ctx context.Context, marketKey string, buckets map[int64]bool) (int64, error) {
	var minBucket, maxBucket int64
	first := true
	for bucket := range buckets {
		if first || bucket < minBucket {
			minBucket = bucket
		}
		if first || bucket > maxBucket {
			maxBucket = bucket
		}
		first = false
	}

	var written int64
	for _, tf := range domain.CascadeTimeframes() {
		// Whole aligned windows, so every touched window recomputes from
		// its complete 1m set.
		from := rollup.BucketStart(minBucket, tf)
		to := rollup.BucketEnd(maxBucket, tf)

		minutes, err := r.candleStore.GetRange(ctx, marketKey, domain.Timeframe1m, from, to)
		if err != nil {
			return written, err
		}

		candles := rollup.CascadeCandles(tf, minutes)
		if len(candles) == 0 {
			continue
		}

		rollup.StampVersion(candles)
		if err := r.candleStore.UpsertBulk(ctx, candles); err != nil {
			return written, err
		}

		for range candles {
			observability.RecordCandleAggregated(tf.String())
		}
		written += int64(len(candles))
	}

	return written, nil
}
