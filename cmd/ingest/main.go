// Package main runs the ingestion daemon. Live mode streams ticks and
// points from a feed relay over WebSocket; replay mode reads a captured
// JSONL file and exits when it is drained. Both feed the same ingest
// runner, so replayed data lands bit-for-bit where live data would.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"market-rollup/internal/config"
	"market-rollup/internal/feed"
	"market-rollup/internal/identity"
	"market-rollup/internal/ingest"
	"market-rollup/internal/observability"
	"market-rollup/internal/storage"
	chstore "market-rollup/internal/storage/clickhouse"
	"market-rollup/internal/storage/memory"
	"market-rollup/internal/storage/migrations"
	pgstore "market-rollup/internal/storage/postgres"
)

func main() {
	godotenv.Load()

	mode := flag.String("mode", "live", "Ingestion mode: live or replay")
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "Path to YAML config")
	endpoint := flag.String("endpoint", "", "Feed relay WebSocket endpoint (overrides config)")
	markets := flag.String("markets", "", "Comma-separated market keys to subscribe (overrides config; empty subscribes to everything)")
	replayFile := flag.String("replay-file", "", "Captured JSONL file for replay mode")
	cascadeInterval := flag.Duration("cascade-interval", 5*time.Second, "Interval between higher-timeframe cascade passes")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of Postgres and ClickHouse")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config; 'off' disables)")
	flag.Parse()

	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config %s: %v", *configPath, err)
	}
	if *endpoint != "" {
		cfg.Feed.Endpoint = *endpoint
	}
	if *markets != "" {
		cfg.Feed.Markets = splitList(*markets)
	}
	if !*useMemory {
		if err := cfg.Validate(); err != nil {
			logger.Fatalf("Invalid config: %v", err)
		}
	}

	startMetricsServer(resolveMetricsAddr(*metricsAddr, cfg), logger)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	switch *mode {
	case "live":
		err = runLive(ctx, logger, cfg, *cascadeInterval, *useMemory)
	case "replay":
		err = runReplay(ctx, logger, cfg, *replayFile, *cascadeInterval, *useMemory)
	default:
		logger.Fatalf("Unknown mode: %s", *mode)
	}

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// runLive streams from the feed relay until the context is canceled.
func runLive(ctx context.Context, logger *log.Logger, cfg *config.Config, cascadeInterval time.Duration, useMemory bool) error {
	if cfg.Feed.Endpoint == "" {
		return fmt.Errorf("feed.endpoint is required for live mode (or --endpoint)")
	}

	feedCfg := feed.DefaultConfig()
	if cfg.Feed.ReconnectDelay > 0 {
		feedCfg.ReconnectDelay = cfg.Feed.ReconnectDelay
	}
	if cfg.Feed.MaxReconnectDelay > 0 {
		feedCfg.MaxReconnectDelay = cfg.Feed.MaxReconnectDelay
	}
	if cfg.Feed.PingInterval > 0 {
		feedCfg.PingInterval = cfg.Feed.PingInterval
	}

	client, err := feed.NewClient(ctx, cfg.Feed.Endpoint, cfg.Feed.Markets, &feedCfg, log.New(os.Stdout, "[feed] ", log.LstdFlags|log.Lshortfile))
	if err != nil {
		return fmt.Errorf("connect to feed relay: %w", err)
	}
	defer client.Close()

	runner, cleanup, err := buildRunner(ctx, logger, cfg, useMemory, runnerInput{ticks: client.Ticks(), points: client.Points()}, cascadeInterval)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Printf("Starting live ingestion from %s (markets: %v)", cfg.Feed.Endpoint, cfg.Feed.Markets)
	err = runner.Run(ctx)
	logStats(logger, runner.Stats())
	return err
}

// runReplay drains a captured JSONL file and exits.
func runReplay(ctx context.Context, logger *log.Logger, cfg *config.Config, path string, cascadeInterval time.Duration, useMemory bool) error {
	if path == "" {
		return fmt.Errorf("--replay-file is required for replay mode")
	}

	source := ingest.NewFileSource(path, log.New(os.Stdout, "[replay] ", log.LstdFlags|log.Lshortfile))
	ticks, points, err := source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}

	runner, cleanup, err := buildRunner(ctx, logger, cfg, useMemory, runnerInput{ticks: ticks, points: points, exitOnDrain: true}, cascadeInterval)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Printf("Replaying %s...", path)
	err = runner.Run(ctx)
	logStats(logger, runner.Stats())
	return err
}

type runnerInput struct {
	ticks       <-chan *ingest.TickInput
	points      <-chan *ingest.PointInput
	exitOnDrain bool
}

// buildRunner wires stores, resolver, and ingestor into a runner. The
// returned cleanup closes database connections.
func buildRunner(ctx context.Context, logger *log.Logger, cfg *config.Config, useMemory bool, in runnerInput, cascadeInterval time.Duration) (*ingest.Runner, func(), error) {
	var tickStore storage.TickStore = memory.NewTickStore()
	var pointStore storage.PointStore = memory.NewPointStore()
	var mappingStore storage.SymbolMappingStore = memory.NewSymbolMappingStore()
	var candleStore storage.CandleStore = memory.NewCandleStore()
	var latestStore storage.LatestValueStore = memory.NewLatestValueStore()
	cleanup := func() {}

	if !useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.Database.Postgres.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}

		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Database.ClickHouse.DSN())
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
		}

		tickStore = pgstore.NewTickStore(pool)
		pointStore = pgstore.NewPointStore(pool)
		mappingStore = pgstore.NewSymbolMappingStore(pool)
		candleStore = chstore.NewCandleStore(conn)
		latestStore = chstore.NewLatestValueStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	resolver := identity.NewResolver(mappingStore)
	if n, err := resolver.Warm(ctx); err != nil {
		logger.Printf("Mapping cache warmup failed: %v", err)
	} else {
		logger.Printf("Warmed %d symbol mappings", n)
	}

	// Resume the arrival sequence past anything already stored, so restarts
	// never reuse sequence numbers.
	maxSeq, err := tickStore.MaxArrivalSeq(ctx)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load max arrival seq: %w", err)
	}

	ingestor := ingest.NewIngestor(ingest.IngestorOptions{
		TickStore:   tickStore,
		PointStore:  pointStore,
		CandleStore: candleStore,
		LatestStore: latestStore,
		Resolver:    resolver,
		Sequencer:   ingest.NewSequencer(maxSeq),
		Logger:      logger,
	})

	runner := ingest.NewRunner(ingest.RunnerOptions{
		Ingestor:        ingestor,
		CandleStore:     candleStore,
		Ticks:           in.ticks,
		Points:          in.points,
		CascadeInterval: cascadeInterval,
		ExitOnDrain:     in.exitOnDrain,
		Logger:          logger,
	})
	return runner, cleanup, nil
}

func logStats(logger *log.Logger, stats ingest.RunnerStats) {
	logger.Printf("Processed %d ticks (%d rejected), %d points (%d rejected), cascaded %d candles over %d passes",
		stats.TicksProcessed, stats.TicksRejected, stats.PointsProcessed, stats.PointsRejected,
		stats.CandlesCascaded, stats.CascadePasses)
	if stats.TouchesDropped > 0 {
		logger.Printf("Dropped %d cascade touches under load; run a backfill to heal", stats.TouchesDropped)
	}
}

// startMetricsServer exposes /metrics and /health on a side listener.
func startMetricsServer(addr string, logger *log.Logger) {
	if addr == "" || addr == "off" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		logger.Printf("Starting metrics server on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Printf("Metrics server error: %v", err)
		}
	}()
}

func resolveMetricsAddr(flagAddr string, cfg *config.Config) string {
	if flagAddr != "" {
		return flagAddr
	}
	return fmt.Sprintf(":%d", cfg.Metrics.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
