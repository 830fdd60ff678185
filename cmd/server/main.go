// Package main runs the rollup API server: tick and point ingestion over
// JSON, candle and latest-value queries, and the backfill, resolution,
// and purge admin operations.
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
	"syscall"

	"github.com/joho/godotenv"

	"market-rollup/internal/backfill"
	"market-rollup/internal/config"
	"market-rollup/internal/identity"
	"market-rollup/internal/ingest"
	"market-rollup/internal/lock"
	"market-rollup/internal/lookup"
	"market-rollup/internal/server"
	"market-rollup/internal/storage"
	chstore "market-rollup/internal/storage/clickhouse"
	"market-rollup/internal/storage/memory"
	"market-rollup/internal/storage/migrations"
	pgstore "market-rollup/internal/storage/postgres"
)

// storeSet holds one implementation of every store the engine needs.
type storeSet struct {
	ticks    storage.TickStore
	points   storage.PointStore
	mappings storage.SymbolMappingStore
	markers  storage.BackfillMarkerStore
	candles  storage.CandleStore
	latest   storage.LatestValueStore
}

func main() {
	// Load .env if present; real env vars win.
	godotenv.Load()

	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "Path to YAML config")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of Postgres and ClickHouse")
	addr := flag.String("addr", "", "Listen address override")
	strategy := flag.String("strategy", "", "Candle read strategy override (materialized or dynamic)")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config %s: %v", *configPath, err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *strategy != "" {
		cfg.Rollup.Strategy = *strategy
	}
	// Memory mode needs no database sections filled in.
	if !*useMemory {
		if err := cfg.Validate(); err != nil {
			logger.Fatalf("Invalid config: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	locker, err := createLocker(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}

	resolver := identity.NewResolver(stores.mappings)
	if n, err := resolver.Warm(ctx); err != nil {
		logger.Printf("Mapping cache warmup failed: %v", err)
	} else {
		logger.Printf("Warmed %d symbol mappings", n)
	}

	// Resume the arrival sequence past anything already stored, so restarts
	// never reuse sequence numbers.
	maxSeq, err := stores.ticks.MaxArrivalSeq(ctx)
	if err != nil {
		logger.Fatalf("Failed to load max arrival seq: %v", err)
	}

	ingestor := ingest.NewIngestor(ingest.IngestorOptions{
		TickStore:   stores.ticks,
		PointStore:  stores.points,
		CandleStore: stores.candles,
		LatestStore: stores.latest,
		Resolver:    resolver,
		Sequencer:   ingest.NewSequencer(maxSeq),
		Logger:      log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile),
	})

	// No input channels: the runner only cascades buckets touched by API
	// ingests.
	runner := ingest.NewRunner(ingest.RunnerOptions{
		Ingestor:    ingestor,
		CandleStore: stores.candles,
		Logger:      log.New(os.Stdout, "[cascade] ", log.LstdFlags|log.Lshortfile),
	})

	reader, err := lookup.NewCandleReader(cfg.Rollup.Strategy, stores.candles)
	if err != nil {
		logger.Fatalf("Failed to create candle reader: %v", err)
	}

	engine := backfill.NewEngine(backfill.EngineOptions{
		TickStore:        stores.ticks,
		PointStore:       stores.points,
		CandleStore:      stores.candles,
		LatestValueStore: stores.latest,
		MarkerStore:      stores.markers,
		Resolver:         resolver,
		Locker:           locker,
		Logger:           log.New(os.Stdout, "[backfill] ", log.LstdFlags|log.Lshortfile),
	})

	srv := server.New(server.Options{
		Ingestor:     ingestor,
		CandleReader: reader,
		LatestReader: lookup.NewLatestReader(stores.latest),
		Backfill:     engine,
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       logger,
	})

	errCh := make(chan error, 2)
	go func() {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("cascade runner: %w", err)
		}
	}()
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	logger.Printf("Serving %s reads on %s (storage: %s)", cfg.Rollup.Strategy, cfg.Server.Addr, storageMode(*useMemory))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, shutting down...", sig)
	case err := <-errCh:
		logger.Printf("Fatal: %v", err)
	}

	cancel()

	// A second signal forces immediate exit.
	go func() {
		sig := <-sigCh
		logger.Printf("Received second signal %v, forcing exit", sig)
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Shutdown error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores connects Postgres and ClickHouse, applies migrations, and
// returns the store set with a cleanup closing both. Memory mode skips
// all of it.
func createStores(ctx context.Context, cfg *config.Config, useMemory bool) (*storeSet, func(), error) {
	if useMemory {
		return &storeSet{
			ticks:    memory.NewTickStore(),
			points:   memory.NewPointStore(),
			mappings: memory.NewSymbolMappingStore(),
			markers:  memory.NewBackfillMarkerStore(),
			candles:  memory.NewCandleStore(),
			latest:   memory.NewLatestValueStore(),
		}, func() {}, nil
	}

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

	stores := &storeSet{
		ticks:    pgstore.NewTickStore(pool),
		points:   pgstore.NewPointStore(pool),
		mappings: pgstore.NewSymbolMappingStore(pool),
		markers:  pgstore.NewBackfillMarkerStore(pool),
		candles:  chstore.NewCandleStore(conn),
		latest:   chstore.NewLatestValueStore(conn),
	}
	cleanup := func() {
		conn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// createLocker returns a Redis-backed locker when an address is
// configured, an in-process one otherwise.
func createLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if cfg.Redis.Addr == "" {
		return lock.NewMemoryLocker(), nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	return lock.NewRedisLocker(client), nil
}

func storageMode(useMemory bool) string {
	if useMemory {
		return "memory"
	}
	return "postgres+clickhouse"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
