// Package main is the rollup admin CLI. It rebuilds derived data from raw
// ticks and points (run), checks materialized candles against an on-read
// cascade (verify), re-tags history after an identity resolution
// (resolve), and wipes a market (purge). Every mode can render its result
// as a markdown report plus CSVs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"market-rollup/internal/backfill"
	"market-rollup/internal/config"
	"market-rollup/internal/identity"
	"market-rollup/internal/lock"
	"market-rollup/internal/reporting"
	"market-rollup/internal/storage"
	chstore "market-rollup/internal/storage/clickhouse"
	"market-rollup/internal/storage/memory"
	"market-rollup/internal/storage/migrations"
	pgstore "market-rollup/internal/storage/postgres"
	"market-rollup/internal/verify"
)

type storeSet struct {
	ticks    storage.TickStore
	points   storage.PointStore
	mappings storage.SymbolMappingStore
	markers  storage.BackfillMarkerStore
	candles  storage.CandleStore
	latest   storage.LatestValueStore
}

func main() {
	godotenv.Load()

	mode := flag.String("mode", "run", "Operation: run, verify, resolve, or purge")
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "Path to YAML config")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of Postgres and ClickHouse")
	market := flag.String("market", "", "Market key to operate on")
	symbol := flag.String("symbol", "", "Producer symbol to resolve (resolve mode)")
	newKey := flag.String("new-key", "", "Stable market key to assign (resolve mode; derived when empty)")
	from := flag.Int64("from", 0, "Range start, Unix ms (0 derives the range from raw data)")
	to := flag.Int64("to", 0, "Range end exclusive, Unix ms (0 derives the range from raw data)")
	fromTime := flag.String("from-time", "", "Range start, RFC3339 (overrides --from)")
	toTime := flag.String("to-time", "", "Range end, RFC3339 (overrides --to)")
	targets := flag.String("targets", "", "Comma-separated backfill targets (empty runs all)")
	dryRun := flag.Bool("dry-run", false, "Count rows without writing")
	reportDir := flag.String("report-dir", "", "Directory for markdown/CSV reports (empty skips)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		fatalf("load config %s: %v", *configPath, err)
	}
	if !*useMemory {
		if err := cfg.Validate(); err != nil {
			fatalf("invalid config: %v", err)
		}
	}

	fromMs, err := resolveTimeFlag(*from, *fromTime)
	if err != nil {
		fatalf("--from-time: %v", err)
	}
	toMs, err := resolveTimeFlag(*to, *toTime)
	if err != nil {
		fatalf("--to-time: %v", err)
	}

	stores, cleanup, err := createStores(ctx, cfg, *useMemory)
	if err != nil {
		fatalf("create stores: %v", err)
	}
	defer cleanup()

	locker, err := createLocker(ctx, cfg)
	if err != nil {
		fatalf("connect to redis: %v", err)
	}

	resolver := identity.NewResolver(stores.mappings)
	if _, err := resolver.Warm(ctx); err != nil {
		fatalf("warm mapping cache: %v", err)
	}

	engine := backfill.NewEngine(backfill.EngineOptions{
		TickStore:        stores.ticks,
		PointStore:       stores.points,
		CandleStore:      stores.candles,
		LatestValueStore: stores.latest,
		MarkerStore:      stores.markers,
		Resolver:         resolver,
		Locker:           locker,
	})

	rep, err := runMode(ctx, *mode, modeArgs{
		engine:  engine,
		stores:  stores,
		market:  *market,
		symbol:  *symbol,
		newKey:  *newKey,
		from:    fromMs,
		to:      toMs,
		targets: splitList(*targets),
		dryRun:  *dryRun,
	})
	if rep != nil && *reportDir != "" {
		if werr := writeReport(*reportDir, rep); werr != nil {
			fatalf("write report: %v", werr)
		}
	}
	if err != nil {
		fatalf("%v", err)
	}
}

type modeArgs struct {
	engine  *backfill.Engine
	stores  *storeSet
	market  string
	symbol  string
	newKey  string
	from    int64
	to      int64
	targets []string
	dryRun  bool
}

// runMode executes one admin operation and returns the report to render.
// A non-nil report alongside a non-nil error means the operation ran but
// did not fully succeed; the report is still written.
func runMode(ctx context.Context, mode string, args modeArgs) (*reporting.Report, error) {
	switch mode {
	case "run":
		return runBackfill(ctx, args)
	case "verify":
		return runVerify(ctx, args)
	case "resolve":
		return runResolve(ctx, args)
	case "purge":
		return runPurge(ctx, args)
	default:
		return nil, fmt.Errorf("unknown mode %q (expected run, verify, resolve, or purge)", mode)
	}
}

func runBackfill(ctx context.Context, args modeArgs) (*reporting.Report, error) {
	if args.market == "" {
		return nil, fmt.Errorf("--market is required for run mode")
	}

	result, err := args.engine.Run(ctx, backfill.Options{
		MarketKey: args.market,
		From:      args.from,
		To:        args.to,
		Targets:   args.targets,
		DryRun:    args.dryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("backfill: %w", err)
	}

	fmt.Printf("Backfill %s for %s over [%d, %d) in %v\n", result.RunID, result.MarketKey, result.From, result.To, result.Duration.Round(time.Millisecond))
	printTargets(result)

	rep, gerr := buildReport(ctx, args.stores, args.market)
	if gerr != nil {
		return nil, gerr
	}
	rep.Backfill = result

	if !result.Succeeded() {
		return rep, fmt.Errorf("backfill finished with failed targets")
	}
	return rep, nil
}

func runVerify(ctx context.Context, args modeArgs) (*reporting.Report, error) {
	if args.market == "" {
		return nil, fmt.Errorf("--market is required for verify mode")
	}

	to := args.to
	if to == 0 {
		to = time.Now().UnixMilli() + 1
	}

	verifier := verify.NewVerifier(args.stores.candles)
	vr, err := verifier.VerifyMarket(ctx, args.market, args.from, to)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	fmt.Printf("Verified %d buckets for %s: %d matched, %d divergent\n", vr.TotalBuckets, vr.MarketKey, vr.MatchedBuckets, vr.DivergentBuckets)
	for _, br := range vr.Results {
		for _, d := range br.Divergences {
			fmt.Printf("  %s bucket %d: %s recomputed=%v materialized=%v\n", br.Timeframe, br.BucketStart, d.Field, d.Expected, d.Actual)
		}
	}

	rep, gerr := buildReport(ctx, args.stores, args.market)
	if gerr != nil {
		return nil, gerr
	}
	rep.Verification = vr

	if vr.DivergentBuckets > 0 {
		return rep, fmt.Errorf("found %d divergent buckets", vr.DivergentBuckets)
	}
	return rep, nil
}

func runResolve(ctx context.Context, args modeArgs) (*reporting.Report, error) {
	if args.symbol == "" {
		return nil, fmt.Errorf("--symbol is required for resolve mode")
	}

	result, err := args.engine.ResolveAndBackfill(ctx, args.symbol, args.newKey)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", args.symbol, err)
	}

	fmt.Printf("Resolved %s to %s: %d ticks and %d points re-tagged\n", result.Symbol, result.MarketKey, result.TicksRetagged, result.PointsRetagged)
	if result.Backfill != nil {
		printTargets(result.Backfill)
	}

	rep, gerr := buildReport(ctx, args.stores, result.MarketKey)
	if gerr != nil {
		return nil, gerr
	}
	rep.Resolution = result
	if result.Backfill != nil {
		rep.Backfill = result.Backfill
		if !result.Backfill.Succeeded() {
			return rep, fmt.Errorf("rebuild after resolution finished with failed targets")
		}
	}
	return rep, nil
}

func runPurge(ctx context.Context, args modeArgs) (*reporting.Report, error) {
	if args.market == "" {
		return nil, fmt.Errorf("--market is required for purge mode")
	}

	result, err := args.engine.PurgeMarket(ctx, args.market)
	if err != nil {
		return nil, fmt.Errorf("purge %s: %w", args.market, err)
	}

	fmt.Printf("Purged %s: %d ticks, %d points, %d markers deleted\n", result.MarketKey, result.TicksDeleted, result.PointsDeleted, result.MarkersDeleted)
	if result.DerivedPurged {
		fmt.Println("Derived candle and latest-value rows are deleted asynchronously.")
	}

	rep, gerr := buildReport(ctx, args.stores, args.market)
	if gerr != nil {
		return nil, gerr
	}
	rep.Purge = result
	return rep, nil
}

func buildReport(ctx context.Context, stores *storeSet, marketKey string) (*reporting.Report, error) {
	gen := reporting.NewGenerator(stores.ticks, stores.points, stores.markers)
	rep, err := gen.Generate(ctx, marketKey)
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}
	return rep, nil
}

func printTargets(result *backfill.Result) {
	for _, tr := range result.Targets {
		line := fmt.Sprintf("  %-14s %-8s %8d rows  %v", tr.Target, tr.Status, tr.RowsWritten, tr.Duration.Round(time.Millisecond))
		if tr.Error != "" {
			line += "  " + tr.Error
		}
		fmt.Println(line)
	}
}

// writeReport renders the markdown report plus any CSVs the run produced.
func writeReport(dir string, rep *reporting.Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	files := []string{}

	mdPath := filepath.Join(dir, "ROLLUP_REPORT.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(rep)), 0644); err != nil {
		return fmt.Errorf("write %s: %w", mdPath, err)
	}
	files = append(files, mdPath)

	if rep.Backfill != nil {
		csvPath := filepath.Join(dir, "BACKFILL_RESULTS.csv")
		if err := os.WriteFile(csvPath, []byte(reporting.RenderBackfillCSV(rep.Backfill)), 0644); err != nil {
			return fmt.Errorf("write %s: %w", csvPath, err)
		}
		files = append(files, csvPath)
	}

	if rep.Verification != nil {
		csvPath := filepath.Join(dir, "VERIFICATION_RESULTS.csv")
		if err := os.WriteFile(csvPath, []byte(reporting.RenderVerificationCSV(rep.Verification)), 0644); err != nil {
			return fmt.Errorf("write %s: %w", csvPath, err)
		}
		files = append(files, csvPath)
	}

	fmt.Println("Report written:")
	for _, f := range files {
		fmt.Printf("  - %s\n", f)
	}
	return nil
}

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

// resolveTimeFlag prefers the RFC3339 form when both are given.
func resolveTimeFlag(ms int64, rfc string) (int64, error) {
	if rfc == "" {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, rfc)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
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

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
