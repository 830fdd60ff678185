package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"market-rollup/internal/backfill"
	"market-rollup/internal/identity"
	"market-rollup/internal/ingest"
	"market-rollup/internal/lookup"
	"market-rollup/internal/storage/memory"
)

// tickBase is 2024-01-01T10:00:00Z, a minute boundary.
const tickBase = int64(1704103200000)

type serverFixture struct {
	srv *Server
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()

	ticks := memory.NewTickStore()
	points := memory.NewPointStore()
	candles := memory.NewCandleStore()
	latest := memory.NewLatestValueStore()
	markers := memory.NewBackfillMarkerStore()
	mappings := memory.NewSymbolMappingStore()

	logger := log.New(io.Discard, "", 0)
	resolver := identity.NewResolver(mappings)

	ingestor := ingest.NewIngestor(ingest.IngestorOptions{
		TickStore:   ticks,
		PointStore:  points,
		CandleStore: candles,
		LatestStore: latest,
		Resolver:    resolver,
		Logger:      logger,
	})

	reader, err := lookup.NewCandleReader("materialized", candles)
	if err != nil {
		t.Fatalf("NewCandleReader() error = %v", err)
	}

	engine := backfill.NewEngine(backfill.EngineOptions{
		TickStore:        ticks,
		PointStore:       points,
		CandleStore:      candles,
		LatestValueStore: latest,
		MarkerStore:      markers,
		Resolver:         resolver,
		Logger:           logger,
	})

	srv := New(Options{
		Ingestor:     ingestor,
		CandleReader: reader,
		LatestReader: lookup.NewLatestReader(latest),
		Backfill:     engine,
		Logger:       logger,
	})

	return &serverFixture{srv: srv}
}

// request dispatches through the full route tree. A string body is sent
// as-is, anything else is marshaled to JSON.
func (f *serverFixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func (f *serverFixture) postTick(t *testing.T, marketKey string, ts int64, price float64) *httptest.ResponseRecorder {
	t.Helper()
	return f.request(t, http.MethodPost, "/api/v1/ticks", ingest.TickInput{
		MarketKey: marketKey,
		Timestamp: ts,
		Price:     price,
		Size:      1,
		Side:      "buy",
	})
}

func TestPostTick_ReturnsRefreshedCandle(t *testing.T) {
	fx := newTestServer(t)

	var resp struct {
		Candle candleJSON `json:"candle"`
	}
	for _, tk := range []struct {
		ts    int64
		price float64
	}{
		{tickBase + 5000, 100},
		{tickBase + 20000, 105},
		{tickBase + 50000, 98},
	} {
		w := fx.postTick(t, "mk-1", tk.ts, tk.price)
		if w.Code != 200 {
			t.Fatalf("POST /ticks status = %d, body %s", w.Code, w.Body.String())
		}
		decodeBody(t, w, &resp)
	}

	c := resp.Candle
	if c.MarketKey != "mk-1" || c.Timeframe != "1m" || c.BucketStart != tickBase {
		t.Errorf("candle identity = %s/%s/%d, want mk-1/1m/%d", c.MarketKey, c.Timeframe, c.BucketStart, tickBase)
	}
	if c.Open != 100 || c.High != 105 || c.Low != 98 || c.Close != 98 {
		t.Errorf("OHLC = %g/%g/%g/%g, want 100/105/98/98", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 3 || c.TradeCount != 3 {
		t.Errorf("volume/count = %g/%d, want 3/3", c.Volume, c.TradeCount)
	}
}

func TestPostTick_BadInput(t *testing.T) {
	fx := newTestServer(t)

	w := fx.request(t, http.MethodPost, "/api/v1/ticks", ingest.TickInput{
		MarketKey: "mk-1",
		Timestamp: tickBase,
		Price:     100,
		Size:      1,
		Side:      "hold",
	})
	if w.Code != 400 {
		t.Errorf("bad side status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "side") {
		t.Errorf("bad side body = %s, want the failing field named", w.Body.String())
	}

	w = fx.request(t, http.MethodPost, "/api/v1/ticks", "{not json")
	if w.Code != 400 {
		t.Errorf("malformed body status = %d, want 400", w.Code)
	}
}

func TestPostTick_UnmappedSymbolKeepsSymbolKey(t *testing.T) {
	fx := newTestServer(t)

	w := fx.request(t, http.MethodPost, "/api/v1/ticks", ingest.TickInput{
		Symbol:    "NICKEL",
		Timestamp: tickBase + 5000,
		Price:     100,
		Size:      1,
		Side:      "buy",
	})
	if w.Code != 200 {
		t.Fatalf("POST /ticks status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Candle candleJSON `json:"candle"`
	}
	decodeBody(t, w, &resp)
	if resp.Candle.MarketKey != "NICKEL" {
		t.Errorf("MarketKey = %q, want the bare symbol until a mapping exists", resp.Candle.MarketKey)
	}
}

func TestPostPoint_HighestVersionWinsEitherOrder(t *testing.T) {
	point := func(value float64, version uint64) ingest.PointInput {
		return ingest.PointInput{
			MarketKey: "mk-1",
			SeriesKey: "oi",
			Timestamp: tickBase,
			X:         tickBase,
			Value:     value,
			Version:   version,
		}
	}

	for name, order := range map[string][]ingest.PointInput{
		"in order":       {point(10, 1), point(99, 2)},
		"stale delivery": {point(99, 2), point(10, 1)},
	} {
		t.Run(name, func(t *testing.T) {
			fx := newTestServer(t)

			var resp struct {
				Latest latestJSON `json:"latest"`
			}
			for _, in := range order {
				w := fx.request(t, http.MethodPost, "/api/v1/points", in)
				if w.Code != 200 {
					t.Fatalf("POST /points status = %d, body %s", w.Code, w.Body.String())
				}
				decodeBody(t, w, &resp)
			}

			if resp.Latest.Value != 99 || resp.Latest.Version != 2 {
				t.Errorf("latest = %g v%d, want 99 v2", resp.Latest.Value, resp.Latest.Version)
			}
		})
	}
}

func TestPostPoint_BadInput(t *testing.T) {
	fx := newTestServer(t)

	w := fx.request(t, http.MethodPost, "/api/v1/points", ingest.PointInput{
		MarketKey: "mk-1",
		Timestamp: tickBase,
		Value:     1,
	})
	if w.Code != 400 {
		t.Errorf("missing series_key status = %d, want 400", w.Code)
	}
}

func TestGetCandles(t *testing.T) {
	fx := newTestServer(t)
	fx.postTick(t, "mk-1", tickBase+5000, 100)
	fx.postTick(t, "mk-1", tickBase+65000, 105)

	w := fx.request(t, http.MethodGet, "/api/v1/candles?market_key=mk-1&timeframe=1m", nil)
	if w.Code != 200 {
		t.Fatalf("GET /candles status = %d, body %s", w.Code, w.Body.String())
	}

	var out []candleJSON
	decodeBody(t, w, &out)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].BucketStart != tickBase || out[1].BucketStart != tickBase+60000 {
		t.Errorf("buckets = %d, %d, want ascending from %d", out[0].BucketStart, out[1].BucketStart, tickBase)
	}

	// A range with no rows is an empty list, not null.
	w = fx.request(t, http.MethodGet, "/api/v1/candles?market_key=mk-ghost", nil)
	if w.Code != 200 {
		t.Fatalf("empty market status = %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty market body = %s, want []", w.Body.String())
	}
}

func TestGetCandles_BadRequest(t *testing.T) {
	fx := newTestServer(t)

	for name, path := range map[string]string{
		"missing market_key": "/api/v1/candles",
		"unknown timeframe":  "/api/v1/candles?market_key=mk-1&timeframe=2h",
		"bad from":           "/api/v1/candles?market_key=mk-1&from=abc",
	} {
		w := fx.request(t, http.MethodGet, path, nil)
		if w.Code != 400 {
			t.Errorf("%s: status = %d, want 400", name, w.Code)
		}
	}
}

func TestGetLatest(t *testing.T) {
	fx := newTestServer(t)
	fx.request(t, http.MethodPost, "/api/v1/points", ingest.PointInput{
		MarketKey: "mk-1",
		SeriesKey: "oi",
		Timestamp: tickBase,
		X:         tickBase,
		Value:     1500,
		Version:   1,
	})

	w := fx.request(t, http.MethodGet, "/api/v1/latest?market_key=mk-1&series_key=oi", nil)
	if w.Code != 200 {
		t.Fatalf("GET /latest status = %d, body %s", w.Code, w.Body.String())
	}

	var out []latestJSON
	decodeBody(t, w, &out)
	if len(out) != 1 || out[0].Value != 1500 {
		t.Errorf("series = %+v, want one value 1500", out)
	}

	w = fx.request(t, http.MethodGet, "/api/v1/latest?market_key=mk-1", nil)
	if w.Code != 400 {
		t.Errorf("missing series_key status = %d, want 400", w.Code)
	}
}

func TestGetCandles_AsOf(t *testing.T) {
	fx := newTestServer(t)
	fx.postTick(t, "mk-1", tickBase+5000, 100)
	fx.postTick(t, "mk-1", tickBase+65000, 105)

	w := fx.request(t, http.MethodGet, fmt.Sprintf("/api/v1/candles?market_key=mk-1&at=%d", tickBase+30000), nil)
	if w.Code != 200 {
		t.Fatalf("as-of status = %d, body %s", w.Code, w.Body.String())
	}
	var c candleJSON
	decodeBody(t, w, &c)
	if c.BucketStart != tickBase || c.Close != 100 {
		t.Errorf("as-of candle = bucket %d close %g, want %d close 100", c.BucketStart, c.Close, tickBase)
	}

	// The second minute's candle takes over once its bucket opens.
	w = fx.request(t, http.MethodGet, fmt.Sprintf("/api/v1/candles?market_key=mk-1&at=%d", tickBase+70000), nil)
	decodeBody(t, w, &c)
	if c.BucketStart != tickBase+60000 || c.Close != 105 {
		t.Errorf("as-of candle = bucket %d close %g, want %d close 105", c.BucketStart, c.Close, tickBase+60000)
	}

	w = fx.request(t, http.MethodGet, fmt.Sprintf("/api/v1/candles?market_key=mk-1&at=%d", tickBase-1), nil)
	if w.Code != 404 {
		t.Errorf("before-data status = %d, want 404", w.Code)
	}
}

func TestGetLatest_AsOf(t *testing.T) {
	fx := newTestServer(t)
	for _, p := range []struct {
		ts    int64
		value float64
	}{{tickBase, 1500}, {tickBase + 60000, 1600}} {
		fx.request(t, http.MethodPost, "/api/v1/points", ingest.PointInput{
			MarketKey: "mk-1", SeriesKey: "oi", Timestamp: p.ts, X: p.ts, Value: p.value, Version: 1,
		})
	}

	w := fx.request(t, http.MethodGet, fmt.Sprintf("/api/v1/latest?market_key=mk-1&series_key=oi&at=%d", tickBase+30000), nil)
	if w.Code != 200 {
		t.Fatalf("as-of status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Value float64 `json:"value"`
	}
	decodeBody(t, w, &resp)
	if resp.Value != 1500 {
		t.Errorf("as-of value = %g, want 1500 until the next slot begins", resp.Value)
	}

	w = fx.request(t, http.MethodGet, fmt.Sprintf("/api/v1/latest?market_key=mk-1&series_key=ghost&at=%d", tickBase), nil)
	if w.Code != 404 {
		t.Errorf("empty series status = %d, want 404", w.Code)
	}
}

func TestPostBackfill(t *testing.T) {
	fx := newTestServer(t)
	fx.postTick(t, "mk-1", tickBase+5000, 100)
	fx.postTick(t, "mk-1", tickBase+20000, 105)
	fx.postTick(t, "mk-1", tickBase+50000, 98)

	w := fx.request(t, http.MethodPost, "/api/v1/backfill", backfillRequest{MarketKey: "mk-1"})
	if w.Code != 200 {
		t.Fatalf("POST /backfill status = %d, body %s", w.Code, w.Body.String())
	}

	var result backfill.Result
	decodeBody(t, w, &result)
	if len(result.Targets) != len(backfill.AllTargets()) {
		t.Fatalf("targets = %d, want %d", len(result.Targets), len(backfill.AllTargets()))
	}
	for _, tr := range result.Targets {
		if tr.Status != backfill.StatusOK {
			t.Errorf("target %s status = %s, want ok", tr.Target, tr.Status)
		}
	}

	// The cascade is materialized, so higher timeframes serve from store.
	w = fx.request(t, http.MethodGet, "/api/v1/candles?market_key=mk-1&timeframe=5m", nil)
	var out []candleJSON
	decodeBody(t, w, &out)
	if len(out) != 1 {
		t.Fatalf("5m candles = %d, want 1", len(out))
	}
	if out[0].Open != 100 || out[0].Close != 98 || out[0].Volume != 3 {
		t.Errorf("5m candle = %+v, want open 100 close 98 volume 3", out[0])
	}
}

func TestPostBackfill_BadRequest(t *testing.T) {
	fx := newTestServer(t)

	w := fx.request(t, http.MethodPost, "/api/v1/backfill", backfillRequest{})
	if w.Code != 400 {
		t.Errorf("missing market_key status = %d, want 400", w.Code)
	}

	w = fx.request(t, http.MethodPost, "/api/v1/backfill", backfillRequest{MarketKey: "mk-1", Targets: []string{"candles_2h"}})
	if w.Code != 400 {
		t.Errorf("unknown target status = %d, want 400", w.Code)
	}
}

func TestPostResolution(t *testing.T) {
	fx := newTestServer(t)
	fx.request(t, http.MethodPost, "/api/v1/ticks", ingest.TickInput{
		Symbol: "NICKEL", Timestamp: tickBase + 5000, Price: 100, Size: 1, Side: "buy",
	})
	fx.request(t, http.MethodPost, "/api/v1/ticks", ingest.TickInput{
		Symbol: "NICKEL", Timestamp: tickBase + 20000, Price: 105, Size: 1, Side: "buy",
	})

	w := fx.request(t, http.MethodPost, "/api/v1/resolutions", resolutionRequest{Symbol: "NICKEL", MarketKey: "mk-42"})
	if w.Code != 200 {
		t.Fatalf("POST /resolutions status = %d, body %s", w.Code, w.Body.String())
	}

	var result backfill.ResolutionResult
	decodeBody(t, w, &result)
	if result.MarketKey != "mk-42" || result.TicksRetagged != 2 {
		t.Errorf("resolution = %+v, want mk-42 with 2 ticks retagged", result)
	}

	// History now serves under the stable key.
	w = fx.request(t, http.MethodGet, "/api/v1/candles?market_key=mk-42", nil)
	var out []candleJSON
	decodeBody(t, w, &out)
	if len(out) != 1 || out[0].Open != 100 || out[0].Close != 105 {
		t.Errorf("retagged candles = %+v, want one with open 100 close 105", out)
	}

	// Re-registering the symbol to a different key conflicts.
	w = fx.request(t, http.MethodPost, "/api/v1/resolutions", resolutionRequest{Symbol: "NICKEL", MarketKey: "mk-99"})
	if w.Code != 409 {
		t.Errorf("conflicting resolution status = %d, want 409", w.Code)
	}
}

func TestDeleteMarket(t *testing.T) {
	fx := newTestServer(t)
	fx.postTick(t, "mk-1", tickBase+5000, 100)
	fx.postTick(t, "mk-1", tickBase+20000, 105)

	w := fx.request(t, http.MethodDelete, "/api/v1/markets/mk-1", nil)
	if w.Code != 200 {
		t.Fatalf("DELETE /markets status = %d, body %s", w.Code, w.Body.String())
	}

	var result backfill.PurgeResult
	decodeBody(t, w, &result)
	if result.TicksDeleted != 2 {
		t.Errorf("TicksDeleted = %d, want 2", result.TicksDeleted)
	}

	w = fx.request(t, http.MethodGet, "/api/v1/candles?market_key=mk-1", nil)
	var out []candleJSON
	decodeBody(t, w, &out)
	if len(out) != 0 {
		t.Errorf("candles after purge = %d, want 0", len(out))
	}
}

func TestHealth(t *testing.T) {
	fx := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := fx.request(t, http.MethodGet, path, nil)
		if w.Code != 200 {
			t.Fatalf("GET %s status = %d", path, w.Code)
		}

		var resp struct {
			Status   string `json:"status"`
			Strategy string `json:"strategy"`
		}
		decodeBody(t, w, &resp)
		if resp.Status != "ok" || resp.Strategy != "materialized" {
			t.Errorf("GET %s = %+v, want ok/materialized", path, resp)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newTestServer(t)

	w := fx.request(t, http.MethodGet, "/metrics", nil)
	if w.Code != 200 {
		t.Fatalf("GET /metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "market_rollup_ingest_ticks_total") {
		t.Error("metrics exposition missing ingest counters")
	}
}
