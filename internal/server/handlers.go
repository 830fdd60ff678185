package server

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"market-rollup/internal/backfill"
	"market-rollup/internal/domain"
	"market-rollup/internal/ingest"
	"market-rollup/internal/lookup"
	"market-rollup/internal/storage"
)

// candleJSON is the wire form of a candle; domain types stay free of
// transport tags.
type candleJSON struct {
	MarketKey   string  `json:"market_key"`
	Timeframe   string  `json:"timeframe"`
	BucketStart int64   `json:"bucket_start"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	TradeCount  int64   `json:"trade_count"`
	Version     int64   `json:"version"`
}

func toCandleJSON(c *domain.Candle) candleJSON {
	return candleJSON{
		MarketKey:   c.MarketKey,
		Timeframe:   c.Timeframe.String(),
		BucketStart: c.BucketStart,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		TradeCount:  c.TradeCount,
		Version:     c.Version,
	}
}

type latestJSON struct {
	MarketKey string  `json:"market_key"`
	SeriesKey string  `json:"series_key"`
	Timestamp int64   `json:"timestamp"`
	X         int64   `json:"x"`
	Value     float64 `json:"value"`
	Version   uint64  `json:"version"`
}

func toLatestJSON(lv *domain.LatestValue) latestJSON {
	return latestJSON{
		MarketKey: lv.MarketKey,
		SeriesKey: lv.SeriesKey,
		Timestamp: lv.Timestamp,
		X:         lv.X,
		Value:     lv.Value,
		Version:   lv.Version,
	}
}

func (s *Server) postTick(c *gin.Context) {
	var in ingest.TickInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(400, gin.H{"error": "invalid json: " + err.Error()})
		return
	}

	candle, err := s.ingestor.IngestTick(c.Request.Context(), &in)
	switch {
	case errors.Is(err, ingest.ErrInvalidTick):
		c.JSON(400, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Printf("Tick ingest failed: %v", err)
		c.JSON(500, gin.H{"error": "tick ingest failed"})
	case candle == nil:
		// Raw write succeeded, aggregation deferred.
		c.JSON(202, gin.H{"status": "accepted"})
	default:
		c.JSON(200, gin.H{"candle": toCandleJSON(candle)})
	}
}

func (s *Server) postPoint(c *gin.Context) {
	var in ingest.PointInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(400, gin.H{"error": "invalid json: " + err.Error()})
		return
	}

	latest, err := s.ingestor.IngestPoint(c.Request.Context(), &in)
	switch {
	case errors.Is(err, ingest.ErrInvalidPoint):
		c.JSON(400, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Printf("Point ingest failed: %v", err)
		c.JSON(500, gin.H{"error": "point ingest failed"})
	case latest == nil:
		c.JSON(202, gin.H{"status": "accepted"})
	default:
		c.JSON(200, gin.H{"latest": toLatestJSON(latest)})
	}
}

func (s *Server) getCandles(c *gin.Context) {
	marketKey := c.Query("market_key")
	if marketKey == "" {
		c.JSON(400, gin.H{"error": "market_key is required"})
		return
	}

	tf, err := domain.ParseTimeframe(c.DefaultQuery("timeframe", "1m"))
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	// An as-of query returns the one candle in effect at that time.
	if raw := c.Query("at"); raw != "" {
		at, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(400, gin.H{"error": "at: " + err.Error()})
			return
		}
		candles, err := s.candles.GetCandles(c.Request.Context(), marketKey, tf, 0, at+1)
		if err != nil {
			s.logger.Printf("Candle query failed (market_key=%s tf=%s): %v", marketKey, tf, err)
			c.JSON(500, gin.H{"error": "candle query failed"})
			return
		}
		candle, err := lookup.CandleAt(at, candles)
		if err != nil || candle == nil {
			c.JSON(404, gin.H{"error": "no candle at or before the requested time"})
			return
		}
		c.JSON(200, toCandleJSON(candle))
		return
	}

	from, err := parseMillis(c.Query("from"), 0)
	if err != nil {
		c.JSON(400, gin.H{"error": "from: " + err.Error()})
		return
	}
	// The default end reaches past now, so the partial current bucket
	// is included.
	to, err := parseMillis(c.Query("to"), time.Now().UnixMilli()+1)
	if err != nil {
		c.JSON(400, gin.H{"error": "to: " + err.Error()})
		return
	}

	candles, err := s.candles.GetCandles(c.Request.Context(), marketKey, tf, from, to)
	if err != nil {
		s.logger.Printf("Candle query failed (market_key=%s tf=%s): %v", marketKey, tf, err)
		c.JSON(500, gin.H{"error": "candle query failed"})
		return
	}

	// An empty range is an empty list, never an error.
	out := make([]candleJSON, 0, len(candles))
	for _, candle := range candles {
		out = append(out, toCandleJSON(candle))
	}
	c.JSON(200, out)
}

func (s *Server) getLatest(c *gin.Context) {
	marketKey := c.Query("market_key")
	seriesKey := c.Query("series_key")
	if marketKey == "" || seriesKey == "" {
		c.JSON(400, gin.H{"error": "market_key and series_key are required"})
		return
	}

	// An as-of query returns the value in effect at that time. Series
	// are step functions, so the value holds until the next slot.
	if raw := c.Query("at"); raw != "" {
		at, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(400, gin.H{"error": "at: " + err.Error()})
			return
		}
		value, err := s.latest.ValueAt(c.Request.Context(), marketKey, seriesKey, at)
		switch {
		case errors.Is(err, lookup.ErrNoSeriesData):
			c.JSON(404, gin.H{"error": "no data for series"})
		case err != nil:
			s.logger.Printf("Latest-value query failed (market_key=%s series=%s): %v", marketKey, seriesKey, err)
			c.JSON(500, gin.H{"error": "latest-value query failed"})
		default:
			c.JSON(200, gin.H{"market_key": marketKey, "series_key": seriesKey, "at": at, "value": value})
		}
		return
	}

	values, err := s.latest.GetSeries(c.Request.Context(), marketKey, seriesKey)
	if err != nil {
		s.logger.Printf("Latest-value query failed (market_key=%s series=%s): %v", marketKey, seriesKey, err)
		c.JSON(500, gin.H{"error": "latest-value query failed"})
		return
	}

	out := make([]latestJSON, 0, len(values))
	for _, lv := range values {
		out = append(out, toLatestJSON(lv))
	}
	c.JSON(200, out)
}

type backfillRequest struct {
	MarketKey string   `json:"market_key"`
	From      int64    `json:"from"`
	To        int64    `json:"to"`
	Targets   []string `json:"targets"`
	DryRun    bool     `json:"dry_run"`
}

func (s *Server) postBackfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "invalid json: " + err.Error()})
		return
	}

	result, err := s.backfill.Run(c.Request.Context(), backfill.Options{
		MarketKey: req.MarketKey,
		From:      req.From,
		To:        req.To,
		Targets:   req.Targets,
		DryRun:    req.DryRun,
	})
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		c.JSON(400, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Printf("Backfill failed (market_key=%s): %v", req.MarketKey, err)
		c.JSON(500, gin.H{"error": "backfill failed"})
	default:
		// Per-target failures are part of the result, not an HTTP error.
		c.JSON(200, result)
	}
}

type resolutionRequest struct {
	Symbol    string `json:"symbol"`
	MarketKey string `json:"market_key"` // optional; derived when empty
}

func (s *Server) postResolution(c *gin.Context) {
	var req resolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "invalid json: " + err.Error()})
		return
	}

	result, err := s.backfill.ResolveAndBackfill(c.Request.Context(), req.Symbol, req.MarketKey)
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		c.JSON(409, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrInvalidInput):
		c.JSON(400, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Printf("Resolution failed (symbol=%s): %v", req.Symbol, err)
		c.JSON(500, gin.H{"error": "resolution failed"})
	default:
		c.JSON(200, result)
	}
}

func (s *Server) deleteMarket(c *gin.Context) {
	marketKey := c.Param("market_key")

	result, err := s.backfill.PurgeMarket(c.Request.Context(), marketKey)
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		c.JSON(400, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Printf("Purge failed (market_key=%s): %v", marketKey, err)
		c.JSON(500, gin.H{"error": "purge failed"})
	default:
		c.JSON(200, result)
	}
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":   "ok",
		"strategy": s.candles.Strategy(),
		"time":     time.Now().UnixMilli(),
	})
}

// parseMillis parses a millisecond query value, using def when absent.
func parseMillis(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
