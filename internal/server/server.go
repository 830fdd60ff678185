// Package server exposes the rollup engine over a JSON API: tick and
// point submission, candle and latest-value queries, and the backfill,
// resolution, and purge operations.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"market-rollup/internal/backfill"
	"market-rollup/internal/ingest"
	"market-rollup/internal/lookup"
	"market-rollup/internal/observability"
)

// Server carries the engine components behind the HTTP surface.
type Server struct {
	ingestor *ingest.Ingestor
	candles  lookup.CandleReader
	latest   *lookup.LatestReader
	backfill *backfill.Engine
	logger   *log.Logger

	router *gin.Engine
	http   *http.Server
}

// Options contains configuration for creating a Server.
type Options struct {
	Ingestor     *ingest.Ingestor
	CandleReader lookup.CandleReader
	LatestReader *lookup.LatestReader
	Backfill     *backfill.Engine

	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *log.Logger
}

// New creates a Server. It does not start listening; call Start.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		ingestor: opts.Ingestor,
		candles:  opts.CandleReader,
		latest:   opts.LatestReader,
		backfill: opts.Backfill,
		logger:   logger,
		router:   router,
	}
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.POST("/ticks", s.postTick)
	api.POST("/points", s.postPoint)
	api.GET("/candles", s.getCandles)
	api.GET("/latest", s.getLatest)
	api.POST("/backfill", s.postBackfill)
	api.POST("/resolutions", s.postResolution)
	api.DELETE("/markets/:market_key", s.deleteMarket)
	api.GET("/health", s.getHealth)

	// Ops endpoints outside the API prefix.
	s.router.GET("/health", s.getHealth)
	s.router.GET("/metrics", gin.WrapH(observability.Handler()))
}

// Start runs the listener until Shutdown or a listener error. It
// returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Printf("API server listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
