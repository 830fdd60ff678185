package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddr      = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultClickHouseAddr     = "localhost:9000"
	DefaultClickHouseDatabase = "default"

	DefaultFeedReconnectDelay    = 1 * time.Second
	DefaultFeedMaxReconnectDelay = 30 * time.Second
	DefaultFeedPingInterval      = 30 * time.Second

	DefaultRollupStrategy = "materialized"

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Database defaults
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = DefaultDBPort
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = DefaultDBSSLMode
	}
	if c.Database.Postgres.MaxConns == 0 {
		c.Database.Postgres.MaxConns = DefaultMaxConns
	}
	if c.Database.Postgres.MinConns == 0 {
		c.Database.Postgres.MinConns = DefaultMinConns
	}
	if c.Database.ClickHouse.Addr == "" {
		c.Database.ClickHouse.Addr = DefaultClickHouseAddr
	}
	if c.Database.ClickHouse.Database == "" {
		c.Database.ClickHouse.Database = DefaultClickHouseDatabase
	}

	// Feed defaults
	if c.Feed.ReconnectDelay == 0 {
		c.Feed.ReconnectDelay = DefaultFeedReconnectDelay
	}
	if c.Feed.MaxReconnectDelay == 0 {
		c.Feed.MaxReconnectDelay = DefaultFeedMaxReconnectDelay
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultFeedPingInterval
	}

	// Rollup defaults
	if c.Rollup.Strategy == "" {
		c.Rollup.Strategy = DefaultRollupStrategy
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
