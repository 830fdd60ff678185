package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration for a rollup deployment.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Feed     FeedConfig     `yaml:"feed"`
	Rollup   RollupConfig   `yaml:"rollup"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the JSON API listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds both storage engines: Postgres is the raw event
// log, ClickHouse holds the derived tables.
type DatabaseConfig struct {
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// PostgresConfig holds the raw-store connection.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DSN builds a pgx pool connection string.
func (db *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		url.QueryEscape(db.User), url.QueryEscape(db.Password),
		db.Host, db.Port, db.Name, db.SSLMode, db.MaxConns, db.MinConns)
}

// ClickHouseConfig holds the derived-store connection.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"` // host:port of the native protocol listener
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DSN builds a clickhouse-go connection string.
func (ch *ClickHouseConfig) DSN() string {
	return fmt.Sprintf("clickhouse://%s:%s@%s/%s",
		url.QueryEscape(ch.User), url.QueryEscape(ch.Password), ch.Addr, ch.Database)
}

// RedisConfig holds the distributed backfill lock. An empty addr keeps
// locking in-process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// FeedConfig holds the live market-data feed settings.
type FeedConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Markets           []string      `yaml:"markets"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	PingInterval      time.Duration `yaml:"ping_interval"`
}

// RollupConfig selects how higher timeframes are served.
type RollupConfig struct {
	Strategy string `yaml:"strategy"` // materialized | dynamic
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
