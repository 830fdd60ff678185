// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// One file covers every process: the server, the ingest daemon, and the
// backfill CLI read the sections they need.
package config
