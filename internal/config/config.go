/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// Horizon maintenance: how far ahead timelines stay materialized, how
	// much history is retained, and how often the loop ticks.
	HorizonLookahead time.Duration
	HorizonRetention time.Duration
	HorizonInterval  time.Duration

	// Cache configuration
	CacheEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Event fan-out over NATS (optional; empty URL disables the bridge)
	NATSURL string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	InstanceID            string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnv("VIGIL_ENV", "development"),
		HTTPBind:      getEnv("VIGIL_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("VIGIL_HTTP_PORT", 8080),
		DBBackend:     DatabaseBackend(getEnv("VIGIL_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:         getEnv("VIGIL_DB_DSN", ""),
		JWTSigningKey: getEnv("VIGIL_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("VIGIL_METRICS_BIND", "127.0.0.1:9000"),

		HorizonLookahead: time.Duration(getEnvInt("VIGIL_HORIZON_LOOKAHEAD_DAYS", 30)) * 24 * time.Hour,
		HorizonRetention: time.Duration(getEnvInt("VIGIL_HORIZON_RETENTION_DAYS", 90)) * 24 * time.Hour,
		HorizonInterval:  time.Duration(getEnvInt("VIGIL_HORIZON_INTERVAL_MINUTES", 10)) * time.Minute,

		CacheEnabled:  getEnvBool("VIGIL_CACHE_ENABLED", false),
		RedisAddr:     getEnv("VIGIL_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("VIGIL_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("VIGIL_REDIS_DB", 0),

		NATSURL: getEnv("VIGIL_NATS_URL", ""),

		TracingEnabled:    getEnvBool("VIGIL_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("VIGIL_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("VIGIL_TRACING_SAMPLE_RATE", 1.0),

		LeaderElectionEnabled: getEnvBool("VIGIL_LEADER_ELECTION_ENABLED", false),
		InstanceID:            getEnv("VIGIL_INSTANCE_ID", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("VIGIL_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("VIGIL_JWT_SIGNING_KEY must be provided")
	}

	if cfg.LeaderElectionEnabled && !cfg.CacheEnabled {
		return nil, fmt.Errorf("VIGIL_LEADER_ELECTION_ENABLED requires VIGIL_CACHE_ENABLED (election uses Redis)")
	}

	if cfg.HorizonLookahead <= 0 {
		return nil, fmt.Errorf("VIGIL_HORIZON_LOOKAHEAD_DAYS must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the bind address for the API listener.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
