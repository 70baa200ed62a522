/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for hot coverage
// lookups. The cache degrades gracefully: when Redis is unreachable every
// operation becomes a no-op and callers fall through to the database.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/incidentworks/vigil/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultCoverageTTL = 30 * time.Second
	DefaultBindingTTL  = 5 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyCoverage = "vigil:cache:coverage:" // + customer_id
	KeyBinding  = "vigil:cache:binding:"  // + customer_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CoverageTTL time.Duration
	BindingTTL  time.Duration

	// If true, disable caching after the first Redis error.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		CoverageTTL:    DefaultCoverageTTL,
		BindingTTL:     DefaultBindingTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a new cache instance. A failed ping does not fail startup;
// the cache simply starts disabled.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// CachedCoverage is the cached answer to "who is on call right now".
type CachedCoverage struct {
	CustomerID  string                `json:"customer_id"`
	HasCoverage bool                  `json:"has_coverage"`
	Primary     *models.ScheduleSlice `json:"primary,omitempty"`
	Backup      *models.ScheduleSlice `json:"backup,omitempty"`
	CachedAt    time.Time             `json:"cached_at"`
}

// GetCoverage retrieves cached current coverage for a customer.
func (c *Cache) GetCoverage(ctx context.Context, customerID string) (*CachedCoverage, bool) {
	var cov CachedCoverage
	found, err := c.get(ctx, KeyCoverage+customerID, &cov)
	if err != nil || !found {
		return nil, false
	}
	return &cov, true
}

// SetCoverage caches current coverage with a short TTL.
func (c *Cache) SetCoverage(ctx context.Context, cov CachedCoverage) error {
	return c.set(ctx, KeyCoverage+cov.CustomerID, cov, c.ttl(c.config.CoverageTTL, DefaultCoverageTTL))
}

// GetBinding retrieves a cached customer binding.
func (c *Cache) GetBinding(ctx context.Context, customerID string) (*models.CustomerBinding, bool) {
	var binding models.CustomerBinding
	found, err := c.get(ctx, KeyBinding+customerID, &binding)
	if err != nil || !found {
		return nil, false
	}
	return &binding, true
}

// SetBinding caches a customer binding.
func (c *Cache) SetBinding(ctx context.Context, binding models.CustomerBinding) error {
	return c.set(ctx, KeyBinding+binding.CustomerID, binding, c.ttl(c.config.BindingTTL, DefaultBindingTTL))
}

// InvalidateCustomer drops every cached entry for a customer. Called after
// regeneration or binding edits so readers never see stale coverage.
func (c *Cache) InvalidateCustomer(ctx context.Context, customerID string) {
	_ = c.delete(ctx, KeyCoverage+customerID)
	_ = c.delete(ctx, KeyBinding+customerID)
}

func (c *Cache) ttl(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}
