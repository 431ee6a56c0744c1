/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-backed read-through cache for catalog lookups.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwise/internal/derivation"
)

// DefaultTTL bounds how stale a cached relation may get.
const DefaultTTL = 5 * time.Minute

// Key prefixes for Redis cache
const (
	KeyOperationComponents = "slotwise:cache:op_components:" // + operation
	KeyComponentWorkOrders = "slotwise:cache:component_wos:" // + component
	KeyWorkOrderComponents = "slotwise:cache:wo_components:" // + work order
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		TTL:            DefaultTTL,
		DisableOnError: true,
	}
}

// Cache holds the Redis connection shared by every wrapped catalog. Lookups
// fall through to the wrapped catalog whenever Redis is unavailable.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New connects to Redis. A failed ping yields a disabled cache, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("cache: redis address is required")
	}
	logger = logger.With().Str("component", "catalog_cache").Logger()

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
		_ = client.Close()
		return &Cache{logger: logger, config: cfg, disabled: true}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis catalog cache initialized")
	return &Cache{client: client, logger: logger, config: cfg}, nil
}

// Wrap returns inner with its relation lookups cached. inner usually reads
// through one transaction, so Wrap is called once per analysis step.
func (c *Cache) Wrap(inner derivation.Catalog) derivation.Catalog {
	if inner == nil {
		return nil
	}
	return &Catalog{cache: c, inner: inner}
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

// handleError handles Redis errors with circuit breaker logic.
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

func (c *Cache) get(ctx context.Context, key string) ([]string, bool) {
	if !c.IsAvailable() {
		return nil, false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.handleError(err, "get")
		return nil, false
	}

	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return nil, false
	}
	return values, true
}

func (c *Cache) set(ctx context.Context, key string, values []string) {
	if !c.IsAvailable() {
		return
	}

	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to marshal cache value")
		return
	}
	if err := c.client.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		c.handleError(err, "set")
	}
}

func (c *Cache) lookup(ctx context.Context, key string, load func() ([]string, error)) ([]string, error) {
	if values, ok := c.get(ctx, key); ok {
		return values, nil
	}
	values, err := load()
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, values)
	return values, nil
}

// Catalog is a catalog whose relation lookups go through a Cache.
type Catalog struct {
	cache *Cache
	inner derivation.Catalog
}

var _ derivation.Catalog = (*Catalog)(nil)

// OperationComponents returns the components an operation belongs to.
func (c *Catalog) OperationComponents(ctx context.Context, operation string) ([]string, error) {
	return c.cache.lookup(ctx, KeyOperationComponents+operation, func() ([]string, error) {
		return c.inner.OperationComponents(ctx, operation)
	})
}

// ComponentWorkOrders returns the work orders producing a component.
func (c *Catalog) ComponentWorkOrders(ctx context.Context, component string) ([]string, error) {
	return c.cache.lookup(ctx, KeyComponentWorkOrders+component, func() ([]string, error) {
		return c.inner.ComponentWorkOrders(ctx, component)
	})
}

// WorkOrderComponents returns the components a work order produces.
func (c *Catalog) WorkOrderComponents(ctx context.Context, workOrder string) ([]string, error) {
	return c.cache.lookup(ctx, KeyWorkOrderComponents+workOrder, func() ([]string, error) {
		return c.inner.WorkOrderComponents(ctx, workOrder)
	})
}

// Invalidate removes every cached relation (use after catalog imports).
func (c *Cache) Invalidate(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, "slotwise:cache:*", 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return nil
}
