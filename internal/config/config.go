/*
Copyright (C) 2026 Friends Incode

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

// Operation slot split options.
const (
	SplitNone = "none"
	SplitDay  = "day"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaseEnabled  bool
	LeaseTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string
	// Instances lists every instance sharing the machines, this one included.
	// Empty means this instance owns every machine.
	Instances []string
	// EventBus selects the lifecycle event relay: memory, nats or redis.
	EventBus string
	NATSURL  string

	// Catalog lookups cached in Redis.
	CatalogCacheEnabled bool
	CatalogCacheTTL     time.Duration

	// Analysis scheduling
	AnalysisInterval time.Duration
	Workers          int
	MaxPasses        int
	BatchSize        int
	ManualScore      float64
	CycleLookback    time.Duration

	// Attribute derivation rules
	ComponentFromOperationOnly       bool
	WorkOrderFromComponentOnly       bool
	UniqueComponentFromOperation     bool
	UniqueProjectOrPartFromWorkOrder bool

	OperationSlotSplit string
	DayCutOff          time.Duration
	TimeZone           string
	DynamicStrategy    string
	ReasonTableFile    string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("SLOTWISE_ENV", "development"),
		DBBackend:   DatabaseBackend(getEnv("SLOTWISE_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:       getEnv("SLOTWISE_DB_DSN", ""),
		MetricsBind: getEnv("SLOTWISE_METRICS_BIND", "127.0.0.1:9000"),

		TracingEnabled:    getEnvBool("SLOTWISE_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SLOTWISE_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SLOTWISE_TRACING_SAMPLE_RATE", 1.0),

		LeaseEnabled:  getEnvBool("SLOTWISE_LEASE_ENABLED", false),
		LeaseTTL:      time.Duration(getEnvInt("SLOTWISE_LEASE_TTL_SECONDS", 30)) * time.Second,
		RedisAddr:     getEnv("SLOTWISE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("SLOTWISE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SLOTWISE_REDIS_DB", 0),
		InstanceID:    getEnv("SLOTWISE_INSTANCE_ID", ""),
		Instances:     getEnvList("SLOTWISE_INSTANCES"),
		EventBus:      getEnv("SLOTWISE_EVENTBUS", "memory"),
		NATSURL:       getEnv("SLOTWISE_NATS_URL", "nats://127.0.0.1:4222"),

		CatalogCacheEnabled: getEnvBool("SLOTWISE_CATALOG_CACHE_ENABLED", false),
		CatalogCacheTTL:     time.Duration(getEnvInt("SLOTWISE_CATALOG_CACHE_TTL_SECONDS", 300)) * time.Second,

		AnalysisInterval: time.Duration(getEnvInt("SLOTWISE_ANALYSIS_INTERVAL_SECONDS", 5)) * time.Second,
		Workers:          getEnvInt("SLOTWISE_WORKERS", 4),
		MaxPasses:        getEnvInt("SLOTWISE_MAX_PASSES", 20),
		BatchSize:        getEnvInt("SLOTWISE_BATCH_SIZE", 100),
		ManualScore:      getEnvFloat("SLOTWISE_MANUAL_SCORE", 100),
		CycleLookback:    time.Duration(getEnvInt("SLOTWISE_CYCLE_LOOKBACK_HOURS", 24)) * time.Hour,

		ComponentFromOperationOnly:       getEnvBool("SLOTWISE_COMPONENT_FROM_OPERATION_ONLY", false),
		WorkOrderFromComponentOnly:       getEnvBool("SLOTWISE_WORK_ORDER_FROM_COMPONENT_ONLY", false),
		UniqueComponentFromOperation:     getEnvBool("SLOTWISE_UNIQUE_COMPONENT_FROM_OPERATION", true),
		UniqueProjectOrPartFromWorkOrder: getEnvBool("SLOTWISE_UNIQUE_PART_FROM_WORK_ORDER", true),

		OperationSlotSplit: getEnv("SLOTWISE_OPERATION_SLOT_SPLIT", SplitNone),
		DayCutOff:          time.Duration(getEnvInt("SLOTWISE_DAY_CUTOFF_MINUTES", 0)) * time.Minute,
		TimeZone:           getEnv("SLOTWISE_TIME_ZONE", "UTC"),
		DynamicStrategy:    getEnv("SLOTWISE_DYNAMIC_STRATEGY", "aggressive"),
		ReasonTableFile:    getEnv("SLOTWISE_REASON_TABLE", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SLOTWISE_DB_DSN must be provided")
	}
	if cfg.OperationSlotSplit != SplitNone && cfg.OperationSlotSplit != SplitDay {
		return nil, fmt.Errorf("unsupported operation slot split %q", cfg.OperationSlotSplit)
	}
	if cfg.DynamicStrategy != "aggressive" && cfg.DynamicStrategy != "progressive" {
		return nil, fmt.Errorf("unsupported dynamic strategy %q", cfg.DynamicStrategy)
	}
	switch cfg.EventBus {
	case "memory", "nats", "redis":
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("SLOTWISE_WORKERS must be at least 1, got %d", cfg.Workers)
	}
	if cfg.MaxPasses < 1 {
		return nil, fmt.Errorf("SLOTWISE_MAX_PASSES must be at least 1, got %d", cfg.MaxPasses)
	}
	if cfg.DayCutOff < 0 || cfg.DayCutOff >= 24*time.Hour {
		return nil, fmt.Errorf("day cut-off %s out of range", cfg.DayCutOff)
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", cfg.TimeZone, err)
	}
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = host
	}

	return cfg, nil
}

// Location returns the configured production time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
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
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
