/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/friendsincode/slotwise/internal/analysis"
	"github.com/friendsincode/slotwise/internal/cache"
	"github.com/friendsincode/slotwise/internal/config"
	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/derivation"
	"github.com/friendsincode/slotwise/internal/eventbus"
	"github.com/friendsincode/slotwise/internal/logging"
	"github.com/friendsincode/slotwise/internal/machinelock"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/reason"
	"github.com/friendsincode/slotwise/internal/store"
	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/friendsincode/slotwise/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "slotwise",
	Short: "Slotwise - machine slot consolidation engine",
	Long:  "Slotwise turns the modifications reported by shop floor machines into consistent operation, reason and cycle slots.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis service",
	Long:  "Start the analysis loop together with the health and metrics endpoints",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

// initDatabase opens the configured database and brings its schema up to date.
func initDatabase() (*gorm.DB, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return database, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Str("instance", cfg.InstanceID).Msg("slotwise starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "slotwise",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()
	repo := store.New(database)

	analyzer, cleanup, err := buildAnalyzer(repo)
	if err != nil {
		return err
	}
	defer cleanup()

	locker, closeLocker, err := buildLocker()
	if err != nil {
		return err
	}
	defer closeLocker()

	runner := analysis.NewRunner(analyzer, locker, analysis.RunnerConfig{
		Interval:   cfg.AnalysisInterval,
		Workers:    cfg.Workers,
		InstanceID: cfg.InstanceID,
		Ring:       buildRing(),
	}, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()
	go reportConnections(ctx, database)

	httpServer := &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           otelhttp.NewHandler(newRouter(repo), "slotwise"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsBind).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	stop()
	select {
	case err := <-runnerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("analysis loop failed")
		}
	case <-timeoutCtx.Done():
		logger.Warn().Msg("analysis loop did not stop in time")
	}

	logger.Info().Msg("slotwise stopped")
	return nil
}

// buildAnalyzer wires the reason table, the catalog and the event bus into
// an analyzer. cleanup releases the connections opened on the way.
func buildAnalyzer(repo *store.Gorm) (*analysis.Analyzer, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn().Err(err).Msg("cleanup failed")
			}
		}
	}

	table := reason.DefaultTable()
	if cfg.ReasonTableFile != "" {
		loaded, err := reason.LoadTable(cfg.ReasonTableFile)
		if err != nil {
			return nil, cleanup, fmt.Errorf("load reason table: %w", err)
		}
		table = loaded
	}
	registry, err := table.Registry()
	if err != nil {
		return nil, cleanup, fmt.Errorf("reason extensions: %w", err)
	}

	opts, err := analysis.OptionsFromConfig(cfg)
	if err != nil {
		return nil, cleanup, err
	}

	resolver := derivation.NewResolver(opts.Rules, logger)
	if cfg.CatalogCacheEnabled {
		cached, err := buildCatalogCache()
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, cached.Close)
		resolver.WithCatalogCache(cached.Wrap)
	}

	bus, err := buildEventBus()
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	closers = append(closers, bus.Close)

	analyzer := analysis.New(
		repo,
		resolver,
		reason.NewArbiter(table, registry, logger),
		nil,
		bus,
		opts,
		logger,
	)
	return analyzer, cleanup, nil
}

func buildCatalogCache() (*cache.Cache, error) {
	cached, err := cache.New(cache.Config{
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		TTL:            cfg.CatalogCacheTTL,
		DisableOnError: true,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("catalog cache: %w", err)
	}
	return cached, nil
}

func buildEventBus() (*eventbus.Relay, error) {
	switch cfg.EventBus {
	case "nats":
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.NodeID = cfg.InstanceID
		relay, err := eventbus.NewNATS(natsCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("nats event bus: %w", err)
		}
		return relay, nil
	case "redis":
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		redisCfg.NodeID = cfg.InstanceID
		relay, err := eventbus.NewRedis(redisCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("redis event bus: %w", err)
		}
		return relay, nil
	default:
		return eventbus.NewLocal(logger), nil
	}
}

func buildLocker() (machinelock.Locker, func(), error) {
	if !cfg.LeaseEnabled {
		return machinelock.NewLocal(), func() {}, nil
	}
	locker, err := machinelock.NewRedis(machinelock.RedisConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		TTL:        cfg.LeaseTTL,
		InstanceID: cfg.InstanceID,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("machine leases: %w", err)
	}
	return locker, func() {
		if err := locker.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close lease client")
		}
	}, nil
}

// buildRing partitions machines between the configured instances. A single
// instance owns everything and needs no ring.
func buildRing() *analysis.Ring {
	if len(cfg.Instances) < 2 {
		return nil
	}
	if !slices.Contains(cfg.Instances, cfg.InstanceID) {
		logger.Warn().Str("instance", cfg.InstanceID).Strs("instances", cfg.Instances).
			Msg("instance missing from SLOTWISE_INSTANCES, it will own no machine")
	}
	return analysis.NewRing(0, cfg.Instances...)
}

func reportConnections(ctx context.Context, database *gorm.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.UpdateConnectionMetrics(database)
		}
	}
}

func newRouter(repo *store.Gorm) http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.MetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := repo.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		counts, err := repo.Modifications().CountByStatus(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(counts)
	})
	r.Get("/machines/{machine}/logs", func(w http.ResponseWriter, r *http.Request) {
		logs, err := repo.Logs().List(r.Context(), chi.URLParam(r, "machine"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if logs == nil {
			logs = []models.AnalysisLog{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(logs)
	})
	r.Handle("/metrics", telemetry.Handler())
	return r
}
