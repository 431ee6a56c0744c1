/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/slotwise/internal/machinelock"
	"github.com/friendsincode/slotwise/internal/summary"
	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RunnerConfig controls the analysis loop.
type RunnerConfig struct {
	Interval   time.Duration
	Workers    int
	InstanceID string
	// Ring restricts this instance to the machines it owns. Nil means all.
	Ring *Ring
}

// Runner periodically processes every machine with pending modifications.
// A machine is processed by at most one worker at a time, guarded by its
// lease.
type Runner struct {
	analyzer *Analyzer
	locker   machinelock.Locker
	cfg      RunnerConfig
	logger   zerolog.Logger
}

// NewRunner creates a runner.
func NewRunner(analyzer *Analyzer, locker machinelock.Locker, cfg RunnerConfig, logger zerolog.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Runner{
		analyzer: analyzer,
		locker:   locker,
		cfg:      cfg,
		logger:   logger.With().Str("component", "analysis_runner").Logger(),
	}
}

// Run executes the analysis loop until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().Int("workers", r.cfg.Workers).Dur("interval", r.cfg.Interval).Msg("analysis loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("analysis loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("analysis tick failed")
			}
		}
	}
}

// Tick runs one pass over every owned machine with pending modifications
// and returns the combined statistics.
func (r *Runner) Tick(ctx context.Context) (PassStats, error) {
	machines, err := r.analyzer.repo.Modifications().PendingMachines(ctx, r.analyzer.opts.MaxPasses)
	if err != nil {
		return PassStats{}, err
	}
	if r.cfg.Ring != nil {
		machines = r.cfg.Ring.Owns(r.cfg.InstanceID, machines)
	}

	results := make([]PassStats, len(machines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, machine := range machines {
		g.Go(func() error {
			stats, err := r.processMachine(gctx, machine)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn().Err(err).Str("machine", machine).Msg("machine pass failed")
				return nil
			}
			results[i] = stats
			return nil
		})
	}
	err = g.Wait()

	var total PassStats
	for _, s := range results {
		total.Processed += s.Processed
		total.Done += s.Done
		total.Failed += s.Failed
		total.InProgress += s.InProgress
	}
	return total, err
}

func (r *Runner) processMachine(ctx context.Context, machine string) (PassStats, error) {
	lease, err := r.locker.Acquire(ctx, machine)
	if errors.Is(err, machinelock.ErrHeld) {
		telemetry.MachineLockContention.Inc()
		r.logger.Debug().Str("machine", machine).Msg("machine leased elsewhere, skipping")
		return PassStats{}, nil
	}
	if err != nil {
		return PassStats{}, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn().Err(err).Str("machine", machine).Msg("release machine lease")
		}
	}()

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-lease.Lost():
			r.logger.Warn().Str("machine", machine).Msg("machine lease lost, stopping pass")
			cancel()
		case <-mctx.Done():
		}
	}()

	return r.analyzer.ProcessMachine(mctx, machine, summary.NewAccumulator())
}
