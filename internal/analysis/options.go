/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"fmt"
	"time"

	"github.com/friendsincode/slotwise/internal/config"
	"github.com/friendsincode/slotwise/internal/derivation"
	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/reason"
	"github.com/google/uuid"
)

// Options tunes the analysis. It is built once and never mutated.
type Options struct {
	Rules derivation.Rules
	// SplitByDay cuts operation slots at production day boundaries.
	SplitByDay bool
	Calendar   interval.Calendar
	// Strategy applies to dynamic ends submitted without one.
	Strategy reason.Strategy
	// MaxPasses bounds the passes spent on one modification.
	MaxPasses int
	// BatchSize bounds the modifications taken per machine and pass.
	BatchSize int
	// ManualScore is the score of manual reasons submitted without one.
	ManualScore float64
	// CycleLookback bounds how far before its end a cycle end looks for
	// the open cycle it closes.
	CycleLookback time.Duration
	NewID         func() string
}

// DefaultOptions returns the options of an unconfigured instance.
func DefaultOptions() Options {
	return Options{
		Rules: derivation.Rules{
			UniqueComponentFromOperation:     true,
			UniqueProjectOrPartFromWorkOrder: true,
		},
		Calendar:      interval.UTC,
		Strategy:      reason.StrategyAggressive,
		MaxPasses:     20,
		BatchSize:     100,
		ManualScore:   100,
		CycleLookback: 24 * time.Hour,
		NewID:         uuid.NewString,
	}
}

// OptionsFromConfig converts the process configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	strategy, err := reason.ParseStrategy(cfg.DynamicStrategy)
	if err != nil {
		return Options{}, fmt.Errorf("analysis options: %w", err)
	}
	opts := DefaultOptions()
	opts.Rules = derivation.Rules{
		ComponentFromOperationOnly:       cfg.ComponentFromOperationOnly,
		WorkOrderFromComponentOnly:       cfg.WorkOrderFromComponentOnly,
		UniqueComponentFromOperation:     cfg.UniqueComponentFromOperation,
		UniqueProjectOrPartFromWorkOrder: cfg.UniqueProjectOrPartFromWorkOrder,
	}
	opts.SplitByDay = cfg.OperationSlotSplit == config.SplitDay
	opts.Calendar = interval.Calendar{Location: cfg.Location(), CutOff: cfg.DayCutOff}
	opts.Strategy = strategy
	if cfg.MaxPasses > 0 {
		opts.MaxPasses = cfg.MaxPasses
	}
	if cfg.BatchSize > 0 {
		opts.BatchSize = cfg.BatchSize
	}
	if cfg.ManualScore > 0 {
		opts.ManualScore = cfg.ManualScore
	}
	if cfg.CycleLookback > 0 {
		opts.CycleLookback = cfg.CycleLookback
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Calendar.Location == nil {
		o.Calendar.Location = time.UTC
	}
	if o.Strategy == "" {
		o.Strategy = d.Strategy
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = d.MaxPasses
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.ManualScore == 0 {
		o.ManualScore = d.ManualScore
	}
	if o.CycleLookback <= 0 {
		o.CycleLookback = d.CycleLookback
	}
	if o.NewID == nil {
		o.NewID = d.NewID
	}
	return o
}
