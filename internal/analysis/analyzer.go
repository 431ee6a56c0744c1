/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package analysis applies queued modifications to the slot partitions of
// machines: operation slots, observation-state slots and reason slots, with
// their cycles and summaries.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/slotwise/internal/derivation"
	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/reason"
	"github.com/friendsincode/slotwise/internal/slot"
	"github.com/friendsincode/slotwise/internal/store"
	"github.com/friendsincode/slotwise/internal/summary"
	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidModification is returned for a modification that can never
	// be applied. It fails the modification.
	ErrInvalidModification = errors.New("invalid modification")
	// ErrStuckPending reports a dynamic end still unresolved when the pass
	// budget of its modification ran out.
	ErrStuckPending = errors.New("dynamic end still pending")
)

// Log levels of analysis log entries.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// PassStats summarises one pass over a machine.
type PassStats struct {
	Processed  int
	Done       int
	Failed     int
	InProgress int
}

func (s *PassStats) count(status models.AnalysisStatus) {
	s.Processed++
	switch status {
	case models.StatusDone:
		s.Done++
	case models.StatusError:
		s.Failed++
	case models.StatusInProgress:
		s.InProgress++
	}
}

// Analyzer processes the modification queue of machines. It holds no
// per-machine state and may serve several workers at once, each with its
// own accumulator.
type Analyzer struct {
	repo      store.Repository
	resolver  *derivation.Resolver
	arbiter   *reason.Arbiter
	providers map[string]reason.DynamicTimeProvider
	bus       events.Publisher
	opts      Options
	logger    zerolog.Logger
}

// New creates an analyzer. providers are the dynamic time providers by
// name; bus may be nil.
func New(repo store.Repository, resolver *derivation.Resolver, arbiter *reason.Arbiter, providers map[string]reason.DynamicTimeProvider, bus events.Publisher, opts Options, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		repo:      repo,
		resolver:  resolver,
		arbiter:   arbiter,
		providers: providers,
		bus:       bus,
		opts:      opts.withDefaults(),
		logger:    logger.With().Str("component", "analysis").Logger(),
	}
}

// Options returns the effective options.
func (a *Analyzer) Options() Options { return a.opts }

// ProcessMachine runs one pass over the pending modifications of machine
// in logical-time order. A persistence failure stops the pass so that later
// modifications never overtake the failed one.
func (a *Analyzer) ProcessMachine(ctx context.Context, machine string, acc *summary.Accumulator) (PassStats, error) {
	ctx, span := telemetry.StartMachineSpan(ctx, machine)
	start := time.Now()
	var stats PassStats

	mods, err := a.repo.Modifications().Pending(ctx, machine, a.opts.MaxPasses, a.opts.BatchSize)
	if err != nil {
		telemetry.EndSpan(span, "", err)
		return stats, fmt.Errorf("load pending modifications: %w", err)
	}
	for i := range mods {
		if err := ctx.Err(); err != nil {
			telemetry.EndSpan(span, "", err)
			return stats, err
		}
		status, err := a.Process(ctx, &mods[i], acc)
		if err != nil {
			telemetry.EndSpan(span, "", err)
			return stats, err
		}
		stats.count(status)
	}

	if unresolved, err := a.repo.Proposals().Unresolved(ctx, machine); err == nil {
		telemetry.DynamicEndsPending.WithLabelValues(machine).Set(float64(len(unresolved)))
	}
	telemetry.PassDuration.Observe(time.Since(start).Seconds())
	telemetry.EndSpan(span, "", nil)

	if stats.Processed > 0 {
		a.logger.Debug().Str("machine", machine).Int("processed", stats.Processed).Int("done", stats.Done).
			Int("failed", stats.Failed).Int("in_progress", stats.InProgress).Msg("analysis pass complete")
		a.publish(events.EventPassComplete, events.Payload{
			"machine":     machine,
			"processed":   stats.Processed,
			"done":        stats.Done,
			"failed":      stats.Failed,
			"in_progress": stats.InProgress,
		})
	}
	return stats, nil
}

// Process applies one modification in its own transaction and returns its
// new status. Modifications that can never apply end in Error and return
// no error; any other failure rolls back every write, keeps the previous
// status of m and is returned.
func (a *Analyzer) Process(ctx context.Context, m *models.Modification, acc *summary.Accumulator) (models.AnalysisStatus, error) {
	ctx, span := telemetry.StartModificationSpan(ctx, m.MachineID, string(m.Kind), m.ID)
	orig := *m

	var w *work
	err := a.repo.Transaction(ctx, func(tx store.Tx) error {
		w = a.newWork(tx, m, acc)
		status, err := w.run(ctx)
		if err != nil {
			return err
		}
		if err := w.finish(ctx, status); err != nil {
			return err
		}
		return tx.Modifications().Save(ctx, m)
	})
	if err == nil {
		telemetry.ModificationsProcessed.WithLabelValues(string(m.Kind), string(m.Status)).Inc()
		telemetry.SummaryRowsFlushed.Add(float64(w.flushed))
		telemetry.EndSpan(span, string(m.Status), nil)
		a.announce(m, w.stuck)
		return m.Status, nil
	}

	*m = orig
	acc.Empty()
	if !terminal(err) {
		telemetry.EndSpan(span, "", err)
		a.logger.Error().Err(err).Str("machine", m.MachineID).Str("modification", m.ID).Msg("modification rolled back")
		return "", fmt.Errorf("process modification %s: %w", m.ID, err)
	}
	if ferr := a.fail(ctx, m, err); ferr != nil {
		*m = orig
		telemetry.EndSpan(span, "", ferr)
		return "", fmt.Errorf("record failure of modification %s: %w", m.ID, ferr)
	}
	telemetry.ModificationsProcessed.WithLabelValues(string(m.Kind), string(models.StatusError)).Inc()
	telemetry.EndSpan(span, string(models.StatusError), err)
	a.announce(m, false)
	return models.StatusError, nil
}

// terminal reports whether err means the modification can never apply.
func terminal(err error) bool {
	return errors.Is(err, ErrInvalidModification) ||
		errors.Is(err, slot.ErrNoSlotAtTime) ||
		errors.Is(err, interval.ErrEmpty) ||
		errors.Is(err, reason.ErrUnknownExtension) ||
		errors.Is(err, reason.ErrUnknownProvider)
}

// fail marks m as Error with a log entry, leaving every partition as it
// was.
func (a *Analyzer) fail(ctx context.Context, m *models.Modification, cause error) error {
	a.logger.Warn().Err(cause).Str("machine", m.MachineID).Str("modification", m.ID).
		Str("kind", string(m.Kind)).Msg("modification failed")
	return a.repo.Transaction(ctx, func(tx store.Tx) error {
		now := time.Now().UTC()
		m.Status = models.StatusError
		m.Attempts++
		m.LastError = cause.Error()
		m.CompletedAt = &now
		if err := tx.Modifications().Save(ctx, m); err != nil {
			return err
		}
		return tx.Logs().Add(ctx, models.AnalysisLog{
			MachineID:      m.MachineID,
			ModificationID: m.ID,
			Level:          LevelError,
			Message:        cause.Error(),
		})
	})
}

func (a *Analyzer) announce(m *models.Modification, stuck bool) {
	payload := events.Payload{
		"modification_id": m.ID,
		"machine":         m.MachineID,
		"kind":            string(m.Kind),
		"status":          string(m.Status),
	}
	switch {
	case m.Status == models.StatusDone:
		a.publish(events.EventModificationDone, payload)
	case m.Status == models.StatusError:
		payload["error"] = m.LastError
		a.publish(events.EventModificationError, payload)
	case stuck:
		a.publish(events.EventModificationStuck, payload)
	}
}

func (a *Analyzer) publish(t events.EventType, payload events.Payload) {
	if a.bus != nil {
		a.bus.Publish(t, payload)
	}
}

// provider returns the dynamic time provider called name. The built-in
// machine mode provider reads through tx.
func (a *Analyzer) provider(tx store.Tx, name string) (reason.DynamicTimeProvider, error) {
	if p, ok := a.providers[name]; ok {
		return p, nil
	}
	if name == ProviderModeChange {
		return modeChangeProvider{reasons: tx.ReasonSlots()}, nil
	}
	return nil, fmt.Errorf("%w %q", reason.ErrUnknownProvider, name)
}

// work is the state of one modification inside its transaction.
type work struct {
	a       *Analyzer
	tx      store.Tx
	m       *models.Modification
	machine string
	acc     *summary.Accumulator
	logs    []models.AnalysisLog
	flushed int
	stuck   bool
}

func (a *Analyzer) newWork(tx store.Tx, m *models.Modification, acc *summary.Accumulator) *work {
	return &work{a: a, tx: tx, m: m, machine: m.MachineID, acc: acc}
}

func (w *work) newID() string { return w.a.opts.NewID() }

func (w *work) run(ctx context.Context) (models.AnalysisStatus, error) {
	rng := rangeOf(w.m)
	switch w.m.Kind {
	case models.KindOperationMachineAssociation, models.KindComponentMachineAssociation, models.KindWorkOrderMachineAssociation:
		return models.StatusDone, w.associate(ctx, rng)
	case models.KindObservationStateAssociation:
		return models.StatusDone, w.observationState(ctx, rng)
	case models.KindMachineModeAssociation:
		return models.StatusDone, w.machineMode(ctx, rng)
	case models.KindSetManualReason:
		return models.StatusDone, w.manualReason(ctx, rng, true)
	case models.KindResetManualReason:
		return models.StatusDone, w.manualReason(ctx, rng, false)
	case models.KindSetAutoReason:
		return w.autoReason(ctx, rng)
	case models.KindCycleBegin, models.KindCycleEnd, models.KindCycleFull:
		return models.StatusDone, w.cycleEvent(ctx, rng)
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidModification, w.m.Kind)
	}
}

// finish records the outcome on the modification, writes the collected log
// entries and flushes the summary deltas.
func (w *work) finish(ctx context.Context, status models.AnalysisStatus) error {
	w.m.Status = status
	w.m.Attempts++
	w.m.LastError = ""
	if status.Terminal() {
		now := time.Now().UTC()
		w.m.CompletedAt = &now
	}
	for _, entry := range w.logs {
		if err := w.tx.Logs().Add(ctx, entry); err != nil {
			return err
		}
	}
	n, err := w.acc.Flush(ctx, w.tx.Summaries())
	if err != nil {
		return err
	}
	w.flushed = n
	return nil
}

// log queues an analysis log entry and mirrors it to the process log.
func (w *work) log(level, msg string) {
	w.logs = append(w.logs, models.AnalysisLog{
		MachineID:      w.machine,
		ModificationID: w.m.ID,
		Level:          level,
		Message:        msg,
	})
	ev := w.a.logger.Info()
	switch level {
	case LevelWarn:
		ev = w.a.logger.Warn()
	case LevelError:
		ev = w.a.logger.Error()
	}
	ev.Str("machine", w.machine).Str("modification", w.m.ID).Msg(msg)
}

func (w *work) warn(warnings []reason.Warning) {
	for _, warning := range warnings {
		w.log(LevelWarn, fmt.Sprintf("%v over %s", warning.Err, warning.Range))
	}
}

func rangeOf(m *models.Modification) interval.Interval {
	var iv interval.Interval
	if m.BeginAt != nil {
		iv.Lower = m.BeginAt.UTC()
	}
	if m.EndAt != nil {
		iv.Upper = m.EndAt.UTC()
	}
	return iv
}

func bound(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func writeSlots[A slot.Payload[A]](ctx context.Context, st store.SlotStore[A], kind slot.Kind, removed, upserted []slot.Slot[A]) error {
	if len(removed) > 0 {
		if err := st.Delete(ctx, removed...); err != nil {
			return err
		}
		telemetry.SlotWrites.WithLabelValues(string(kind), "delete").Add(float64(len(removed)))
	}
	if len(upserted) > 0 {
		if err := st.Persist(ctx, upserted...); err != nil {
			return err
		}
		telemetry.SlotWrites.WithLabelValues(string(kind), "upsert").Add(float64(len(upserted)))
	}
	return nil
}
