/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/reason"
	"github.com/friendsincode/slotwise/internal/slot"
	"github.com/friendsincode/slotwise/internal/store"
	"github.com/friendsincode/slotwise/internal/summary"
)

func (w *work) observationState(ctx context.Context, rng interval.Interval) error {
	if rng.IsEmpty() {
		return interval.ErrEmpty
	}
	p := w.m.Payload
	next := slot.ObservationState{State: p.ObservationState, User: p.User, Shift: p.Shift}

	st := w.tx.ObservationSlots()
	window, err := st.FindTouching(ctx, w.machine, rng)
	if err != nil {
		return err
	}
	if w.m.AssociateToSlot {
		if rng, err = slot.Snap(window, rng); err != nil {
			return err
		}
		if window, err = st.FindTouching(ctx, w.machine, rng); err != nil {
			return err
		}
	}
	res, err := slot.Apply(w.machine, window, rng, func(slot.ObservationState, interval.Interval) slot.ObservationState {
		return next
	}, slot.Options{NewID: w.newID})
	if err != nil {
		return err
	}
	if err := writeSlots(ctx, st, slot.KindObservationState, res.Removed, res.Upserted); err != nil {
		return err
	}

	set := func(prev reason.Base, _ interval.Interval) reason.Base {
		if prev.MachineMode != "" {
			prev.ObservationState, prev.Shift = next.State, next.Shift
		}
		return prev
	}
	nextCtx := func(c reason.Context) reason.Context {
		c.ObservationState = next.State
		return c
	}
	return w.rebaseReasons(ctx, rng, set, nextCtx, nil)
}

func (w *work) machineMode(ctx context.Context, rng interval.Interval) error {
	if rng.IsEmpty() {
		return interval.ErrEmpty
	}
	mode := w.m.Payload.MachineMode
	if mode != "" && !w.a.arbiter.Table().Known(mode) {
		return fmt.Errorf("%w: unknown machine mode %q", ErrInvalidModification, mode)
	}
	rng, err := w.snapReasons(ctx, rng)
	if err != nil {
		return err
	}
	obs, err := w.tx.ObservationSlots().FindOverlapping(ctx, w.machine, rng)
	if err != nil {
		return err
	}
	var cuts []time.Time
	for _, o := range obs {
		for _, b := range []time.Time{o.Interval.Lower, o.Interval.Upper} {
			if !b.IsZero() {
				cuts = append(cuts, b)
			}
		}
	}

	set := func(_ reason.Base, piece interval.Interval) reason.Base {
		if mode == "" {
			return reason.Base{}
		}
		base := reason.Base{MachineMode: mode}
		if o, ok := observationAt(obs, piece); ok {
			base.ObservationState, base.Shift = o.Attrs.State, o.Attrs.Shift
		}
		return base
	}
	nextCtx := func(c reason.Context) reason.Context {
		c.MachineMode = mode
		return c
	}
	return w.rebaseReasons(ctx, rng, set, nextCtx, cuts)
}

// observationAt returns the observation slot a piece starts in.
func observationAt(obs []slot.Slot[slot.ObservationState], piece interval.Interval) (slot.Slot[slot.ObservationState], bool) {
	if piece.HasLower() {
		return slot.At(obs, piece.Lower)
	}
	if len(obs) > 0 && !obs[0].Interval.HasLower() {
		return obs[0], true
	}
	return slot.Slot[slot.ObservationState]{}, false
}

// snapReasons widens rng to the reason slots its bounds fall into when the
// modification asks for it.
func (w *work) snapReasons(ctx context.Context, rng interval.Interval) (interval.Interval, error) {
	if rng.IsEmpty() {
		return rng, interval.ErrEmpty
	}
	if !w.m.AssociateToSlot {
		return rng, nil
	}
	window, err := w.tx.ReasonSlots().FindTouching(ctx, w.machine, rng)
	if err != nil {
		return rng, err
	}
	return slot.Snap(window, rng)
}

// rebaseReasons rewrites the context of the reason partition over rng,
// first removing the auto-reasons whose extension resets on that change.
func (w *work) rebaseReasons(ctx context.Context, rng interval.Interval, set func(reason.Base, interval.Interval) reason.Base, nextCtx func(reason.Context) reason.Context, cuts []time.Time) error {
	window, err := w.tx.ReasonSlots().FindTouching(ctx, w.machine, rng)
	if err != nil {
		return err
	}
	proposals, err := w.tx.Proposals().FindOverlapping(ctx, w.machine, rng)
	if err != nil {
		return err
	}
	ch := w.a.arbiter.ResetOnContextChange(window, rng, nextCtx, proposals, w.newID)
	if !ch.Empty() {
		if err := w.tx.Proposals().Apply(ctx, ch); err != nil {
			return err
		}
		proposals = reason.Apply(proposals, ch)
		w.log(LevelInfo, fmt.Sprintf("context change over %s reset %d auto-reason claims", rng, len(ch.Deleted)+len(ch.Upserted)))
	}
	res, warnings, err := w.a.arbiter.Rebase(w.machine, window, rng, set, proposals, cuts, w.newID)
	if err != nil {
		return err
	}
	w.warn(warnings)
	return w.writeReasons(ctx, res)
}

// recomputeReasons re-arbitrates the reason slots over rng.
func (w *work) recomputeReasons(ctx context.Context, rng interval.Interval, proposals []reason.Proposal) error {
	window, err := w.tx.ReasonSlots().FindTouching(ctx, w.machine, rng)
	if err != nil {
		return err
	}
	res, warnings, err := w.a.arbiter.Recompute(w.machine, window, rng, proposals, w.newID)
	if err != nil {
		return err
	}
	w.warn(warnings)
	return w.writeReasons(ctx, res)
}

func (w *work) writeReasons(ctx context.Context, res slot.Result[slot.Reason]) error {
	if !res.Changed() {
		return nil
	}
	if err := writeSlots(ctx, w.tx.ReasonSlots(), slot.KindReason, res.Removed, res.Upserted); err != nil {
		return err
	}
	c := summary.Contributor{Calendar: w.a.opts.Calendar}
	c.ReasonChanges(w.acc, res)
	return w.refreshRunTime(ctx, res.Range)
}

func (w *work) manualReason(ctx context.Context, rng interval.Interval, set bool) error {
	p := w.m.Payload
	if set && p.Reason == "" {
		return fmt.Errorf("%w: manual reason without reason", ErrInvalidModification)
	}
	rng, err := w.snapReasons(ctx, rng)
	if err != nil {
		return err
	}
	proposals, err := w.tx.Proposals().FindOverlapping(ctx, w.machine, rng)
	if err != nil {
		return err
	}

	var ch reason.Change
	if set {
		ch = reason.TrimOlderManual(proposals, rng, w.m.LogicalTime, w.newID)
		score := p.Score
		if score == 0 {
			score = w.a.opts.ManualScore
		}
		ch.Upserted = append(ch.Upserted, reason.Proposal{
			ID:             w.newID(),
			Machine:        w.machine,
			Kind:           reason.ProposalManual,
			Range:          rng,
			Reason:         p.Reason,
			Details:        p.Details,
			Score:          score,
			LogicalTime:    w.m.LogicalTime,
			ModificationID: w.m.ID,
		})
	} else {
		ch = reason.TrimManual(proposals, rng, w.newID)
	}
	if ch.Empty() {
		return nil
	}
	if err := w.tx.Proposals().Apply(ctx, ch); err != nil {
		return err
	}
	return w.recomputeReasons(ctx, rng, reason.Apply(proposals, ch))
}

func (w *work) autoReason(ctx context.Context, rng interval.Interval) (models.AnalysisStatus, error) {
	p := w.m.Payload
	if _, ok := w.a.arbiter.Extensions().Get(p.Extension); !ok {
		return "", fmt.Errorf("%w %q", reason.ErrUnknownExtension, p.Extension)
	}
	if p.Reason == "" {
		return "", fmt.Errorf("%w: auto-reason without reason", ErrInvalidModification)
	}
	if p.DynamicProvider != "" {
		return w.dynamicReason(ctx, rng)
	}

	rng, err := w.snapReasons(ctx, rng)
	if err != nil {
		return "", err
	}
	proposals, err := w.tx.Proposals().FindOverlapping(ctx, w.machine, rng)
	if err != nil {
		return "", err
	}
	ch := reason.Change{Upserted: []reason.Proposal{w.autoProposal(w.newID(), rng)}}
	if err := w.tx.Proposals().Apply(ctx, ch); err != nil {
		return "", err
	}
	return models.StatusDone, w.recomputeReasons(ctx, rng, reason.Apply(proposals, ch))
}

func (w *work) autoProposal(id string, rng interval.Interval) reason.Proposal {
	p := w.m.Payload
	return reason.Proposal{
		ID:             id,
		Machine:        w.machine,
		Kind:           reason.ProposalAuto,
		Range:          rng,
		Reason:         p.Reason,
		Details:        p.Details,
		Score:          p.Score,
		Extension:      p.Extension,
		Unsafe:         w.m.Unsafe,
		LogicalTime:    w.m.LogicalTime,
		ModificationID: w.m.ID,
	}
}

// dynamicReason runs one pass of an auto-reason whose end is resolved by a
// provider. The claim carries the modification ID; the modification stays
// InProgress until the end is final.
func (w *work) dynamicReason(ctx context.Context, rng interval.Interval) (models.AnalysisStatus, error) {
	p := w.m.Payload
	if !rng.HasLower() {
		return "", fmt.Errorf("%w: dynamic end needs a begin", ErrInvalidModification)
	}
	if rng.IsEmpty() {
		return "", interval.ErrEmpty
	}
	provider, err := w.a.provider(w.tx, p.DynamicProvider)
	if err != nil {
		return "", err
	}

	claim, err := w.tx.Proposals().Get(ctx, w.m.ID)
	switch {
	case errors.Is(err, store.ErrNotFound) && w.m.Attempts == 0:
		strategy := w.a.opts.Strategy
		if p.DynamicStrategy != "" {
			if strategy, err = reason.ParseStrategy(p.DynamicStrategy); err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidModification, err)
			}
		}
		claim = w.autoProposal(w.m.ID, interval.Interval{Lower: rng.Lower, Upper: rng.Lower})
		claim.Dynamic = &reason.DynamicEnd{Provider: p.DynamicProvider, Strategy: strategy, Limit: rng.Upper}
	case errors.Is(err, store.ErrNotFound):
		w.log(LevelInfo, "dynamic auto-reason claim was reset before its end resolved")
		return models.StatusDone, nil
	case err != nil:
		return "", err
	}

	step, err := reason.Advance(ctx, claim, provider)
	if err != nil {
		return "", err
	}
	if err := w.tx.Proposals().Apply(ctx, reason.Change{Upserted: []reason.Proposal{step.Proposal}}); err != nil {
		return "", err
	}
	if step.Changed {
		proposals, err := w.tx.Proposals().FindOverlapping(ctx, w.machine, step.Dirty)
		if err != nil {
			return "", err
		}
		if err := w.recomputeReasons(ctx, step.Dirty, proposals); err != nil {
			return "", err
		}
	}

	if d := step.Proposal.Dynamic; d == nil || d.Final {
		return models.StatusDone, nil
	}
	if w.m.Attempts+1 >= w.a.opts.MaxPasses {
		w.stuck = true
		w.log(LevelWarn, fmt.Sprintf("%v after %d passes (provider %s, last answer %s)",
			ErrStuckPending, w.m.Attempts+1, p.DynamicProvider, step.Result.Kind))
	}
	return models.StatusInProgress, nil
}
