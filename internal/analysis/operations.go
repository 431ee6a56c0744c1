/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/friendsincode/slotwise/internal/cycle"
	"github.com/friendsincode/slotwise/internal/derivation"
	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/slot"
	"github.com/friendsincode/slotwise/internal/store"
	"github.com/friendsincode/slotwise/internal/summary"
	"github.com/friendsincode/slotwise/internal/telemetry"
)

// request builds the derivation request of an association, which must
// carry the attribute its kind is named after.
func request(m *models.Modification) (derivation.Request, error) {
	p := m.Payload
	req := derivation.Request{
		Operation: p.Operation,
		Component: p.Component,
		WorkOrder: p.WorkOrder,
		Line:      p.Line,
		Task:      p.Task,
	}
	var primary *string
	switch m.Kind {
	case models.KindOperationMachineAssociation:
		primary = p.Operation
	case models.KindComponentMachineAssociation:
		primary = p.Component
	case models.KindWorkOrderMachineAssociation:
		primary = p.WorkOrder
	}
	if primary == nil {
		return req, fmt.Errorf("%w: %s without its attribute", ErrInvalidModification, m.Kind)
	}
	return req, nil
}

// associate applies an operation, component or work order association.
// In snap mode a range spanning several slots is split into one
// sub-modification per slot, applied in order; gaps are skipped.
func (w *work) associate(ctx context.Context, rng interval.Interval) error {
	req, err := request(w.m)
	if err != nil {
		return err
	}
	if rng.IsEmpty() {
		return interval.ErrEmpty
	}
	slots := w.tx.OperationSlots()
	window, err := slots.FindTouching(ctx, w.machine, rng)
	if err != nil {
		return err
	}
	if !w.m.AssociateToSlot {
		return w.applyOperation(ctx, req, rng, window)
	}

	eff, err := slot.Snap(window, rng)
	if err != nil {
		return err
	}
	if window, err = slots.FindTouching(ctx, w.machine, eff); err != nil {
		return err
	}
	pieces := occupied(window, runs(window, eff))
	if len(pieces) == 1 {
		return w.applyOperation(ctx, req, pieces[0], window)
	}
	return w.decompose(ctx, req, pieces)
}

// occupied keeps the pieces lying inside a slot of window. Gaps between
// slots stay empty in snap mode.
func occupied[A slot.Payload[A]](window []slot.Slot[A], pieces []interval.Interval) []interval.Interval {
	out := pieces[:0:0]
	for _, p := range pieces {
		for _, s := range window {
			if s.Interval.ContainsInterval(p) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// runs cuts rng at the slot boundaries of window.
func runs[A slot.Payload[A]](window []slot.Slot[A], rng interval.Interval) []interval.Interval {
	var cuts []time.Time
	for _, s := range window {
		for _, b := range []time.Time{s.Interval.Lower, s.Interval.Upper} {
			if !b.IsZero() && rng.StrictlyContains(b) {
				cuts = append(cuts, b)
			}
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Before(cuts[j]) })
	out := make([]interval.Interval, 0, len(cuts)+1)
	lower := rng.Lower
	for _, c := range cuts {
		if lower.Equal(c) {
			continue
		}
		out = append(out, interval.Interval{Lower: lower, Upper: c})
		lower = c
	}
	return append(out, interval.Interval{Lower: lower, Upper: rng.Upper})
}

func (w *work) decompose(ctx context.Context, req derivation.Request, pieces []interval.Interval) error {
	for i, piece := range pieces {
		parent := w.m.ID
		child := models.Modification{
			ID:          w.newID(),
			MachineID:   w.machine,
			Kind:        w.m.Kind,
			BeginAt:     bound(piece.Lower),
			EndAt:       bound(piece.Upper),
			Payload:     w.m.Payload,
			LogicalTime: w.m.LogicalTime,
			Priority:    w.m.Priority,
			ParentID:    &parent,
			Position:    i,
			Attempts:    1,
			Status:      models.StatusDone,
		}
		window, err := w.tx.OperationSlots().FindTouching(ctx, w.machine, piece)
		if err != nil {
			return err
		}
		if err := w.applyOperation(ctx, req, piece, window); err != nil {
			if !terminal(err) {
				return err
			}
			child.Status = models.StatusError
			child.LastError = err.Error()
			w.log(LevelError, fmt.Sprintf("sub-modification %d over %s: %v", i, piece, err))
		}
		now := time.Now().UTC()
		child.CompletedAt = &now
		if err := w.tx.Modifications().Save(ctx, &child); err != nil {
			return err
		}
		telemetry.ModificationsProcessed.WithLabelValues(string(child.Kind), string(child.Status)).Inc()
	}
	return nil
}

// applyOperation rewrites rng of the operation partition with req.
func (w *work) applyOperation(ctx context.Context, req derivation.Request, rng interval.Interval, window []slot.Slot[slot.Operation]) error {
	covered := slot.Covered(window, rng)
	var prev []slot.Operation
	for _, s := range covered {
		prev = append(prev, s.Attrs)
	}
	plan, err := w.a.resolver.Plan(ctx, w.tx.Catalog(), req, prev)
	if err != nil {
		return err
	}
	overlay := plan.Overlay()
	opts := slot.Options{NewID: w.newID}
	if w.a.opts.SplitByDay {
		// A rewrite that changes nothing but day labels is a no-op.
		keep := func(prev slot.Operation, piece interval.Interval) slot.Operation {
			next := overlay(prev, piece)
			next.Day = prev.Day
			return next
		}
		if res, err := slot.Apply(w.machine, window, rng, keep, opts); err != nil || !res.Changed() {
			return err
		}
		var ext interval.Interval
		ext, overlay, opts.Cuts = splitByDay(w.a.opts.Calendar, rng, covered, overlay)
		if !ext.Equal(rng) {
			if window, err = w.tx.OperationSlots().FindTouching(ctx, w.machine, ext); err != nil {
				return err
			}
			rng = ext
		}
	}
	res, err := slot.Apply(w.machine, window, rng, overlay, opts)
	if err != nil {
		return err
	}
	if !res.Changed() {
		return nil
	}
	return w.commitOperations(ctx, window, res)
}

// splitByDay widens rng to the slots it overlaps and cuts the result at
// every day boundary, labelling each piece with the day it starts in. An
// open tail is cut once, at the first boundary after the last finite
// bound, so it always starts a day.
func splitByDay(cal interval.Calendar, rng interval.Interval, covered []slot.Slot[slot.Operation], derive slot.Overlay[slot.Operation]) (interval.Interval, slot.Overlay[slot.Operation], []time.Time) {
	ext := rng
	var bounds []time.Time
	for _, iv := range append([]interval.Interval{rng}, spans(covered)...) {
		ext = ext.Union(iv)
		for _, b := range []time.Time{iv.Lower, iv.Upper} {
			if !b.IsZero() {
				bounds = append(bounds, b)
			}
		}
	}

	var cuts []time.Time
	for _, b := range []time.Time{rng.Lower, rng.Upper} {
		if !b.IsZero() {
			cuts = append(cuts, b)
		}
	}
	if len(bounds) > 0 {
		first, last := slices.MinFunc(bounds, time.Time.Compare), slices.MaxFunc(bounds, time.Time.Compare)
		cuts = append(cuts, cal.DayBoundaries(first, last)...)
		if !ext.HasUpper() && !cal.DayStart(last).Equal(last) {
			cuts = append(cuts, cal.NextDayStart(last))
		}
	}

	overlay := func(prev slot.Operation, piece interval.Interval) slot.Operation {
		next := prev
		if rng.ContainsInterval(piece) {
			next = derive(prev, piece)
		}
		if next.IsEmpty() {
			return next
		}
		next.Day = time.Time{}
		if piece.HasLower() {
			next.Day = cal.DayOf(piece.Lower)
		}
		return next
	}
	return ext, overlay, cuts
}

func spans[A slot.Payload[A]](slots []slot.Slot[A]) []interval.Interval {
	out := make([]interval.Interval, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Interval)
	}
	return out
}

// commitOperations recomputes run times and cycle counters of the new
// window, then writes what differs from the stored window.
func (w *work) commitOperations(ctx context.Context, before []slot.Slot[slot.Operation], res slot.Result[slot.Operation]) error {
	after := res.Slots
	if err := w.fillRunTime(ctx, after); err != nil {
		return err
	}
	extended, err := w.extend(ctx, res)
	if err != nil {
		return err
	}
	if !extended {
		if err := w.consolidate(ctx, after, res.Removed, nil); err != nil {
			return err
		}
	}
	return w.persistOperations(ctx, before, after, res.Removed)
}

// extension reports whether res only moved the upper bound of one slot
// forward, returning that slot and its old upper bound.
func extension(res slot.Result[slot.Operation]) (slot.Slot[slot.Operation], time.Time, bool) {
	if len(res.Removed) != 0 || len(res.Upserted) != 1 {
		return slot.Slot[slot.Operation]{}, time.Time{}, false
	}
	s := res.Upserted[0]
	prev, ok := res.Previous[s.ID]
	if !ok || !prev.Interval.HasUpper() || !prev.Attrs.Equal(s.Attrs) {
		return slot.Slot[slot.Operation]{}, time.Time{}, false
	}
	if interval.CompareLower(prev.Interval.Lower, s.Interval.Lower) != 0 ||
		interval.CompareUpper(s.Interval.Upper, prev.Interval.Upper) <= 0 {
		return slot.Slot[slot.Operation]{}, time.Time{}, false
	}
	return s, prev.Interval.Upper, true
}

// extend handles a slot extension without a full consolidation when no
// cycle lies in the extension: only the slot's last cycle may need its
// estimated end moved. Counters are unchanged.
func (w *work) extend(ctx context.Context, res slot.Result[slot.Operation]) (bool, error) {
	s, oldUpper, ok := extension(res)
	if !ok {
		return false, nil
	}
	cycles := w.tx.Cycles()
	inside, err := cycles.FindInRange(ctx, w.machine, interval.Interval{Lower: oldUpper, Upper: s.Interval.Upper})
	if err != nil {
		return false, err
	}
	if len(inside) > 0 {
		return false, nil
	}
	if s.Attrs.LastCycleID == "" {
		return true, nil
	}
	last, err := cycles.Get(ctx, s.Attrs.LastCycleID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if next, changed := cycle.Extend(s, oldUpper, last); changed {
		return true, cycles.Persist(ctx, next)
	}
	return true, nil
}

// consolidate re-attaches the cycles of window, with extra overriding
// stored versions, and sets the counters of every slot of window.
func (w *work) consolidate(ctx context.Context, window, removed []slot.Slot[slot.Operation], extra []cycle.Cycle) error {
	cycles := w.tx.Cycles()
	ids := make([]string, 0, len(window)+len(removed))
	for _, s := range window {
		ids = append(ids, s.ID)
	}
	for _, s := range removed {
		ids = append(ids, s.ID)
	}
	attached, err := cycles.FindBySlots(ctx, ids)
	if err != nil {
		return err
	}
	var anchored []cycle.Cycle
	if len(window) > 0 {
		anchored, err = cycles.FindInRange(ctx, w.machine, hull(window))
		if err != nil {
			return err
		}
	}

	byID := make(map[string]cycle.Cycle, len(attached)+len(anchored)+len(extra))
	var order []string
	for _, group := range [][]cycle.Cycle{attached, anchored, extra} {
		for _, c := range group {
			if _, seen := byID[c.ID]; !seen {
				order = append(order, c.ID)
			}
			byID[c.ID] = c
		}
	}
	input := make([]cycle.Cycle, 0, len(order))
	for _, id := range order {
		input = append(input, byID[id])
	}

	res := cycle.Consolidate(window, input)
	for i := range window {
		res.Counters[window[i].ID].Set(&window[i].Attrs)
	}
	// Extra cycles are not stored yet, or stored with other bounds, so
	// they are written even when consolidation left them as given.
	write := append([]cycle.Cycle(nil), res.Changed...)
	written := make(map[string]bool, len(write))
	for _, c := range write {
		written[c.ID] = true
	}
	for _, c := range res.Cycles {
		if !written[c.ID] && containsCycle(extra, c.ID) {
			write = append(write, c)
		}
	}
	if len(write) == 0 {
		return nil
	}
	return cycles.Persist(ctx, write...)
}

func containsCycle(cycles []cycle.Cycle, id string) bool {
	for _, c := range cycles {
		if c.ID == id {
			return true
		}
	}
	return false
}

func hull[A slot.Payload[A]](slots []slot.Slot[A]) interval.Interval {
	return interval.Interval{Lower: slots[0].Interval.Lower, Upper: slots[len(slots)-1].Interval.Upper}
}

// fillRunTime sets the run time of every slot from the running reason
// slots it covers.
func (w *work) fillRunTime(ctx context.Context, slots []slot.Slot[slot.Operation]) error {
	if len(slots) == 0 {
		return nil
	}
	reasons, err := w.tx.ReasonSlots().FindOverlapping(ctx, w.machine, hull(slots))
	if err != nil {
		return err
	}
	for i := range slots {
		slots[i].Attrs.RunTime = runTime(reasons, slots[i].Interval)
	}
	return nil
}

// runTime sums the bounded parts of iv covered by running reason slots.
func runTime(reasons []slot.Slot[slot.Reason], iv interval.Interval) time.Duration {
	var total time.Duration
	for _, r := range reasons {
		if !r.Attrs.Running {
			continue
		}
		part, ok := r.Interval.Intersect(iv)
		if !ok {
			continue
		}
		if d, ok := part.Duration(); ok {
			total += d
		}
	}
	return total
}

// refreshRunTime recomputes the run time of the operation slots over rng
// after a change of the reason partition.
func (w *work) refreshRunTime(ctx context.Context, rng interval.Interval) error {
	slots, err := w.tx.OperationSlots().FindOverlapping(ctx, w.machine, rng)
	if err != nil || len(slots) == 0 {
		return err
	}
	before := append([]slot.Slot[slot.Operation](nil), slots...)
	if err := w.fillRunTime(ctx, slots); err != nil {
		return err
	}
	return w.persistOperations(ctx, before, slots, nil)
}

// persistOperations writes the slots of after that differ from their
// stored version, deletes removed and records the summary deltas.
func (w *work) persistOperations(ctx context.Context, before, after, removed []slot.Slot[slot.Operation]) error {
	prev := make(map[string]slot.Slot[slot.Operation], len(before))
	for _, s := range before {
		prev[s.ID] = s
	}
	var changed []slot.Slot[slot.Operation]
	for _, s := range after {
		if p, ok := prev[s.ID]; ok && sameOperation(p, s) {
			continue
		}
		changed = append(changed, s)
	}
	if err := writeSlots(ctx, w.tx.OperationSlots(), slot.KindOperation, removed, changed); err != nil {
		return err
	}

	quantity, err := w.quantities(ctx, before, changed)
	if err != nil {
		return err
	}
	c := summary.Contributor{Calendar: w.a.opts.Calendar, Quantity: quantity}
	c.OperationChanges(w.acc, prev, changed, removed)
	return nil
}

func sameOperation(a, b slot.Slot[slot.Operation]) bool {
	return a.Interval.Equal(b.Interval) &&
		a.Attrs.Equal(b.Attrs) &&
		cycle.Of(a.Attrs) == cycle.Of(b.Attrs) &&
		a.Attrs.RunTime == b.Attrs.RunTime &&
		a.Attrs.AutoComponent == b.Attrs.AutoComponent &&
		a.Attrs.AutoWorkOrder == b.Attrs.AutoWorkOrder &&
		a.Attrs.ComponentPinned == b.Attrs.ComponentPinned &&
		a.Attrs.WorkOrderPinned == b.Attrs.WorkOrderPinned
}

// quantities prefetches the work pieces per cycle of every operation the
// slots name.
func (w *work) quantities(ctx context.Context, groups ...[]slot.Slot[slot.Operation]) (summary.QuantityFunc, error) {
	known := make(map[string]int64)
	for _, group := range groups {
		for _, s := range group {
			op := s.Attrs.Operation
			if _, ok := known[op]; ok || op == "" || s.Attrs.TotalCycles == 0 {
				continue
			}
			q, err := w.tx.Catalog().OperationQuantity(ctx, op)
			if err != nil {
				return nil, err
			}
			known[op] = q
		}
	}
	return func(op string) int64 {
		if q, ok := known[op]; ok {
			return q
		}
		return 1
	}, nil
}

// cycleEvent creates or closes a cycle and re-consolidates the slots
// around it.
func (w *work) cycleEvent(ctx context.Context, rng interval.Interval) error {
	var c cycle.Cycle
	switch w.m.Kind {
	case models.KindCycleBegin:
		if !rng.HasLower() {
			return fmt.Errorf("%w: cycle begin without begin", ErrInvalidModification)
		}
		c = cycle.Cycle{ID: w.newID(), Machine: w.machine, Begin: rng.Lower}
	case models.KindCycleFull:
		if !rng.HasLower() || !rng.HasUpper() {
			return fmt.Errorf("%w: full cycle needs both bounds", ErrInvalidModification)
		}
		if rng.IsEmpty() {
			return interval.ErrEmpty
		}
		c = cycle.Cycle{ID: w.newID(), Machine: w.machine, Begin: rng.Lower, End: rng.Upper}
	case models.KindCycleEnd:
		if !rng.HasUpper() {
			return fmt.Errorf("%w: cycle end without end", ErrInvalidModification)
		}
		end := rng.Upper
		candidates, err := w.tx.Cycles().FindInRange(ctx, w.machine, interval.Interval{Lower: end.Add(-w.a.opts.CycleLookback), Upper: end})
		if err != nil {
			return err
		}
		if open, ok := cycle.Closing(candidates, end); ok {
			c = open
			c.End = end
			c.Status &^= cycle.EndEstimated
		} else {
			c = cycle.Cycle{ID: w.newID(), Machine: w.machine, End: end}
		}
	}

	// The window spans both exact bounds so that a cycle whose anchor moves
	// from its begin to its end leaves its old slot.
	var around interval.Interval
	begin, hasBegin := c.KnownBegin()
	end, hasEnd := c.KnownEnd()
	switch {
	case hasBegin && hasEnd:
		around = interval.Interval{Lower: begin, Upper: end}
	case hasBegin:
		around = interval.Interval{Lower: begin, Upper: begin}
	default:
		around = interval.Interval{Lower: end, Upper: end}
	}
	window, err := w.tx.OperationSlots().FindTouching(ctx, w.machine, around)
	if err != nil {
		return err
	}
	before := append([]slot.Slot[slot.Operation](nil), window...)
	if err := w.consolidate(ctx, window, nil, []cycle.Cycle{c}); err != nil {
		return err
	}
	return w.persistOperations(ctx, before, window, nil)
}
