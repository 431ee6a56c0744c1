/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package summary

import (
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/slot"
)

// QuantityFunc returns how many intermediate work pieces one full cycle of
// an operation produces.
type QuantityFunc func(operation string) int64

// Contributor turns slots into summary deltas. A slot contributes +1 when
// it appears and -1 when it disappears, so recording the old and new
// versions of every changed slot keeps summaries exact.
type Contributor struct {
	Calendar interval.Calendar
	Quantity QuantityFunc
}

// Reason records the activity and reason contributions of a reason slot.
// Only bounded days receive time; the reason count goes to the day the
// slot starts in.
func (c Contributor) Reason(acc *Accumulator, s slot.Slot[slot.Reason], sign int64) {
	if s.Attrs.IsEmpty() {
		return
	}
	for _, piece := range c.Calendar.SplitByDay(s.Interval) {
		d, ok := piece.Duration()
		if !ok {
			continue
		}
		day := c.Calendar.DayOf(piece.Lower)
		acc.Add(Key{
			Kind:             KindActivity,
			Machine:          s.Machine,
			Day:              day,
			Shift:            s.Attrs.Shift,
			MachineMode:      s.Attrs.MachineMode,
			ObservationState: s.Attrs.ObservationState,
		}, Value{Time: d}.Scale(sign))
		if s.Attrs.Reason != "" {
			acc.Add(c.reasonKey(s, day), Value{Time: d}.Scale(sign))
		}
	}
	if s.Attrs.Reason != "" && s.Interval.HasLower() {
		acc.Add(c.reasonKey(s, c.Calendar.DayOf(s.Interval.Lower)), Value{Count: 1}.Scale(sign))
	}
}

func (c Contributor) reasonKey(s slot.Slot[slot.Reason], day time.Time) Key {
	return Key{
		Kind:             KindReason,
		Machine:          s.Machine,
		Day:              day,
		Shift:            s.Attrs.Shift,
		ObservationState: s.Attrs.ObservationState,
		Reason:           s.Attrs.Reason,
	}
}

// Operation records the cycle-count and intermediate-work-piece
// contributions of an operation slot from its counters.
func (c Contributor) Operation(acc *Accumulator, s slot.Slot[slot.Operation], sign int64) {
	if s.Attrs.IsEmpty() || s.Attrs.TotalCycles == 0 {
		return
	}
	day := s.Attrs.Day
	if day.IsZero() {
		if !s.Interval.HasLower() {
			return
		}
		day = c.Calendar.DayOf(s.Interval.Lower)
	}
	key := Key{
		Kind:      KindCycleCount,
		Machine:   s.Machine,
		Day:       day,
		Operation: s.Attrs.Operation,
		Component: s.Attrs.Component,
		WorkOrder: s.Attrs.WorkOrder,
	}
	full := int64(s.Attrs.TotalCycles - s.Attrs.PartialCycles)
	acc.Add(key, Value{Full: full, Partial: int64(s.Attrs.PartialCycles)}.Scale(sign))

	if c.Quantity == nil || full == 0 || s.Attrs.Operation == "" {
		return
	}
	key.Kind = KindIntermediateWorkPiece
	acc.Add(key, Value{Count: full * c.Quantity(s.Attrs.Operation)}.Scale(sign))
}

// ReasonChanges records a reason-slot Apply result.
func (c Contributor) ReasonChanges(acc *Accumulator, res slot.Result[slot.Reason]) {
	for _, s := range res.Removed {
		c.Reason(acc, s, -1)
	}
	for _, s := range res.Upserted {
		if prev, ok := res.Previous[s.ID]; ok {
			c.Reason(acc, prev, -1)
		}
		c.Reason(acc, s, +1)
	}
}

// OperationChanges records operation slots replaced by new versions.
// before holds the old version of every slot in after or removed.
func (c Contributor) OperationChanges(acc *Accumulator, before map[string]slot.Slot[slot.Operation], after []slot.Slot[slot.Operation], removed []slot.Slot[slot.Operation]) {
	for _, s := range removed {
		c.Operation(acc, s, -1)
	}
	for _, s := range after {
		if prev, ok := before[s.ID]; ok {
			c.Operation(acc, prev, -1)
		}
		c.Operation(acc, s, +1)
	}
}
