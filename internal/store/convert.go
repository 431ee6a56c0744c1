/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"time"

	"github.com/friendsincode/slotwise/internal/cycle"
	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/reason"
	"github.com/friendsincode/slotwise/internal/slot"
)

// bound maps a zero instant to NULL and stores everything in UTC.
func bound(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func unbound(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func span(begin, end *time.Time) interval.Interval {
	return interval.Interval{Lower: unbound(begin), Upper: unbound(end)}
}

func operationRow(s slot.Slot[slot.Operation]) models.OperationSlot {
	a := s.Attrs
	return models.OperationSlot{
		ID:               s.ID,
		MachineID:        s.Machine,
		BeginAt:          bound(s.Interval.Lower),
		EndAt:            bound(s.Interval.Upper),
		OperationID:      a.Operation,
		ComponentID:      a.Component,
		WorkOrderID:      a.WorkOrder,
		Line:             a.Line,
		Task:             a.Task,
		Day:              bound(a.Day),
		AutoComponent:    a.AutoComponent,
		AutoWorkOrder:    a.AutoWorkOrder,
		ComponentPinned:  a.ComponentPinned,
		WorkOrderPinned:  a.WorkOrderPinned,
		RunTime:          a.RunTime,
		TotalCycles:      a.TotalCycles,
		PartialCycles:    a.PartialCycles,
		AverageCycleTime: a.AverageCycleTime,
		FirstCycleID:     a.FirstCycleID,
		LastCycleID:      a.LastCycleID,
	}
}

func operationSlot(r models.OperationSlot) slot.Slot[slot.Operation] {
	return slot.Slot[slot.Operation]{
		ID:       r.ID,
		Machine:  r.MachineID,
		Interval: span(r.BeginAt, r.EndAt),
		Attrs: slot.Operation{
			Operation:        r.OperationID,
			Component:        r.ComponentID,
			WorkOrder:        r.WorkOrderID,
			Line:             r.Line,
			Task:             r.Task,
			Day:              unbound(r.Day),
			AutoComponent:    r.AutoComponent,
			AutoWorkOrder:    r.AutoWorkOrder,
			ComponentPinned:  r.ComponentPinned,
			WorkOrderPinned:  r.WorkOrderPinned,
			RunTime:          r.RunTime,
			TotalCycles:      r.TotalCycles,
			PartialCycles:    r.PartialCycles,
			AverageCycleTime: r.AverageCycleTime,
			FirstCycleID:     r.FirstCycleID,
			LastCycleID:      r.LastCycleID,
		},
	}
}

func observationRow(s slot.Slot[slot.ObservationState]) models.ObservationStateSlot {
	return models.ObservationStateSlot{
		ID:        s.ID,
		MachineID: s.Machine,
		BeginAt:   bound(s.Interval.Lower),
		EndAt:     bound(s.Interval.Upper),
		State:     s.Attrs.State,
		UserID:    s.Attrs.User,
		Shift:     s.Attrs.Shift,
	}
}

func observationSlot(r models.ObservationStateSlot) slot.Slot[slot.ObservationState] {
	return slot.Slot[slot.ObservationState]{
		ID:       r.ID,
		Machine:  r.MachineID,
		Interval: span(r.BeginAt, r.EndAt),
		Attrs:    slot.ObservationState{State: r.State, User: r.UserID, Shift: r.Shift},
	}
}

func reasonRow(s slot.Slot[slot.Reason]) models.ReasonSlot {
	a := s.Attrs
	return models.ReasonSlot{
		ID:                s.ID,
		MachineID:         s.Machine,
		BeginAt:           bound(s.Interval.Lower),
		EndAt:             bound(s.Interval.Upper),
		MachineMode:       a.MachineMode,
		Running:           a.Running,
		ObservationState:  a.ObservationState,
		Shift:             a.Shift,
		Reason:            a.Reason,
		Details:           a.Details,
		Score:             a.Score,
		Source:            uint8(a.Source),
		AutoReasonNumber:  a.AutoReasonNumber,
		OverwriteRequired: a.OverwriteRequired,
	}
}

func reasonSlot(r models.ReasonSlot) slot.Slot[slot.Reason] {
	return slot.Slot[slot.Reason]{
		ID:       r.ID,
		Machine:  r.MachineID,
		Interval: span(r.BeginAt, r.EndAt),
		Attrs: slot.Reason{
			MachineMode:       r.MachineMode,
			Running:           r.Running,
			ObservationState:  r.ObservationState,
			Shift:             r.Shift,
			Reason:            r.Reason,
			Details:           r.Details,
			Score:             r.Score,
			Source:            slot.ReasonSource(r.Source),
			AutoReasonNumber:  r.AutoReasonNumber,
			OverwriteRequired: r.OverwriteRequired,
		},
	}
}

func cycleRow(c cycle.Cycle) models.OperationCycle {
	row := models.OperationCycle{
		ID:              c.ID,
		MachineID:       c.Machine,
		BeginAt:         bound(c.Begin),
		EndAt:           bound(c.End),
		Status:          uint8(c.Status),
		OperationSlotID: c.SlotID,
	}
	if at, _, ok := c.Anchor(); ok {
		row.AnchorAt = bound(at)
	}
	return row
}

func cycleOf(r models.OperationCycle) cycle.Cycle {
	return cycle.Cycle{
		ID:      r.ID,
		Machine: r.MachineID,
		Begin:   unbound(r.BeginAt),
		End:     unbound(r.EndAt),
		Status:  cycle.Status(r.Status),
		SlotID:  r.OperationSlotID,
	}
}

func proposalRow(p reason.Proposal) models.ReasonProposal {
	row := models.ReasonProposal{
		ID:             p.ID,
		MachineID:      p.Machine,
		BeginAt:        bound(p.Range.Lower),
		EndAt:          bound(p.Range.Upper),
		Kind:           string(p.Kind),
		Reason:         p.Reason,
		Details:        p.Details,
		Score:          p.Score,
		Extension:      p.Extension,
		Unsafe:         p.Unsafe,
		LogicalTime:    p.LogicalTime.UTC(),
		ModificationID: p.ModificationID,
	}
	if d := p.Dynamic; d != nil {
		row.HasDynamic = true
		row.DynamicProvider = d.Provider
		row.DynamicStrategy = string(d.Strategy)
		row.DynamicLimit = bound(d.Limit)
		row.DynamicHint = bound(d.Hint)
		row.DynamicApplied = d.Applied
		row.DynamicFinal = d.Final
		row.DynamicQueries = d.Queries
	}
	return row
}

func proposalOf(r models.ReasonProposal) reason.Proposal {
	p := reason.Proposal{
		ID:             r.ID,
		Machine:        r.MachineID,
		Kind:           reason.ProposalKind(r.Kind),
		Range:          span(r.BeginAt, r.EndAt),
		Reason:         r.Reason,
		Details:        r.Details,
		Score:          r.Score,
		Extension:      r.Extension,
		Unsafe:         r.Unsafe,
		LogicalTime:    r.LogicalTime.UTC(),
		ModificationID: r.ModificationID,
	}
	if r.HasDynamic {
		p.Dynamic = &reason.DynamicEnd{
			Provider: r.DynamicProvider,
			Strategy: reason.Strategy(r.DynamicStrategy),
			Limit:    unbound(r.DynamicLimit),
			Hint:     unbound(r.DynamicHint),
			Applied:  r.DynamicApplied,
			Final:    r.DynamicFinal,
			Queries:  r.DynamicQueries,
		}
	}
	return p
}
