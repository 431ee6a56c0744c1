/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cycle attaches operation cycles to operation slots, estimates
// missing cycle bounds and maintains the per-slot cycle counters.
package cycle

import (
	"sort"
	"strings"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/slot"
)

// Status flags describe which bounds of a cycle are estimates.
type Status uint8

const (
	BeginEstimated Status = 1 << iota
	EndEstimated
)

func (s Status) String() string {
	var parts []string
	if s&BeginEstimated != 0 {
		parts = append(parts, "begin_estimated")
	}
	if s&EndEstimated != 0 {
		parts = append(parts, "end_estimated")
	}
	return strings.Join(parts, "|")
}

// Cycle is one operation cycle of a machine. A zero Begin or End is unknown.
// Estimated bounds are stored with their flag and recomputed on every
// consolidation.
type Cycle struct {
	ID      string
	Machine string
	Begin   time.Time
	End     time.Time
	Status  Status
	// SlotID is the covering operation slot, empty when detached.
	SlotID string
}

// KnownBegin returns the begin bound when it is exact.
func (c Cycle) KnownBegin() (time.Time, bool) {
	if c.Begin.IsZero() || c.Status&BeginEstimated != 0 {
		return time.Time{}, false
	}
	return c.Begin, true
}

// KnownEnd returns the end bound when it is exact.
func (c Cycle) KnownEnd() (time.Time, bool) {
	if c.End.IsZero() || c.Status&EndEstimated != 0 {
		return time.Time{}, false
	}
	return c.End, true
}

// Full reports whether both bounds are known exactly.
func (c Cycle) Full() bool {
	_, b := c.KnownBegin()
	_, e := c.KnownEnd()
	return b && e
}

// Anchor is the instant deciding which slot covers the cycle: the end when
// known, the begin otherwise. byEnd tells which one was used.
func (c Cycle) Anchor() (at time.Time, byEnd bool, ok bool) {
	if end, ok := c.KnownEnd(); ok {
		return end, true, true
	}
	if begin, ok := c.KnownBegin(); ok {
		return begin, false, true
	}
	return time.Time{}, false, false
}

// Duration returns End-Begin for full cycles.
func (c Cycle) Duration() (time.Duration, bool) {
	if !c.Full() {
		return 0, false
	}
	return c.End.Sub(c.Begin), true
}

// Covers reports whether the cycle's anchor lies in iv. End anchors use
// (Lower, Upper], begin anchors [Lower, Upper).
func (c Cycle) Covers(iv interval.Interval) bool {
	at, byEnd, ok := c.Anchor()
	if !ok {
		return false
	}
	if byEnd {
		return iv.ContainsEnd(at)
	}
	return iv.Contains(at)
}

// reset drops estimates so that only exact bounds remain.
func (c Cycle) reset() Cycle {
	if c.Status&BeginEstimated != 0 {
		c.Begin = time.Time{}
	}
	if c.Status&EndEstimated != 0 {
		c.End = time.Time{}
	}
	c.Status = 0
	return c
}

// Equal compares every stored field.
func (c Cycle) Equal(o Cycle) bool {
	return c.ID == o.ID && c.Machine == o.Machine && c.Begin.Equal(o.Begin) && c.End.Equal(o.End) &&
		c.Status == o.Status && c.SlotID == o.SlotID
}

// Counters are the cycle aggregates exposed by an operation slot.
type Counters struct {
	Total            int
	Partial          int
	AverageCycleTime time.Duration
	FirstCycleID     string
	LastCycleID      string
}

// Of reads the counters carried by slot attributes.
func Of(o slot.Operation) Counters {
	return Counters{
		Total:            o.TotalCycles,
		Partial:          o.PartialCycles,
		AverageCycleTime: o.AverageCycleTime,
		FirstCycleID:     o.FirstCycleID,
		LastCycleID:      o.LastCycleID,
	}
}

// Set writes c into slot attributes.
func (c Counters) Set(o *slot.Operation) {
	o.TotalCycles = c.Total
	o.PartialCycles = c.Partial
	o.AverageCycleTime = c.AverageCycleTime
	o.FirstCycleID = c.FirstCycleID
	o.LastCycleID = c.LastCycleID
}

// Full returns the number of full cycles.
func (c Counters) Full() int { return c.Total - c.Partial }

// Result of a consolidation.
type Result struct {
	// Cycles holds every input cycle after consolidation, anchor ordered.
	Cycles []Cycle
	// Changed holds the cycles that differ from their input version.
	Changed []Cycle
	// Counters maps every slot of the window to its new counters.
	Counters map[string]Counters
}

// Consolidate attaches cycles to the covering slots of window, detaches
// cycles no slot covers, re-estimates missing bounds and recomputes the
// per-slot counters. window is a sorted run of operation slots of one
// machine; cycles are the cycles anchored inside it or attached to one of
// its slots.
func Consolidate(window []slot.Slot[slot.Operation], cycles []Cycle) Result {
	res := Result{Counters: make(map[string]Counters, len(window))}

	work := make([]Cycle, len(cycles))
	for i, c := range cycles {
		work[i] = c.reset()
		work[i].SlotID = ""
		for _, s := range window {
			if work[i].Covers(s.Interval) {
				work[i].SlotID = s.ID
				break
			}
		}
	}
	sortByAnchor(work)

	bySlot := make(map[string][]int, len(window))
	for i, c := range work {
		if c.SlotID != "" {
			bySlot[c.SlotID] = append(bySlot[c.SlotID], i)
		}
	}
	for _, s := range window {
		idx := bySlot[s.ID]
		estimate(s.Interval, work, idx)
		res.Counters[s.ID] = count(work, idx)
	}

	before := make(map[string]Cycle, len(cycles))
	for _, c := range cycles {
		before[c.ID] = c
	}
	for _, c := range work {
		if prev, ok := before[c.ID]; !ok || !prev.Equal(c) {
			res.Changed = append(res.Changed, c)
		}
	}
	res.Cycles = work
	return res
}

// estimate fills missing bounds of the cycles at idx, all attached to a
// slot over iv and in anchor order.
func estimate(iv interval.Interval, cycles []Cycle, idx []int) {
	for n, i := range idx {
		c := &cycles[i]
		if _, ok := c.KnownEnd(); !ok {
			bound := iv.Upper
			if n+1 < len(idx) {
				bound = leadingEdge(cycles[idx[n+1]])
			}
			if begin, ok := c.KnownBegin(); !bound.IsZero() && (!ok || bound.After(begin)) {
				c.End, c.Status = bound, c.Status|EndEstimated
			}
		}
		if _, ok := c.KnownBegin(); !ok {
			bound := iv.Lower
			if n > 0 {
				bound = trailingEdge(cycles[idx[n-1]])
			}
			if end, ok := c.KnownEnd(); !bound.IsZero() && (!ok || bound.Before(end)) {
				c.Begin, c.Status = bound, c.Status|BeginEstimated
			}
		}
	}
}

func leadingEdge(c Cycle) time.Time {
	if b, ok := c.KnownBegin(); ok {
		return b
	}
	e, _ := c.KnownEnd()
	return e
}

func trailingEdge(c Cycle) time.Time {
	if e, ok := c.KnownEnd(); ok {
		return e
	}
	b, _ := c.KnownBegin()
	return b
}

func count(cycles []Cycle, idx []int) Counters {
	var out Counters
	var total time.Duration
	for _, i := range idx {
		c := cycles[i]
		out.Total++
		if d, ok := c.Duration(); ok {
			total += d
		} else {
			out.Partial++
		}
	}
	if full := out.Full(); full > 0 {
		out.AverageCycleTime = total / time.Duration(full)
	}
	if len(idx) > 0 {
		out.FirstCycleID = cycles[idx[0]].ID
		out.LastCycleID = cycles[idx[len(idx)-1]].ID
	}
	return out
}

// Extend handles a slot whose upper bound moved forward from oldUpper with
// no new cycle in the extension: only the last cycle may carry an estimate
// ending on the old boundary, and it grows to the new one. It reports
// whether last changed; counters are unaffected.
func Extend(s slot.Slot[slot.Operation], oldUpper time.Time, last Cycle) (Cycle, bool) {
	if last.SlotID != s.ID || last.Status&EndEstimated == 0 || !last.End.Equal(oldUpper) {
		return last, false
	}
	if !s.Interval.HasUpper() {
		last.End = time.Time{}
		last.Status &^= EndEstimated
		return last, true
	}
	last.End = s.Interval.Upper
	return last, true
}

// Open reports whether c still waits for its end.
func (c Cycle) Open() bool {
	_, hasBegin := c.KnownBegin()
	_, hasEnd := c.KnownEnd()
	return hasBegin && !hasEnd
}

// Closing returns the latest open cycle beginning before end, the one a
// cycle-end event closes.
func Closing(cycles []Cycle, end time.Time) (Cycle, bool) {
	var best Cycle
	found := false
	for _, c := range cycles {
		if !c.Open() {
			continue
		}
		begin, _ := c.KnownBegin()
		if !begin.Before(end) {
			continue
		}
		if !found || begin.After(best.Begin) {
			best, found = c, true
		}
	}
	if !found {
		return Cycle{}, false
	}
	// A full cycle between the open one and end means it was never closed.
	for _, c := range cycles {
		if e, ok := c.KnownEnd(); ok && c.ID != best.ID && e.After(best.Begin) && !e.After(end) {
			return Cycle{}, false
		}
	}
	return best, true
}

func sortByAnchor(cycles []Cycle) {
	sort.SliceStable(cycles, func(i, j int) bool {
		a, _, aok := cycles[i].Anchor()
		b, _, bok := cycles[j].Anchor()
		switch {
		case aok != bok:
			return aok
		case !a.Equal(b):
			return a.Before(b)
		default:
			return cycles[i].ID < cycles[j].ID
		}
	})
}
