/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slot implements the cut/merge/snap algorithm that keeps one
// machine's timeline partitioned into attributed slots.
package slot

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/google/uuid"
)

var (
	// ErrNoSlotAtTime is returned in snap mode when a requested bound is not
	// covered by any existing slot.
	ErrNoSlotAtTime = errors.New("no slot at requested time")

	// ErrInvalidPartition is returned by Validate.
	ErrInvalidPartition = errors.New("invalid slot partition")
)

// Payload is the attribute set carried by a slot.
type Payload[A any] interface {
	// Equal reports whether two attribute sets must be merged when adjacent.
	Equal(other A) bool
	// IsEmpty reports whether the attribute set means "no slot".
	IsEmpty() bool
}

// Slot is one maximal interval of constant attributes.
type Slot[A Payload[A]] struct {
	ID       string
	Machine  string
	Interval interval.Interval
	Attrs    A
}

// Overlay computes the attributes of a rewritten piece. prev is the zero
// value when the piece was not covered by any slot.
type Overlay[A any] func(prev A, piece interval.Interval) A

// Options tunes Apply.
type Options struct {
	// SnapToSlot widens the range to the boundaries of the slots its bounds
	// fall into.
	SnapToSlot bool
	// Cuts are extra instants where rewritten pieces are cut before the
	// overlay runs (day boundaries, proposal boundaries).
	Cuts []time.Time
	// NewID generates identifiers for new pieces. Defaults to uuid.
	NewID func() string
}

// Result is the outcome of Apply on a window of slots.
type Result[A Payload[A]] struct {
	// Range is the effective range after snapping.
	Range interval.Interval
	// Slots is the new window, time ordered and coalesced.
	Slots []Slot[A]
	// Removed are old slots whose ID no longer exists.
	Removed []Slot[A]
	// Upserted are new or modified slots.
	Upserted []Slot[A]
	// Previous maps upserted IDs to their old version, when any.
	Previous map[string]Slot[A]
}

// Changed reports whether Apply modified anything.
func (r Result[A]) Changed() bool {
	return len(r.Removed) > 0 || len(r.Upserted) > 0
}

// Snap returns the effective range of rng in snap mode. window must be
// sorted.
func Snap[A Payload[A]](window []Slot[A], rng interval.Interval) (interval.Interval, error) {
	var first *Slot[A]
	for i := range window {
		s := &window[i]
		if rng.HasLower() && s.Interval.Contains(rng.Lower) {
			first = s
			break
		}
		if !rng.HasLower() && !s.Interval.HasLower() {
			first = s
			break
		}
	}
	if first == nil {
		return interval.Interval{}, fmt.Errorf("%w: %s", ErrNoSlotAtTime, rng)
	}
	eff := interval.Interval{Lower: first.Interval.Lower, Upper: rng.Upper}
	if !rng.HasUpper() {
		return eff, nil
	}
	for i := range window {
		s := window[i]
		if s.Interval.ContainsEnd(rng.Upper) {
			eff.Upper = s.Interval.Upper
			return eff, nil
		}
	}
	return interval.Interval{}, fmt.Errorf("%w: %s", ErrNoSlotAtTime, rng)
}

// Covered returns the slots of window overlapping rng, in order.
func Covered[A Payload[A]](window []Slot[A], rng interval.Interval) []Slot[A] {
	var out []Slot[A]
	for _, s := range window {
		if s.Interval.Overlaps(rng) {
			out = append(out, s)
		}
	}
	return out
}

// Apply rewrites rng inside window. window holds every slot overlapping or
// adjacent to rng, sorted; slots outside rng are only used for coalescing.
func Apply[A Payload[A]](machine string, window []Slot[A], rng interval.Interval, overlay Overlay[A], opts Options) (Result[A], error) {
	if rng.IsEmpty() {
		return Result[A]{}, interval.ErrEmpty
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	window = Sorted(window)

	eff := rng
	if opts.SnapToSlot {
		var err error
		if eff, err = Snap(window, rng); err != nil {
			return Result[A]{}, err
		}
	}

	pieces := make([]Slot[A], 0, len(window)+2)
	rewrite := func(id string, prev A, iv interval.Interval) {
		first := true
		for _, part := range cut(iv, opts.Cuts) {
			pid := id
			if !first || pid == "" {
				pid = newID()
			}
			first = false
			pieces = append(pieces, Slot[A]{ID: pid, Machine: machine, Interval: part, Attrs: overlay(prev, part)})
		}
	}

	var zero A
	cursor, done := eff.Lower, false
	for _, s := range window {
		mid, ok := s.Interval.Intersect(eff)
		if !ok {
			pieces = append(pieces, s)
			continue
		}
		if interval.CompareLower(cursor, mid.Lower) < 0 {
			rewrite("", zero, interval.Interval{Lower: cursor, Upper: mid.Lower})
		}
		midID := s.ID
		if interval.CompareLower(s.Interval.Lower, eff.Lower) < 0 {
			pieces = append(pieces, Slot[A]{ID: s.ID, Machine: s.Machine, Interval: interval.Interval{Lower: s.Interval.Lower, Upper: eff.Lower}, Attrs: s.Attrs})
			midID = ""
		}
		rewrite(midID, s.Attrs, mid)
		if interval.CompareUpper(eff.Upper, s.Interval.Upper) < 0 {
			pieces = append(pieces, Slot[A]{ID: newID(), Machine: s.Machine, Interval: interval.Interval{Lower: eff.Upper, Upper: s.Interval.Upper}, Attrs: s.Attrs})
		}
		cursor = mid.Upper
		done = !mid.HasUpper()
	}
	if !done && interval.LowerBeforeUpper(cursor, eff.Upper) {
		rewrite("", zero, interval.Interval{Lower: cursor, Upper: eff.Upper})
	}

	old := make(map[string]bool, len(window))
	for _, s := range window {
		old[s.ID] = true
	}
	merged := coalesce(pieces, func(id string) bool { return old[id] })
	return diff(window, merged, eff), nil
}

// cut splits iv at every instant of cuts strictly inside it.
func cut(iv interval.Interval, cuts []time.Time) []interval.Interval {
	if len(cuts) == 0 {
		return []interval.Interval{iv}
	}
	points := make([]time.Time, 0, len(cuts))
	for _, c := range cuts {
		if iv.StrictlyContains(c) {
			points = append(points, c)
		}
	}
	if len(points) == 0 {
		return []interval.Interval{iv}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })
	out := make([]interval.Interval, 0, len(points)+1)
	lower := iv.Lower
	for _, p := range points {
		if !lower.IsZero() && !lower.Before(p) {
			continue
		}
		out = append(out, interval.Interval{Lower: lower, Upper: p})
		lower = p
	}
	return append(out, interval.Interval{Lower: lower, Upper: iv.Upper})
}

// Coalesce drops empty pieces, orders the rest and merges adjacent pieces
// with equal attributes. A merged slot keeps the first ID in time order.
func Coalesce[A Payload[A]](pieces []Slot[A]) []Slot[A] {
	return coalesce(pieces, nil)
}

// coalesce is Coalesce where a merged slot prefers an ID for which keep
// returns true, so persisted slots survive merges with fresh pieces.
func coalesce[A Payload[A]](pieces []Slot[A], keep func(string) bool) []Slot[A] {
	sorted := make([]Slot[A], 0, len(pieces))
	for _, p := range pieces {
		if p.Attrs.IsEmpty() || p.Interval.IsEmpty() {
			continue
		}
		sorted = append(sorted, p)
	}
	sorted = Sorted(sorted)

	out := sorted[:0:0]
	for _, p := range sorted {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Interval.HasUpper() && p.Interval.HasLower() && last.Interval.Upper.Equal(p.Interval.Lower) && last.Attrs.Equal(p.Attrs) {
				last.Interval.Upper = p.Interval.Upper
				if keep != nil && !keep(last.ID) && keep(p.ID) {
					last.ID = p.ID
				}
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// Sorted returns a copy of slots ordered by lower bound.
func Sorted[A Payload[A]](slots []Slot[A]) []Slot[A] {
	out := append([]Slot[A](nil), slots...)
	sort.SliceStable(out, func(i, j int) bool {
		return interval.CompareLower(out[i].Interval.Lower, out[j].Interval.Lower) < 0
	})
	return out
}

func diff[A Payload[A]](before, after []Slot[A], eff interval.Interval) Result[A] {
	res := Result[A]{Range: eff, Slots: after, Previous: make(map[string]Slot[A])}
	old := make(map[string]Slot[A], len(before))
	for _, s := range before {
		old[s.ID] = s
	}
	kept := make(map[string]bool, len(after))
	for _, s := range after {
		kept[s.ID] = true
		prev, ok := old[s.ID]
		if ok && prev.Interval.Equal(s.Interval) && prev.Attrs.Equal(s.Attrs) {
			continue
		}
		if ok {
			res.Previous[s.ID] = prev
		}
		res.Upserted = append(res.Upserted, s)
	}
	for _, s := range before {
		if !kept[s.ID] {
			res.Removed = append(res.Removed, s)
		}
	}
	return res
}

// Validate checks the partition invariant: ordered, disjoint, non-empty and
// no two adjacent slots with equal attributes.
func Validate[A Payload[A]](slots []Slot[A]) error {
	for i, s := range slots {
		if s.Interval.IsEmpty() {
			return fmt.Errorf("%w: slot %d has empty interval %s", ErrInvalidPartition, i, s.Interval)
		}
		if s.Attrs.IsEmpty() {
			return fmt.Errorf("%w: slot %d has empty attributes", ErrInvalidPartition, i)
		}
		if i == 0 {
			continue
		}
		prev := slots[i-1]
		if !prev.Interval.HasUpper() || !s.Interval.HasLower() || s.Interval.Lower.Before(prev.Interval.Upper) {
			return fmt.Errorf("%w: slots %d and %d overlap", ErrInvalidPartition, i-1, i)
		}
		if prev.Interval.Upper.Equal(s.Interval.Lower) && prev.Attrs.Equal(s.Attrs) {
			return fmt.Errorf("%w: slots %d and %d should be merged", ErrInvalidPartition, i-1, i)
		}
	}
	return nil
}

// At returns the slot of a sorted window containing t.
func At[A Payload[A]](slots []Slot[A], t time.Time) (Slot[A], bool) {
	for _, s := range slots {
		if s.Interval.Contains(t) {
			return s, true
		}
	}
	return Slot[A]{}, false
}
