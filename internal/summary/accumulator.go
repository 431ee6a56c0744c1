/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package summary maintains per-day aggregates incrementally from slot and
// cycle changes.
package summary

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Kind names a summary family.
type Kind string

const (
	KindActivity              Kind = "activity"
	KindReason                Kind = "reason"
	KindCycleCount            Kind = "cycle_count"
	KindIntermediateWorkPiece Kind = "intermediate_work_piece"
)

// Key identifies one summary row. Fields a kind does not use stay empty.
type Key struct {
	Kind    Kind
	Machine string
	// Day is the production day as a UTC midnight date.
	Day              time.Time
	Shift            string
	MachineMode      string
	ObservationState string
	Reason           string
	Operation        string
	Component        string
	WorkOrder        string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Kind, k.Machine, k.Day.Format("2006-01-02"), k.Shift)
}

// Value is the additive payload of a summary.
type Value struct {
	Time    time.Duration
	Count   int64
	Full    int64
	Partial int64
}

// Add returns v+o.
func (v Value) Add(o Value) Value {
	return Value{Time: v.Time + o.Time, Count: v.Count + o.Count, Full: v.Full + o.Full, Partial: v.Partial + o.Partial}
}

// Scale returns v multiplied by n.
func (v Value) Scale(n int64) Value {
	return Value{Time: v.Time * time.Duration(n), Count: v.Count * n, Full: v.Full * n, Partial: v.Partial * n}
}

// IsZero reports whether v adds nothing.
func (v Value) IsZero() bool { return v == Value{} }

// Store persists summary deltas, creating rows on first contribution.
type Store interface {
	AddSummary(ctx context.Context, key Key, delta Value) error
}

// Accumulator buffers signed deltas for one processing batch. It is not
// safe for concurrent use; each worker owns its own.
type Accumulator struct {
	entries map[Key]Value
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{entries: make(map[Key]Value)}
}

// Add buffers delta for key.
func (a *Accumulator) Add(key Key, delta Value) {
	if delta.IsZero() {
		return
	}
	sum := a.entries[key].Add(delta)
	if sum.IsZero() {
		delete(a.entries, key)
		return
	}
	a.entries[key] = sum
}

// Merge adds every entry of o.
func (a *Accumulator) Merge(o *Accumulator) {
	for k, v := range o.entries {
		a.Add(k, v)
	}
}

// Len returns the number of non-zero buffered keys.
func (a *Accumulator) Len() int { return len(a.entries) }

// Get returns the buffered delta for key.
func (a *Accumulator) Get(key Key) Value { return a.entries[key] }

// Entries returns the buffered deltas in a stable order.
func (a *Accumulator) Entries() []Entry {
	out := make([]Entry, 0, len(a.entries))
	for k, v := range a.entries {
		out = append(out, Entry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Key, out[j].Key) })
	return out
}

// Entry is a buffered delta.
type Entry struct {
	Key   Key
	Value Value
}

// Flush writes every buffered delta to store and empties the buffer. On
// error the buffer is kept so that the caller's rollback and retry see the
// same deltas.
func (a *Accumulator) Flush(ctx context.Context, store Store) (int, error) {
	entries := a.Entries()
	for _, e := range entries {
		if err := store.AddSummary(ctx, e.Key, e.Value); err != nil {
			return 0, fmt.Errorf("flush summary %s: %w", e.Key, err)
		}
	}
	a.Empty()
	return len(entries), nil
}

// Empty drops every buffered delta.
func (a *Accumulator) Empty() {
	clear(a.entries)
}

func less(a, b Key) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Machine != b.Machine {
		return a.Machine < b.Machine
	}
	if !a.Day.Equal(b.Day) {
		return a.Day.Before(b.Day)
	}
	for _, pair := range [][2]string{
		{a.Shift, b.Shift},
		{a.MachineMode, b.MachineMode},
		{a.ObservationState, b.ObservationState},
		{a.Reason, b.Reason},
		{a.Operation, b.Operation},
		{a.Component, b.Component},
		{a.WorkOrder, b.WorkOrder},
	} {
		if pair[0] != pair[1] {
			return pair[0] < pair[1]
		}
	}
	return false
}
