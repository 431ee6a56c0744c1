/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reason

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/slot"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

var base = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

func span(lower, upper int) interval.Interval { return interval.Must(at(lower), at(upper)) }

func newArbiter(t *testing.T) *Arbiter {
	t.Helper()
	reg, err := NewRegistry(
		StaticExtension{ExtensionName: "toolwear", Scores: map[string]float64{"tool_change": 50}, ResetOnModeChange: true},
		StaticExtension{ExtensionName: "jams", Scores: map[string]float64{"jam": 50}},
		StaticExtension{ExtensionName: "cleaning", Scores: map[string]float64{"cleaning": 50}, Supersedes: true},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return NewArbiter(DefaultTable(), reg, zerolog.Nop())
}

func manual(id, reason string, score float64, logical int) Proposal {
	return Proposal{ID: id, Kind: ProposalManual, Reason: reason, Score: score, LogicalTime: at(logical)}
}

func auto(id, ext, reason string, logical int) Proposal {
	return Proposal{ID: id, Kind: ProposalAuto, Extension: ext, Reason: reason, LogicalTime: at(logical)}
}

func TestResolve(t *testing.T) {
	a := newArbiter(t)
	active := Base{MachineMode: "active"}

	unsafe := auto("p2", "jams", "jam", 2)
	unsafe.Unsafe = true
	lowAuto := auto("p1", "toolwear", "tool_change", 1)
	lowAuto.Score = 5

	tests := []struct {
		name      string
		base      Base
		claims    []Proposal
		reason    string
		source    slot.ReasonSource
		number    int
		ambiguous bool
	}{
		{name: "default", base: active, reason: "production", source: slot.SourceDefault},
		{name: "state specific default", base: Base{MachineMode: "active", ObservationState: "setup"}, reason: "setup", source: slot.SourceDefault},
		{name: "manual over default", base: active, claims: []Proposal{manual("m", "maintenance", 100, 1)}, reason: "maintenance", source: slot.SourceManual},
		{name: "newest manual", base: active, claims: []Proposal{manual("m1", "maintenance", 100, 1), manual("m2", "cleanup", 100, 2)}, reason: "cleanup", source: slot.SourceManual},
		{name: "auto over default", base: active, claims: []Proposal{auto("p1", "toolwear", "tool_change", 1)}, reason: "tool_change", source: slot.SourceAuto, number: 1},
		{name: "higher auto over manual", base: active, claims: []Proposal{manual("m", "maintenance", 40, 1), auto("p1", "toolwear", "tool_change", 1)}, reason: "tool_change", source: slot.SourceAuto, number: 1},
		{name: "manual on equal score", base: active, claims: []Proposal{manual("m", "maintenance", 50, 1), auto("p1", "toolwear", "tool_change", 1)}, reason: "maintenance", source: slot.SourceManual | slot.SourceUnsafeManual, number: 1},
		{name: "resident auto protected", base: active, claims: []Proposal{auto("p2", "jams", "jam", 2), auto("p1", "toolwear", "tool_change", 1)}, reason: "tool_change", source: slot.SourceAuto | slot.SourceUnsafeAutoReasonNumber, number: 2, ambiguous: true},
		{name: "unsafe challenger replaces resident", base: active, claims: []Proposal{auto("p1", "toolwear", "tool_change", 1), unsafe}, reason: "jam", source: slot.SourceAuto, number: 2},
		{name: "extension reset applies", base: active, claims: []Proposal{auto("p1", "toolwear", "tool_change", 1), auto("p3", "cleaning", "cleaning", 3)}, reason: "cleaning", source: slot.SourceAuto, number: 2},
		{name: "default with higher score wins", base: Base{MachineMode: "off"}, claims: []Proposal{auto("p1", "toolwear", "tool_change", 1)}, reason: "machine_off", source: slot.SourceDefault, number: 1},
		{name: "default is auto yields to any auto", base: Base{MachineMode: "stopped"}, claims: []Proposal{lowAuto}, reason: "tool_change", source: slot.SourceAuto, number: 1},
		{name: "default is auto flagged", base: Base{MachineMode: "stopped"}, reason: "short_stop", source: slot.SourceDefault | slot.SourceDefaultIsAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Resolve(tt.base, tt.claims)
			if errors.Is(err, ErrAmbiguousArbitration) != tt.ambiguous {
				t.Errorf("Resolve() error = %v, ambiguous %v", err, tt.ambiguous)
			}
			if got.Reason != tt.reason {
				t.Errorf("Resolve() reason = %q, want %q", got.Reason, tt.reason)
			}
			if got.Source != tt.source {
				t.Errorf("Resolve() source = %v, want %v", got.Source, tt.source)
			}
			if got.AutoReasonNumber != tt.number {
				t.Errorf("Resolve() auto reason number = %d, want %d", got.AutoReasonNumber, tt.number)
			}
		})
	}
}

func TestResolveOverwriteRequired(t *testing.T) {
	a := newArbiter(t)
	got, err := a.Resolve(Base{MachineMode: "inactive"}, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !got.OverwriteRequired || got.Running {
		t.Errorf("Resolve() = %+v, want overwrite required and not running", got)
	}
}

type reasonRow struct {
	Lower, Upper int
	Reason       string
}

func reasonRows(slots []slot.Slot[slot.Reason]) []reasonRow {
	out := make([]reasonRow, 0, len(slots))
	for _, s := range slots {
		out = append(out, reasonRow{int(s.Interval.Lower.Sub(base) / time.Hour), int(s.Interval.Upper.Sub(base) / time.Hour), s.Attrs.Reason})
	}
	return out
}

func ids() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id%d", n)
	}
}

func TestManualResetRestoresPreviousReason(t *testing.T) {
	type reset struct{ lower, upper int }
	tests := []struct {
		name   string
		resets []reset
	}{
		{"same range", []reset{{2, 4}}},
		{"covering range", []reset{{1, 5}}},
		{"two adjacent halves", []reset{{2, 3}, {3, 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newArbiter(t)
			newID := ids()
			seed := []slot.Slot[slot.Reason]{{ID: "r0", Machine: "m1", Interval: span(0, 10), Attrs: slot.Reason{MachineMode: "active"}}}
			tool := auto("p1", "toolwear", "tool_change", 0)
			tool.Range = span(6, 8)
			proposals := []Proposal{tool}

			res, _, err := a.Recompute("m1", seed, span(0, 10), proposals, newID)
			if err != nil {
				t.Fatalf("Recompute() error = %v", err)
			}
			before := reasonRows(res.Slots)
			slots := res.Slots

			set := manual("m1", "maintenance", 100, 1)
			set.Range = span(2, 4)
			ch := TrimOlderManual(proposals, set.Range, set.LogicalTime, newID)
			ch.Upserted = append(ch.Upserted, set)
			proposals = Apply(proposals, ch)
			res, _, err = a.Recompute("m1", slots, set.Range, proposals, newID)
			if err != nil {
				t.Fatalf("Recompute() error = %v", err)
			}
			slots = res.Slots
			if got := reasonRows(slots); len(got) != 5 {
				t.Fatalf("after set slots = %v, want 5 slots", got)
			}

			for _, r := range tt.resets {
				rng := span(r.lower, r.upper)
				proposals = Apply(proposals, TrimManual(proposals, rng, newID))
				res, _, err = a.Recompute("m1", slots, rng, proposals, newID)
				if err != nil {
					t.Fatalf("Recompute() error = %v", err)
				}
				slots = res.Slots
			}

			if diff := cmp.Diff(before, reasonRows(slots)); diff != "" {
				t.Errorf("reset did not restore reasons (-want +got):\n%s", diff)
			}
			if err := slot.Validate(slots); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestSetManualTrimsOlderManual(t *testing.T) {
	old := manual("m1", "maintenance", 100, 1)
	old.Range = span(0, 10)
	ch := TrimOlderManual([]Proposal{old}, span(3, 5), at(2), ids())
	got := Apply([]Proposal{old}, ch)

	want := []interval.Interval{span(0, 3), span(5, 10)}
	if len(got) != len(want) {
		t.Fatalf("Apply() = %d proposals, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Range.Equal(want[i]) {
			t.Errorf("proposal %d range = %v, want %v", i, got[i].Range, want[i])
		}
	}
	if got[0].ID != "m1" {
		t.Errorf("first part ID = %q, want m1", got[0].ID)
	}

	newer := TrimOlderManual([]Proposal{old}, span(3, 5), at(0), ids())
	if !newer.Empty() {
		t.Errorf("TrimOlderManual() trimmed a newer proposal: %+v", newer)
	}
}

func TestResetOnContextChange(t *testing.T) {
	a := newArbiter(t)
	window := []slot.Slot[slot.Reason]{{ID: "r0", Machine: "m1", Interval: span(0, 10), Attrs: slot.Reason{MachineMode: "active"}}}
	tool := auto("p1", "toolwear", "tool_change", 0)
	tool.Range = span(2, 8)
	jam := auto("p2", "jams", "jam", 0)
	jam.Range = span(2, 8)

	toStopped := func(prev Context) Context { return Context{MachineMode: "stopped", ObservationState: prev.ObservationState} }
	ch := a.ResetOnContextChange(window, span(5, 10), toStopped, []Proposal{tool, jam}, ids())

	if len(ch.Deleted) != 0 {
		t.Errorf("Deleted = %+v, want none", ch.Deleted)
	}
	if len(ch.Upserted) != 1 || ch.Upserted[0].ID != "p1" || !ch.Upserted[0].Range.Equal(span(2, 5)) {
		t.Errorf("Upserted = %+v, want p1 trimmed to [2,5)", ch.Upserted)
	}

	same := func(prev Context) Context { return prev }
	if ch := a.ResetOnContextChange(window, span(5, 10), same, []Proposal{tool}, ids()); !ch.Empty() {
		t.Errorf("unchanged context produced %+v", ch)
	}
}

func TestRebaseCreatesReasonSlots(t *testing.T) {
	a := newArbiter(t)
	setMode := func(prev Base, _ interval.Interval) Base {
		prev.MachineMode = "inactive"
		return prev
	}
	res, _, err := a.Rebase("m1", nil, span(1, 3), setMode, nil, nil, ids())
	if err != nil {
		t.Fatalf("Rebase() error = %v", err)
	}
	want := []reasonRow{{1, 3, "undefined"}}
	if diff := cmp.Diff(want, reasonRows(res.Slots)); diff != "" {
		t.Errorf("Rebase() mismatch (-want +got):\n%s", diff)
	}
}
