/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/slot"
)

// seedOperations stores four adjacent hourly slots op-a..op-d from 08:00.
func seedOperations(t *testing.T, h *harness) {
	t.Helper()
	var slots []slot.Slot[slot.Operation]
	for i, op := range []string{"op-a", "op-b", "op-c", "op-d"} {
		slots = append(slots, slot.Slot[slot.Operation]{
			ID:       "seed-" + op,
			Machine:  testMachine,
			Interval: interval.Interval{Lower: at(8+i, 0), Upper: at(9+i, 0)},
			Attrs:    slot.Operation{Operation: op},
		})
	}
	if err := h.repo.OperationSlots().Persist(h.ctx, slots...); err != nil {
		t.Fatalf("seed operation slots: %v", err)
	}
}

func workOrder(from, to time.Time, wo string, snap bool) models.Modification {
	return models.Modification{
		Kind:            models.KindWorkOrderMachineAssociation,
		BeginAt:         tp(from),
		EndAt:           tp(to),
		Payload:         models.ModificationPayload{WorkOrder: ptr(wo)},
		AssociateToSlot: snap,
	}
}

func TestAssociateOperationIsIdempotent(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	h.associateOperation(at(8, 0), at(10, 0), "op-1", false)
	h.pass()

	first := h.operations()
	want := []span{{at(8, 0), at(10, 0), "op-1/"}}
	if diff := cmp.Diff(want, operationSpans(first)); diff != "" {
		t.Fatalf("operation slots mismatch (-want +got):\n%s", diff)
	}

	h.associateOperation(at(8, 0), at(10, 0), "op-1", false)
	h.associateOperation(at(8, 30), at(9, 0), "op-1", false)
	h.pass()

	second := h.operations()
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Errorf("slots after repeat = %v, want the single slot %s unchanged", operationSpans(second), first[0].ID)
	}
}

func TestAssociateSplitsAndMerges(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	h.associateOperation(at(8, 0), at(12, 0), "op-1", false)
	h.associateOperation(at(9, 0), at(10, 0), "op-2", false)
	h.pass()

	want := []span{
		{at(8, 0), at(9, 0), "op-1/"},
		{at(9, 0), at(10, 0), "op-2/"},
		{at(10, 0), at(12, 0), "op-1/"},
	}
	if diff := cmp.Diff(want, operationSpans(h.operations())); diff != "" {
		t.Fatalf("operation slots mismatch (-want +got):\n%s", diff)
	}

	h.associateOperation(at(9, 0), at(10, 0), "op-1", false)
	h.pass()
	want = []span{{at(8, 0), at(12, 0), "op-1/"}}
	if diff := cmp.Diff(want, operationSpans(h.operations())); diff != "" {
		t.Errorf("operation slots after revert mismatch (-want +got):\n%s", diff)
	}
	if err := slot.Validate(h.operations()); err != nil {
		t.Errorf("partition invalid: %v", err)
	}
}

func TestAssociateSnapDecomposes(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	seedOperations(t, h)

	parent := h.submit(workOrder(at(8, 30), at(11, 30), "wo-1", true))
	h.pass()

	want := []span{
		{at(8, 0), at(9, 0), "op-a/wo-1"},
		{at(9, 0), at(10, 0), "op-b/wo-1"},
		{at(10, 0), at(11, 0), "op-c/wo-1"},
		{at(11, 0), at(12, 0), "op-d/wo-1"},
	}
	if diff := cmp.Diff(want, operationSpans(h.operations())); diff != "" {
		t.Errorf("operation slots mismatch (-want +got):\n%s", diff)
	}

	children, err := h.repo.Modifications().Children(h.ctx, parent.ID)
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 4 {
		t.Fatalf("got %d sub-modifications, want 4", len(children))
	}
	for i, c := range children {
		if c.Position != i || c.Status != models.StatusDone {
			t.Errorf("child %d = position %d status %s", i, c.Position, c.Status)
		}
		if !c.LogicalTime.Equal(parent.LogicalTime) {
			t.Errorf("child %d logical time = %v, want %v", i, c.LogicalTime, parent.LogicalTime)
		}
	}
	if got := h.modification(parent.ID); got.Status != models.StatusDone {
		t.Errorf("parent status = %s, want %s", got.Status, models.StatusDone)
	}
}

func TestAssociateSnapSkipsGaps(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	var seeded []slot.Slot[slot.Operation]
	for _, s := range []struct {
		op       string
		from, to int
	}{{"op-a", 8, 9}, {"op-c", 10, 11}} {
		seeded = append(seeded, slot.Slot[slot.Operation]{
			ID:       "seed-" + s.op,
			Machine:  testMachine,
			Interval: interval.Interval{Lower: at(s.from, 0), Upper: at(s.to, 0)},
			Attrs:    slot.Operation{Operation: s.op},
		})
	}
	if err := h.repo.OperationSlots().Persist(h.ctx, seeded...); err != nil {
		t.Fatalf("seed operation slots: %v", err)
	}

	parent := h.submit(workOrder(at(8, 30), at(10, 30), "wo-1", true))
	h.pass()

	want := []span{
		{at(8, 0), at(9, 0), "op-a/wo-1"},
		{at(10, 0), at(11, 0), "op-c/wo-1"},
	}
	if diff := cmp.Diff(want, operationSpans(h.operations())); diff != "" {
		t.Errorf("operation slots mismatch (-want +got):\n%s", diff)
	}
	children, err := h.repo.Modifications().Children(h.ctx, parent.ID)
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("got %d sub-modifications, want 2", len(children))
	}
	for i, c := range children {
		if c.Status != models.StatusDone {
			t.Errorf("child %d status = %s, want %s", i, c.Status, models.StatusDone)
		}
	}
	if !children[1].BeginAt.Equal(at(10, 0)) {
		t.Errorf("second child begins %v, want %v", children[1].BeginAt, at(10, 0))
	}
}

func TestAssociateWithoutSnapCutsSlots(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	seedOperations(t, h)

	parent := h.submit(workOrder(at(8, 30), at(11, 30), "wo-1", false))
	h.pass()

	want := []span{
		{at(8, 0), at(8, 30), "op-a/"},
		{at(8, 30), at(9, 0), "op-a/wo-1"},
		{at(9, 0), at(10, 0), "op-b/wo-1"},
		{at(10, 0), at(11, 0), "op-c/wo-1"},
		{at(11, 0), at(11, 30), "op-d/wo-1"},
		{at(11, 30), at(12, 0), "op-d/"},
	}
	if diff := cmp.Diff(want, operationSpans(h.operations())); diff != "" {
		t.Errorf("operation slots mismatch (-want +got):\n%s", diff)
	}
	children, err := h.repo.Modifications().Children(h.ctx, parent.ID)
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 0 {
		t.Errorf("got %d sub-modifications, want none", len(children))
	}
}

func TestSnapWithoutSlotFails(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	h.associateOperation(at(8, 0), at(9, 0), "op-1", false)
	h.pass()
	before := h.operations()

	m := h.associateOperation(at(10, 0), at(11, 0), "op-2", true)
	stats := h.pass()
	if stats.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", stats.Failed)
	}

	got := h.modification(m.ID)
	if got.Status != models.StatusError || got.Attempts != 1 {
		t.Errorf("modification = %s after %d attempts, want error after 1", got.Status, got.Attempts)
	}
	logs, err := h.repo.Logs().List(h.ctx, testMachine)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Level != LevelError || logs[0].ModificationID != m.ID {
		t.Errorf("logs = %+v, want one error entry for %s", logs, m.ID)
	}
	if diff := cmp.Diff(operationSpans(before), operationSpans(h.operations())); diff != "" {
		t.Errorf("partition changed by failed modification (-want +got):\n%s", diff)
	}
}

func TestAssociateRequiresItsAttribute(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	m := h.submit(models.Modification{
		Kind:    models.KindComponentMachineAssociation,
		BeginAt: tp(at(8, 0)),
		EndAt:   tp(at(9, 0)),
		Payload: models.ModificationPayload{Operation: ptr("op-1")},
	})
	h.pass()
	if got := h.modification(m.ID); got.Status != models.StatusError {
		t.Errorf("Status = %s, want %s", got.Status, models.StatusError)
	}
}

func TestAssociateDerivesComponentFromCatalog(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	if err := h.repo.Catalog().LinkOperation(h.ctx, "op-1", "part-9"); err != nil {
		t.Fatalf("LinkOperation() error = %v", err)
	}
	if err := h.repo.Catalog().LinkWorkOrder(h.ctx, "wo-7", "part-9"); err != nil {
		t.Fatalf("LinkWorkOrder() error = %v", err)
	}

	h.associateOperation(at(8, 0), at(9, 0), "op-1", false)
	h.pass()

	slots := h.operations()
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1", len(slots))
	}
	got := slots[0].Attrs
	if got.Component != "part-9" || !got.AutoComponent {
		t.Errorf("component = %q auto=%v, want derived part-9", got.Component, got.AutoComponent)
	}
	if got.WorkOrder != "wo-7" || !got.AutoWorkOrder {
		t.Errorf("work order = %q auto=%v, want derived wo-7", got.WorkOrder, got.AutoWorkOrder)
	}
}

func identitySpans(slots []slot.Slot[slot.Operation]) []span {
	out := make([]span, 0, len(slots))
	for _, s := range slots {
		a := s.Attrs
		out = append(out, span{s.Interval.Lower, s.Interval.Upper, a.Operation + "/" + a.Component + "/" + a.WorkOrder})
	}
	return out
}

func TestAssociateOperationSequence(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	catalog := h.repo.Catalog()
	for _, link := range [][2]string{{"op1", "comp1"}, {"op2", "comp1"}, {"op3", "comp3"}} {
		if err := catalog.LinkOperation(h.ctx, link[0], link[1]); err != nil {
			t.Fatalf("LinkOperation() error = %v", err)
		}
	}
	for _, link := range [][2]string{{"wo1", "comp1"}, {"wo2", "comp2"}} {
		if err := catalog.LinkWorkOrder(h.ctx, link[0], link[1]); err != nil {
			t.Fatalf("LinkWorkOrder() error = %v", err)
		}
	}

	full := slot.Operation{Operation: "op1", Component: "comp1", WorkOrder: "wo1"}
	seeded := []slot.Slot[slot.Operation]{
		{ID: "seed-1", Machine: testMachine, Interval: interval.Interval{Lower: at(1, 0), Upper: at(2, 0)}, Attrs: full},
		{ID: "seed-2", Machine: testMachine, Interval: interval.Interval{Lower: at(2, 0), Upper: at(3, 0)}, Attrs: slot.Operation{Operation: "op2", Component: "comp1", WorkOrder: "wo1"}},
		{ID: "seed-3", Machine: testMachine, Interval: interval.Interval{Lower: at(3, 0), Upper: at(5, 0)}, Attrs: slot.Operation{WorkOrder: "wo2"}},
		{ID: "seed-4", Machine: testMachine, Interval: interval.Interval{Lower: at(5, 0)}, Attrs: full},
	}
	if err := h.repo.OperationSlots().Persist(h.ctx, seeded...); err != nil {
		t.Fatalf("seed operation slots: %v", err)
	}
	h.mode(at(1, 0), at(6, 0), "active")
	h.mode(at(6, 0), at(10, 0), "stopped")
	h.mode(at(10, 0), at(12, 0), "active")
	h.pass()

	open := func(from int, op string) {
		h.submit(models.Modification{
			Kind:    models.KindOperationMachineAssociation,
			BeginAt: tp(at(from, 0)),
			Payload: models.ModificationPayload{Operation: ptr(op)},
		})
	}
	steps := []struct {
		name  string
		apply func()
		want  []span
	}{
		{
			name:  "op1 from 2",
			apply: func() { open(2, "op1") },
			want:  []span{{at(1, 0), time.Time{}, "op1/comp1/wo1"}},
		},
		{
			name:  "op3 over [3,8)",
			apply: func() { h.associateOperation(at(3, 0), at(8, 0), "op3", false) },
			want: []span{
				{at(1, 0), at(3, 0), "op1/comp1/wo1"},
				{at(3, 0), at(8, 0), "op3/comp3/"},
				{at(8, 0), time.Time{}, "op1/comp1/wo1"},
			},
		},
		{
			name:  "op1 over [5,6)",
			apply: func() { h.associateOperation(at(5, 0), at(6, 0), "op1", false) },
			want: []span{
				{at(1, 0), at(3, 0), "op1/comp1/wo1"},
				{at(3, 0), at(5, 0), "op3/comp3/"},
				{at(5, 0), at(6, 0), "op1/comp1/wo1"},
				{at(6, 0), at(8, 0), "op3/comp3/"},
				{at(8, 0), time.Time{}, "op1/comp1/wo1"},
			},
		},
		{
			name:  "op2 from 4",
			apply: func() { open(4, "op2") },
			want: []span{
				{at(1, 0), at(3, 0), "op1/comp1/wo1"},
				{at(3, 0), at(4, 0), "op3/comp3/"},
				{at(4, 0), time.Time{}, "op2/comp1/wo1"},
			},
		},
	}
	for _, step := range steps {
		step.apply()
		h.pass()
		slots := h.operations()
		if diff := cmp.Diff(step.want, identitySpans(slots)); diff != "" {
			t.Fatalf("after %s, operation slots mismatch (-want +got):\n%s", step.name, diff)
		}
		if err := slot.Validate(slots); err != nil {
			t.Fatalf("after %s, partition invalid: %v", step.name, err)
		}
	}

	slots := h.operations()
	if slots[0].ID != "seed-1" {
		t.Errorf("first slot ID = %s, want seed-1 kept through merges", slots[0].ID)
	}
	wantRun := []time.Duration{2 * time.Hour, time.Hour, 4 * time.Hour}
	for i, s := range slots {
		if s.Attrs.RunTime != wantRun[i] {
			t.Errorf("slot %s RunTime = %v, want %v", s.Interval, s.Attrs.RunTime, wantRun[i])
		}
	}
	if got := slots[1].Attrs; !got.AutoComponent || got.AutoWorkOrder {
		t.Errorf("op3 slot auto component %v work order %v, want derived component only", got.AutoComponent, got.AutoWorkOrder)
	}
}

func TestSplitByDay(t *testing.T) {
	opts := DefaultOptions()
	opts.SplitByDay = true
	h := newHarness(t, opts, nil)

	h.associateOperation(at(20, 0), at(30, 0), "op-1", false)
	h.pass()

	slots := h.operations()
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	next := testDay.AddDate(0, 0, 1)
	if !slots[0].Interval.Upper.Equal(next) {
		t.Errorf("first slot ends %v, want %v", slots[0].Interval.Upper, next)
	}
	if !slots[0].Attrs.Day.Equal(testDay) || !slots[1].Attrs.Day.Equal(next) {
		t.Errorf("days = %v, %v, want %v, %v", slots[0].Attrs.Day, slots[1].Attrs.Day, testDay, next)
	}
}

func TestSplitByDayOpenTail(t *testing.T) {
	opts := DefaultOptions()
	opts.SplitByDay = true
	h := newHarness(t, opts, nil)

	h.submit(models.Modification{
		Kind:    models.KindOperationMachineAssociation,
		BeginAt: tp(at(8, 0)),
		Payload: models.ModificationPayload{Operation: ptr("op-1")},
	})
	h.pass()

	first := h.operations()
	want := []span{
		{at(8, 0), at(24, 0), "op-1/"},
		{at(24, 0), time.Time{}, "op-1/"},
	}
	if diff := cmp.Diff(want, operationSpans(first)); diff != "" {
		t.Fatalf("operation slots mismatch (-want +got):\n%s", diff)
	}

	// Three days later, inside the open tail, with the same operation.
	h.associateOperation(at(82, 0), at(84, 0), "op-1", false)
	h.pass()
	if diff := cmp.Diff(first, h.operations()); diff != "" {
		t.Errorf("repeated association changed the slots (-want +got):\n%s", diff)
	}

	h.associateOperation(at(82, 0), at(84, 0), "op-2", false)
	h.pass()
	slots := h.operations()
	want = []span{
		{at(8, 0), at(24, 0), "op-1/"},
		{at(24, 0), at(48, 0), "op-1/"},
		{at(48, 0), at(72, 0), "op-1/"},
		{at(72, 0), at(82, 0), "op-1/"},
		{at(82, 0), at(84, 0), "op-2/"},
		{at(84, 0), at(96, 0), "op-1/"},
		{at(96, 0), time.Time{}, "op-1/"},
	}
	if diff := cmp.Diff(want, operationSpans(slots)); diff != "" {
		t.Fatalf("operation slots after change mismatch (-want +got):\n%s", diff)
	}
	for _, s := range slots {
		if day := opts.Calendar.DayOf(s.Interval.Lower); !s.Attrs.Day.Equal(day) {
			t.Errorf("slot %s day = %v, want %v", s.Interval, s.Attrs.Day, day)
		}
	}
	if err := slot.Validate(slots); err != nil {
		t.Errorf("partition invalid: %v", err)
	}

	again := h.operations()
	h.associateOperation(at(82, 0), at(84, 0), "op-2", false)
	h.associateOperation(at(50, 0), at(60, 0), "op-1", false)
	h.pass()
	if diff := cmp.Diff(again, h.operations()); diff != "" {
		t.Errorf("repeated associations changed the slots (-want +got):\n%s", diff)
	}
}

func TestCycleCounters(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	h.associateOperation(at(8, 0), at(12, 0), "op-1", false)
	h.submit(models.Modification{Kind: models.KindCycleBegin, BeginAt: tp(at(9, 0))})
	h.pass()

	slots := h.operations()
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1", len(slots))
	}
	if got := slots[0].Attrs; got.TotalCycles != 1 || got.PartialCycles != 1 {
		t.Errorf("after begin: total %d partial %d, want 1 1", got.TotalCycles, got.PartialCycles)
	}
	open, err := h.repo.Cycles().Get(h.ctx, slots[0].Attrs.LastCycleID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !open.Open() || !open.End.Equal(at(12, 0)) {
		t.Errorf("open cycle = %+v, want end estimated at slot end", open)
	}

	h.submit(models.Modification{Kind: models.KindCycleEnd, EndAt: tp(at(9, 30))})
	h.pass()

	got := h.operations()[0].Attrs
	if got.TotalCycles != 1 || got.PartialCycles != 0 {
		t.Errorf("after end: total %d partial %d, want 1 0", got.TotalCycles, got.PartialCycles)
	}
	if got.AverageCycleTime != 30*time.Minute {
		t.Errorf("AverageCycleTime = %v, want 30m", got.AverageCycleTime)
	}
	if got.LastCycleID != open.ID {
		t.Errorf("LastCycleID = %s, want the closed cycle %s", got.LastCycleID, open.ID)
	}

	h.submit(models.Modification{Kind: models.KindCycleEnd, EndAt: tp(at(11, 0))})
	h.submit(models.Modification{Kind: models.KindCycleFull, BeginAt: tp(at(11, 0)), EndAt: tp(at(11, 20))})
	h.pass()

	got = h.operations()[0].Attrs
	if got.TotalCycles != 3 || got.PartialCycles != 1 {
		t.Errorf("after more cycles: total %d partial %d, want 3 1", got.TotalCycles, got.PartialCycles)
	}
	if got.AverageCycleTime != 25*time.Minute {
		t.Errorf("AverageCycleTime = %v, want 25m", got.AverageCycleTime)
	}
}

func TestCycleSurvivesReassociation(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	h.associateOperation(at(8, 0), at(12, 0), "op-1", false)
	h.submit(models.Modification{Kind: models.KindCycleFull, BeginAt: tp(at(10, 0)), EndAt: tp(at(10, 30))})
	h.associateOperation(at(8, 0), at(9, 0), "op-2", false)
	h.pass()

	slots := h.operations()
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if slots[0].Attrs.TotalCycles != 0 {
		t.Errorf("op-2 slot has %d cycles, want 0", slots[0].Attrs.TotalCycles)
	}
	if slots[1].Attrs.TotalCycles != 1 || slots[1].Attrs.PartialCycles != 0 {
		t.Errorf("op-1 slot total %d partial %d, want 1 0", slots[1].Attrs.TotalCycles, slots[1].Attrs.PartialCycles)
	}
}

func TestRunTime(t *testing.T) {
	h := newHarness(t, DefaultOptions(), nil)
	h.mode(at(8, 0), at(10, 0), "active")
	h.mode(at(10, 0), at(12, 0), "stopped")
	h.associateOperation(at(8, 0), at(12, 0), "op-1", false)
	h.pass()

	if got := h.operations()[0].Attrs.RunTime; got != 2*time.Hour {
		t.Errorf("RunTime = %v, want 2h", got)
	}

	h.mode(at(10, 0), at(11, 0), "active")
	h.pass()
	if got := h.operations()[0].Attrs.RunTime; got != 3*time.Hour {
		t.Errorf("RunTime after mode change = %v, want 3h", got)
	}
}

func TestRuns(t *testing.T) {
	window := []slot.Slot[slot.Operation]{
		{ID: "a", Interval: interval.Interval{Lower: at(8, 0), Upper: at(9, 0)}},
		{ID: "b", Interval: interval.Interval{Lower: at(9, 0), Upper: at(10, 0)}},
	}
	got := runs(window, interval.Interval{Lower: at(8, 0), Upper: at(10, 0)})
	want := []interval.Interval{
		{Lower: at(8, 0), Upper: at(9, 0)},
		{Lower: at(9, 0), Upper: at(10, 0)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("runs() mismatch (-want +got):\n%s", diff)
	}
}
