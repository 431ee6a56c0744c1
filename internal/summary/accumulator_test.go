/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/slot"
)

type memoryStore struct {
	rows  map[Key]Value
	calls int
	err   error
}

func (m *memoryStore) AddSummary(_ context.Context, key Key, delta Value) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	if m.rows == nil {
		m.rows = make(map[Key]Value)
	}
	m.rows[key] = m.rows[key].Add(delta)
	return nil
}

var day1 = time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

func TestAccumulatorAddCancels(t *testing.T) {
	acc := NewAccumulator()
	k := Key{Kind: KindActivity, Machine: "m1", Day: day1, MachineMode: "active"}

	acc.Add(k, Value{Time: time.Hour})
	acc.Add(k, Value{Time: 30 * time.Minute})
	if got := acc.Get(k).Time; got != 90*time.Minute {
		t.Errorf("Get().Time = %v, want 90m", got)
	}
	acc.Add(k, Value{Time: -90 * time.Minute})
	if acc.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after cancelling deltas", acc.Len())
	}
}

func TestAccumulatorFlushOnce(t *testing.T) {
	acc := NewAccumulator()
	store := &memoryStore{}
	k := Key{Kind: KindReason, Machine: "m1", Day: day1, Reason: "jam"}
	for i := 0; i < 5; i++ {
		acc.Add(k, Value{Time: time.Minute, Count: 1})
	}

	n, err := acc.Flush(context.Background(), store)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n != 1 || store.calls != 1 {
		t.Errorf("Flush() wrote %d rows with %d store calls, want 1 and 1", n, store.calls)
	}
	if got := store.rows[k]; got != (Value{Time: 5 * time.Minute, Count: 5}) {
		t.Errorf("stored value = %+v", got)
	}

	if _, err := acc.Flush(context.Background(), store); err != nil {
		t.Fatalf("second Flush() error = %v", err)
	}
	if got := store.rows[k]; got != (Value{Time: 5 * time.Minute, Count: 5}) {
		t.Errorf("second Flush() double-applied: %+v", got)
	}
}

func TestAccumulatorFlushErrorKeepsBuffer(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(Key{Kind: KindActivity, Machine: "m1"}, Value{Time: time.Minute})
	boom := errors.New("boom")

	_, err := acc.Flush(context.Background(), &memoryStore{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("Flush() error = %v, want %v", err, boom)
	}
	if acc.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after failed flush", acc.Len())
	}
}

func reasonSlot(id string, lower, upper time.Time, mode, reason string) slot.Slot[slot.Reason] {
	return slot.Slot[slot.Reason]{ID: id, Machine: "m1", Interval: interval.Interval{Lower: lower, Upper: upper},
		Attrs: slot.Reason{MachineMode: mode, Reason: reason}}
}

func TestContributorReasonSplitsDays(t *testing.T) {
	c := Contributor{Calendar: interval.Calendar{Location: time.UTC, CutOff: 6 * time.Hour}}
	acc := NewAccumulator()
	s := reasonSlot("r1", day1.Add(4*time.Hour), day1.Add(8*time.Hour), "active", "production")

	c.Reason(acc, s, +1)

	prevDay := day1.AddDate(0, 0, -1)
	tests := []struct {
		key  Key
		want Value
	}{
		{Key{Kind: KindActivity, Machine: "m1", Day: prevDay, MachineMode: "active"}, Value{Time: 2 * time.Hour}},
		{Key{Kind: KindActivity, Machine: "m1", Day: day1, MachineMode: "active"}, Value{Time: 2 * time.Hour}},
		{Key{Kind: KindReason, Machine: "m1", Day: prevDay, Reason: "production"}, Value{Time: 2 * time.Hour, Count: 1}},
		{Key{Kind: KindReason, Machine: "m1", Day: day1, Reason: "production"}, Value{Time: 2 * time.Hour}},
	}
	for _, tt := range tests {
		if got := acc.Get(tt.key); got != tt.want {
			t.Errorf("Get(%s %s) = %+v, want %+v", tt.key.Kind, tt.key.Day.Format("01-02"), got, tt.want)
		}
	}
	if acc.Len() != len(tests) {
		t.Errorf("Len() = %d, want %d", acc.Len(), len(tests))
	}
}

func TestContributorUnchangedSlotIsNoop(t *testing.T) {
	c := Contributor{Calendar: interval.UTC}
	acc := NewAccumulator()
	s := reasonSlot("r1", day1, day1.Add(time.Hour), "active", "production")
	res := slot.Result[slot.Reason]{
		Upserted: []slot.Slot[slot.Reason]{s},
		Previous: map[string]slot.Slot[slot.Reason]{"r1": s},
	}

	c.ReasonChanges(acc, res)
	if acc.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for an unchanged slot", acc.Len())
	}
}

func TestContributorUnboundedSlotHasNoTime(t *testing.T) {
	c := Contributor{Calendar: interval.UTC}
	acc := NewAccumulator()
	c.Reason(acc, reasonSlot("r1", day1, time.Time{}, "active", "production"), +1)

	if got := acc.Get(Key{Kind: KindActivity, Machine: "m1", Day: day1, MachineMode: "active"}); !got.IsZero() {
		t.Errorf("activity = %+v, want none", got)
	}
	if got := acc.Get(Key{Kind: KindReason, Machine: "m1", Day: day1, Reason: "production"}); got != (Value{Count: 1}) {
		t.Errorf("reason = %+v, want count 1", got)
	}
}

func TestContributorOperation(t *testing.T) {
	c := Contributor{Calendar: interval.UTC, Quantity: func(op string) int64 {
		if op == "op1" {
			return 4
		}
		return 1
	}}
	acc := NewAccumulator()
	old := slot.Slot[slot.Operation]{ID: "o1", Machine: "m1", Interval: interval.Must(day1, day1.Add(time.Hour)),
		Attrs: slot.Operation{Operation: "op1", TotalCycles: 3, PartialCycles: 1}}
	now := old
	now.Attrs.TotalCycles, now.Attrs.PartialCycles = 5, 1

	c.OperationChanges(acc, map[string]slot.Slot[slot.Operation]{"o1": old}, []slot.Slot[slot.Operation]{now}, nil)

	key := Key{Kind: KindCycleCount, Machine: "m1", Day: day1, Operation: "op1"}
	if got := acc.Get(key); got != (Value{Full: 2}) {
		t.Errorf("cycle count delta = %+v, want full +2", got)
	}
	key.Kind = KindIntermediateWorkPiece
	if got := acc.Get(key); got != (Value{Count: 8}) {
		t.Errorf("work piece delta = %+v, want count +8", got)
	}
}
