/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package derivation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/slot"
	"github.com/rs/zerolog"
)

func str(s string) *string { return &s }

func catalog() *StaticCatalog {
	return NewStaticCatalog().
		LinkOperation("op1", "comp1").
		LinkOperation("op2", "comp1").
		LinkOperation("op2", "comp2").
		LinkWorkOrder("wo1", "comp1").
		LinkWorkOrder("wo2", "comp2")
}

type attrs struct {
	Operation, Component, WorkOrder string
	AutoComponent, AutoWorkOrder    bool
}

func view(o slot.Operation) attrs {
	return attrs{o.Operation, o.Component, o.WorkOrder, o.AutoComponent, o.AutoWorkOrder}
}

func TestPlanApply(t *testing.T) {
	full := slot.Operation{Operation: "op1", Component: "comp1", WorkOrder: "wo1"}

	tests := []struct {
		name  string
		rules Rules
		req   Request
		prev  slot.Operation
		want  attrs
	}{
		{
			name: "no rules keeps operation alone",
			req:  Request{Operation: str("op1")},
			want: attrs{Operation: "op1"},
		},
		{
			name:  "unique component derived recursively",
			rules: Rules{UniqueComponentFromOperation: true},
			req:   Request{Operation: str("op1")},
			want:  attrs{"op1", "comp1", "wo1", true, true},
		},
		{
			name:  "ambiguous operation derives nothing",
			rules: Rules{UniqueComponentFromOperation: true},
			req:   Request{Operation: str("op2")},
			want:  attrs{Operation: "op2"},
		},
		{
			name:  "explicit component wins over derived",
			rules: Rules{UniqueComponentFromOperation: true},
			req:   Request{Operation: str("op1"), Component: str("comp2")},
			want:  attrs{"op1", "comp2", "wo2", false, true},
		},
		{
			name:  "component from operation only clears with operation",
			rules: Rules{ComponentFromOperationOnly: true},
			req:   Request{Operation: str("")},
			prev:  full,
			want:  attrs{WorkOrder: "wo1"},
		},
		{
			name:  "component from operation only ignores explicit component",
			rules: Rules{ComponentFromOperationOnly: true},
			req:   Request{Operation: str("op1"), Component: str("comp2")},
			want:  attrs{Operation: "op1", Component: "comp1", AutoComponent: true},
		},
		{
			name:  "work order from component only",
			rules: Rules{WorkOrderFromComponentOnly: true},
			req:   Request{Component: str("comp2")},
			prev:  full,
			want:  attrs{Component: "comp2", WorkOrder: "wo2", AutoWorkOrder: true},
		},
		{
			name:  "unique part from work order replaces incompatible component",
			rules: Rules{UniqueProjectOrPartFromWorkOrder: true},
			req:   Request{WorkOrder: str("wo2")},
			prev:  full,
			want:  attrs{Component: "comp2", WorkOrder: "wo2", AutoComponent: true},
		},
		{
			name:  "incompatible work order without rule clears component",
			req:   Request{WorkOrder: str("wo2")},
			prev:  full,
			want:  attrs{WorkOrder: "wo2"},
		},
		{
			name:  "derived values follow their source",
			rules: Rules{UniqueComponentFromOperation: true},
			req:   Request{Operation: str("op2")},
			prev:  slot.Operation{Operation: "op1", Component: "comp1", WorkOrder: "wo1", AutoComponent: true, AutoWorkOrder: true},
			want:  attrs{Operation: "op2"},
		},
		{
			name: "compatible explicit operation keeps component",
			req:  Request{Operation: str("op2")},
			prev: full,
			want: attrs{"op2", "comp1", "wo1", false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.rules, zerolog.Nop())
			plan, err := r.Plan(context.Background(), catalog(), tt.req, []slot.Operation{tt.prev})
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			if got := view(plan.Apply(tt.prev)); got != tt.want {
				t.Errorf("Apply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

type failingCatalog struct{ *StaticCatalog }

var errCatalog = errors.New("catalog down")

func (failingCatalog) OperationComponents(context.Context, string) ([]string, error) {
	return nil, errCatalog
}

func TestPlanCatalogError(t *testing.T) {
	r := NewResolver(Rules{}, zerolog.Nop())
	_, err := r.Plan(context.Background(), failingCatalog{NewStaticCatalog()}, Request{Operation: str("op1")}, nil)
	if !errors.Is(err, errCatalog) {
		t.Errorf("Plan() error = %v, want %v", err, errCatalog)
	}
}

func TestOverlayMergesDerivedNeighbours(t *testing.T) {
	r := NewResolver(Rules{UniqueComponentFromOperation: true}, zerolog.Nop())
	window := []slot.Slot[slot.Operation]{
		{ID: "a", Machine: "m1", Interval: span(1, 2), Attrs: slot.Operation{Operation: "op1", Component: "comp1", WorkOrder: "wo1", AutoComponent: true, AutoWorkOrder: true}},
		{ID: "b", Machine: "m1", Interval: span(2, 4), Attrs: slot.Operation{Operation: "op2"}},
	}
	plan, err := r.Plan(context.Background(), catalog(), Request{Operation: str("op1")}, []slot.Operation{window[1].Attrs})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	res, err := slot.Apply("m1", window, span(2, 4), plan.Overlay(), slot.Options{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Slots) != 1 || res.Slots[0].ID != "a" || !res.Slots[0].Interval.Equal(span(1, 4)) {
		t.Errorf("Apply() slots = %+v, want one slot a over [1,4)", res.Slots)
	}
}

func TestPlanPinsContradictingValues(t *testing.T) {
	tests := []struct {
		name          string
		req           Request
		wantComponent bool
		wantWorkOrder bool
	}{
		{
			name:          "component other than the derived one",
			req:           Request{Operation: str("op1"), Component: str("comp2")},
			wantComponent: true,
		},
		{
			name: "component matching the derived one",
			req:  Request{Operation: str("op1"), Component: str("comp1")},
		},
		{
			name:          "work order contradicting an explicit component",
			req:           Request{Component: str("comp1"), WorkOrder: str("wo2")},
			wantWorkOrder: true,
		},
		{
			name: "derived values are never pinned",
			req:  Request{Operation: str("op1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(Rules{UniqueComponentFromOperation: true}, zerolog.Nop())
			plan, err := r.Plan(context.Background(), catalog(), tt.req, nil)
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			got := plan.Apply(slot.Operation{})
			if got.ComponentPinned != tt.wantComponent {
				t.Errorf("ComponentPinned = %v, want %v (%+v)", got.ComponentPinned, tt.wantComponent, view(got))
			}
			if got.WorkOrderPinned != tt.wantWorkOrder {
				t.Errorf("WorkOrderPinned = %v, want %v (%+v)", got.WorkOrderPinned, tt.wantWorkOrder, view(got))
			}
		})
	}
}

func TestOverlayKeepsPinnedApartFromDerived(t *testing.T) {
	r := NewResolver(Rules{UniqueComponentFromOperation: true}, zerolog.Nop())
	derived := slot.Operation{Operation: "op1", Component: "comp2", WorkOrder: "wo2", AutoComponent: true, AutoWorkOrder: true}
	window := []slot.Slot[slot.Operation]{
		{ID: "a", Machine: "m1", Interval: span(1, 2), Attrs: derived},
		{ID: "b", Machine: "m1", Interval: span(2, 4), Attrs: slot.Operation{Operation: "op9"}},
	}
	req := Request{Operation: str("op1"), Component: str("comp2")}
	plan, err := r.Plan(context.Background(), catalog(), req, []slot.Operation{window[1].Attrs})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	res, err := slot.Apply("m1", window, span(2, 4), plan.Overlay(), slot.Options{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Slots) != 2 {
		t.Fatalf("Apply() slots = %+v, want the derived and the explicit slot apart", res.Slots)
	}
	got := res.Slots[1].Attrs
	if view(got) != (attrs{"op1", "comp2", "wo2", false, true}) || !got.ComponentPinned {
		t.Errorf("explicit slot = %+v pinned=%v, want op1/comp2/wo2 with comp2 pinned", view(got), got.ComponentPinned)
	}
	if err := slot.Validate(res.Slots); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func span(lower, upper int) interval.Interval {
	return interval.Must(at(lower), at(upper))
}

func at(h int) time.Time { return time.Date(2026, 1, 5, h, 0, 0, 0, time.UTC) }
