/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package derivation infers component, work order and operation from one
// another when an operation slot is reassigned.
package derivation

import (
	"context"
	"fmt"
	"sort"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/slot"
	"github.com/rs/zerolog"
)

// Rules are the configuration flags gating derivation.
type Rules struct {
	// ComponentFromOperationOnly: the component is only ever derived from
	// the operation and is cleared when the operation is.
	ComponentFromOperationOnly bool
	// WorkOrderFromComponentOnly: the work order is only ever derived from
	// the component and is cleared when the component is.
	WorkOrderFromComponentOnly bool
	// UniqueComponentFromOperation: an operation mapping to a single
	// component sets it, and that component's single work order in turn.
	UniqueComponentFromOperation bool
	// UniqueProjectOrPartFromWorkOrder: a work order mapping to a single
	// part sets the component.
	UniqueProjectOrPartFromWorkOrder bool
}

// Catalog exposes the relations between operations, components and work
// orders. Empty results mean "unknown", which never contradicts anything.
type Catalog interface {
	OperationComponents(ctx context.Context, operation string) ([]string, error)
	ComponentWorkOrders(ctx context.Context, component string) ([]string, error)
	WorkOrderComponents(ctx context.Context, workOrder string) ([]string, error)
}

// Request is an operation-slot association. A nil field is not part of the
// association; a pointer to "" explicitly clears the attribute.
type Request struct {
	Operation *string
	Component *string
	WorkOrder *string
	Line      *string
	Task      *string
}

// Resolver turns requests into overlays on operation slots.
type Resolver struct {
	rules  Rules
	wrap   func(Catalog) Catalog
	logger zerolog.Logger
}

// NewResolver creates a resolver.
func NewResolver(rules Rules, logger zerolog.Logger) *Resolver {
	return &Resolver{
		rules:  rules,
		logger: logger.With().Str("component", "derivation").Logger(),
	}
}

// WithCatalogCache decorates every catalog handed to Plan with wrap.
func (r *Resolver) WithCatalogCache(wrap func(Catalog) Catalog) *Resolver {
	r.wrap = wrap
	return r
}

// Rules returns the configured flags.
func (r *Resolver) Rules() Rules { return r.rules }

// Plan holds the catalog facts needed to apply one request to any slot of
// a window, so the overlay itself does no I/O.
type Plan struct {
	rules  Rules
	req    Request
	logger zerolog.Logger

	opComponents map[string][]string
	compOrders   map[string][]string
	orderComps   map[string][]string
}

// Plan prefetches catalog relations for req applied over prev. catalog
// must read through the caller's transaction.
func (r *Resolver) Plan(ctx context.Context, catalog Catalog, req Request, prev []slot.Operation) (*Plan, error) {
	if r.wrap != nil {
		catalog = r.wrap(catalog)
	}
	p := &Plan{
		rules:        r.rules,
		req:          req,
		logger:       r.logger,
		opComponents: make(map[string][]string),
		compOrders:   make(map[string][]string),
		orderComps:   make(map[string][]string),
	}

	ops := set{}
	comps := set{}
	orders := set{}
	if req.Operation != nil {
		ops.add(*req.Operation)
	}
	if req.Component != nil {
		comps.add(*req.Component)
	}
	if req.WorkOrder != nil {
		orders.add(*req.WorkOrder)
	}
	for _, s := range prev {
		ops.add(s.Operation)
		comps.add(s.Component)
		orders.add(s.WorkOrder)
	}

	for _, op := range ops.sorted() {
		list, err := catalog.OperationComponents(ctx, op)
		if err != nil {
			return nil, fmt.Errorf("load components of operation %s: %w", op, err)
		}
		p.opComponents[op] = list
		comps.add(list...)
	}
	for _, wo := range orders.sorted() {
		list, err := catalog.WorkOrderComponents(ctx, wo)
		if err != nil {
			return nil, fmt.Errorf("load components of work order %s: %w", wo, err)
		}
		p.orderComps[wo] = list
		comps.add(list...)
	}
	for _, c := range comps.sorted() {
		list, err := catalog.ComponentWorkOrders(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("load work orders of component %s: %w", c, err)
		}
		p.compOrders[c] = list
	}
	return p, nil
}

// Apply computes the attributes of one piece previously carrying prev.
// Explicit values win over derived ones; a derived value follows its source
// and is dropped when the source changes.
func (p *Plan) Apply(prev slot.Operation) slot.Operation {
	next := prev
	if p.req.Line != nil {
		next.Line = *p.req.Line
	}
	if p.req.Task != nil {
		next.Task = *p.req.Task
	}

	explicitOp := p.req.Operation != nil
	explicitComp := p.req.Component != nil
	explicitWO := p.req.WorkOrder != nil

	if explicitOp {
		next.Operation = *p.req.Operation
	}

	switch {
	case p.rules.ComponentFromOperationOnly:
		next.Component, next.AutoComponent = "", false
		if derived, ok := p.uniqueComponentOf(next.Operation); ok {
			next.Component, next.AutoComponent = derived, true
		}
		if explicitComp && *p.req.Component != next.Component {
			p.logger.Debug().Str("operation", next.Operation).Str("requested", *p.req.Component).
				Msg("component is derived from the operation only, explicit value ignored")
		}
	case explicitComp:
		next.Component, next.AutoComponent = *p.req.Component, false
		if derived, ok := p.uniqueComponentOf(next.Operation); ok && next.Component != "" && derived != next.Component {
			p.logger.Debug().Str("operation", next.Operation).Str("component", next.Component).Str("derived", derived).
				Msg("explicit component contradicts derived one, derivation skipped")
		}
		if !explicitOp && next.Operation != "" && next.Component != "" && !p.operationMakes(next.Operation, next.Component) {
			next.Operation = ""
		}
	case explicitOp:
		if next.AutoComponent && prev.Operation != next.Operation {
			next.Component, next.AutoComponent = "", false
		}
		if next.Operation != "" && next.Component != "" && !p.operationMakes(next.Operation, next.Component) {
			next.Component, next.AutoComponent = "", false
		}
		if next.Component == "" && p.rules.UniqueComponentFromOperation {
			if derived, ok := p.uniqueComponentOf(next.Operation); ok {
				next.Component, next.AutoComponent = derived, true
			}
		}
	}

	switch {
	case p.rules.WorkOrderFromComponentOnly:
		next.WorkOrder, next.AutoWorkOrder = "", false
		if wo, ok := unique(p.compOrders[next.Component]); ok && next.Component != "" {
			next.WorkOrder, next.AutoWorkOrder = wo, true
		}
		if explicitWO && *p.req.WorkOrder != next.WorkOrder {
			p.logger.Debug().Str("component", next.Component).Str("requested", *p.req.WorkOrder).
				Msg("work order is derived from the component only, explicit value ignored")
		}
	case explicitWO:
		next.WorkOrder, next.AutoWorkOrder = *p.req.WorkOrder, false
		if next.WorkOrder != "" && next.Component != "" && !p.orderMakes(next.WorkOrder, next.Component) {
			if explicitComp || p.rules.ComponentFromOperationOnly {
				p.logger.Debug().Str("work_order", next.WorkOrder).Str("component", next.Component).
					Msg("work order contradicts component, derivation skipped")
			} else {
				next.Component, next.AutoComponent = "", false
				if !explicitOp && next.Operation != "" {
					next.Operation = ""
				}
			}
		}
		if next.Component == "" && next.WorkOrder != "" && p.rules.UniqueProjectOrPartFromWorkOrder && !p.rules.ComponentFromOperationOnly {
			if part, ok := unique(p.orderComps[next.WorkOrder]); ok {
				next.Component, next.AutoComponent = part, true
				if !explicitOp && next.Operation != "" && !p.operationMakes(next.Operation, part) {
					next.Operation = ""
				}
			}
		}
	case explicitOp || explicitComp:
		if next.AutoWorkOrder && prev.Component != next.Component {
			next.WorkOrder, next.AutoWorkOrder = "", false
		}
		if next.WorkOrder != "" && next.Component != "" && !p.orderMakes(next.WorkOrder, next.Component) {
			next.WorkOrder, next.AutoWorkOrder = "", false
		}
		if next.WorkOrder == "" && next.Component != "" && p.rules.UniqueComponentFromOperation && (next.AutoComponent || explicitComp) {
			if wo, ok := unique(p.compOrders[next.Component]); ok {
				next.WorkOrder, next.AutoWorkOrder = wo, true
			}
		}
	}

	p.pin(&next)
	return next
}

// pin marks the explicit values the catalog would have derived differently.
func (p *Plan) pin(o *slot.Operation) {
	o.ComponentPinned = false
	if !o.AutoComponent && o.Component != "" {
		if derived, ok := p.uniqueComponentOf(o.Operation); ok && derived != o.Component {
			o.ComponentPinned = true
		}
	}
	o.WorkOrderPinned = false
	if !o.AutoWorkOrder && o.WorkOrder != "" && o.Component != "" {
		if wo, ok := unique(p.compOrders[o.Component]); ok && wo != o.WorkOrder {
			o.WorkOrderPinned = true
		}
	}
}

// Overlay adapts Apply to the slot engine.
func (p *Plan) Overlay() slot.Overlay[slot.Operation] {
	return func(prev slot.Operation, _ interval.Interval) slot.Operation { return p.Apply(prev) }
}

func (p *Plan) uniqueComponentOf(op string) (string, bool) {
	if op == "" {
		return "", false
	}
	return unique(p.opComponents[op])
}

// operationMakes reports whether op is compatible with comp. Unknown
// relations are compatible.
func (p *Plan) operationMakes(op, comp string) bool {
	list := p.opComponents[op]
	return len(list) == 0 || contains(list, comp)
}

func (p *Plan) orderMakes(wo, comp string) bool {
	list := p.orderComps[wo]
	if len(list) > 0 {
		return contains(list, comp)
	}
	list = p.compOrders[comp]
	return len(list) == 0 || contains(list, wo)
}

func unique(list []string) (string, bool) {
	if len(list) != 1 || list[0] == "" {
		return "", false
	}
	return list[0], true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

type set map[string]struct{}

func (s set) add(values ...string) {
	for _, v := range values {
		if v != "" {
			s[v] = struct{}{}
		}
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
