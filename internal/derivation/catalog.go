/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package derivation

import (
	"context"
	"sort"
)

// StaticCatalog is an in-memory Catalog built from explicit links.
type StaticCatalog struct {
	opComps    map[string][]string
	compOrders map[string][]string
	orderComps map[string][]string
}

// NewStaticCatalog creates an empty catalog.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		opComps:    make(map[string][]string),
		compOrders: make(map[string][]string),
		orderComps: make(map[string][]string),
	}
}

// LinkOperation records that operation produces component.
func (c *StaticCatalog) LinkOperation(operation, component string) *StaticCatalog {
	c.opComps[operation] = appendSorted(c.opComps[operation], component)
	return c
}

// LinkWorkOrder records that workOrder orders component.
func (c *StaticCatalog) LinkWorkOrder(workOrder, component string) *StaticCatalog {
	c.orderComps[workOrder] = appendSorted(c.orderComps[workOrder], component)
	c.compOrders[component] = appendSorted(c.compOrders[component], workOrder)
	return c
}

func (c *StaticCatalog) OperationComponents(_ context.Context, operation string) ([]string, error) {
	return c.opComps[operation], nil
}

func (c *StaticCatalog) ComponentWorkOrders(_ context.Context, component string) ([]string, error) {
	return c.compOrders[component], nil
}

func (c *StaticCatalog) WorkOrderComponents(_ context.Context, workOrder string) ([]string, error) {
	return c.orderComps[workOrder], nil
}

func appendSorted(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	list = append(list, v)
	sort.Strings(list)
	return list
}
