/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Operation is a manufacturing operation.
type Operation struct {
	ID   string `gorm:"type:varchar(64);primaryKey"`
	Name string
	// Quantity is the number of intermediate work pieces one cycle makes.
	Quantity  int64 `gorm:"default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Component is a part or project produced by operations.
type Component struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkOrder is a production order.
type WorkOrder struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OperationComponent links an operation to a component it produces.
type OperationComponent struct {
	OperationID string `gorm:"type:varchar(64);primaryKey"`
	ComponentID string `gorm:"type:varchar(64);primaryKey"`
}

// WorkOrderComponent links a work order to a component it orders.
type WorkOrderComponent struct {
	WorkOrderID string `gorm:"type:varchar(64);primaryKey"`
	ComponentID string `gorm:"type:varchar(64);primaryKey"`
}
