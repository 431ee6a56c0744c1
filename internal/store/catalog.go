/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/slotwise/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type catalogTable struct {
	db *gorm.DB
}

func (t catalogTable) OperationComponents(ctx context.Context, operation string) ([]string, error) {
	var out []string
	err := t.db.WithContext(ctx).Model(&models.OperationComponent{}).
		Where("operation_id = ?", operation).Order("component_id").Pluck("component_id", &out).Error
	if err != nil {
		return nil, fmt.Errorf("query components of operation %s: %w", operation, err)
	}
	return out, nil
}

func (t catalogTable) ComponentWorkOrders(ctx context.Context, component string) ([]string, error) {
	var out []string
	err := t.db.WithContext(ctx).Model(&models.WorkOrderComponent{}).
		Where("component_id = ?", component).Order("work_order_id").Pluck("work_order_id", &out).Error
	if err != nil {
		return nil, fmt.Errorf("query work orders of component %s: %w", component, err)
	}
	return out, nil
}

func (t catalogTable) WorkOrderComponents(ctx context.Context, workOrder string) ([]string, error) {
	var out []string
	err := t.db.WithContext(ctx).Model(&models.WorkOrderComponent{}).
		Where("work_order_id = ?", workOrder).Order("component_id").Pluck("component_id", &out).Error
	if err != nil {
		return nil, fmt.Errorf("query components of work order %s: %w", workOrder, err)
	}
	return out, nil
}

// OperationQuantity returns the work pieces per cycle of operation, 1 for
// an unknown operation.
func (t catalogTable) OperationQuantity(ctx context.Context, operation string) (int64, error) {
	var op models.Operation
	err := t.db.WithContext(ctx).First(&op, "id = ?", operation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get operation %s: %w", operation, err)
	}
	if op.Quantity <= 0 {
		return 1, nil
	}
	return op.Quantity, nil
}

// LinkOperation records that operation produces component.
func (t catalogTable) LinkOperation(ctx context.Context, operation, component string) error {
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.OperationComponent{OperationID: operation, ComponentID: component}).Error
	if err != nil {
		return fmt.Errorf("link operation %s: %w", operation, err)
	}
	return nil
}

// LinkWorkOrder records that workOrder orders component.
func (t catalogTable) LinkWorkOrder(ctx context.Context, workOrder, component string) error {
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.WorkOrderComponent{WorkOrderID: workOrder, ComponentID: component}).Error
	if err != nil {
		return fmt.Errorf("link work order %s: %w", workOrder, err)
	}
	return nil
}

// SetOperationQuantity creates or updates operation with quantity.
func (t catalogTable) SetOperationQuantity(ctx context.Context, operation string, quantity int64) error {
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}).Create(&models.Operation{ID: operation, Name: operation, Quantity: quantity}).Error
	if err != nil {
		return fmt.Errorf("set quantity of operation %s: %w", operation, err)
	}
	return nil
}
