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
	"github.com/friendsincode/slotwise/internal/summary"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type summaryTable struct {
	db *gorm.DB
}

func summaryWhere(k summary.Key) map[string]any {
	return map[string]any{
		"kind":              string(k.Kind),
		"machine_id":        k.Machine,
		"day":               k.Day.UTC(),
		"shift":             k.Shift,
		"machine_mode":      k.MachineMode,
		"observation_state": k.ObservationState,
		"reason":            k.Reason,
		"operation_id":      k.Operation,
		"component_id":      k.Component,
		"work_order_id":     k.WorkOrder,
	}
}

// AddSummary adds delta to the row of key, creating it on first use.
func (t summaryTable) AddSummary(ctx context.Context, key summary.Key, delta summary.Value) error {
	db := t.db.WithContext(ctx)
	var row models.Summary
	err := db.Where(summaryWhere(key)).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.Summary{
			ID:               uuid.NewString(),
			Kind:             string(key.Kind),
			MachineID:        key.Machine,
			Day:              key.Day.UTC(),
			Shift:            key.Shift,
			MachineMode:      key.MachineMode,
			ObservationState: key.ObservationState,
			Reason:           key.Reason,
			OperationID:      key.Operation,
			ComponentID:      key.Component,
			WorkOrderID:      key.WorkOrder,
			Duration:         delta.Time,
			Count:            delta.Count,
			FullCycles:       delta.Full,
			PartialCycles:    delta.Partial,
		}
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("create summary %s: %w", key, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("find summary %s: %w", key, err)
	}

	err = db.Model(&models.Summary{}).Where("id = ?", row.ID).Updates(map[string]any{
		"duration":       gorm.Expr("duration + ?", int64(delta.Time)),
		"count":          gorm.Expr("count + ?", delta.Count),
		"full_cycles":    gorm.Expr("full_cycles + ?", delta.Full),
		"partial_cycles": gorm.Expr("partial_cycles + ?", delta.Partial),
	}).Error
	if err != nil {
		return fmt.Errorf("update summary %s: %w", key, err)
	}
	return nil
}

// Summary returns the stored value of key, zero when no row exists.
func (t summaryTable) Summary(ctx context.Context, key summary.Key) (summary.Value, error) {
	var row models.Summary
	err := t.db.WithContext(ctx).Where(summaryWhere(key)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return summary.Value{}, nil
	}
	if err != nil {
		return summary.Value{}, fmt.Errorf("find summary %s: %w", key, err)
	}
	return summary.Value{Time: row.Duration, Count: row.Count, Full: row.FullCycles, Partial: row.PartialCycles}, nil
}

// List returns the summaries of machine, ordered by kind and day.
func (t summaryTable) List(ctx context.Context, machine string) ([]summary.Entry, error) {
	var rows []models.Summary
	if err := t.db.WithContext(ctx).Where("machine_id = ?", machine).Order("kind, day").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list summaries of %s: %w", machine, err)
	}
	out := make([]summary.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, summary.Entry{
			Key: summary.Key{
				Kind:             summary.Kind(r.Kind),
				Machine:          r.MachineID,
				Day:              r.Day.UTC(),
				Shift:            r.Shift,
				MachineMode:      r.MachineMode,
				ObservationState: r.ObservationState,
				Reason:           r.Reason,
				Operation:        r.OperationID,
				Component:        r.ComponentID,
				WorkOrder:        r.WorkOrderID,
			},
			Value: summary.Value{Time: r.Duration, Count: r.Count, Full: r.FullCycles, Partial: r.PartialCycles},
		})
	}
	return out, nil
}
