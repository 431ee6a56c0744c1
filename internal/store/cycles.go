/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/slotwise/internal/cycle"
	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type cycleTable struct {
	db *gorm.DB
}

func (t cycleTable) FindInRange(ctx context.Context, machine string, rng interval.Interval) ([]cycle.Cycle, error) {
	q := t.db.WithContext(ctx).Where("machine_id = ?", machine)
	if rng.HasLower() {
		q = q.Where("anchor_at >= ?", rng.Lower.UTC())
	}
	if rng.HasUpper() {
		q = q.Where("anchor_at <= ?", rng.Upper.UTC())
	}
	var rows []models.OperationCycle
	if err := q.Order("anchor_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query cycles of %s: %w", machine, err)
	}
	return cycles(rows), nil
}

func (t cycleTable) FindBySlots(ctx context.Context, slotIDs []string) ([]cycle.Cycle, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}
	var rows []models.OperationCycle
	if err := t.db.WithContext(ctx).Where("operation_slot_id IN ?", slotIDs).Order("anchor_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query cycles by slot: %w", err)
	}
	return cycles(rows), nil
}

func (t cycleTable) Get(ctx context.Context, id string) (cycle.Cycle, error) {
	var row models.OperationCycle
	if err := t.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cycle.Cycle{}, ErrNotFound
		}
		return cycle.Cycle{}, fmt.Errorf("get cycle %s: %w", id, err)
	}
	return cycleOf(row), nil
}

func (t cycleTable) Persist(ctx context.Context, cs ...cycle.Cycle) error {
	for _, c := range cs {
		row := cycleRow(c)
		if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("persist cycle %s: %w", c.ID, err)
		}
	}
	return nil
}

func cycles(rows []models.OperationCycle) []cycle.Cycle {
	out := make([]cycle.Cycle, 0, len(rows))
	for _, r := range rows {
		out = append(out, cycleOf(r))
	}
	return out
}
