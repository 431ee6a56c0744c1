/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/slot"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// slotTable stores one slot kind in the table of row type M.
type slotTable[A slot.Payload[A], M any] struct {
	db      *gorm.DB
	toRow   func(slot.Slot[A]) M
	fromRow func(M) slot.Slot[A]
}

func (t slotTable[A, M]) find(ctx context.Context, machine string, rng interval.Interval, touching bool) ([]slot.Slot[A], error) {
	lt, gt := "<", ">"
	if touching {
		lt, gt = "<=", ">="
	}
	q := t.db.WithContext(ctx).Where("machine_id = ?", machine)
	if rng.HasUpper() {
		q = q.Where("(begin_at IS NULL OR begin_at "+lt+" ?)", rng.Upper.UTC())
	}
	if rng.HasLower() {
		q = q.Where("(end_at IS NULL OR end_at "+gt+" ?)", rng.Lower.UTC())
	}
	var rows []M
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query slots of %s: %w", machine, err)
	}
	out := make([]slot.Slot[A], 0, len(rows))
	for _, r := range rows {
		out = append(out, t.fromRow(r))
	}
	return slot.Sorted(out), nil
}

func (t slotTable[A, M]) FindOverlapping(ctx context.Context, machine string, rng interval.Interval) ([]slot.Slot[A], error) {
	return t.find(ctx, machine, rng, false)
}

func (t slotTable[A, M]) FindTouching(ctx context.Context, machine string, rng interval.Interval) ([]slot.Slot[A], error) {
	return t.find(ctx, machine, rng, true)
}

func (t slotTable[A, M]) FindAll(ctx context.Context, machine string) ([]slot.Slot[A], error) {
	return t.find(ctx, machine, interval.All(), false)
}

func (t slotTable[A, M]) Persist(ctx context.Context, slots ...slot.Slot[A]) error {
	for _, s := range slots {
		row := t.toRow(s)
		if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("persist slot %s: %w", s.ID, err)
		}
	}
	return nil
}

func (t slotTable[A, M]) Delete(ctx context.Context, slots ...slot.Slot[A]) error {
	if len(slots) == 0 {
		return nil
	}
	ids := make([]string, 0, len(slots))
	for _, s := range slots {
		ids = append(ids, s.ID)
	}
	var zero M
	if err := t.db.WithContext(ctx).Where("id IN ?", ids).Delete(&zero).Error; err != nil {
		return fmt.Errorf("delete slots: %w", err)
	}
	return nil
}
