/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type modificationTable struct {
	db *gorm.DB
}

// Enqueue stores m as New, assigning an ID and logical time when missing.
func (t modificationTable) Enqueue(ctx context.Context, m *models.Modification) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = models.StatusNew
	}
	if m.LogicalTime.IsZero() {
		m.LogicalTime = time.Now()
	}
	m.LogicalTime = m.LogicalTime.UTC()
	if err := t.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("enqueue modification: %w", err)
	}
	return nil
}

func pending(db *gorm.DB, maxAttempts int) *gorm.DB {
	q := db.Where("parent_id IS NULL AND status IN ?", []models.AnalysisStatus{models.StatusNew, models.StatusInProgress})
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	return q
}

func (t modificationTable) Pending(ctx context.Context, machine string, maxAttempts, limit int) ([]models.Modification, error) {
	q := pending(t.db.WithContext(ctx), maxAttempts).
		Where("machine_id = ?", machine).
		Order("logical_time, priority DESC, created_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Modification
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query pending modifications of %s: %w", machine, err)
	}
	return out, nil
}

func (t modificationTable) PendingMachines(ctx context.Context, maxAttempts int) ([]string, error) {
	var out []string
	err := pending(t.db.WithContext(ctx).Model(&models.Modification{}), maxAttempts).
		Distinct().Order("machine_id").Pluck("machine_id", &out).Error
	if err != nil {
		return nil, fmt.Errorf("query pending machines: %w", err)
	}
	return out, nil
}

func (t modificationTable) Children(ctx context.Context, parentID string) ([]models.Modification, error) {
	var out []models.Modification
	if err := t.db.WithContext(ctx).Where("parent_id = ?", parentID).Order("position").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query sub-modifications of %s: %w", parentID, err)
	}
	return out, nil
}

// Save writes every column of m, creating the row when it is new.
func (t modificationTable) Save(ctx context.Context, m *models.Modification) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := t.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("save modification %s: %w", m.ID, err)
	}
	return nil
}

func (t modificationTable) CountByStatus(ctx context.Context) (map[models.AnalysisStatus]int64, error) {
	var rows []struct {
		Status models.AnalysisStatus
		N      int64
	}
	err := t.db.WithContext(ctx).Model(&models.Modification{}).
		Select("status, count(*) AS n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count modifications: %w", err)
	}
	out := make(map[models.AnalysisStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
