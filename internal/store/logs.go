/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type logTable struct {
	db *gorm.DB
}

func (t logTable) Add(ctx context.Context, entry models.AnalysisLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := t.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("add analysis log: %w", err)
	}
	return nil
}

func (t logTable) List(ctx context.Context, machine string) ([]models.AnalysisLog, error) {
	var out []models.AnalysisLog
	if err := t.db.WithContext(ctx).Where("machine_id = ?", machine).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list analysis logs of %s: %w", machine, err)
	}
	return out, nil
}
