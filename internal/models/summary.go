/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Summary is one additive aggregate row. The key columns form a unique
// index; unused key columns hold empty strings.
type Summary struct {
	ID               string    `gorm:"type:uuid;primaryKey"`
	Kind             string    `gorm:"type:varchar(32);uniqueIndex:idx_summaries_key"`
	MachineID        string    `gorm:"type:varchar(64);uniqueIndex:idx_summaries_key"`
	Day              time.Time `gorm:"uniqueIndex:idx_summaries_key"`
	Shift            string    `gorm:"type:varchar(64);uniqueIndex:idx_summaries_key"`
	MachineMode      string    `gorm:"type:varchar(64);uniqueIndex:idx_summaries_key"`
	ObservationState string    `gorm:"type:varchar(64);uniqueIndex:idx_summaries_key"`
	Reason           string    `gorm:"type:varchar(64);uniqueIndex:idx_summaries_key"`
	OperationID      string    `gorm:"type:varchar(64);uniqueIndex:idx_summaries_key"`
	ComponentID      string    `gorm:"type:varchar(64);uniqueIndex:idx_summaries_key"`
	WorkOrderID      string    `gorm:"type:varchar(64);uniqueIndex:idx_summaries_key"`

	Duration time.Duration
	Count    int64
	FullCycles    int64
	PartialCycles int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
