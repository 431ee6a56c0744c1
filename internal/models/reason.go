/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ReasonProposal is a persisted manual or auto reason claim.
type ReasonProposal struct {
	ID             string     `gorm:"type:uuid;primaryKey"`
	MachineID      string     `gorm:"type:varchar(64);index:idx_reason_proposals_machine_begin"`
	BeginAt        *time.Time `gorm:"index:idx_reason_proposals_machine_begin"`
	EndAt          *time.Time
	Kind           string `gorm:"type:varchar(16)"`
	Reason         string `gorm:"type:varchar(64)"`
	Details        string `gorm:"type:text"`
	Score          float64
	Extension      string `gorm:"type:varchar(64)"`
	Unsafe         bool
	LogicalTime    time.Time
	ModificationID string `gorm:"type:varchar(64);index"`

	// Dynamic end state; HasDynamic is false for fixed ranges.
	HasDynamic      bool `gorm:"index"`
	DynamicProvider string `gorm:"type:varchar(64)"`
	DynamicStrategy string `gorm:"type:varchar(16)"`
	DynamicLimit    *time.Time
	DynamicHint     *time.Time
	DynamicApplied  bool
	DynamicFinal    bool
	DynamicQueries  int

	CreatedAt time.Time
	UpdatedAt time.Time
}
