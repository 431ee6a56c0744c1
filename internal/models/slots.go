/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Slot rows share the machine/interval columns. A NULL bound is unbounded.

// OperationSlot is a persisted operation slot.
type OperationSlot struct {
	ID        string     `gorm:"type:uuid;primaryKey"`
	MachineID string     `gorm:"type:varchar(64);index:idx_operation_slots_machine_begin"`
	BeginAt   *time.Time `gorm:"index:idx_operation_slots_machine_begin"`
	EndAt     *time.Time

	OperationID     string `gorm:"type:varchar(64);index"`
	ComponentID     string `gorm:"type:varchar(64)"`
	WorkOrderID     string `gorm:"type:varchar(64)"`
	Line            string `gorm:"type:varchar(64)"`
	Task            string `gorm:"type:varchar(64)"`
	Day             *time.Time
	AutoComponent   bool
	AutoWorkOrder   bool
	ComponentPinned bool
	WorkOrderPinned bool

	RunTime          time.Duration
	TotalCycles      int
	PartialCycles    int
	AverageCycleTime time.Duration
	FirstCycleID     string `gorm:"type:varchar(64)"`
	LastCycleID      string `gorm:"type:varchar(64)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ObservationStateSlot is a persisted observation-state slot.
type ObservationStateSlot struct {
	ID        string     `gorm:"type:uuid;primaryKey"`
	MachineID string     `gorm:"type:varchar(64);index:idx_observation_state_slots_machine_begin"`
	BeginAt   *time.Time `gorm:"index:idx_observation_state_slots_machine_begin"`
	EndAt     *time.Time

	State  string `gorm:"type:varchar(64)"`
	UserID string `gorm:"type:varchar(64)"`
	Shift  string `gorm:"type:varchar(64)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReasonSlot is a persisted reason slot.
type ReasonSlot struct {
	ID        string     `gorm:"type:uuid;primaryKey"`
	MachineID string     `gorm:"type:varchar(64);index:idx_reason_slots_machine_begin"`
	BeginAt   *time.Time `gorm:"index:idx_reason_slots_machine_begin"`
	EndAt     *time.Time

	MachineMode       string `gorm:"type:varchar(64)"`
	Running           bool
	ObservationState  string `gorm:"type:varchar(64)"`
	Shift             string `gorm:"type:varchar(64)"`
	Reason            string `gorm:"type:varchar(64)"`
	Details           string `gorm:"type:text"`
	Score             float64
	Source            uint8
	AutoReasonNumber  int
	OverwriteRequired bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OperationCycle is a persisted operation cycle. AnchorAt is the instant
// used to find the covering slot, kept in sync by the store.
type OperationCycle struct {
	ID              string     `gorm:"type:uuid;primaryKey"`
	MachineID       string     `gorm:"type:varchar(64);index:idx_operation_cycles_machine_anchor"`
	AnchorAt        *time.Time `gorm:"index:idx_operation_cycles_machine_anchor"`
	BeginAt         *time.Time
	EndAt           *time.Time
	Status          uint8
	OperationSlotID string `gorm:"type:varchar(64);index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
