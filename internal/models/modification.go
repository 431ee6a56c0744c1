/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ModificationKind enumerates the requests the analysis applies.
type ModificationKind string

const (
	KindOperationMachineAssociation ModificationKind = "operation_machine_association"
	KindComponentMachineAssociation ModificationKind = "component_machine_association"
	KindWorkOrderMachineAssociation ModificationKind = "work_order_machine_association"
	KindObservationStateAssociation ModificationKind = "observation_state_association"
	KindMachineModeAssociation      ModificationKind = "machine_mode_association"
	KindSetManualReason             ModificationKind = "set_manual_reason"
	KindResetManualReason           ModificationKind = "reset_manual_reason"
	KindSetAutoReason               ModificationKind = "set_auto_reason"
	KindCycleBegin                  ModificationKind = "cycle_begin"
	KindCycleEnd                    ModificationKind = "cycle_end"
	KindCycleFull                   ModificationKind = "cycle_full"
)

// ModificationKinds lists every kind.
var ModificationKinds = []ModificationKind{
	KindOperationMachineAssociation,
	KindComponentMachineAssociation,
	KindWorkOrderMachineAssociation,
	KindObservationStateAssociation,
	KindMachineModeAssociation,
	KindSetManualReason,
	KindResetManualReason,
	KindSetAutoReason,
	KindCycleBegin,
	KindCycleEnd,
	KindCycleFull,
}

// Valid reports whether k is one of ModificationKinds.
func (k ModificationKind) Valid() bool {
	for _, known := range ModificationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// AnalysisStatus is the lifecycle state of a modification.
type AnalysisStatus string

const (
	StatusNew        AnalysisStatus = "new"
	StatusInProgress AnalysisStatus = "in_progress"
	StatusDone       AnalysisStatus = "done"
	StatusError      AnalysisStatus = "error"
)

// Terminal reports whether no further pass touches the modification.
func (s AnalysisStatus) Terminal() bool { return s == StatusDone || s == StatusError }

// ModificationPayload carries the new attributes of a modification. A nil
// association pointer leaves the attribute alone; an empty string clears it.
type ModificationPayload struct {
	Operation *string `json:"operation,omitempty"`
	Component *string `json:"component,omitempty"`
	WorkOrder *string `json:"work_order,omitempty"`
	Line      *string `json:"line,omitempty"`
	Task      *string `json:"task,omitempty"`

	ObservationState string `json:"observation_state,omitempty"`
	User             string `json:"user,omitempty"`
	Shift            string `json:"shift,omitempty"`

	MachineMode string `json:"machine_mode,omitempty"`

	Reason    string  `json:"reason,omitempty"`
	Details   string  `json:"details,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Extension string  `json:"extension,omitempty"`

	// DynamicProvider names the provider resolving the upper bound lazily.
	DynamicProvider string `json:"dynamic_provider,omitempty"`
	DynamicStrategy string `json:"dynamic_strategy,omitempty"`
}

// Modification is a queued request to change a machine's slots.
type Modification struct {
	ID        string           `gorm:"type:uuid;primaryKey"`
	MachineID string           `gorm:"type:varchar(64);index:idx_modifications_machine_status"`
	Kind      ModificationKind `gorm:"type:varchar(48)"`
	BeginAt   *time.Time
	EndAt     *time.Time

	Payload ModificationPayload `gorm:"serializer:json;type:text"`

	// AssociateToSlot snaps the range to the slots its bounds fall into.
	AssociateToSlot bool
	// Unsafe lets an auto-reason replace a protected one.
	Unsafe bool

	LogicalTime time.Time      `gorm:"index"`
	Priority    int            `gorm:"default:0"`
	Status      AnalysisStatus `gorm:"type:varchar(16);index:idx_modifications_machine_status"`
	Attempts    int
	ParentID    *string `gorm:"type:varchar(64);index"`
	Position    int
	LastError   string `gorm:"type:text"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// AnalysisLog is an operator-facing record of an analysis problem.
type AnalysisLog struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	MachineID      string `gorm:"type:varchar(64);index"`
	ModificationID string `gorm:"type:varchar(64);index"`
	Level          string `gorm:"type:varchar(16)"`
	Message        string `gorm:"type:text"`
	CreatedAt      time.Time
}
