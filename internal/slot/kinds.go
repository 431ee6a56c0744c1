/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slot

import (
	"strings"
	"time"
)

// Kind names a slot partition.
type Kind string

const (
	KindOperation        Kind = "operation"
	KindObservationState Kind = "observation_state"
	KindReason           Kind = "reason"
)

// Operation is the payload of operation slots. Only the identity fields,
// Day and the provenance of pinned values take part in Equal; counters
// are recomputed after every change.
type Operation struct {
	Operation string
	Component string
	WorkOrder string
	Line      string
	Task      string
	// Day is set when operation slots are split per production day.
	Day time.Time

	// AutoComponent and AutoWorkOrder record that the value was derived
	// rather than explicitly associated.
	AutoComponent bool
	AutoWorkOrder bool
	// ComponentPinned and WorkOrderPinned mark explicit values that
	// contradict what the catalog derives. A pinned value never merges
	// with the same value derived on a neighbour.
	ComponentPinned bool
	WorkOrderPinned bool

	RunTime          time.Duration
	TotalCycles      int
	PartialCycles    int
	AverageCycleTime time.Duration
	FirstCycleID     string
	LastCycleID      string
}

func (o Operation) Equal(other Operation) bool {
	return o.Operation == other.Operation &&
		o.Component == other.Component &&
		o.WorkOrder == other.WorkOrder &&
		o.Line == other.Line &&
		o.Task == other.Task &&
		o.Day.Equal(other.Day) &&
		!clash(o.ComponentPinned, o.AutoComponent, other.ComponentPinned, other.AutoComponent) &&
		!clash(o.WorkOrderPinned, o.AutoWorkOrder, other.WorkOrderPinned, other.AutoWorkOrder)
}

// clash reports a pinned value facing a derived one.
func clash(pinnedA, autoA, pinnedB, autoB bool) bool {
	return (pinnedA && autoB) || (pinnedB && autoA)
}

func (o Operation) IsEmpty() bool {
	return o.Operation == "" && o.Component == "" && o.WorkOrder == "" && o.Line == "" && o.Task == ""
}

func (o Operation) String() string {
	return "(" + dash(o.Operation) + "," + dash(o.Component) + "," + dash(o.WorkOrder) + ")"
}

// ObservationState is the payload of observation-state slots.
type ObservationState struct {
	State string
	User  string
	Shift string
}

func (o ObservationState) Equal(other ObservationState) bool { return o == other }

func (o ObservationState) IsEmpty() bool { return o.State == "" }

// ReasonSource flags describe where the resident reason of a slot comes from.
type ReasonSource uint8

const (
	SourceDefault ReasonSource = 1 << iota
	SourceManual
	SourceAuto
	// SourceDefaultIsAuto marks a default reason that behaves like an
	// auto-reason and may be replaced by one.
	SourceDefaultIsAuto
	// SourceUnsafeAutoReasonNumber marks slots where several auto-reasons
	// compete and arbitration fell back to registration order.
	SourceUnsafeAutoReasonNumber
	// SourceUnsafeManual marks a manual reason that an auto-reason with an
	// equal score was also claiming.
	SourceUnsafeManual
)

// Has reports whether every flag of f is set.
func (s ReasonSource) Has(f ReasonSource) bool { return s&f == f }

func (s ReasonSource) String() string {
	names := []string{}
	for _, f := range []struct {
		flag ReasonSource
		name string
	}{
		{SourceDefault, "default"},
		{SourceManual, "manual"},
		{SourceAuto, "auto"},
		{SourceDefaultIsAuto, "default_is_auto"},
		{SourceUnsafeAutoReasonNumber, "unsafe_auto_reason_number"},
		{SourceUnsafeManual, "unsafe_manual"},
	} {
		if s.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, "|")
}

// Reason is the payload of reason slots.
type Reason struct {
	MachineMode      string
	Running          bool
	ObservationState string
	Shift            string

	Reason            string
	Details           string
	Score             float64
	Source            ReasonSource
	AutoReasonNumber  int
	OverwriteRequired bool
}

func (r Reason) Equal(other Reason) bool { return r == other }

// IsEmpty reports whether the machine mode is unknown; reason slots only
// exist where machine activity is known.
func (r Reason) IsEmpty() bool { return r.MachineMode == "" }

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
