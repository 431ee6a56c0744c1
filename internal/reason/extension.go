/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reason

import (
	"errors"
	"fmt"

	"github.com/friendsincode/slotwise/internal/slot"
)

// ErrUnknownExtension is returned when a claim names an unregistered extension.
var ErrUnknownExtension = errors.New("unknown auto-reason extension")

// ResetKind is what an extension requires when the context of one of its
// auto-reasons changes.
type ResetKind int

const (
	// ResetNone keeps the auto-reason.
	ResetNone ResetKind = iota
	// ResetFull removes the auto-reason over the changed range.
	ResetFull
)

// Context is the machine context of a reason slot.
type Context struct {
	MachineMode      string
	ObservationState string
}

// Extension is an auto-reason source.
type Extension interface {
	// Name identifies the extension in claims.
	Name() string
	// Score rates reason under a machine context.
	Score(machineMode, observationState, reason string) float64
	// IsResetApplicable reports whether a claim of this extension may
	// replace a resident reason with the given source, score and number of
	// competing auto-reasons.
	IsResetApplicable(source slot.ReasonSource, score float64, autoReasonNumber int) bool
	// RequiredResetKind says what to do with this extension's auto-reason
	// when the context changes from prev to next.
	RequiredResetKind(prev, next Context) ResetKind
}

// Registry keeps extensions in registration order, which is the final
// tie-break of arbitration.
type Registry struct {
	list  []Extension
	index map[string]int
}

// NewRegistry registers exts in order.
func NewRegistry(exts ...Extension) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(exts))}
	for _, e := range exts {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends e.
func (r *Registry) Register(e Extension) error {
	if _, dup := r.index[e.Name()]; dup {
		return fmt.Errorf("register extension %q: already registered", e.Name())
	}
	r.index[e.Name()] = len(r.list)
	r.list = append(r.list, e)
	return nil
}

// Get returns the extension called name.
func (r *Registry) Get(name string) (Extension, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.list[i], true
}

// Rank returns the registration position of name; unknown names sort last.
func (r *Registry) Rank(name string) int {
	if r == nil {
		return 0
	}
	if i, ok := r.index[name]; ok {
		return i
	}
	return len(r.list)
}

// Names lists registered extensions in order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.list))
	for _, e := range r.list {
		out = append(out, e.Name())
	}
	return out
}

// StaticExtension is a configurable extension: fixed scores per reason, a
// reset policy on context change and an optional flag letting its claims
// replace protected auto-reasons.
type StaticExtension struct {
	ExtensionName string
	Scores        map[string]float64
	// ResetOnModeChange removes its auto-reasons when the machine mode changes.
	ResetOnModeChange bool
	// ResetOnStateChange removes its auto-reasons when the observation state changes.
	ResetOnStateChange bool
	// Supersedes lets its claims replace another auto-reason of equal score.
	Supersedes bool
}

func (e StaticExtension) Name() string { return e.ExtensionName }

func (e StaticExtension) Score(_, _, reason string) float64 { return e.Scores[reason] }

func (e StaticExtension) IsResetApplicable(source slot.ReasonSource, _ float64, _ int) bool {
	return e.Supersedes && source.Has(slot.SourceAuto)
}

func (e StaticExtension) RequiredResetKind(prev, next Context) ResetKind {
	if e.ResetOnModeChange && prev.MachineMode != next.MachineMode {
		return ResetFull
	}
	if e.ResetOnStateChange && prev.ObservationState != next.ObservationState {
		return ResetFull
	}
	return ResetNone
}
