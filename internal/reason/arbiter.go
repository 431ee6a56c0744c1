/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reason

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/slot"
	"github.com/rs/zerolog"
)

// ErrAmbiguousArbitration reports auto-reasons of equal score that no
// extension could order. Arbitration still yields a deterministic winner.
var ErrAmbiguousArbitration = errors.New("ambiguous auto-reason arbitration")

// Base is the machine context of a piece of reason slot.
type Base struct {
	MachineMode      string
	ObservationState string
	Shift            string
}

// Warning is an arbitration issue to report in the analysis log.
type Warning struct {
	Range interval.Interval
	Err   error
}

// Arbiter picks the resident reason of reason-slot pieces.
type Arbiter struct {
	table      *Table
	extensions *Registry
	logger     zerolog.Logger
}

// NewArbiter creates an arbiter.
func NewArbiter(table *Table, extensions *Registry, logger zerolog.Logger) *Arbiter {
	if extensions == nil {
		extensions, _ = NewRegistry()
	}
	return &Arbiter{
		table:      table,
		extensions: extensions,
		logger:     logger.With().Str("component", "reason").Logger(),
	}
}

// Table returns the default-reason table.
func (a *Arbiter) Table() *Table { return a.table }

// Extensions returns the extension registry.
func (a *Arbiter) Extensions() *Registry { return a.extensions }

type candidate struct {
	p     Proposal
	score float64
	rank  int
}

// Resolve returns the reason of a piece with context base claimed by the
// given proposals, all of which cover the piece.
func (a *Arbiter) Resolve(base Base, claims []Proposal) (slot.Reason, error) {
	out := slot.Reason{
		MachineMode:      base.MachineMode,
		Running:          a.table.Running(base.MachineMode),
		ObservationState: base.ObservationState,
		Shift:            base.Shift,
	}
	if base.MachineMode == "" {
		return slot.Reason{}, nil
	}

	def, hasDefault := a.table.Default(base.MachineMode, base.ObservationState)

	var manual *Proposal
	var autos []candidate
	for i := range claims {
		p := claims[i]
		switch p.Kind {
		case ProposalManual:
			if manual == nil || newer(p, *manual) {
				manual = &claims[i]
			}
		case ProposalAuto:
			autos = append(autos, candidate{p: p, score: a.autoScore(base, p), rank: a.extensions.Rank(p.Extension)})
		}
	}
	out.AutoReasonNumber = len(autos)

	auto, ambiguous := a.bestAuto(autos)
	var err error
	if ambiguous {
		err = fmt.Errorf("%w: %d auto-reasons with score %g", ErrAmbiguousArbitration, len(autos), auto.score)
	}

	switch {
	case manual != nil && (auto == nil || manual.Score >= auto.score) && (!hasDefault || manual.Score >= def.Score):
		out.Reason, out.Details, out.Score = manual.Reason, manual.Details, manual.Score
		out.Source = slot.SourceManual
		if auto != nil && manual.Score == auto.score {
			out.Source |= slot.SourceUnsafeManual
		}
		return out, nil
	case auto != nil && (!hasDefault || auto.score >= def.Score || def.DefaultIsAuto):
		out.Reason, out.Details, out.Score = auto.p.Reason, auto.p.Details, auto.score
		out.Source = slot.SourceAuto
		if ambiguous {
			out.Source |= slot.SourceUnsafeAutoReasonNumber
		}
		return out, err
	case hasDefault:
		out.Reason, out.Score, out.OverwriteRequired = def.Reason, def.Score, def.OverwriteRequired
		out.Source = slot.SourceDefault
		if def.DefaultIsAuto {
			out.Source |= slot.SourceDefaultIsAuto
		}
		return out, nil
	default:
		return out, nil
	}
}

// autoScore uses the claim's own score when set, the extension's otherwise.
func (a *Arbiter) autoScore(base Base, p Proposal) float64 {
	if p.Score != 0 {
		return p.Score
	}
	if ext, ok := a.extensions.Get(p.Extension); ok {
		return ext.Score(base.MachineMode, base.ObservationState, p.Reason)
	}
	return 0
}

// bestAuto orders candidates by score, then lets the oldest claim of the
// top score stand unless a later one may replace it: it is unsafe, or its
// extension accepts the reset. Ties nobody resolves keep the oldest claim
// and are reported as ambiguous.
func (a *Arbiter) bestAuto(autos []candidate) (*candidate, bool) {
	if len(autos) == 0 {
		return nil, false
	}
	sort.SliceStable(autos, func(i, j int) bool {
		x, y := autos[i], autos[j]
		if x.score != y.score {
			return x.score > y.score
		}
		if !x.p.LogicalTime.Equal(y.p.LogicalTime) {
			return x.p.LogicalTime.Before(y.p.LogicalTime)
		}
		if x.rank != y.rank {
			return x.rank < y.rank
		}
		return x.p.ID < y.p.ID
	})

	top := autos[0].score
	resident := 0
	ambiguous := false
	for i := 1; i < len(autos) && autos[i].score == top; i++ {
		c := autos[i]
		if c.p.Reason == autos[resident].p.Reason {
			continue
		}
		if c.p.Unsafe {
			resident = i
			continue
		}
		if ext, ok := a.extensions.Get(c.p.Extension); ok && ext.IsResetApplicable(slot.SourceAuto, top, len(autos)) {
			resident = i
			continue
		}
		if c.p.Extension != autos[resident].p.Extension {
			ambiguous = true
		}
	}
	return &autos[resident], ambiguous
}

func newer(a, b Proposal) bool {
	if !a.LogicalTime.Equal(b.LogicalTime) {
		return a.LogicalTime.After(b.LogicalTime)
	}
	return a.ID > b.ID
}

// Recompute rebuilds the reason slots of window over rng from their base
// context and the proposals. window holds the reason slots overlapping or
// adjacent to rng; pieces without machine mode stay uncovered.
func (a *Arbiter) Recompute(machine string, window []slot.Slot[slot.Reason], rng interval.Interval, proposals []Proposal, newID func() string) (slot.Result[slot.Reason], []Warning, error) {
	keep := func(prev Base, _ interval.Interval) Base { return prev }
	return a.Rebase(machine, window, rng, keep, proposals, nil, newID)
}

// Rebase rewrites the context of the reason slots of window over rng with
// set, creating reason slots where set gives a machine mode to an
// uncovered period, then re-arbitrates.
func (a *Arbiter) Rebase(machine string, window []slot.Slot[slot.Reason], rng interval.Interval, set func(prev Base, piece interval.Interval) Base, proposals []Proposal, cuts []time.Time, newID func() string) (slot.Result[slot.Reason], []Warning, error) {
	active := make([]Proposal, 0, len(proposals))
	for _, p := range proposals {
		if p.Active() && p.Range.Overlaps(rng) {
			active = append(active, p)
		}
	}
	var warnings []Warning
	overlay := func(prev slot.Reason, piece interval.Interval) slot.Reason {
		base := set(Base{MachineMode: prev.MachineMode, ObservationState: prev.ObservationState, Shift: prev.Shift}, piece)
		if base.MachineMode == "" {
			return slot.Reason{}
		}
		var claims []Proposal
		for _, p := range active {
			if p.Range.ContainsInterval(piece) {
				claims = append(claims, p)
			}
		}
		r, err := a.Resolve(base, claims)
		if err != nil {
			warnings = append(warnings, Warning{Range: piece, Err: err})
		}
		return r
	}
	res, err := slot.Apply(machine, window, rng, overlay, slot.Options{Cuts: append(Boundaries(active), cuts...), NewID: newID})
	if err != nil {
		return slot.Result[slot.Reason]{}, nil, fmt.Errorf("rebase reasons on %s: %w", rng, err)
	}
	for _, w := range warnings {
		a.logger.Warn().Str("machine", machine).Str("range", w.Range.String()).Err(w.Err).Msg("reason arbitration fallback")
	}
	return res, warnings, nil
}

// ResetOnContextChange asks the extensions owning auto-reasons over the
// slots of window whether a context change to next over rng removes them.
func (a *Arbiter) ResetOnContextChange(window []slot.Slot[slot.Reason], rng interval.Interval, next func(prev Context) Context, proposals []Proposal, newID func() string) Change {
	var ch Change
	current := append([]Proposal(nil), proposals...)
	for _, s := range window {
		part, ok := s.Interval.Intersect(rng)
		if !ok {
			continue
		}
		prev := Context{MachineMode: s.Attrs.MachineMode, ObservationState: s.Attrs.ObservationState}
		nc := next(prev)
		if nc == prev {
			continue
		}
		step := Trim(current, part, func(p Proposal) bool {
			if p.Kind != ProposalAuto {
				return false
			}
			ext, ok := a.extensions.Get(p.Extension)
			return ok && ext.RequiredResetKind(prev, nc) == ResetFull
		}, newID)
		if step.Empty() {
			continue
		}
		current = Apply(current, step)
		ch.Merge(step)
	}
	return compact(proposals, ch)
}

// compact folds a sequence of changes into net upserts and deletes
// relative to original.
func compact(original []Proposal, ch Change) Change {
	final := Apply(original, ch)
	present := make(map[string]Proposal, len(final))
	for _, p := range final {
		present[p.ID] = p
	}
	var out Change
	orig := make(map[string]Proposal, len(original))
	for _, p := range original {
		orig[p.ID] = p
		if _, ok := present[p.ID]; !ok {
			out.Deleted = append(out.Deleted, p)
		}
	}
	for _, p := range final {
		if o, ok := orig[p.ID]; ok && o.Range.Equal(p.Range) {
			continue
		}
		out.Upserted = append(out.Upserted, p)
	}
	return out
}
