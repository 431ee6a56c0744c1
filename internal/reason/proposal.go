/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reason

import (
	"sort"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/google/uuid"
)

// ProposalKind distinguishes operator claims from extension claims.
type ProposalKind string

const (
	ProposalManual ProposalKind = "manual"
	ProposalAuto   ProposalKind = "auto"
)

// Proposal is a persisted reason claim over a range of one machine.
type Proposal struct {
	ID        string
	Machine   string
	Kind      ProposalKind
	Range     interval.Interval
	Reason    string
	Details   string
	Score     float64
	Extension string
	// Unsafe lets an auto claim replace a protected auto-reason of equal score.
	Unsafe      bool
	LogicalTime time.Time
	// ModificationID is the modification that created the claim.
	ModificationID string
	// Dynamic is set while the upper bound is resolved lazily; Range.Upper
	// is then the currently applied bound.
	Dynamic *DynamicEnd
}

// Active reports whether the claim currently covers anything.
func (p Proposal) Active() bool {
	return !p.Range.IsEmpty() && (p.Dynamic == nil || p.Dynamic.Applied)
}

// Change lists proposal rows to write and delete.
type Change struct {
	Upserted []Proposal
	Deleted  []Proposal
}

// Empty reports whether c does nothing.
func (c Change) Empty() bool { return len(c.Upserted) == 0 && len(c.Deleted) == 0 }

// Merge appends o to c.
func (c *Change) Merge(o Change) {
	c.Upserted = append(c.Upserted, o.Upserted...)
	c.Deleted = append(c.Deleted, o.Deleted...)
}

// Subtract removes rng from p, returning zero, one or two remaining parts.
// The first remaining part keeps p's ID.
func Subtract(p Proposal, rng interval.Interval, newID func() string) []Proposal {
	if newID == nil {
		newID = uuid.NewString
	}
	cut, ok := p.Range.Intersect(rng)
	if !ok {
		return []Proposal{p}
	}
	var out []Proposal
	if interval.CompareLower(p.Range.Lower, cut.Lower) < 0 {
		before := p
		before.Range = interval.Interval{Lower: p.Range.Lower, Upper: cut.Lower}
		before.Dynamic = nil
		out = append(out, before)
	}
	if interval.CompareUpper(cut.Upper, p.Range.Upper) < 0 {
		after := p
		after.Range = interval.Interval{Lower: cut.Upper, Upper: p.Range.Upper}
		if len(out) > 0 {
			after.ID = newID()
			after.Dynamic = p.Dynamic.clone()
		}
		out = append(out, after)
	}
	return out
}

// Trim removes rng from every proposal selected by match.
func Trim(existing []Proposal, rng interval.Interval, match func(Proposal) bool, newID func() string) Change {
	var ch Change
	for _, p := range existing {
		if !match(p) || !p.Range.Overlaps(rng) {
			continue
		}
		rest := Subtract(p, rng, newID)
		if len(rest) == 0 || rest[0].ID != p.ID {
			ch.Deleted = append(ch.Deleted, p)
		}
		ch.Upserted = append(ch.Upserted, rest...)
	}
	return ch
}

// TrimOlderManual removes rng from manual proposals older than at, the
// effect of a new manual reason over rng.
func TrimOlderManual(existing []Proposal, rng interval.Interval, at time.Time, newID func() string) Change {
	return Trim(existing, rng, func(p Proposal) bool {
		return p.Kind == ProposalManual && !p.LogicalTime.After(at)
	}, newID)
}

// TrimManual removes rng from every manual proposal, the effect of a
// manual reason reset.
func TrimManual(existing []Proposal, rng interval.Interval, newID func() string) Change {
	return Trim(existing, rng, func(p Proposal) bool { return p.Kind == ProposalManual }, newID)
}

// Apply returns existing with ch applied, sorted by lower bound then ID.
func Apply(existing []Proposal, ch Change) []Proposal {
	byID := make(map[string]Proposal, len(existing))
	for _, p := range existing {
		byID[p.ID] = p
	}
	for _, p := range ch.Deleted {
		delete(byID, p.ID)
	}
	for _, p := range ch.Upserted {
		byID[p.ID] = p
	}
	out := make([]Proposal, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := interval.CompareLower(out[i].Range.Lower, out[j].Range.Lower); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Boundaries returns the bounds of active proposals, the instants where
// reason slots must be cut before arbitration.
func Boundaries(proposals []Proposal) []time.Time {
	var out []time.Time
	for _, p := range proposals {
		if !p.Active() {
			continue
		}
		if p.Range.HasLower() {
			out = append(out, p.Range.Lower)
		}
		if p.Range.HasUpper() {
			out = append(out, p.Range.Upper)
		}
	}
	return out
}
