/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reason

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
)

// ErrUnknownProvider is returned when a dynamic end names no registered provider.
var ErrUnknownProvider = errors.New("unknown dynamic time provider")

// Strategy controls how a hinted dynamic end is applied.
type Strategy string

const (
	// StrategyAggressive applies the whole requested range on the first
	// usable answer and shrinks it once the final end is known.
	StrategyAggressive Strategy = "aggressive"
	// StrategyProgressive applies the range up to the latest hint only, so
	// it grows monotonically.
	StrategyProgressive Strategy = "progressive"
)

// ParseStrategy accepts "" as aggressive.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyAggressive:
		return StrategyAggressive, nil
	case StrategyProgressive:
		return StrategyProgressive, nil
	default:
		return "", fmt.Errorf("unknown dynamic end strategy %q", s)
	}
}

// ResolutionKind is the outcome class of a dynamic end query.
type ResolutionKind int

const (
	Pending ResolutionKind = iota
	WithHint
	Final
)

func (k ResolutionKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case WithHint:
		return "hint"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// Resolution is the answer of a DynamicTimeProvider.
type Resolution struct {
	Kind ResolutionKind
	At   time.Time
}

// NotYet is a pending resolution.
func NotYet() Resolution { return Resolution{Kind: Pending} }

// Hint is a lower-bound estimate of the end.
func Hint(t time.Time) Resolution { return Resolution{Kind: WithHint, At: t} }

// Exactly is the final end.
func Exactly(t time.Time) Resolution { return Resolution{Kind: Final, At: t} }

// DynamicTimeProvider resolves the end of a period starting at at. hint is
// the previous hint (zero on the first query) and limit the requested upper
// bound (zero when unbounded).
type DynamicTimeProvider interface {
	Resolve(ctx context.Context, machine string, at, hint, limit time.Time) (Resolution, error)
}

// ProviderFunc adapts a function to DynamicTimeProvider.
type ProviderFunc func(ctx context.Context, machine string, at, hint, limit time.Time) (Resolution, error)

func (f ProviderFunc) Resolve(ctx context.Context, machine string, at, hint, limit time.Time) (Resolution, error) {
	return f(ctx, machine, at, hint, limit)
}

// DynamicEnd is the lazy upper bound state of a proposal.
type DynamicEnd struct {
	Provider string
	Strategy Strategy
	// Limit is the requested upper bound, zero when unbounded.
	Limit time.Time
	// Hint is the last hint received.
	Hint time.Time
	// Applied is set once the claim covers something.
	Applied bool
	Final   bool
	// Queries counts provider calls.
	Queries int
}

func (d *DynamicEnd) clone() *DynamicEnd {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Step is the outcome of one dynamic end query.
type Step struct {
	Proposal Proposal
	Result   Resolution
	// Dirty is the range whose reason slots must be recomputed, empty when
	// the applied range did not change.
	Dirty interval.Interval
	Changed bool
}

// Advance queries provider once for p and applies the answer according to
// p's strategy.
func Advance(ctx context.Context, p Proposal, provider DynamicTimeProvider) (Step, error) {
	d := p.Dynamic
	if d == nil || d.Final {
		return Step{Proposal: p, Result: Exactly(p.Range.Upper)}, nil
	}
	res, err := provider.Resolve(ctx, p.Machine, p.Range.Lower, d.Hint, d.Limit)
	if err != nil {
		return Step{}, fmt.Errorf("resolve dynamic end of %s: %w", p.ID, err)
	}

	next := p
	nd := d.clone()
	nd.Queries++
	next.Dynamic = nd

	switch res.Kind {
	case Pending:
	case WithHint:
		hint := clampUpper(res.At, d.Limit)
		if interval.CompareUpper(hint, nd.Hint) > 0 || nd.Hint.IsZero() {
			nd.Hint = hint
		}
		upper := nd.Hint
		if nd.Strategy == StrategyAggressive {
			upper = d.Limit
		}
		next = widen(next, upper)
	case Final:
		nd.Final = true
		nd.Hint = time.Time{}
		next.Range.Upper = clampUpper(res.At, d.Limit)
		nd.Applied = interval.LowerBeforeUpper(next.Range.Lower, next.Range.Upper)
	}

	step := Step{Proposal: next, Result: res}
	oldActive, newActive := p.Active(), next.Active()
	switch {
	case !oldActive && !newActive:
	case oldActive && newActive && p.Range.Equal(next.Range):
	case !oldActive:
		step.Dirty, step.Changed = next.Range, true
	case !newActive:
		step.Dirty, step.Changed = p.Range, true
	default:
		step.Dirty, step.Changed = p.Range.Union(next.Range), true
	}
	return step, nil
}

// widen moves the applied upper bound to upper, never shrinking an
// applied range before the final answer.
func widen(p Proposal, upper time.Time) Proposal {
	if p.Dynamic.Applied && interval.CompareUpper(upper, p.Range.Upper) <= 0 {
		return p
	}
	if !interval.LowerBeforeUpper(p.Range.Lower, upper) {
		return p
	}
	p.Range.Upper = upper
	p.Dynamic.Applied = true
	return p
}

func clampUpper(t, limit time.Time) time.Time {
	if interval.CompareUpper(limit, t) < 0 {
		return limit
	}
	return t
}
