/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package interval implements half-open time ranges with optionally
// unbounded ends. A zero time.Time bound means "unbounded" on that side.
package interval

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmpty is returned when a range would not contain any instant.
var ErrEmpty = errors.New("empty interval")

// Interval is [Lower, Upper). A zero Lower is -inf, a zero Upper is +inf.
type Interval struct {
	Lower time.Time
	Upper time.Time
}

// New builds a validated interval.
func New(lower, upper time.Time) (Interval, error) {
	iv := Interval{Lower: lower, Upper: upper}
	if iv.IsEmpty() {
		return Interval{}, fmt.Errorf("%w: [%s, %s)", ErrEmpty, formatBound(lower, "-oo"), formatBound(upper, "+oo"))
	}
	return iv, nil
}

// Must is New for literals known to be valid.
func Must(lower, upper time.Time) Interval {
	iv, err := New(lower, upper)
	if err != nil {
		panic(err)
	}
	return iv
}

// From returns [lower, +inf).
func From(lower time.Time) Interval { return Interval{Lower: lower} }

// Until returns (-inf, upper).
func Until(upper time.Time) Interval { return Interval{Upper: upper} }

// All returns the unbounded interval.
func All() Interval { return Interval{} }

// HasLower reports whether the lower bound is finite.
func (iv Interval) HasLower() bool { return !iv.Lower.IsZero() }

// HasUpper reports whether the upper bound is finite.
func (iv Interval) HasUpper() bool { return !iv.Upper.IsZero() }

// IsEmpty reports whether no instant is contained.
func (iv Interval) IsEmpty() bool {
	return iv.HasLower() && iv.HasUpper() && !iv.Lower.Before(iv.Upper)
}

// Contains reports whether t lies in [Lower, Upper).
func (iv Interval) Contains(t time.Time) bool {
	if iv.HasLower() && t.Before(iv.Lower) {
		return false
	}
	if iv.HasUpper() && !t.Before(iv.Upper) {
		return false
	}
	return true
}

// ContainsEnd reports whether t lies in (Lower, Upper], the set of
// instants that can close a sub-range of iv.
func (iv Interval) ContainsEnd(t time.Time) bool {
	if iv.HasLower() && !iv.Lower.Before(t) {
		return false
	}
	if iv.HasUpper() && iv.Upper.Before(t) {
		return false
	}
	return true
}

// StrictlyContains reports whether t lies in (Lower, Upper).
func (iv Interval) StrictlyContains(t time.Time) bool {
	return iv.Contains(t) && (!iv.HasLower() || iv.Lower.Before(t))
}

// ContainsInterval reports whether o is entirely inside iv.
func (iv Interval) ContainsInterval(o Interval) bool {
	return CompareLower(iv.Lower, o.Lower) <= 0 && CompareUpper(o.Upper, iv.Upper) <= 0
}

// Overlaps reports whether the two intervals share at least one instant.
func (iv Interval) Overlaps(o Interval) bool {
	return LowerBeforeUpper(iv.Lower, o.Upper) && LowerBeforeUpper(o.Lower, iv.Upper)
}

// Touches reports whether the intervals overlap or are adjacent.
func (iv Interval) Touches(o Interval) bool {
	return iv.Overlaps(o) || iv.Adjacent(o)
}

// Adjacent reports whether one interval ends exactly where the other starts.
func (iv Interval) Adjacent(o Interval) bool {
	if iv.HasUpper() && o.HasLower() && iv.Upper.Equal(o.Lower) {
		return true
	}
	return o.HasUpper() && iv.HasLower() && o.Upper.Equal(iv.Lower)
}

// Intersect returns the common part of both intervals.
func (iv Interval) Intersect(o Interval) (Interval, bool) {
	out := Interval{Lower: MaxLower(iv.Lower, o.Lower), Upper: MinUpper(iv.Upper, o.Upper)}
	if !LowerBeforeUpper(out.Lower, out.Upper) {
		return Interval{}, false
	}
	return out, true
}

// Union returns the smallest interval covering both. Only meaningful when
// the two intervals touch.
func (iv Interval) Union(o Interval) Interval {
	lower := iv.Lower
	if CompareLower(o.Lower, lower) < 0 {
		lower = o.Lower
	}
	upper := iv.Upper
	if CompareUpper(o.Upper, upper) > 0 {
		upper = o.Upper
	}
	return Interval{Lower: lower, Upper: upper}
}

// Duration returns the length of a bounded interval.
func (iv Interval) Duration() (time.Duration, bool) {
	if !iv.HasLower() || !iv.HasUpper() {
		return 0, false
	}
	return iv.Upper.Sub(iv.Lower), true
}

// Equal compares both bounds.
func (iv Interval) Equal(o Interval) bool {
	return iv.Lower.Equal(o.Lower) && iv.Upper.Equal(o.Upper)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", formatBound(iv.Lower, "-oo"), formatBound(iv.Upper, "+oo"))
}

// CompareLower orders two lower bounds, zero being -inf.
func CompareLower(a, b time.Time) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return -1
	case b.IsZero():
		return 1
	}
	return a.Compare(b)
}

// CompareUpper orders two upper bounds, zero being +inf.
func CompareUpper(a, b time.Time) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return 1
	case b.IsZero():
		return -1
	}
	return a.Compare(b)
}

// LowerBeforeUpper reports lower < upper with the infinity conventions.
func LowerBeforeUpper(lower, upper time.Time) bool {
	if lower.IsZero() || upper.IsZero() {
		return true
	}
	return lower.Before(upper)
}

// MaxLower returns the later of two lower bounds.
func MaxLower(a, b time.Time) time.Time {
	if CompareLower(a, b) >= 0 {
		return a
	}
	return b
}

// MinUpper returns the earlier of two upper bounds.
func MinUpper(a, b time.Time) time.Time {
	if CompareUpper(a, b) <= 0 {
		return a
	}
	return b
}

func formatBound(t time.Time, inf string) string {
	if t.IsZero() {
		return inf
	}
	return t.UTC().Format(time.RFC3339)
}
