/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package interval

import "time"

// Calendar maps instants to production days. A production day starts at
// midnight plus CutOff in Location.
type Calendar struct {
	Location *time.Location
	CutOff   time.Duration
}

// UTC is the calendar used when nothing is configured.
var UTC = Calendar{Location: time.UTC}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DayOf returns the production day containing t, as a UTC midnight date.
func (c Calendar) DayOf(t time.Time) time.Time {
	local := t.In(c.loc()).Add(-c.CutOff)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DayStart returns the instant the production day containing t begins.
func (c Calendar) DayStart(t time.Time) time.Time {
	local := t.In(c.loc()).Add(-c.CutOff)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc())
	return start.Add(c.CutOff).UTC()
}

// NextDayStart returns the first day boundary strictly after t.
func (c Calendar) NextDayStart(t time.Time) time.Time {
	start := c.DayStart(t)
	// AddDate keeps wall clock across DST changes.
	return start.In(c.loc()).AddDate(0, 0, 1).UTC()
}

// DayBoundaries returns every day boundary strictly inside (from, to).
// A zero to stops after the first boundary following from.
func (c Calendar) DayBoundaries(from, to time.Time) []time.Time {
	if from.IsZero() {
		return nil
	}
	var out []time.Time
	for b := c.NextDayStart(from); ; b = c.NextDayStart(b) {
		if !to.IsZero() && !b.Before(to) {
			break
		}
		out = append(out, b)
		if to.IsZero() {
			break
		}
	}
	return out
}

// SplitByDay cuts a bounded interval into per-day pieces. Unbounded
// intervals are returned whole.
func (c Calendar) SplitByDay(iv Interval) []Interval {
	if !iv.HasLower() || !iv.HasUpper() {
		return []Interval{iv}
	}
	out := make([]Interval, 0, 2)
	lower := iv.Lower
	for _, b := range c.DayBoundaries(iv.Lower, iv.Upper) {
		out = append(out, Interval{Lower: lower, Upper: b})
		lower = b
	}
	return append(out, Interval{Lower: lower, Upper: iv.Upper})
}
