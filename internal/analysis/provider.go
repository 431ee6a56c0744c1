/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"context"
	"time"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/reason"
	"github.com/friendsincode/slotwise/internal/slot"
	"github.com/friendsincode/slotwise/internal/store"
)

// ProviderModeChange is the built-in dynamic time provider ending a period
// at the next machine mode change.
const ProviderModeChange = "machine_mode_change"

type modeChangeProvider struct {
	reasons store.SlotStore[slot.Reason]
}

// Resolve walks the contiguous reason slots from at. A different machine
// mode is the final end; a gap in the known activity only hints that the
// mode lasted until the gap.
func (p modeChangeProvider) Resolve(ctx context.Context, machine string, at, _, limit time.Time) (reason.Resolution, error) {
	slots, err := p.reasons.FindOverlapping(ctx, machine, interval.Interval{Lower: at, Upper: limit})
	if err != nil {
		return reason.Resolution{}, err
	}
	start := -1
	for i, s := range slots {
		if s.Interval.Contains(at) {
			start = i
			break
		}
	}
	if start < 0 {
		return reason.NotYet(), nil
	}
	mode := slots[start].Attrs.MachineMode
	cur := slots[start]
	for _, s := range slots[start+1:] {
		if !cur.Interval.HasUpper() || !s.Interval.Lower.Equal(cur.Interval.Upper) {
			break
		}
		if s.Attrs.MachineMode != mode {
			return reason.Exactly(s.Interval.Lower), nil
		}
		cur = s
	}
	switch {
	case !cur.Interval.HasUpper():
		if cur.Interval.Lower.After(at) {
			return reason.Hint(cur.Interval.Lower), nil
		}
		return reason.NotYet(), nil
	case !limit.IsZero() && !cur.Interval.Upper.Before(limit):
		return reason.Exactly(limit), nil
	default:
		return reason.Hint(cur.Interval.Upper), nil
	}
}
