/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"fmt"
	"testing"
)

func TestRing(t *testing.T) {
	ring := NewRing(100)

	if _, ok := ring.Owner("press-1"); ok {
		t.Fatal("expected no owner in empty ring")
	}

	ring.Add("instance-1")
	for i := 0; i < 10; i++ {
		machine := fmt.Sprintf("press-%d", i)
		owner, ok := ring.Owner(machine)
		if !ok || owner != "instance-1" {
			t.Errorf("Owner(%s) = %s, %v, want instance-1", machine, owner, ok)
		}
	}

	ring.Add("instance-2")
	assignments := make(map[string]int)
	for i := 0; i < 100; i++ {
		owner, ok := ring.Owner(fmt.Sprintf("press-%d", i))
		if !ok {
			t.Fatalf("press-%d: no owner", i)
		}
		assignments[owner]++
	}
	if assignments["instance-1"] == 0 || assignments["instance-2"] == 0 {
		t.Errorf("unbalanced assignment: %v", assignments)
	}

	ring.Remove("instance-2")
	for i := 0; i < 100; i++ {
		if owner, _ := ring.Owner(fmt.Sprintf("press-%d", i)); owner != "instance-1" {
			t.Errorf("press-%d owned by %s after removal", i, owner)
		}
	}
}

func TestRingOnlyMovesToNewInstance(t *testing.T) {
	ring := NewRing(0, "i1", "i2", "i3")

	initial := make(map[string]string)
	for i := 0; i < 300; i++ {
		machine := fmt.Sprintf("machine-%04d", i)
		initial[machine], _ = ring.Owner(machine)
	}

	ring.Add("i4")
	moved := 0
	for machine, old := range initial {
		owner, _ := ring.Owner(machine)
		if owner == old {
			continue
		}
		moved++
		if owner != "i4" {
			t.Errorf("%s moved from %s to %s, want i4", machine, old, owner)
		}
	}
	t.Logf("machines moved when adding 4th instance: %d/300", moved)
	if moved == 0 || moved == len(initial) {
		t.Errorf("moved = %d, want some but not all", moved)
	}
}

func TestRingOwnsPartitionsMachines(t *testing.T) {
	instances := []string{"a", "b", "c"}
	ring := NewRing(0, instances...)

	var machines []string
	for i := 0; i < 50; i++ {
		machines = append(machines, fmt.Sprintf("m%d", i))
	}

	seen := make(map[string]string)
	for _, inst := range instances {
		for _, m := range ring.Owns(inst, machines) {
			if prev, dup := seen[m]; dup {
				t.Errorf("%s owned by both %s and %s", m, prev, inst)
			}
			seen[m] = inst
		}
	}
	if len(seen) != len(machines) {
		t.Errorf("owned %d machines, want %d", len(seen), len(machines))
	}
}
