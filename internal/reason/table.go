/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reason resolves the reason of every reason slot from the default
// table, manual overrides and competing auto-reason extensions.
package reason

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default_table.yaml
var defaultTableYAML []byte

// ErrInvalidTable is returned when a reason table fails validation.
var ErrInvalidTable = errors.New("invalid reason table")

// Mode describes a machine mode.
type Mode struct {
	Name    string `yaml:"name"`
	Running bool   `yaml:"running"`
}

// Entry is one default-reason rule.
type Entry struct {
	MachineMode string `yaml:"machine_mode"`
	// ObservationState restricts the rule; empty matches any state.
	ObservationState  string  `yaml:"observation_state"`
	Reason            string  `yaml:"reason"`
	Score             float64 `yaml:"score"`
	OverwriteRequired bool    `yaml:"overwrite_required"`
	DefaultIsAuto     bool    `yaml:"default_is_auto"`
	Priority          int     `yaml:"priority"`
}

// ExtensionConfig declares a StaticExtension.
type ExtensionConfig struct {
	Name               string             `yaml:"name"`
	Scores             map[string]float64 `yaml:"scores"`
	ResetOnModeChange  bool               `yaml:"reset_on_mode_change"`
	ResetOnStateChange bool               `yaml:"reset_on_state_change"`
	Supersedes         bool               `yaml:"supersedes"`
}

// Table holds machine modes, default reasons and the declared auto-reason
// extensions.
type Table struct {
	Modes      []Mode            `yaml:"machine_modes"`
	Defaults   []Entry           `yaml:"defaults"`
	Extensions []ExtensionConfig `yaml:"extensions"`

	running map[string]bool
}

// DefaultTable returns the built-in table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultTableYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in reason table: %v", err))
	}
	return t
}

// LoadTable reads a table from a YAML file. An empty path yields the
// built-in table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reason table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML table.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode reason table: %w", err)
	}
	if err := t.init(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) init() error {
	t.running = make(map[string]bool, len(t.Modes))
	for _, m := range t.Modes {
		if m.Name == "" {
			return fmt.Errorf("%w: machine mode without name", ErrInvalidTable)
		}
		if _, dup := t.running[m.Name]; dup {
			return fmt.Errorf("%w: duplicate machine mode %q", ErrInvalidTable, m.Name)
		}
		t.running[m.Name] = m.Running
	}
	for i, e := range t.Defaults {
		if _, ok := t.running[e.MachineMode]; !ok {
			return fmt.Errorf("%w: default %d references unknown machine mode %q", ErrInvalidTable, i, e.MachineMode)
		}
		if e.Reason == "" {
			return fmt.Errorf("%w: default %d has no reason", ErrInvalidTable, i)
		}
	}
	for i, e := range t.Extensions {
		if e.Name == "" {
			return fmt.Errorf("%w: extension %d has no name", ErrInvalidTable, i)
		}
	}
	sort.SliceStable(t.Defaults, func(i, j int) bool {
		a, b := t.Defaults[i], t.Defaults[j]
		if (a.ObservationState != "") != (b.ObservationState != "") {
			return a.ObservationState != ""
		}
		return a.Priority > b.Priority
	})
	return nil
}

// Registry registers the declared extensions in file order, followed by
// extra ones.
func (t *Table) Registry(extra ...Extension) (*Registry, error) {
	exts := make([]Extension, 0, len(t.Extensions)+len(extra))
	for _, e := range t.Extensions {
		exts = append(exts, StaticExtension{
			ExtensionName:      e.Name,
			Scores:             e.Scores,
			ResetOnModeChange:  e.ResetOnModeChange,
			ResetOnStateChange: e.ResetOnStateChange,
			Supersedes:         e.Supersedes,
		})
	}
	return NewRegistry(append(exts, extra...)...)
}

// Running reports whether mode counts as production time.
func (t *Table) Running(mode string) bool { return t.running[mode] }

// Known reports whether mode is declared.
func (t *Table) Known(mode string) bool {
	_, ok := t.running[mode]
	return ok
}

// Default returns the default reason of (mode, state). A rule naming the
// state wins over a wildcard one, then the highest priority.
func (t *Table) Default(mode, state string) (Entry, bool) {
	for _, e := range t.Defaults {
		if e.MachineMode != mode {
			continue
		}
		if e.ObservationState == "" || e.ObservationState == state {
			return e, true
		}
	}
	return Entry{}, false
}
