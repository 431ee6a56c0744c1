/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/store"
)

var submitFile string

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue modifications for analysis",
	Long: `Queue the modifications listed in a YAML document, in document order.

Example:

  - machine: press-1
    kind: machine_mode_association
    begin: 2026-03-02T08:00:00Z
    end: 2026-03-02T09:00:00Z
    payload:
      machine_mode: active`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "-", "YAML file of modifications, - for stdin")
	rootCmd.AddCommand(submitCmd)
}

// submission is the YAML form of a modification.
type submission struct {
	Machine         string         `yaml:"machine"`
	Kind            string         `yaml:"kind"`
	Begin           *time.Time     `yaml:"begin"`
	End             *time.Time     `yaml:"end"`
	AssociateToSlot bool           `yaml:"associate_to_slot"`
	Unsafe          bool           `yaml:"unsafe"`
	Priority        int            `yaml:"priority"`
	Payload         map[string]any `yaml:"payload"`
}

// parseSubmissions decodes a YAML list of modifications. Logical times
// follow document order, starting at now.
func parseSubmissions(data []byte, now time.Time) ([]models.Modification, error) {
	var docs []submission
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse modifications: %w", err)
	}

	out := make([]models.Modification, 0, len(docs))
	for i, d := range docs {
		if d.Machine == "" {
			return nil, fmt.Errorf("modification %d: machine is required", i)
		}
		kind := models.ModificationKind(d.Kind)
		if !kind.Valid() {
			return nil, fmt.Errorf("modification %d: unknown kind %q", i, d.Kind)
		}

		var payload models.ModificationPayload
		if len(d.Payload) > 0 {
			raw, err := json.Marshal(d.Payload)
			if err != nil {
				return nil, fmt.Errorf("modification %d: %w", i, err)
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, fmt.Errorf("modification %d payload: %w", i, err)
			}
		}

		out = append(out, models.Modification{
			MachineID:       d.Machine,
			Kind:            kind,
			BeginAt:         d.Begin,
			EndAt:           d.End,
			Payload:         payload,
			AssociateToSlot: d.AssociateToSlot,
			Unsafe:          d.Unsafe,
			Priority:        d.Priority,
			LogicalTime:     now.Add(time.Duration(i) * time.Microsecond),
		})
	}
	return out, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if submitFile == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(submitFile)
	}
	if err != nil {
		return fmt.Errorf("read modifications: %w", err)
	}

	mods, err := parseSubmissions(data, time.Now().UTC())
	if err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)
	repo := store.New(database)

	for i := range mods {
		if err := repo.Modifications().Enqueue(cmd.Context(), &mods[i]); err != nil {
			return err
		}
		logger.Debug().Str("id", mods[i].ID).Str("machine", mods[i].MachineID).Str("kind", string(mods[i].Kind)).Msg("modification queued")
	}
	logger.Info().Int("count", len(mods)).Msg("modifications queued")
	return nil
}
