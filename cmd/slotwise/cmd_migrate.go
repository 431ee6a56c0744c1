/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwise/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		database, err := initDatabase()
		if err != nil {
			return err
		}
		defer db.Close(database)

		logger.Info().Str("backend", string(cfg.DBBackend)).Msg("database schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
