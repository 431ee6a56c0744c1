/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/store"
)

var statusMachine string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the analysis backlog",
	Long:  "Count modifications per analysis status. With --machine, also list the analysis log of that machine.",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusMachine, "machine", "", "Machine whose analysis log to print")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)
	repo := store.New(database)

	counts, err := repo.Modifications().CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, status := range []models.AnalysisStatus{models.StatusNew, models.StatusInProgress, models.StatusDone, models.StatusError} {
		fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if statusMachine == "" {
		return nil
	}
	entries, err := repo.Logs().List(cmd.Context(), statusMachine)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tLEVEL\tMODIFICATION\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Level, e.ModificationID, e.Message)
	}
	return w.Flush()
}
