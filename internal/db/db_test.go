/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/friendsincode/slotwise/internal/config"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/telemetry"
)

func TestConnectAndMigrateSQLite(t *testing.T) {
	cfg := &config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       ":memory:",
	}
	database, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer Close(database)

	for i := 0; i < 2; i++ {
		if err := Migrate(database); err != nil {
			t.Fatalf("Migrate() pass %d error = %v", i+1, err)
		}
	}

	for _, table := range []any{
		&models.OperationSlot{},
		&models.ReasonSlot{},
		&models.Modification{},
		&models.WorkOrderComponent{},
	} {
		if !database.Migrator().HasTable(table) {
			t.Errorf("table for %T missing after Migrate()", table)
		}
	}

	// Queries run through the telemetry callbacks.
	var n int64
	if err := database.Model(&models.Modification{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	UpdateConnectionMetrics(database)
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{DBBackend: "oracle", DBDSN: "x"}
	if _, err := Connect(cfg); err == nil {
		t.Error("Connect() error = nil, want error")
	}
}

func TestCallbacksLabelSchemaTables(t *testing.T) {
	cfg := &config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       ":memory:",
	}
	database, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer Close(database)
	if err := Migrate(database); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	created := telemetry.DatabaseRowsAffected.WithLabelValues("create", "operation_slots")
	failed := telemetry.DatabaseErrorsTotal.WithLabelValues("query", otherTable)
	createdBefore, failedBefore := testutil.ToFloat64(created), testutil.ToFloat64(failed)

	begin := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rows := []models.OperationSlot{
		{ID: "s1", MachineID: "press-1", BeginAt: &begin, OperationID: "op-1"},
		{ID: "s2", MachineID: "press-2", BeginAt: &begin, OperationID: "op-1"},
	}
	if err := database.Create(&rows).Error; err != nil {
		t.Fatalf("create slots: %v", err)
	}
	var missing []models.OperationSlot
	if err := database.Table("no_such_table").Find(&missing).Error; err == nil {
		t.Fatal("query on a missing table succeeded")
	}

	if got := testutil.ToFloat64(created) - createdBefore; got != 2 {
		t.Errorf("rows affected on operation_slots = %v, want 2", got)
	}
	if got := testutil.ToFloat64(failed) - failedBefore; got != 1 {
		t.Errorf("errors on other tables = %v, want 1", got)
	}
}
