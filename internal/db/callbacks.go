/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"github.com/friendsincode/slotwise/internal/telemetry"
	"gorm.io/gorm"
)

const startedKey = "slotwise:statement_started"

// otherTable labels statements on tables outside the schema, so raw SQL
// cannot grow the label set.
const otherTable = "other"

type hook interface {
	Register(name string, fn func(*gorm.DB)) error
}

// RegisterCallbacks times every statement and counts errors and affected
// rows per schema table.
func RegisterCallbacks(db *gorm.DB) error {
	tables := make(map[string]bool, len(schema))
	for _, model := range schema {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return err
		}
		tables[stmt.Schema.Table] = true
	}

	cb := db.Callback()
	for _, h := range []struct {
		op            string
		before, after hook
	}{
		{"query", cb.Query().Before("gorm:query"), cb.Query().After("gorm:query")},
		{"row", cb.Row().Before("gorm:row"), cb.Row().After("gorm:row")},
		{"create", cb.Create().Before("gorm:create"), cb.Create().After("gorm:create")},
		{"update", cb.Update().Before("gorm:update"), cb.Update().After("gorm:update")},
		{"delete", cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete")},
		{"raw", cb.Raw().Before("gorm:raw"), cb.Raw().After("gorm:raw")},
	} {
		if err := h.before.Register("slotwise:before_"+h.op, started); err != nil {
			return err
		}
		if err := h.after.Register("slotwise:after_"+h.op, observe(h.op, tables)); err != nil {
			return err
		}
	}
	return nil
}

func started(db *gorm.DB) {
	db.InstanceSet(startedKey, time.Now())
}

func observe(op string, tables map[string]bool) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startedKey)
		if !ok {
			return
		}
		begin, ok := v.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if !tables[table] {
			table = otherTable
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(op, table).Observe(time.Since(begin).Seconds())

		switch {
		case db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound):
			telemetry.DatabaseErrorsTotal.WithLabelValues(op, table).Inc()
		case op != "query" && op != "row" && db.RowsAffected > 0:
			telemetry.DatabaseRowsAffected.WithLabelValues(op, table).Add(float64(db.RowsAffected))
		}
	}
}

// UpdateConnectionMetrics publishes the pool state. The serve command
// calls it on a ticker.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}

	stats := sqlDB.Stats()
	telemetry.DatabaseConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	telemetry.DatabaseConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	telemetry.DatabaseConnectionWaits.Set(float64(stats.WaitCount))
}
