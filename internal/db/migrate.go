/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/friendsincode/slotwise/internal/models"
	"gorm.io/gorm"
)

// schema lists every persisted model, in migration order.
var schema = []any{
	// Slot partitions
	&models.OperationSlot{},
	&models.ObservationStateSlot{},
	&models.ReasonSlot{},
	&models.OperationCycle{},
	&models.ReasonProposal{},

	// Aggregates
	&models.Summary{},

	// Modification queue
	&models.Modification{},
	&models.AnalysisLog{},

	// Catalogue
	&models.Operation{},
	&models.Component{},
	&models.WorkOrder{},
	&models.OperationComponent{},
	&models.WorkOrderComponent{},
}

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(schema...); err != nil {
		return err
	}

	return applyPostgresSlotOrderGuard(database)
}

// applyPostgresSlotOrderGuard rejects slot rows whose bounds are reversed.
func applyPostgresSlotOrderGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}
	for _, table := range []string{"operation_slots", "observation_state_slots", "reason_slots"} {
		stmt := `
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '` + table + `_bounds_ordered') THEN
    ALTER TABLE ` + table + ` ADD CONSTRAINT ` + table + `_bounds_ordered
      CHECK (begin_at IS NULL OR end_at IS NULL OR begin_at < end_at);
  END IF;
END $$;`
		if err := database.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
