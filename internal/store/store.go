/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists slots, cycles, reason proposals, summaries and
// modifications through gorm.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/slotwise/internal/cycle"
	"github.com/friendsincode/slotwise/internal/derivation"
	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/reason"
	"github.com/friendsincode/slotwise/internal/slot"
	"github.com/friendsincode/slotwise/internal/summary"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SlotStore reads and writes one slot partition.
type SlotStore[A slot.Payload[A]] interface {
	// FindOverlapping returns the slots sharing an instant with rng, sorted.
	FindOverlapping(ctx context.Context, machine string, rng interval.Interval) ([]slot.Slot[A], error)
	// FindTouching returns the slots overlapping or adjacent to rng, sorted.
	FindTouching(ctx context.Context, machine string, rng interval.Interval) ([]slot.Slot[A], error)
	// FindAll returns the whole partition of machine, sorted.
	FindAll(ctx context.Context, machine string) ([]slot.Slot[A], error)
	Persist(ctx context.Context, slots ...slot.Slot[A]) error
	Delete(ctx context.Context, slots ...slot.Slot[A]) error
}

// CycleStore reads and writes operation cycles.
type CycleStore interface {
	// FindInRange returns the cycles anchored in the closed range rng.
	FindInRange(ctx context.Context, machine string, rng interval.Interval) ([]cycle.Cycle, error)
	// FindBySlots returns the cycles attached to any of the slots.
	FindBySlots(ctx context.Context, slotIDs []string) ([]cycle.Cycle, error)
	Get(ctx context.Context, id string) (cycle.Cycle, error)
	Persist(ctx context.Context, cycles ...cycle.Cycle) error
}

// ProposalStore reads and writes reason proposals.
type ProposalStore interface {
	FindOverlapping(ctx context.Context, machine string, rng interval.Interval) ([]reason.Proposal, error)
	Unresolved(ctx context.Context, machine string) ([]reason.Proposal, error)
	Get(ctx context.Context, id string) (reason.Proposal, error)
	Apply(ctx context.Context, ch reason.Change) error
}

// SummaryStore extends the summary sink with reads.
type SummaryStore interface {
	summary.Store
	// Summary returns the stored value of key, zero when absent.
	Summary(ctx context.Context, key summary.Key) (summary.Value, error)
	List(ctx context.Context, machine string) ([]summary.Entry, error)
}

// ModificationStore reads and writes the modification queue.
type ModificationStore interface {
	Enqueue(ctx context.Context, m *models.Modification) error
	// Pending returns the top-level New and InProgress modifications of
	// machine in processing order. A positive maxAttempts skips
	// modifications that already used that many passes.
	Pending(ctx context.Context, machine string, maxAttempts, limit int) ([]models.Modification, error)
	PendingMachines(ctx context.Context, maxAttempts int) ([]string, error)
	Children(ctx context.Context, parentID string) ([]models.Modification, error)
	Save(ctx context.Context, m *models.Modification) error
	CountByStatus(ctx context.Context) (map[models.AnalysisStatus]int64, error)
}

// LogStore is the analysis log sink.
type LogStore interface {
	Add(ctx context.Context, entry models.AnalysisLog) error
	List(ctx context.Context, machine string) ([]models.AnalysisLog, error)
}

// CatalogStore exposes the operation/component/work order relations.
type CatalogStore interface {
	derivation.Catalog
	OperationQuantity(ctx context.Context, operation string) (int64, error)
	LinkOperation(ctx context.Context, operation, component string) error
	LinkWorkOrder(ctx context.Context, workOrder, component string) error
	SetOperationQuantity(ctx context.Context, operation string, quantity int64) error
}

// Tx groups the stores bound to one transaction.
type Tx interface {
	OperationSlots() SlotStore[slot.Operation]
	ObservationSlots() SlotStore[slot.ObservationState]
	ReasonSlots() SlotStore[slot.Reason]
	Cycles() CycleStore
	Proposals() ProposalStore
	Summaries() SummaryStore
	Modifications() ModificationStore
	Logs() LogStore
	Catalog() CatalogStore
}

// Repository is the persistence boundary of the analysis.
type Repository interface {
	Tx
	// Transaction runs fn atomically: every write made through tx commits
	// together or not at all.
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Gorm implements Repository on a gorm database.
type Gorm struct {
	db *gorm.DB
}

// New wraps db.
func New(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// DB returns the underlying handle.
func (g *Gorm) DB() *gorm.DB { return g.db }

// Transaction runs fn in a database transaction.
func (g *Gorm) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}

func (g *Gorm) OperationSlots() SlotStore[slot.Operation] {
	return slotTable[slot.Operation, models.OperationSlot]{db: g.db, toRow: operationRow, fromRow: operationSlot}
}

func (g *Gorm) ObservationSlots() SlotStore[slot.ObservationState] {
	return slotTable[slot.ObservationState, models.ObservationStateSlot]{db: g.db, toRow: observationRow, fromRow: observationSlot}
}

func (g *Gorm) ReasonSlots() SlotStore[slot.Reason] {
	return slotTable[slot.Reason, models.ReasonSlot]{db: g.db, toRow: reasonRow, fromRow: reasonSlot}
}

func (g *Gorm) Cycles() CycleStore { return cycleTable{db: g.db} }
func (g *Gorm) Proposals() ProposalStore { return proposalTable{db: g.db} }
func (g *Gorm) Summaries() SummaryStore { return summaryTable{db: g.db} }
func (g *Gorm) Modifications() ModificationStore { return modificationTable{db: g.db} }
func (g *Gorm) Logs() LogStore { return logTable{db: g.db} }
func (g *Gorm) Catalog() CatalogStore { return catalogTable{db: g.db} }
