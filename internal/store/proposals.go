/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/slotwise/internal/interval"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/reason"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type proposalTable struct {
	db *gorm.DB
}

// FindOverlapping returns the proposals overlapping rng, including dynamic
// proposals whose limit reaches into it, ordered by lower bound.
func (t proposalTable) FindOverlapping(ctx context.Context, machine string, rng interval.Interval) ([]reason.Proposal, error) {
	q := t.db.WithContext(ctx).Where("machine_id = ?", machine)
	if rng.HasUpper() {
		q = q.Where("(begin_at IS NULL OR begin_at < ?)", rng.Upper.UTC())
	}
	if rng.HasLower() {
		q = q.Where("(end_at IS NULL OR end_at > ? OR (has_dynamic = ? AND (dynamic_limit IS NULL OR dynamic_limit > ?)))",
			rng.Lower.UTC(), true, rng.Lower.UTC())
	}
	var rows []models.ReasonProposal
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query proposals of %s: %w", machine, err)
	}
	return proposals(rows), nil
}

// Unresolved returns the dynamic proposals of machine still waiting for a
// final end.
func (t proposalTable) Unresolved(ctx context.Context, machine string) ([]reason.Proposal, error) {
	var rows []models.ReasonProposal
	err := t.db.WithContext(ctx).
		Where("machine_id = ? AND has_dynamic = ? AND dynamic_final = ?", machine, true, false).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query unresolved proposals of %s: %w", machine, err)
	}
	return proposals(rows), nil
}

func proposals(rows []models.ReasonProposal) []reason.Proposal {
	out := make([]reason.Proposal, 0, len(rows))
	for _, r := range rows {
		out = append(out, proposalOf(r))
	}
	return reason.Apply(out, reason.Change{})
}

func (t proposalTable) Get(ctx context.Context, id string) (reason.Proposal, error) {
	var row models.ReasonProposal
	if err := t.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reason.Proposal{}, ErrNotFound
		}
		return reason.Proposal{}, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return proposalOf(row), nil
}

func (t proposalTable) Apply(ctx context.Context, ch reason.Change) error {
	if len(ch.Deleted) > 0 {
		ids := make([]string, 0, len(ch.Deleted))
		for _, p := range ch.Deleted {
			ids = append(ids, p.ID)
		}
		if err := t.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.ReasonProposal{}).Error; err != nil {
			return fmt.Errorf("delete proposals: %w", err)
		}
	}
	for _, p := range ch.Upserted {
		row := proposalRow(p)
		if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("persist proposal %s: %w", p.ID, err)
		}
	}
	return nil
}
