package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cpboard/cpboard/internal/database/dbretry"
	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ErrEntryNotFound is returned when an update targets an entry that no longer exists.
var ErrEntryNotFound = errors.New("platform stats entry not found")

// PlatformStatsModel handles database operations for tracked platform entries.
type PlatformStatsModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewPlatformStats creates a new PlatformStatsModel.
func NewPlatformStats(db *bun.DB, logger *zap.Logger) *PlatformStatsModel {
	return &PlatformStatsModel{
		db:     db,
		logger: logger.Named("db_platform_stats"),
	}
}

// GetAllEntries loads every tracked entry in id order.
func (r *PlatformStatsModel) GetAllEntries(ctx context.Context) ([]*types.PlatformStats, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.PlatformStats, error) {
		var entries []*types.PlatformStats

		err := r.db.NewSelect().
			Model(&entries).
			Order("id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get platform stats entries: %w", err)
		}

		return entries, nil
	})
}

// UpdateEntryStats writes the worker-owned columns of one entry in a single statement.
// The handle and ownership columns are never touched.
func (r *PlatformStatsModel) UpdateEntryStats(ctx context.Context, update *types.StatsUpdate) error {
	result, err := r.db.NewUpdate().
		Model((*types.PlatformStats)(nil)).
		Set("rating = ?", update.Rating).
		Set("questions_solved = ?", update.QuestionsSolved).
		Set("max_rating = ?", update.MaxRating).
		Set("daily_starting_count = ?", update.DailyStartingCount).
		Set("last_snapshot_date = ?::date", update.LastSnapshotDate.Format(time.DateOnly)).
		Set("last_updated = ?", update.UpdatedAt).
		Where("id = ?", update.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update platform stats: %w (entryID=%d)", err, update.ID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w (entryID=%d)", err, update.ID)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w (entryID=%d)", ErrEntryNotFound, update.ID)
	}

	r.logger.Debug("Updated platform stats",
		zap.Int64("entryID", update.ID),
		zap.Int("solved", update.QuestionsSolved),
		zap.Int("rating", update.Rating))

	return nil
}
