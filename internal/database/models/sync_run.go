package models

import (
	"context"
	"fmt"
	"time"

	"github.com/cpboard/cpboard/internal/database/dbretry"
	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// SyncRunModel handles database operations for the rating worker's run history.
type SyncRunModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewSyncRun creates a new SyncRunModel.
func NewSyncRun(db *bun.DB, logger *zap.Logger) *SyncRunModel {
	return &SyncRunModel{
		db:     db,
		logger: logger.Named("db_sync_run"),
	}
}

// SaveRun stores the summary of a finished run.
func (r *SyncRunModel) SaveRun(ctx context.Context, run *types.SyncRun) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(run).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to save sync run: %w (runID=%s)", err, run.ID)
		}

		return nil
	})
}

// GetRecentRuns returns the latest runs, newest first.
func (r *SyncRunModel) GetRecentRuns(ctx context.Context, limit int) ([]*types.SyncRun, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.SyncRun, error) {
		var runs []*types.SyncRun

		err := r.db.NewSelect().
			Model(&runs).
			Order("started_at DESC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent sync runs: %w", err)
		}

		return runs, nil
	})
}

// PurgeOldRuns removes runs that started before the cutoff.
func (r *SyncRunModel) PurgeOldRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		result, err := r.db.NewDelete().
			Model((*types.SyncRun)(nil)).
			Where("started_at < ?", cutoff).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to purge old sync runs: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}

		r.logger.Debug("Purged old sync runs",
			zap.Int64("rowsAffected", rowsAffected),
			zap.Time("cutoff", cutoff))

		return rowsAffected, nil
	})
}
