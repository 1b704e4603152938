package database

import (
	"github.com/cpboard/cpboard/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	platformStats *models.PlatformStatsModel
	syncRun       *models.SyncRunModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		platformStats: models.NewPlatformStats(db, logger),
		syncRun:       models.NewSyncRun(db, logger),
	}
}

// PlatformStats returns the platform stats model repository.
func (r *Repository) PlatformStats() *models.PlatformStatsModel {
	return r.platformStats
}

// SyncRun returns the sync run model repository.
func (r *Repository) SyncRun() *models.SyncRunModel {
	return r.syncRun
}
