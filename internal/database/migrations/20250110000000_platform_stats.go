package migrations

import (
	"context"
	"fmt"

	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		// The profile service may already own this table
		_, err := db.NewCreateTable().
			Model((*types.PlatformStats)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create platform_stats table: %w", err)
		}

		_, err = db.NewRaw(`
			ALTER TABLE platform_stats
			ALTER COLUMN last_updated SET DEFAULT NOW()
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to set platform_stats defaults: %w", err)
		}

		_, err = db.NewCreateIndex().
			Model((*types.PlatformStats)(nil)).
			Index("idx_platform_stats_platform").
			Column("platform_name").
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create platform_stats index: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewDropTable().
			Model((*types.PlatformStats)(nil)).
			IfExists().
			Cascade().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop platform_stats table: %w", err)
		}

		return nil
	})
}
