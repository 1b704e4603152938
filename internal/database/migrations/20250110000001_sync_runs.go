package migrations

import (
	"context"
	"fmt"

	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewCreateTable().
			Model((*types.SyncRun)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create sync_runs table: %w", err)
		}

		_, err = db.NewCreateIndex().
			Model((*types.SyncRun)(nil)).
			Index("idx_sync_runs_started_at").
			Column("started_at").
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create sync_runs index: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewDropTable().
			Model((*types.SyncRun)(nil)).
			IfExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop sync_runs table: %w", err)
		}

		return nil
	})
}
