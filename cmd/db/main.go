package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cpboard/cpboard/internal/database"
	"github.com/cpboard/cpboard/internal/database/migrations"
	"github.com/cpboard/cpboard/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// ErrPendingMigrations is returned by check when the schema is behind.
var ErrPendingMigrations = errors.New("database has unapplied migrations")

// migratorAction runs against an open migrator and its logger.
type migratorAction func(ctx context.Context, migrator *migrate.Migrator, logger *zap.Logger) error

// migrationStatus is one row of the status report.
type migrationStatus struct {
	Name       string
	Table      string
	Group      int64
	Applied    bool
	MigratedAt time.Time
}

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "db",
		Usage: "Manage the platform_stats and sync_runs schema",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the migration bookkeeping tables",
				Action: withMigrator(initTables),
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending migrations",
				Action: withMigrator(migrateUp),
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the last migration group",
				Action: withMigrator(rollback),
			},
			{
				Name:   "status",
				Usage:  "List every migration and whether it is applied",
				Action: withMigrator(status),
			},
			{
				Name:   "check",
				Usage:  "Exit non-zero when migrations are pending",
				Action: withMigrator(check),
			},
		},
	}

	return app.Run(ctx, os.Args)
}

// withMigrator connects for the duration of a single command.
func withMigrator(action migratorAction) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		cfg, _, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, logger.Named("database"))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		return action(ctx, migrate.NewMigrator(db.DB(), migrations.Migrations), logger)
	}
}

func initTables(ctx context.Context, migrator *migrate.Migrator, logger *zap.Logger) error {
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to create migration tables: %w", err)
	}

	logger.Info("Migration tables ready")

	return nil
}

func migrateUp(ctx context.Context, migrator *migrate.Migrator, logger *zap.Logger) error {
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to create migration tables: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	if group.IsZero() {
		logger.Info("Schema is up to date")
		return nil
	}

	for _, m := range group.Migrations {
		logger.Info("Applied migration",
			zap.Int64("group", group.ID),
			zap.String("name", m.Name),
			zap.String("table", m.Comment))
	}

	return nil
}

func rollback(ctx context.Context, migrator *migrate.Migrator, logger *zap.Logger) error {
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("failed to roll back: %w", err)
	}

	if group.IsZero() {
		logger.Info("Nothing to roll back")
		return nil
	}

	for _, m := range group.Migrations {
		logger.Info("Rolled back migration",
			zap.Int64("group", group.ID),
			zap.String("name", m.Name),
			zap.String("table", m.Comment))
	}

	return nil
}

func status(ctx context.Context, migrator *migrate.Migrator, logger *zap.Logger) error {
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	rows := describeMigrations(ms)
	for _, row := range rows {
		fields := []zap.Field{
			zap.String("name", row.Name),
			zap.String("table", row.Table),
			zap.Bool("applied", row.Applied),
		}
		if row.Applied {
			fields = append(fields,
				zap.Int64("group", row.Group),
				zap.Time("migratedAt", row.MigratedAt))
		}

		logger.Info("Migration", fields...)
	}

	logger.Info("Migration summary",
		zap.Int("total", len(rows)),
		zap.Int("pending", len(pendingMigrations(rows))))

	return nil
}

func check(ctx context.Context, migrator *migrate.Migrator, logger *zap.Logger) error {
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	pending := pendingMigrations(describeMigrations(ms))
	if len(pending) == 0 {
		logger.Info("Schema is up to date")
		return nil
	}

	names := make([]string, 0, len(pending))
	for _, row := range pending {
		names = append(names, row.Name+"_"+row.Table)
	}

	return fmt.Errorf("%w: %v", ErrPendingMigrations, names)
}

// describeMigrations flattens the migrator's view into report rows.
// The migration comment is the file suffix, which names the table it creates.
func describeMigrations(ms migrate.MigrationSlice) []migrationStatus {
	rows := make([]migrationStatus, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, migrationStatus{
			Name:       m.Name,
			Table:      m.Comment,
			Group:      m.GroupID,
			Applied:    m.IsApplied(),
			MigratedAt: m.MigratedAt,
		})
	}

	return rows
}

func pendingMigrations(rows []migrationStatus) []migrationStatus {
	var pending []migrationStatus
	for _, row := range rows {
		if !row.Applied {
			pending = append(pending, row)
		}
	}

	return pending
}
