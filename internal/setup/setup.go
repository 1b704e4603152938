package setup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cpboard/cpboard/internal/database"
	"github.com/cpboard/cpboard/internal/database/migrations"
	"github.com/cpboard/cpboard/internal/metrics"
	"github.com/cpboard/cpboard/internal/redis"
	"github.com/cpboard/cpboard/internal/setup/config"
	"github.com/cpboard/cpboard/internal/setup/telemetry"
	"github.com/redis/rueidis"
	"github.com/uptrace/bun/extra/bunotel"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// ErrPendingMigrations is returned when the schema is behind and auto migration is off.
var ErrPendingMigrations = errors.New("database migrations are pending")

// App bundles all core dependencies needed by the worker.
// Each field represents a subsystem that needs initialization and cleanup.
type App struct {
	Config       *config.Config         // Application configuration
	ConfigDir    string                 // Directory the config was loaded from
	Logger       *zap.Logger            // Main application logger
	DBLogger     *zap.Logger            // Database-specific logger
	DB           database.Client        // Database connection pool
	RedisManager *redis.Manager         // Redis connection manager
	StatusClient rueidis.Client         // Redis client for worker status reporting
	Metrics      *metrics.SyncCollector // Prometheus collector
	LogManager   *telemetry.Manager     // Log management system

	shutdownTracing func(context.Context) error
}

// InitializeApp bootstraps all dependencies in order.
// With autoMigrate set, pending migrations are applied instead of failing startup.
func InitializeApp(ctx context.Context, logDir string, autoMigrate bool) (*App, error) {
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Logging comes next to capture setup issues
	tracing := cfg.Common.Telemetry.Enabled()
	logManager := telemetry.NewManager(logDir, &cfg.Common.Debug, telemetry.WithErrorSpans(tracing))

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded configuration", zap.String("configDir", configDir))

	shutdownTracing := telemetry.InitTracing(&cfg.Common.Telemetry, config.RepositoryVersion, logger)

	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	db, err := checkAndRunMigrations(ctx, &cfg.Common.PostgreSQL, dbLogger, autoMigrate)
	if err != nil {
		redisManager.Close()
		return nil, err
	}

	if tracing {
		db.DB().AddQueryHook(bunotel.NewQueryHook(bunotel.WithDBName(cfg.Common.PostgreSQL.DBName)))
	}

	statusClient, err := redisManager.GetClient(redis.WorkerStatusDBIndex)
	if err != nil {
		_ = db.Close()
		redisManager.Close()

		return nil, err
	}

	collector, err := metrics.NewSyncCollector()
	if err != nil {
		_ = db.Close()
		redisManager.Close()

		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return &App{
		Config:       cfg,
		ConfigDir:    configDir,
		Logger:       logger,
		DBLogger:     dbLogger.Named("database"),
		DB:           db,
		RedisManager: redisManager,
		StatusClient: statusClient,
		Metrics:      collector,
		LogManager:   logManager,

		shutdownTracing: shutdownTracing,
	}, nil
}

// Cleanup shuts down all components in reverse initialization order.
// Errors are logged so that every component gets a cleanup attempt.
func (s *App) Cleanup() {
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Redis goes last as other components might need it during cleanup
	s.RedisManager.Close()

	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.shutdownTracing(ctx); err != nil {
			log.Printf("Failed to flush traces: %v", err)
		}
	}
}

// checkAndRunMigrations connects to the database and makes sure the schema is current.
func checkAndRunMigrations(
	ctx context.Context, cfg *config.PostgreSQL, dbLogger *zap.Logger, autoMigrate bool,
) (database.Client, error) {
	db, err := database.NewConnection(ctx, cfg, dbLogger)
	if err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(db.DB(), migrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	unapplied := ms.Unapplied()
	if len(unapplied) == 0 {
		return db, nil
	}

	if !autoMigrate {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %d unapplied (run `db migrate` or pass --auto-migrate)",
			ErrPendingMigrations, len(unapplied))
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbLogger.Info("Automatically ran migrations", zap.String("group", group.String()))

	return db, nil
}
