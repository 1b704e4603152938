package ratings

import (
	"context"
	"time"

	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/cpboard/cpboard/internal/fetcher"
	"github.com/cpboard/cpboard/internal/metrics"
	"github.com/cpboard/cpboard/internal/redis"
	"github.com/cpboard/cpboard/internal/setup"
	"github.com/cpboard/cpboard/internal/worker/core"
	"github.com/cpboard/cpboard/pkg/utils"
	"go.uber.org/zap"
)

const (
	// WorkerType identifies this worker in status reports.
	WorkerType = "ratings"

	// historyTimeout bounds run history writes, which outlive a cancelled run context.
	historyTimeout = 10 * time.Second
)

// RunHistory stores finished runs.
type RunHistory interface {
	SaveRun(ctx context.Context, run *types.SyncRun) error
	PurgeOldRuns(ctx context.Context, cutoff time.Time) (int64, error)
}

// SummaryPublisher shares the latest run summary with other services.
type SummaryPublisher interface {
	Publish(ctx context.Context, summary *core.RunSummary) error
}

// WorkerOptions configures the scheduling of a Worker.
type WorkerOptions struct {
	// Interval between scheduled runs; runs start on interval boundaries.
	Interval time.Duration
	// HistoryDays is how long run history is kept.
	HistoryDays int
}

// Worker runs the syncer on a fixed schedule and records each run.
type Worker struct {
	syncer      *Syncer
	history     RunHistory
	summaries   SummaryPublisher
	reporter    *core.StatusReporter
	collector   *metrics.SyncCollector
	interval    time.Duration
	historyDays int
	now         func() time.Time
	logger      *zap.Logger
}

// New creates a ratings worker wired to the application's dependencies.
func New(app *setup.App, logger *zap.Logger) *Worker {
	cfg := &app.Config.Worker
	reporter := core.NewStatusReporter(app.StatusClient, WorkerType, app.LogManager.GetInstanceID(), logger)

	syncer := NewSyncer(
		app.DB.Model().PlatformStats(),
		fetcher.NewFetchers(cfg, app.Metrics, logger),
		GovernorFromConfig(cfg),
		logger,
		WithLocation(cfg.Location()),
		WithMetrics(app.Metrics),
		WithProgress(reporter.UpdateStatus),
	)

	var summaries SummaryPublisher

	summaryClient, err := app.RedisManager.GetClient(redis.SyncSummaryDBIndex)
	if err != nil {
		logger.Warn("Run summaries will not be published", zap.Error(err))
	} else {
		summaries = core.NewSummaryCache(summaryClient, logger)
	}

	return NewWorker(syncer, app.DB.Model().SyncRun(), summaries, reporter, app.Metrics, WorkerOptions{
		Interval:    cfg.SyncIntervalDuration(),
		HistoryDays: cfg.RunHistoryDays,
	}, logger)
}

// NewWorker creates a worker from explicit parts. history, summaries,
// reporter and collector may be nil.
func NewWorker(
	syncer *Syncer,
	history RunHistory,
	summaries SummaryPublisher,
	reporter *core.StatusReporter,
	collector *metrics.SyncCollector,
	opts WorkerOptions,
	logger *zap.Logger,
) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}

	return &Worker{
		syncer:      syncer,
		history:     history,
		summaries:   summaries,
		reporter:    reporter,
		collector:   collector,
		interval:    opts.Interval,
		historyDays: opts.HistoryDays,
		now:         time.Now,
		logger:      logger.Named("ratings_worker"),
	}
}

// Start runs the worker until ctx is cancelled. Runs begin on interval
// boundaries; with runImmediately the first run starts right away.
func (w *Worker) Start(ctx context.Context, runImmediately bool) {
	w.logger.Info("Ratings Worker started",
		zap.Duration("interval", w.interval),
		zap.Bool("runImmediately", runImmediately))

	if w.reporter != nil {
		w.logger.Info("Reporting status", zap.String("workerID", w.reporter.GetWorkerID()))
		w.reporter.Start(ctx)
		defer w.reporter.Stop()
	}

	wait := !runImmediately

	for !utils.ContextGuard(ctx) {
		if wait {
			next := w.NextRun(w.now())
			w.updateStatus("Waiting for next run", 0)
			w.logger.Debug("Waiting for next run", zap.Time("next", next))

			if utils.ContextSleepUntil(ctx, next) == utils.SleepCancelled {
				break
			}
		}

		wait = true

		if _, err := w.RunOnce(ctx); err != nil {
			continue
		}

		w.purgeHistory(ctx)
	}

	w.logger.Info("Ratings worker shutting down gracefully")
}

// RunOnce performs a single run and records its outcome.
func (w *Worker) RunOnce(ctx context.Context) (*RunReport, error) {
	w.updateStatus("Loading tracked entries", 0)

	report, err := w.syncer.RunOnce(ctx)
	if err != nil {
		w.logger.Error("Sync run aborted", zap.Error(err))
		w.setHealthy(false)
		w.updateStatus("Sync run aborted", 0)
		w.collector.RecordRun(metrics.RunFailed, w.now())

		return nil, err
	}

	w.setHealthy(true)
	w.collector.RecordRun(metrics.RunSucceeded, report.FinishedAt)
	w.recordRun(ctx, report)
	w.updateStatus("Completed", 100)

	return report, nil
}

// NextRun returns the first interval boundary strictly after now.
func (w *Worker) NextRun(now time.Time) time.Time {
	return now.Truncate(w.interval).Add(w.interval)
}

// recordRun saves the run history row and publishes its summary.
// Failures here are logged and never fail the run.
func (w *Worker) recordRun(ctx context.Context, report *RunReport) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	if w.history != nil {
		if err := w.history.SaveRun(ctx, report.ToSyncRun()); err != nil {
			w.logger.Error("Failed to save sync run", zap.String("runID", report.RunID.String()), zap.Error(err))
		}
	}

	if w.summaries != nil {
		if err := w.summaries.Publish(ctx, report.Summary()); err != nil {
			w.logger.Warn("Failed to publish run summary", zap.String("runID", report.RunID.String()), zap.Error(err))
		}
	}
}

// purgeHistory removes run history older than the retention window.
func (w *Worker) purgeHistory(ctx context.Context) {
	if w.history == nil || w.historyDays <= 0 {
		return
	}

	cutoff := w.now().AddDate(0, 0, -w.historyDays)

	purged, err := w.history.PurgeOldRuns(ctx, cutoff)
	if err != nil {
		w.logger.Error("Failed to purge old sync runs", zap.Error(err))
		return
	}

	if purged > 0 {
		w.logger.Info("Purged old sync runs",
			zap.Int64("purged", purged),
			zap.Time("cutoff", cutoff))
	}
}

func (w *Worker) updateStatus(task string, progress int) {
	if w.reporter != nil {
		w.reporter.UpdateStatus(task, progress)
	}
}

func (w *Worker) setHealthy(healthy bool) {
	if w.reporter != nil {
		w.reporter.SetHealthy(healthy)
	}
}
