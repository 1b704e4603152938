package ratings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/cpboard/cpboard/internal/database/types/enum"
	"github.com/cpboard/cpboard/internal/fetcher"
	"github.com/cpboard/cpboard/internal/metrics"
	"github.com/cpboard/cpboard/pkg/utils"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

var (
	// ErrBulkRead is returned when the tracked entries cannot be loaded. It aborts the run.
	ErrBulkRead = errors.New("failed to load tracked entries")
	// ErrPersist wraps a failed per-entry update.
	ErrPersist = errors.New("failed to persist entry")
	// ErrUnsupportedPlatform is recorded for entries whose platform has no adapter.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Store is the persistence the syncer needs: one bulk read and one point update.
type Store interface {
	GetAllEntries(ctx context.Context) ([]*types.PlatformStats, error)
	UpdateEntryStats(ctx context.Context, update *types.StatsUpdate) error
}

// ProgressFunc receives a task description and a completion percentage.
type ProgressFunc func(task string, percent int)

// Syncer walks every tracked entry once per run, fetching fresh stats and
// writing them back. A failure on one entry never stops the others.
type Syncer struct {
	store     Store
	fetchers  map[enum.Platform]fetcher.Fetcher
	governor  *Governor
	collector *metrics.SyncCollector
	location  *time.Location
	now       func() time.Time
	progress  ProgressFunc
	logger    *zap.Logger
}

// SyncerOption customizes a Syncer.
type SyncerOption func(*Syncer)

// WithLocation sets the timezone that defines the calendar day.
func WithLocation(loc *time.Location) SyncerOption {
	return func(s *Syncer) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock replaces the clock used for "today" and update timestamps.
func WithClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) {
		s.now = now
	}
}

// WithMetrics records per-entry and per-run metrics on collector.
func WithMetrics(collector *metrics.SyncCollector) SyncerOption {
	return func(s *Syncer) {
		s.collector = collector
	}
}

// WithProgress reports progress after every entry.
func WithProgress(progress ProgressFunc) SyncerOption {
	return func(s *Syncer) {
		s.progress = progress
	}
}

// NewSyncer creates a syncer over the given store and adapters.
func NewSyncer(
	store Store, fetchers map[enum.Platform]fetcher.Fetcher, governor *Governor, logger *zap.Logger, opts ...SyncerOption,
) *Syncer {
	s := &Syncer{
		store:    store,
		fetchers: fetchers,
		governor: governor,
		location: time.UTC,
		now:      time.Now,
		progress: func(string, int) {},
		logger:   logger.Named("syncer"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RunOnce performs a single pass over all tracked entries.
// Only a failed bulk read is returned as an error; every per-entry failure is
// recorded in the report instead.
func (s *Syncer) RunOnce(ctx context.Context) (*RunReport, error) {
	startedAt := s.now()

	entries, err := s.store.GetAllEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBulkRead, err)
	}

	// All entries share one calendar day even if the run crosses midnight
	today := utils.DateOf(startedAt, s.location)

	report := &RunReport{
		RunID:     uuid.New(),
		Today:     today,
		StartedAt: startedAt,
		Entries:   make([]EntryOutcome, 0, len(entries)),
	}

	logger := s.logger.With(zap.String("runID", report.RunID.String()))
	logger.Info("Starting sync run",
		zap.Int("entries", len(entries)),
		zap.String("today", utils.DateKey(today)))

	for i, entry := range entries {
		var outcome EntryOutcome

		if ctx.Err() != nil {
			outcome = newOutcome(entry, OutcomeCancelled, ctx.Err())
		} else {
			outcome = s.safeProcessEntry(ctx, logger, entry, today)
		}

		report.Entries = append(report.Entries, outcome)
		s.collector.RecordEntry(entry.PlatformName.String(), string(outcome.Outcome))
		s.progress(fmt.Sprintf("Synced %d/%d entries", i+1, len(entries)), (i+1)*100/len(entries))
	}

	report.FinishedAt = s.now()

	logger.Info("Finished sync run",
		zap.Int("total", report.Total()),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Duration("duration", report.Duration()))

	return report, nil
}

// safeProcessEntry isolates a panic in one entry from the rest of the run.
func (s *Syncer) safeProcessEntry(
	ctx context.Context, logger *zap.Logger, entry *types.PlatformStats, today time.Time,
) EntryOutcome {
	var (
		outcome EntryOutcome
		catcher panics.Catcher
	)

	catcher.Try(func() {
		outcome = s.processEntry(ctx, logger, entry, today)
	})

	if recovered := catcher.Recovered(); recovered != nil {
		logger.Error("Recovered panic while syncing entry",
			zap.Int64("entryID", entry.ID),
			zap.String("platform", entry.PlatformName.String()),
			zap.String("handle", entry.PlatformHandle),
			zap.Any("panic", recovered.Value),
			zap.String("stack", string(recovered.Stack)))

		return newOutcome(entry, OutcomePanicked, recovered.AsError())
	}

	return outcome
}

// processEntry runs wait, fetch, reconcile and persist for a single entry.
func (s *Syncer) processEntry(
	ctx context.Context, logger *zap.Logger, entry *types.PlatformStats, today time.Time,
) EntryOutcome {
	logger = logger.With(
		zap.Int64("entryID", entry.ID),
		zap.String("platform", entry.PlatformName.String()),
		zap.String("handle", entry.PlatformHandle))

	f, ok := s.fetchers[entry.PlatformName]
	if !ok {
		logger.Warn("Skipping entry with unsupported platform")
		return newOutcome(entry, OutcomeUnsupported,
			fmt.Errorf("%w: %q", ErrUnsupportedPlatform, entry.PlatformName))
	}

	if err := s.governor.Wait(ctx, entry.PlatformName); err != nil {
		return newOutcome(entry, OutcomeCancelled, err)
	}

	fetchStart := time.Now()
	result, err := f.Fetch(ctx, entry.PlatformHandle)
	s.collector.ObserveFetch(entry.PlatformName.String(), time.Since(fetchStart))

	if err != nil {
		logger.Warn("Failed to fetch platform stats", zap.Error(err))
		return newOutcome(entry, OutcomeFetchFailed, err)
	}

	snapshot := Reconcile(entry, result.Solved, today)
	if snapshot.RolledOver {
		logger.Debug("New day detected, resetting daily count",
			zap.Int("dailyStartingCount", snapshot.DailyStartingCount))
	}

	update := &types.StatsUpdate{
		ID:                 entry.ID,
		Rating:             int(math.Round(result.Rating)),
		MaxRating:          result.MaxRating,
		QuestionsSolved:    result.Solved,
		DailyStartingCount: snapshot.DailyStartingCount,
		LastSnapshotDate:   snapshot.LastSnapshotDate,
		UpdatedAt:          s.now(),
	}

	if err := s.store.UpdateEntryStats(ctx, update); err != nil {
		logger.Error("Failed to persist platform stats", zap.Error(err))
		return newOutcome(entry, OutcomePersistFailed, fmt.Errorf("%w: %w", ErrPersist, err))
	}

	solvedToday := snapshot.SolvedToday(result.Solved)

	logger.Info("Updated platform stats",
		zap.Int("total", result.Solved),
		zap.Int("today", solvedToday),
		zap.Int("rating", update.Rating))

	outcome := newOutcome(entry, OutcomeSucceeded, nil)
	outcome.Update = update
	outcome.SolvedToday = solvedToday
	outcome.RolledOver = snapshot.RolledOver

	return outcome
}

func newOutcome(entry *types.PlatformStats, result Outcome, err error) EntryOutcome {
	return EntryOutcome{
		EntryID:  entry.ID,
		Platform: entry.PlatformName,
		Handle:   entry.PlatformHandle,
		Outcome:  result,
		Err:      err,
	}
}
