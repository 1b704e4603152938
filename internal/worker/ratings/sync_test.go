package ratings_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/cpboard/cpboard/internal/database/types/enum"
	"github.com/cpboard/cpboard/internal/fetcher"
	"github.com/cpboard/cpboard/internal/metrics"
	"github.com/cpboard/cpboard/internal/worker/ratings"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var syncStart = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

type syncFixture struct {
	store      *fakeStore
	leetcode   *fakeFetcher
	codeforces *fakeFetcher
	clock      *fakeClock
	syncer     *ratings.Syncer
}

func newSyncFixture(t *testing.T, entries []*types.PlatformStats, opts ...ratings.SyncerOption) *syncFixture {
	t.Helper()

	f := &syncFixture{
		store:      newFakeStore(entries...),
		leetcode:   newFakeFetcher(enum.PlatformLeetCode),
		codeforces: newFakeFetcher(enum.PlatformCodeforces),
		clock:      newFakeClock(syncStart),
	}

	governor := ratings.NewGovernor(defaultLimits, ratings.WithGovernorClock(f.clock.Now, f.clock.Sleep))
	fetchers := map[enum.Platform]fetcher.Fetcher{
		enum.PlatformLeetCode:   f.leetcode,
		enum.PlatformCodeforces: f.codeforces,
	}

	opts = append([]ratings.SyncerOption{ratings.WithClock(f.clock.Now)}, opts...)
	f.syncer = ratings.NewSyncer(f.store, fetchers, governor, zaptest.NewLogger(t), opts...)

	return f
}

func leetcodeEntry(id int64, handle string, solved, start int, snapshot *time.Time) *types.PlatformStats {
	return &types.PlatformStats{
		ID:                 id,
		UserID:             id,
		PlatformName:       enum.PlatformLeetCode,
		PlatformHandle:     handle,
		QuestionsSolved:    solved,
		DailyStartingCount: start,
		LastSnapshotDate:   snapshot,
	}
}

func codeforcesEntry(id int64, handle string) *types.PlatformStats {
	return &types.PlatformStats{
		ID:             id,
		UserID:         id,
		PlatformName:   enum.PlatformCodeforces,
		PlatformHandle: handle,
	}
}

func TestRunOnceUpdatesEntryAcrossDayBoundary(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "alice", 80, 78, date("2024-01-01")),
	})
	f.leetcode.results["alice"] = &fetcher.Result{Rating: 1720.4, Solved: 85}

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total())
	assert.Equal(t, 1, report.Succeeded())
	assert.Equal(t, "2024-01-02", report.Today.Format(time.DateOnly))

	update, ok := f.store.Update(1)
	require.True(t, ok)
	assert.Equal(t, 1720, update.Rating)
	assert.Equal(t, 0, update.MaxRating)
	assert.Equal(t, 85, update.QuestionsSolved)
	assert.Equal(t, 80, update.DailyStartingCount)
	assert.Equal(t, "2024-01-02", update.LastSnapshotDate.Format(time.DateOnly))
	assert.Equal(t, syncStart, update.UpdatedAt)

	outcome, ok := report.Outcome(1)
	require.True(t, ok)
	assert.Equal(t, ratings.OutcomeSucceeded, outcome.Outcome)
	assert.Equal(t, 5, outcome.SolvedToday)
	assert.True(t, outcome.RolledOver)
}

func TestRunOnceSecondRunSameDayKeepsBaseline(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "alice", 80, 78, date("2024-01-01")),
	})
	f.leetcode.results["alice"] = &fetcher.Result{Solved: 85}

	_, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	f.leetcode.results["alice"] = &fetcher.Result{Solved: 90}
	f.clock.Advance(time.Hour)

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	update, ok := f.store.Update(1)
	require.True(t, ok)
	assert.Equal(t, 80, update.DailyStartingCount)
	assert.Equal(t, 90, update.QuestionsSolved)

	outcome, _ := report.Outcome(1)
	assert.Equal(t, 10, outcome.SolvedToday)
	assert.False(t, outcome.RolledOver)
}

func TestRunOnceColdStart(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "fresh", 0, 0, nil),
	})
	f.leetcode.results["fresh"] = &fetcher.Result{Solved: 120}

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	update, ok := f.store.Update(1)
	require.True(t, ok)
	assert.Equal(t, 120, update.DailyStartingCount)

	outcome, _ := report.Outcome(1)
	assert.Equal(t, 0, outcome.SolvedToday)
}

func TestRunOnceRoundsRating(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		rating float64
		want   int
	}{
		{name: "half rounds up", rating: 1834.5, want: 1835},
		{name: "below half rounds down", rating: 1834.4, want: 1834},
		{name: "integral", rating: 1500, want: 1500},
		{name: "unrated", rating: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newSyncFixture(t, []*types.PlatformStats{
				leetcodeEntry(1, "alice", 10, 10, date("2024-01-02")),
			})
			f.leetcode.results["alice"] = &fetcher.Result{Rating: tt.rating, Solved: 10}

			_, err := f.syncer.RunOnce(context.Background())
			require.NoError(t, err)

			update, ok := f.store.Update(1)
			require.True(t, ok)
			assert.Equal(t, tt.want, update.Rating)
		})
	}
}

func TestRunOnceCodeforcesKeepsSolvedAtZero(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{codeforcesEntry(1, "tourist")})
	f.codeforces.results["tourist"] = &fetcher.Result{Rating: 3500, MaxRating: 3979}

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	update, ok := f.store.Update(1)
	require.True(t, ok)
	assert.Equal(t, 3500, update.Rating)
	assert.Equal(t, 3979, update.MaxRating)
	assert.Equal(t, 0, update.QuestionsSolved)
	assert.Equal(t, 0, update.DailyStartingCount)

	outcome, _ := report.Outcome(1)
	assert.Equal(t, 0, outcome.SolvedToday)
}

func TestRunOnceIsolatesFetchFailures(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "alice", 10, 10, date("2024-01-02")),
		leetcodeEntry(2, "bob", 20, 20, date("2024-01-02")),
		leetcodeEntry(3, "carol", 30, 30, date("2024-01-02")),
	})
	f.leetcode.results["alice"] = &fetcher.Result{Solved: 11}
	f.leetcode.errs["bob"] = errUpstreamDown
	f.leetcode.results["carol"] = &fetcher.Result{Solved: 31}

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob", "carol"}, f.leetcode.Calls())
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 1, report.Failed())

	outcome, _ := report.Outcome(2)
	assert.Equal(t, ratings.OutcomeFetchFailed, outcome.Outcome)
	require.ErrorIs(t, outcome.Err, errUpstreamDown)

	_, ok := f.store.Update(2)
	assert.False(t, ok, "failed fetch must not write")

	for _, id := range []int64{1, 3} {
		_, ok := f.store.Update(id)
		assert.True(t, ok, "entry %d", id)
	}

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, int64(2), failures[0].EntryID)
}

func TestRunOnceUnknownHandleIsAFetchFailure(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{codeforcesEntry(1, "ghost")})

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	outcome, _ := report.Outcome(1)
	assert.Equal(t, ratings.OutcomeFetchFailed, outcome.Outcome)
	require.ErrorIs(t, outcome.Err, fetcher.ErrUserNotFound)
}

func TestRunOnceIsolatesPersistFailures(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "alice", 10, 10, date("2024-01-02")),
		leetcodeEntry(2, "bob", 20, 20, date("2024-01-02")),
		leetcodeEntry(3, "carol", 30, 30, date("2024-01-02")),
	})
	f.leetcode.results["alice"] = &fetcher.Result{Solved: 11}
	f.leetcode.results["bob"] = &fetcher.Result{Solved: 21}
	f.leetcode.results["carol"] = &fetcher.Result{Solved: 31}
	f.store.updateErrs[2] = errDBDown

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	outcome, _ := report.Outcome(2)
	assert.Equal(t, ratings.OutcomePersistFailed, outcome.Outcome)
	require.ErrorIs(t, outcome.Err, ratings.ErrPersist)
	require.ErrorIs(t, outcome.Err, errDBDown)
	assert.Nil(t, outcome.Update)

	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, []string{"alice", "bob", "carol"}, f.leetcode.Calls())
}

func TestRunOnceRecoversPanics(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "boom", 10, 10, date("2024-01-02")),
		leetcodeEntry(2, "bob", 20, 20, date("2024-01-02")),
	})
	f.leetcode.panics["boom"] = true
	f.leetcode.results["bob"] = &fetcher.Result{Solved: 21}

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	outcome, _ := report.Outcome(1)
	assert.Equal(t, ratings.OutcomePanicked, outcome.Outcome)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "unexpected payload for boom")

	outcome, _ = report.Outcome(2)
	assert.Equal(t, ratings.OutcomeSucceeded, outcome.Outcome)
}

func TestRunOnceSkipsUnsupportedPlatforms(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{
		{ID: 1, PlatformName: enum.Platform("atcoder"), PlatformHandle: "chokudai"},
		leetcodeEntry(2, "bob", 20, 20, date("2024-01-02")),
	})
	f.leetcode.results["bob"] = &fetcher.Result{Solved: 21}

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	outcome, _ := report.Outcome(1)
	assert.Equal(t, ratings.OutcomeUnsupported, outcome.Outcome)
	require.ErrorIs(t, outcome.Err, ratings.ErrUnsupportedPlatform)

	assert.Equal(t, []string{"bob"}, f.leetcode.Calls())
	assert.Empty(t, f.codeforces.Calls())
	assert.Empty(t, f.clock.Slept(), "unsupported entries never wait")
}

func TestRunOnceBulkReadFailureAbortsRun(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{leetcodeEntry(1, "alice", 0, 0, nil)})
	f.store.bulkErr = errDBDown

	report, err := f.syncer.RunOnce(context.Background())
	require.ErrorIs(t, err, ratings.ErrBulkRead)
	require.ErrorIs(t, err, errDBDown)
	assert.Nil(t, report)
	assert.Empty(t, f.leetcode.Calls())
}

func TestRunOnceWithNoEntries(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, nil)

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total())
	assert.Equal(t, 0, report.Failed())
}

func TestRunOnceMarksRemainingEntriesCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "alice", 10, 10, date("2024-01-02")),
		codeforcesEntry(2, "bob"),
		leetcodeEntry(3, "carol", 30, 30, date("2024-01-02")),
	})
	f.leetcode.results["alice"] = &fetcher.Result{Solved: 11}
	f.leetcode.onFetch = func(string) { cancel() }

	report, err := f.syncer.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total())

	outcome, _ := report.Outcome(1)
	assert.Equal(t, ratings.OutcomeSucceeded, outcome.Outcome)

	for _, id := range []int64{2, 3} {
		outcome, _ := report.Outcome(id)
		assert.Equal(t, ratings.OutcomeCancelled, outcome.Outcome, "entry %d", id)
		require.ErrorIs(t, outcome.Err, context.Canceled)
	}

	assert.Equal(t, []string{"alice"}, f.leetcode.Calls())
	assert.Empty(t, f.codeforces.Calls())
}

func TestRunOnceUsesConfiguredTimezoneForToday(t *testing.T) {
	t.Parallel()

	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "alice", 40, 35, date("2024-01-02")),
	}, ratings.WithLocation(kolkata))
	f.leetcode.results["alice"] = &fetcher.Result{Solved: 42}

	// 20:00 UTC on Jan 2 is already Jan 3 in Kolkata
	f.clock.Advance(11 * time.Hour)

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", report.Today.Format(time.DateOnly))

	update, ok := f.store.Update(1)
	require.True(t, ok)
	assert.Equal(t, 40, update.DailyStartingCount)
	assert.Equal(t, "2024-01-03", update.LastSnapshotDate.Format(time.DateOnly))
}

func TestRunOnceKeepsBaselineAtOrBelowSolved(t *testing.T) {
	t.Parallel()

	entries := []*types.PlatformStats{
		leetcodeEntry(1, "a", 0, 0, nil),
		leetcodeEntry(2, "b", 15, 10, date("2024-01-01")),
		leetcodeEntry(3, "c", 15, 10, date("2024-01-02")),
		leetcodeEntry(4, "d", 0, 0, date("2023-12-30")),
	}
	f := newSyncFixture(t, entries)
	f.leetcode.results["a"] = &fetcher.Result{Solved: 7}
	f.leetcode.results["b"] = &fetcher.Result{Solved: 16}
	f.leetcode.results["c"] = &fetcher.Result{Solved: 15}
	f.leetcode.results["d"] = &fetcher.Result{Solved: 3}

	_, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	for _, entry := range entries {
		update, ok := f.store.Update(entry.ID)
		require.True(t, ok)
		assert.LessOrEqual(t, update.DailyStartingCount, update.QuestionsSolved, entry.PlatformHandle)
	}
}

func TestRunOnceSpacesRequestsPerPlatform(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "a", 1, 1, date("2024-01-02")),
		codeforcesEntry(2, "b"),
		leetcodeEntry(3, "c", 1, 1, date("2024-01-02")),
		codeforcesEntry(4, "d"),
	})

	var fetchTimes []time.Time

	record := func(string) { fetchTimes = append(fetchTimes, f.clock.Now()) }
	f.leetcode.onFetch = record
	f.codeforces.onFetch = record

	for _, handle := range []string{"a", "c"} {
		f.leetcode.results[handle] = &fetcher.Result{Solved: 1}
	}

	for _, handle := range []string{"b", "d"} {
		f.codeforces.results[handle] = &fetcher.Result{Rating: 1200}
	}

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Succeeded())

	require.Len(t, fetchTimes, 4)
	assert.GreaterOrEqual(t, fetchTimes[2].Sub(fetchTimes[0]), 2*time.Second, "leetcode spacing")
	assert.GreaterOrEqual(t, fetchTimes[3].Sub(fetchTimes[1]), time.Second, "codeforces spacing")
	assert.Equal(t, []time.Duration{2 * time.Second}, f.clock.Slept())
}

func TestRunOnceReportsProgress(t *testing.T) {
	t.Parallel()

	var percents []int

	f := newSyncFixture(t, []*types.PlatformStats{
		codeforcesEntry(1, "a"),
		codeforcesEntry(2, "b"),
		codeforcesEntry(3, "c"),
	}, ratings.WithProgress(func(_ string, percent int) { percents = append(percents, percent) }))

	_, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{33, 66, 100}, percents)
}

func TestRunOnceRecordsMetrics(t *testing.T) {
	t.Parallel()

	collector, err := metrics.NewSyncCollector()
	require.NoError(t, err)

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "alice", 10, 10, date("2024-01-02")),
		codeforcesEntry(2, "ghost"),
	}, ratings.WithMetrics(collector))
	f.leetcode.results["alice"] = &fetcher.Result{Solved: 11}

	_, err = f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	expected := `
# HELP cpboard_sync_entries_total Processed tracked entries by platform and outcome.
# TYPE cpboard_sync_entries_total counter
cpboard_sync_entries_total{outcome="fetch_failed",platform="codeforces"} 1
cpboard_sync_entries_total{outcome="succeeded",platform="leetcode"} 1
`
	require.NoError(t, testutil.GatherAndCompare(collector.Registry(),
		strings.NewReader(expected), "cpboard_sync_entries_total"))

	count, err := testutil.GatherAndCount(collector.Registry(), "cpboard_sync_fetch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunReportToSyncRun(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, []*types.PlatformStats{
		leetcodeEntry(1, "alice", 10, 10, date("2024-01-02")),
		codeforcesEntry(2, "ghost"),
	})
	f.leetcode.results["alice"] = &fetcher.Result{Solved: 11}

	report, err := f.syncer.RunOnce(context.Background())
	require.NoError(t, err)

	run := report.ToSyncRun()
	assert.Equal(t, report.RunID, run.ID)
	assert.Equal(t, "2024-01-02", run.Day)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, "codeforces", run.Failures[0].Platform)
	assert.Equal(t, "ghost", run.Failures[0].Handle)
	assert.Equal(t, string(ratings.OutcomeFetchFailed), run.Failures[0].Outcome)
	assert.NotEmpty(t, run.Failures[0].Error)

	summary := report.Summary()
	assert.Equal(t, report.RunID.String(), summary.RunID)
	assert.Equal(t, run.Day, summary.Day)
	assert.Equal(t, 1, summary.Failed)
}
