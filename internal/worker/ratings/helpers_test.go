package ratings_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/cpboard/cpboard/internal/database/types/enum"
	"github.com/cpboard/cpboard/internal/fetcher"
	"github.com/cpboard/cpboard/pkg/utils"
)

var (
	errUpstreamDown = errors.New("dial tcp: connection refused")
	errDBDown       = errors.New("connection reset by peer")
)

func date(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}

	return &t
}

// fakeClock is a manual clock whose sleeps advance time instantly.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) utils.SleepResult {
	if ctx.Err() != nil {
		return utils.SleepCancelled
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)

	return utils.SleepCompleted
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]time.Duration(nil), c.slept...)
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu         sync.Mutex
	entries    []*types.PlatformStats
	updates    map[int64]*types.StatsUpdate
	updateErrs map[int64]error
	bulkErr    error
}

func newFakeStore(entries ...*types.PlatformStats) *fakeStore {
	return &fakeStore{
		entries:    entries,
		updates:    make(map[int64]*types.StatsUpdate),
		updateErrs: make(map[int64]error),
	}
}

func (s *fakeStore) GetAllEntries(context.Context) ([]*types.PlatformStats, error) {
	if s.bulkErr != nil {
		return nil, s.bulkErr
	}

	return s.entries, nil
}

func (s *fakeStore) UpdateEntryStats(_ context.Context, update *types.StatsUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateErrs[update.ID]; err != nil {
		return err
	}

	s.updates[update.ID] = update

	// Apply to the stored entry like the real UPDATE would
	for _, entry := range s.entries {
		if entry.ID != update.ID {
			continue
		}

		snapshot := update.LastSnapshotDate
		updatedAt := update.UpdatedAt
		entry.Rating = update.Rating
		entry.MaxRating = update.MaxRating
		entry.QuestionsSolved = update.QuestionsSolved
		entry.DailyStartingCount = update.DailyStartingCount
		entry.LastSnapshotDate = &snapshot
		entry.LastUpdated = &updatedAt
	}

	return nil
}

func (s *fakeStore) Update(id int64) (*types.StatsUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	update, ok := s.updates[id]

	return update, ok
}

// fakeFetcher serves canned results per handle.
type fakeFetcher struct {
	platform enum.Platform
	results  map[string]*fetcher.Result
	errs     map[string]error
	panics   map[string]bool
	onFetch  func(handle string)

	mu    sync.Mutex
	calls []string
}

func newFakeFetcher(platform enum.Platform) *fakeFetcher {
	return &fakeFetcher{
		platform: platform,
		results:  make(map[string]*fetcher.Result),
		errs:     make(map[string]error),
		panics:   make(map[string]bool),
	}
}

func (f *fakeFetcher) Platform() enum.Platform {
	return f.platform
}

func (f *fakeFetcher) Fetch(_ context.Context, handle string) (*fetcher.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, handle)
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(handle)
	}

	if f.panics[handle] {
		panic("unexpected payload for " + handle)
	}

	if err := f.errs[handle]; err != nil {
		return nil, &fetcher.FetchError{Platform: f.platform, Handle: handle, Err: err}
	}

	result, ok := f.results[handle]
	if !ok {
		return nil, &fetcher.FetchError{Platform: f.platform, Handle: handle, Err: fetcher.ErrUserNotFound}
	}

	copied := *result

	return &copied, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}
