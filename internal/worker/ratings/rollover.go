package ratings

import (
	"time"

	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/cpboard/cpboard/pkg/utils"
)

// Snapshot is the daily baseline computed for one entry.
type Snapshot struct {
	DailyStartingCount int
	LastSnapshotDate   time.Time
	// RolledOver is set when a new day replaced the stored baseline. It stays
	// false when the stored date is later than today.
	RolledOver bool
}

// SolvedToday derives the "solved today" value for a fresh solved count.
// The result is not clamped and goes negative if the upstream count regressed.
func (s Snapshot) SolvedToday(freshSolved int) int {
	return freshSolved - s.DailyStartingCount
}

// Reconcile decides the daily baseline for an entry given a freshly fetched
// solved count and the run's calendar date.
//
// When the stored date differs from today, yesterday's stored total becomes
// today's baseline. An entry that has never recorded any progress takes the
// fresh count as its baseline so that pre-existing history does not show up as
// solved today. A stored date later than today is kept as is, so the snapshot
// date never moves backwards.
func Reconcile(entry *types.PlatformStats, freshSolved int, today time.Time) Snapshot {
	today = utils.NormalizeDate(today)

	snapshot := Snapshot{DailyStartingCount: entry.DailyStartingCount}

	switch {
	case entry.LastSnapshotDate == nil:
		snapshot.DailyStartingCount = entry.QuestionsSolved
		snapshot.LastSnapshotDate = today
		snapshot.RolledOver = true
	case utils.SameDate(*entry.LastSnapshotDate, today):
		snapshot.LastSnapshotDate = today
	case utils.NormalizeDate(*entry.LastSnapshotDate).After(today):
		snapshot.LastSnapshotDate = utils.NormalizeDate(*entry.LastSnapshotDate)
	default:
		snapshot.DailyStartingCount = entry.QuestionsSolved
		snapshot.LastSnapshotDate = today
		snapshot.RolledOver = true
	}

	// Cold start
	if snapshot.DailyStartingCount == 0 && entry.QuestionsSolved == 0 {
		snapshot.DailyStartingCount = freshSolved
	}

	return snapshot
}
