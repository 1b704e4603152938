package ratings

import (
	"time"

	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/cpboard/cpboard/internal/database/types/enum"
	"github.com/cpboard/cpboard/internal/worker/core"
	"github.com/cpboard/cpboard/pkg/utils"
	"github.com/google/uuid"
)

// Outcome is the result of processing one entry.
type Outcome string

const (
	// OutcomeSucceeded means the entry was fetched and persisted.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFetchFailed means the upstream lookup failed; stored state is untouched.
	OutcomeFetchFailed Outcome = "fetch_failed"
	// OutcomePersistFailed means the update could not be written; fetched data was discarded.
	OutcomePersistFailed Outcome = "persist_failed"
	// OutcomeUnsupported means no adapter exists for the entry's platform.
	OutcomeUnsupported Outcome = "unsupported"
	// OutcomePanicked means processing the entry panicked and was recovered.
	OutcomePanicked Outcome = "panicked"
	// OutcomeCancelled means the run was cancelled before the entry was processed.
	OutcomeCancelled Outcome = "cancelled"
)

// EntryOutcome records what happened to a single entry during a run.
type EntryOutcome struct {
	EntryID  int64
	Platform enum.Platform
	Handle   string
	Outcome  Outcome
	Err      error

	// Set on success only.
	Update      *types.StatsUpdate
	SolvedToday int
	RolledOver  bool
}

// Succeeded reports whether the entry was persisted.
func (o *EntryOutcome) Succeeded() bool {
	return o.Outcome == OutcomeSucceeded
}

// RunReport summarizes one pass over all entries.
type RunReport struct {
	RunID      uuid.UUID
	Today      time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Entries    []EntryOutcome
}

// Total returns the number of entries loaded for the run.
func (r *RunReport) Total() int {
	return len(r.Entries)
}

// Succeeded returns the number of persisted entries.
func (r *RunReport) Succeeded() int {
	count := 0

	for i := range r.Entries {
		if r.Entries[i].Succeeded() {
			count++
		}
	}

	return count
}

// Failed returns the number of entries that were not persisted.
func (r *RunReport) Failed() int {
	return r.Total() - r.Succeeded()
}

// Failures returns the outcomes of entries that were not persisted.
func (r *RunReport) Failures() []EntryOutcome {
	var failures []EntryOutcome

	for _, outcome := range r.Entries {
		if !outcome.Succeeded() {
			failures = append(failures, outcome)
		}
	}

	return failures
}

// Outcome returns the outcome recorded for the given entry, if any.
func (r *RunReport) Outcome(entryID int64) (EntryOutcome, bool) {
	for _, outcome := range r.Entries {
		if outcome.EntryID == entryID {
			return outcome, true
		}
	}

	return EntryOutcome{}, false
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ToSyncRun converts the report into a run history row.
func (r *RunReport) ToSyncRun() *types.SyncRun {
	failures := make([]types.SyncFailure, 0, r.Failed())

	for _, outcome := range r.Failures() {
		failure := types.SyncFailure{
			EntryID:  outcome.EntryID,
			Platform: outcome.Platform.String(),
			Handle:   outcome.Handle,
			Outcome:  string(outcome.Outcome),
		}
		if outcome.Err != nil {
			failure.Error = outcome.Err.Error()
		}

		failures = append(failures, failure)
	}

	return &types.SyncRun{
		ID:         r.RunID,
		Day:        utils.DateKey(r.Today),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Total:      r.Total(),
		Succeeded:  r.Succeeded(),
		Failed:     r.Failed(),
		Failures:   failures,
	}
}

// Summary converts the report into the compact form published to Redis.
func (r *RunReport) Summary() *core.RunSummary {
	return &core.RunSummary{
		RunID:      r.RunID.String(),
		Day:        utils.DateKey(r.Today),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Total:      r.Total(),
		Succeeded:  r.Succeeded(),
		Failed:     r.Failed(),
	}
}
