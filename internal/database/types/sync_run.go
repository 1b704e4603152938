package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SyncRun summarises one pass of the rating worker over all entries.
type SyncRun struct {
	bun.BaseModel `bun:"table:sync_runs"`

	ID         uuid.UUID     `bun:",pk,type:uuid"  json:"id"`
	Day        string        `bun:",type:date"     json:"day"` // YYYY-MM-DD in the worker timezone
	StartedAt  time.Time     `bun:",notnull"       json:"startedAt"`
	FinishedAt time.Time     `bun:",notnull"       json:"finishedAt"`
	Total      int           `bun:",notnull"       json:"total"`
	Succeeded  int           `bun:",notnull"       json:"succeeded"`
	Failed     int           `bun:",notnull"       json:"failed"`
	Failures   []SyncFailure `bun:",type:jsonb"    json:"failures"`
}

// SyncFailure records why a single entry was skipped during a run.
type SyncFailure struct {
	EntryID  int64  `json:"entryId"`
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error"`
}
