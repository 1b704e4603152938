package types

import (
	"time"

	"github.com/cpboard/cpboard/internal/database/types/enum"
	"github.com/uptrace/bun"
)

// PlatformStats is one tracked (user, platform) entry.
// Rows are created and deleted by the profile service; the rating worker only
// updates the stats columns in place.
type PlatformStats struct {
	bun.BaseModel `bun:"table:platform_stats"`

	ID                 int64         `bun:",pk,autoincrement"                       json:"id"`
	UserID             int64         `bun:",notnull,unique:user_platform"            json:"userId"`
	PlatformName       enum.Platform `bun:",notnull,type:text,unique:user_platform"  json:"platformName"`
	PlatformHandle     string        `bun:",notnull"                                json:"platformHandle"`
	Rating             int           `bun:",notnull,default:0"                      json:"rating"`
	MaxRating          int           `bun:",notnull,default:0"                      json:"maxRating"`
	QuestionsSolved    int           `bun:",notnull,default:0"                      json:"questionsSolved"`
	DailyStartingCount int           `bun:",notnull,default:0"                      json:"dailyStartingCount"`
	LastSnapshotDate   *time.Time    `bun:",type:date,nullzero"                     json:"lastSnapshotDate"`
	LastUpdated        *time.Time    `bun:",nullzero"                               json:"lastUpdated"`
}

// SolvedToday is the number of problems solved since the daily baseline was taken.
// It is negative when the upstream count regressed below the baseline.
func (s *PlatformStats) SolvedToday() int {
	return s.QuestionsSolved - s.DailyStartingCount
}

// StatsUpdate carries the columns the rating worker owns for a single entry.
type StatsUpdate struct {
	ID                 int64
	Rating             int
	MaxRating          int
	QuestionsSolved    int
	DailyStartingCount int
	LastSnapshotDate   time.Time // calendar date, only year/month/day are stored
	UpdatedAt          time.Time
}
