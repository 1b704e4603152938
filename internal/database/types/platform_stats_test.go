package types_test

import (
	"testing"

	"github.com/cpboard/cpboard/internal/database/types"
	"github.com/stretchr/testify/assert"
)

func TestSolvedToday(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		solved   int
		baseline int
		want     int
	}{
		{name: "progress today", solved: 85, baseline: 80, want: 5},
		{name: "no progress", solved: 80, baseline: 80, want: 0},
		{name: "upstream regressed", solved: 78, baseline: 80, want: -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stats := &types.PlatformStats{QuestionsSolved: tt.solved, DailyStartingCount: tt.baseline}
			assert.Equal(t, tt.want, stats.SolvedToday())
		})
	}
}
