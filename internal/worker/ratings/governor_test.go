package ratings_test

import (
	"context"
	"testing"
	"time"

	"github.com/cpboard/cpboard/internal/database/types/enum"
	"github.com/cpboard/cpboard/internal/setup/config"
	"github.com/cpboard/cpboard/internal/worker/ratings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultLimits = map[enum.Platform]ratings.Limit{
	enum.PlatformLeetCode:   {MinInterval: 2 * time.Second},
	enum.PlatformCodeforces: {MinInterval: time.Second},
}

func TestGovernorSpacesConsecutiveRequests(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	governor := ratings.NewGovernor(defaultLimits, ratings.WithGovernorClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	// First request of each platform goes straight through
	require.NoError(t, governor.Wait(ctx, enum.PlatformLeetCode))
	require.NoError(t, governor.Wait(ctx, enum.PlatformCodeforces))
	assert.Empty(t, clock.Slept())

	require.NoError(t, governor.Wait(ctx, enum.PlatformLeetCode))
	require.NoError(t, governor.Wait(ctx, enum.PlatformCodeforces))

	// Codeforces' interval already elapsed while waiting on LeetCode
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.Slept())
}

func TestGovernorWaitsOnlyRemainingTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		elapsed time.Duration
		want    []time.Duration
	}{
		{name: "no time elapsed", elapsed: 0, want: []time.Duration{2 * time.Second}},
		{name: "partially elapsed", elapsed: 1500 * time.Millisecond, want: []time.Duration{500 * time.Millisecond}},
		{name: "fully elapsed", elapsed: 2 * time.Second, want: nil},
		{name: "long idle", elapsed: time.Hour, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
			governor := ratings.NewGovernor(defaultLimits, ratings.WithGovernorClock(clock.Now, clock.Sleep))

			require.NoError(t, governor.Wait(context.Background(), enum.PlatformLeetCode))
			clock.Advance(tt.elapsed)
			require.NoError(t, governor.Wait(context.Background(), enum.PlatformLeetCode))

			assert.Equal(t, tt.want, clock.Slept())
		})
	}
}

func TestGovernorJitterKeepsMinimum(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	governor := ratings.NewGovernor(map[enum.Platform]ratings.Limit{
		enum.PlatformLeetCode: {MinInterval: 2 * time.Second, Jitter: 100 * time.Millisecond},
	}, ratings.WithGovernorClock(clock.Now, clock.Sleep))

	for range 20 {
		require.NoError(t, governor.Wait(context.Background(), enum.PlatformLeetCode))
	}

	slept := clock.Slept()
	require.Len(t, slept, 19)

	for _, d := range slept {
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 2100*time.Millisecond)
	}
}

func TestGovernorCancelledWaitDoesNotClaimSlot(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	governor := ratings.NewGovernor(defaultLimits, ratings.WithGovernorClock(clock.Now, clock.Sleep))

	require.NoError(t, governor.Wait(context.Background(), enum.PlatformCodeforces))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, governor.Wait(ctx, enum.PlatformCodeforces), context.Canceled)
	assert.Empty(t, clock.Slept())

	// The live request still waits relative to the first one
	clock.Advance(400 * time.Millisecond)
	require.NoError(t, governor.Wait(context.Background(), enum.PlatformCodeforces))
	assert.Equal(t, []time.Duration{600 * time.Millisecond}, clock.Slept())
}

func TestGovernorUnknownPlatformIsNotDelayed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	governor := ratings.NewGovernor(defaultLimits, ratings.WithGovernorClock(clock.Now, clock.Sleep))

	for range 3 {
		require.NoError(t, governor.Wait(context.Background(), enum.Platform("atcoder")))
	}

	assert.Empty(t, clock.Slept())
}

func TestGovernorFromConfig(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	governor := ratings.GovernorFromConfig(&config.WorkerConfig{
		LeetCode:   config.Platform{MinInterval: 3000},
		Codeforces: config.Platform{MinInterval: 1500},
	}, ratings.WithGovernorClock(clock.Now, clock.Sleep))

	ctx := context.Background()
	for range 2 {
		require.NoError(t, governor.Wait(ctx, enum.PlatformCodeforces))
	}

	require.NoError(t, governor.Wait(ctx, enum.PlatformLeetCode))
	require.NoError(t, governor.Wait(ctx, enum.PlatformLeetCode))

	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 3 * time.Second}, clock.Slept())
}
