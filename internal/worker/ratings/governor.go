package ratings

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cpboard/cpboard/internal/database/types/enum"
	"github.com/cpboard/cpboard/internal/setup/config"
	"github.com/cpboard/cpboard/pkg/utils"
)

// Limit is the spacing enforced between consecutive requests to one platform.
type Limit struct {
	MinInterval time.Duration
	// Jitter adds a random extra delay in [0, Jitter) on top of MinInterval.
	Jitter time.Duration
}

// SleepFunc blocks for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) utils.SleepResult

// Governor is a fixed-delay throttle keyed by platform.
// The first request to a platform goes through immediately; every later one
// waits until MinInterval (plus jitter) has passed since the previous request.
type Governor struct {
	limits      map[enum.Platform]Limit
	lastRequest map[enum.Platform]time.Time
	now         func() time.Time
	sleep       SleepFunc
	rng         *rand.Rand
	mu          sync.Mutex
}

// GovernorOption customizes a Governor.
type GovernorOption func(*Governor)

// WithGovernorClock replaces the clock and sleep used by the governor.
func WithGovernorClock(now func() time.Time, sleep SleepFunc) GovernorOption {
	return func(g *Governor) {
		g.now = now
		g.sleep = sleep
	}
}

// NewGovernor creates a governor with the given per-platform limits.
// Platforms without a limit are never delayed.
func NewGovernor(limits map[enum.Platform]Limit, opts ...GovernorOption) *Governor {
	g := &Governor{
		limits:      limits,
		lastRequest: make(map[enum.Platform]time.Time),
		now:         time.Now,
		sleep:       utils.ContextSleep,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// GovernorFromConfig builds a governor from the platform sections of worker.toml.
func GovernorFromConfig(cfg *config.WorkerConfig, opts ...GovernorOption) *Governor {
	return NewGovernor(map[enum.Platform]Limit{
		enum.PlatformLeetCode: {
			MinInterval: cfg.LeetCode.MinIntervalDuration(),
			Jitter:      cfg.LeetCode.JitterDuration(),
		},
		enum.PlatformCodeforces: {
			MinInterval: cfg.Codeforces.MinIntervalDuration(),
			Jitter:      cfg.Codeforces.JitterDuration(),
		},
	}, opts...)
}

// Wait blocks until the next request to platform is permitted and claims the slot.
// It returns ctx.Err() if the context ends first; the slot is not claimed then.
func (g *Governor) Wait(ctx context.Context, platform enum.Platform) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, ok := g.limits[platform]
	if !ok {
		return ctx.Err()
	}

	if last, seen := g.lastRequest[platform]; seen {
		delay := limit.MinInterval
		if limit.Jitter > 0 {
			delay += time.Duration(g.rng.Int63n(int64(limit.Jitter)))
		}

		if remaining := delay - g.now().Sub(last); remaining > 0 {
			if g.sleep(ctx, remaining) == utils.SleepCancelled {
				return ctx.Err()
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	g.lastRequest[platform] = g.now()

	return nil
}
