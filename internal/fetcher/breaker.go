package fetcher

import (
	"context"
	"errors"

	"github.com/cpboard/cpboard/internal/database/types/enum"
	"github.com/cpboard/cpboard/internal/metrics"
	"github.com/cpboard/cpboard/internal/setup/config"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerFetcher wraps a Fetcher with a per-platform circuit breaker.
// Lookups of unknown or empty handles count as successes so that bad
// entries never open the breaker for everyone else.
type BreakerFetcher struct {
	next   Fetcher
	cb     *gobreaker.CircuitBreaker[*Result]
	logger *zap.Logger
}

// NewBreakerFetcher creates a breaker around next.
func NewBreakerFetcher(
	next Fetcher, cfg config.CircuitBreaker, collector *metrics.SyncCollector, logger *zap.Logger,
) *BreakerFetcher {
	platform := next.Platform()
	logger = logger.Named("breaker").With(zap.String("platform", platform.String()))
	threshold := max(cfg.FailureThreshold, 1)

	collector.SetBreakerState(platform.String(), stateValue(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        platform.String(),
		MaxRequests: 1,
		Timeout:     cfg.TimeoutDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrEmptyHandle) || errors.Is(err, ErrUserNotFound)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			collector.SetBreakerState(platform.String(), stateValue(to))
		},
	})

	return &BreakerFetcher{
		next:   next,
		cb:     cb,
		logger: logger,
	}
}

// Platform returns the wrapped adapter's platform.
func (b *BreakerFetcher) Platform() enum.Platform {
	return b.next.Platform()
}

// Fetch runs the wrapped lookup unless the breaker is open.
func (b *BreakerFetcher) Fetch(ctx context.Context, handle string) (*Result, error) {
	result, err := b.cb.Execute(func() (*Result, error) {
		return b.next.Fetch(ctx, handle)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.logger.Debug("Request rejected by circuit breaker", zap.String("handle", handle))
			return nil, newFetchError(b.Platform(), handle, err)
		}

		return nil, err
	}

	return result, nil
}

// State returns the breaker's current state.
func (b *BreakerFetcher) State() gobreaker.State {
	return b.cb.State()
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
