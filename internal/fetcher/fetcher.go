// Package fetcher implements the upstream platform adapters used by the rating worker.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cpboard/cpboard/internal/database/types/enum"
	"github.com/cpboard/cpboard/internal/metrics"
	"github.com/cpboard/cpboard/internal/setup/config"
	"go.uber.org/zap"
)

var (
	// ErrEmptyHandle is returned when an entry has no handle to look up.
	ErrEmptyHandle = errors.New("empty platform handle")
	// ErrUpstreamStatus is returned for non-success HTTP responses.
	ErrUpstreamStatus = errors.New("unexpected upstream status")
	// ErrUpstreamError is returned when the upstream reports a failure in its payload.
	ErrUpstreamError = errors.New("upstream reported an error")
	// ErrMalformedResponse is returned when an expected field is absent or has the wrong shape.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrUserNotFound is returned when the upstream does not know the handle.
	ErrUserNotFound = errors.New("upstream user not found")
)

// Result is the normalized triple returned by every adapter.
// Fields a platform does not expose are always 0.
type Result struct {
	Rating    float64
	Solved    int
	MaxRating int
}

// Fetcher retrieves rating data for one handle from one platform.
type Fetcher interface {
	Platform() enum.Platform
	Fetch(ctx context.Context, handle string) (*Result, error)
}

// FetchError describes a failed lookup of one handle.
type FetchError struct {
	Platform enum.Platform
	Handle   string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s handle %q: %v", e.Platform, e.Handle, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Options configures an adapter's HTTP behaviour.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
}

// OptionsFromConfig builds adapter options from the platform section of worker.toml.
func OptionsFromConfig(cfg config.Platform, timeout time.Duration) Options {
	return Options{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   timeout,
	}
}

// NewFetchers builds one adapter per supported platform, wrapped in a circuit
// breaker when enabled.
func NewFetchers(cfg *config.WorkerConfig, collector *metrics.SyncCollector, logger *zap.Logger) map[enum.Platform]Fetcher {
	timeout := cfg.RequestTimeoutDuration()

	fetchers := map[enum.Platform]Fetcher{
		enum.PlatformLeetCode:   NewLeetCode(OptionsFromConfig(cfg.LeetCode, timeout), logger),
		enum.PlatformCodeforces: NewCodeforces(OptionsFromConfig(cfg.Codeforces, timeout), logger),
	}

	if cfg.CircuitBreaker.Enabled {
		for platform, f := range fetchers {
			fetchers[platform] = NewBreakerFetcher(f, cfg.CircuitBreaker, collector, logger)
		}
	}

	return fetchers
}

func newFetchError(platform enum.Platform, handle string, err error) *FetchError {
	return &FetchError{Platform: platform, Handle: handle, Err: err}
}
