package dbretry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cpboard/cpboard/internal/database/dbretry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errRefused  = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	errNotFound = errors.New("sql: no rows in result set")
)

func fastOptions() dbretry.Options {
	return dbretry.Options{
		MaxElapsedTime:  time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxRetries:      3,
	}
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection refused", err: errRefused, want: true},
		{name: "wrapped broken pipe", err: fmt.Errorf("write: %w", errors.New("broken pipe")), want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "caller cancelled", err: context.Canceled, want: false},
		{name: "no rows", err: errNotFound, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, dbretry.IsRetryableError(tt.err))
		})
	}
}

func TestOperationWithRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	result, err := dbretry.OperationWith(t.Context(), fastOptions(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errRefused
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestOperationWithStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := dbretry.OperationWith(t.Context(), fastOptions(), func(context.Context) (int, error) {
		calls++
		return 0, errNotFound
	})

	require.ErrorIs(t, err, errNotFound)
	assert.Equal(t, 1, calls)
}

func TestNoResultWithGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	err := dbretry.NoResultWith(t.Context(), fastOptions(), func(context.Context) error {
		calls++
		return errRefused
	})

	require.ErrorIs(t, err, errRefused)
	assert.Equal(t, 4, calls) // Initial attempt + 3 retries
}
