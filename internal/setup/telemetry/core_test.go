package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cpboard/cpboard/internal/setup/config"
	"github.com/cpboard/cpboard/internal/setup/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func TestSpanCoreOnlyAcceptsErrors(t *testing.T) {
	t.Parallel()

	core := telemetry.NewSpanCore(zapcore.DebugLevel)

	tests := []struct {
		level zapcore.Level
		want  bool
	}{
		{level: zapcore.DebugLevel, want: false},
		{level: zapcore.InfoLevel, want: false},
		{level: zapcore.WarnLevel, want: false},
		{level: zapcore.ErrorLevel, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			t.Parallel()

			ce := core.Check(zapcore.Entry{Level: tt.level, Message: "message"}, nil)
			assert.Equal(t, tt.want, ce != nil)
		})
	}
}

func TestSpanCoreWritesWithoutProvider(t *testing.T) {
	t.Parallel()

	logger := zap.New(telemetry.NewSpanCore(zapcore.ErrorLevel)).With(zap.String("platform", "leetcode"))

	assert.NotPanics(t, func() {
		logger.Error("Failed to persist platform stats", zap.Error(errors.New("connection reset by peer")))
	})
	require.NoError(t, logger.Sync())
}

func TestInitTracingDisabled(t *testing.T) {
	t.Parallel()

	shutdown := telemetry.InitTracing(&config.Telemetry{}, "test", zaptest.NewLogger(t))
	require.NoError(t, shutdown(context.Background()))
}
