package telemetry

import (
	"context"

	"github.com/cpboard/cpboard/internal/setup/config"
	"github.com/uptrace/uptrace-go/uptrace"
	"go.uber.org/zap"
)

// InitTracing configures the global OpenTelemetry providers to export to Uptrace.
// The returned function flushes pending spans; it is a no-op when tracing is disabled.
func InitTracing(cfg *config.Telemetry, version string, logger *zap.Logger) func(context.Context) error {
	if !cfg.Enabled() {
		return func(context.Context) error { return nil }
	}

	uptrace.ConfigureOpentelemetry(
		uptrace.WithDSN(cfg.UptraceDSN),
		uptrace.WithServiceName(cfg.ServiceName),
		uptrace.WithServiceVersion(version),
	)

	logger.Info("Tracing enabled", zap.String("service", cfg.ServiceName))

	return uptrace.Shutdown
}
