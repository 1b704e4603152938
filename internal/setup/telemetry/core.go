package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

// SpanCore implements zapcore.Core to record error logs as OpenTelemetry spans.
type SpanCore struct {
	zapcore.LevelEnabler
	tracer trace.Tracer
	fields []zapcore.Field
}

// NewSpanCore creates a core that turns error entries into spans on the global tracer.
func NewSpanCore(enab zapcore.LevelEnabler) *SpanCore {
	return &SpanCore{
		LevelEnabler: enab,
		tracer:       otel.Tracer("github.com/cpboard/cpboard/logs"),
	}
}

// With keeps logger context so spans carry fields such as runID or platform.
func (c *SpanCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)

	return &SpanCore{
		LevelEnabler: c.LevelEnabler,
		tracer:       c.tracer,
		fields:       merged,
	}
}

func (c *SpanCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level >= zapcore.ErrorLevel && c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

func (c *SpanCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	_, span := c.tracer.Start(context.Background(), "error."+errorCategory(ent))
	defer span.End()

	enc := zapcore.NewMapObjectEncoder()
	for i := range c.fields {
		c.fields[i].AddTo(enc)
	}

	for i := range fields {
		if fields[i].Type == zapcore.ErrorType {
			if err, ok := fields[i].Interface.(error); ok {
				span.RecordError(err)
			}
		}

		fields[i].AddTo(enc)
	}

	attrs := []attribute.KeyValue{
		attribute.String("log.message", ent.Message),
		attribute.String("log.level", ent.Level.String()),
		attribute.String("log.logger", ent.LoggerName),
		attribute.String("code.caller", ent.Caller.TrimmedPath()),
	}

	for key, value := range enc.Fields {
		attrs = append(attrs, attribute.String("log.field."+key, fmt.Sprint(value)))
	}

	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, ent.Message)

	return nil
}

func (c *SpanCore) Sync() error {
	return nil
}

// errorCategory groups errors by the package that logged them.
func errorCategory(ent zapcore.Entry) string {
	switch {
	case strings.Contains(ent.Caller.Function, "/fetcher"):
		return "fetcher"
	case strings.Contains(ent.Caller.Function, "/database"):
		return "database"
	case strings.Contains(ent.Caller.Function, "/redis"):
		return "redis"
	case strings.Contains(ent.Caller.Function, "/worker"):
		return "worker"
	case strings.Contains(ent.Caller.Function, "/setup"):
		return "setup"
	default:
		return "application"
	}
}
