package app

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// spanLogExporter writes finished spans to the debug log.
type spanLogExporter struct {
	logger *zap.Logger
}

func newSpanLogExporter(logger *zap.Logger) *spanLogExporter {
	return &spanLogExporter{logger: logger}
}

func (e *spanLogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		e.logger.Debug("span",
			zap.String("name", span.Name()),
			zap.Duration("duration", span.EndTime().Sub(span.StartTime())),
			zap.String("status", span.Status().Code.String()),
			zap.String("trace_id", span.SpanContext().TraceID().String()),
		)
	}
	return nil
}

func (e *spanLogExporter) Shutdown(context.Context) error {
	return nil
}
