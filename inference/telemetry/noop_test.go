package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestNoop_ImplementationsDoNotPanic(t *testing.T) {
	ctx := context.Background()

	var logger Logger = NewNoopLogger()
	logger.Debug(ctx, "msg", "k", "v")
	logger.Info(ctx, "msg")
	logger.Warn(ctx, "msg")
	logger.Error(ctx, "msg")

	var metrics Metrics = NewNoopMetrics()
	metrics.IncCounter("c", 1, "tag")
	metrics.RecordTimer("t", time.Second)
	metrics.RecordGauge("g", 1.5)

	var tracer Tracer = NewNoopTracer()
	spanCtx, span := tracer.Start(ctx, "op")
	_ = spanCtx
	span.AddEvent("e")
	span.RecordError(nil)
	span.End()

	_ = tracer.Span(ctx)
}
