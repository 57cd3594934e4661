package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// RecordTaskSpawned emits a span event marking a task's spawn completion
// on the current span in ctx, if tracing is enabled.
func RecordTaskSpawned(ctx context.Context, taskID string) {
	span := SpanFromContext(ctx)
	span.AddEvent("task_spawned", trace.WithAttributes(AttrTaskID.String(taskID)))
}
