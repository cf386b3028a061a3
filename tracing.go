package toposched

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startResumeSpan opens a span covering one slice of a task's execution, from
// the scheduler handing over control until the task yields. Nil tracer means
// tracing is off and the context passes through untouched.
func (r *Runtime[T]) startResumeSpan(ctx context.Context, id T) (context.Context, trace.Span) {
	if r.tracer == nil {
		return ctx, nil
	}
	return r.tracer.Start(ctx, "task.resume",
		trace.WithAttributes(attribute.String("task.id", fmt.Sprint(id))),
	)
}

// endResumeSpan records the task's yield on the span and closes it.
func (r *Runtime[T]) endResumeSpan(span trace.Span, req yieldRequest[T]) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("task.outcome", resumeOutcome(req)))
	if req.err != nil {
		span.RecordError(req.err)
		span.SetStatus(codes.Error, req.err.Error())
	}
	span.End()
}
