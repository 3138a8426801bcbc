// Tracing instrumentation for plan execution.
package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/planweave/planweave/internal/orchestrator"

// startRunSpan starts a span covering one full request.
func startRunSpan(ctx context.Context, mode, planID string, stepCount int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "run."+mode)
	span.SetAttributes(
		attribute.String("run.mode", mode),
		attribute.String("run.plan_id", planID),
		attribute.Int("run.steps", stepCount),
	)
	return ctx, span
}

// endRunSpan closes the run span with outcome info.
func endRunSpan(span trace.Span, res *Result, err error) {
	if res != nil {
		span.SetAttributes(
			attribute.Int("run.failed_steps", res.FailedStepCount),
			attribute.Int("run.llm_calls", res.LLMCalls),
		)
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startStepSpan starts a span for one plan step.
func startStepSpan(ctx context.Context, stepNr int, skill string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "step."+skill)
	span.SetAttributes(
		attribute.Int("step.nr", stepNr),
		attribute.String("step.skill", skill),
	)
	return ctx, span
}

// endStepSpan closes a step span with its recorded status.
func endStepSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("step.status", status))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
