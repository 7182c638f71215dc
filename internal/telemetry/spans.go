// Package telemetry holds the OpenTelemetry spans and instruments used by the
// pairing session. Without a configured provider the global no-op is used.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tandem"

// StartSessionSpan starts a span covering a whole pairing run.
func StartSessionSpan(ctx context.Context, runID, strategy string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("session.strategy", strategy),
		),
	)
}

// StartRoundSpan starts a span for one driver/navigator round.
func StartRoundSpan(ctx context.Context, round int, driver, navigator string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "round",
		trace.WithAttributes(
			attribute.Int("round.number", round),
			attribute.String("round.driver", driver),
			attribute.String("round.navigator", navigator),
		),
	)
}

// StartInvocationSpan starts a span for a single worker invocation.
func StartInvocationSpan(ctx context.Context, agent, role string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "invocation",
		trace.WithAttributes(
			attribute.String("worker.agent", agent),
			attribute.String("worker.role", role),
		),
	)
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
