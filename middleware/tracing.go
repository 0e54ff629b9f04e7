package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skeinlabs/skein/instance"
)

// tracerName is the instrumentation scope name for skein tracing.
const tracerName = "github.com/skeinlabs/skein"

// Tracing returns middleware that wraps each execution slice in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: skein.instance.key, skein.function,
// skein.function.version, skein.sequence, skein.state.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, in *instance.Instance, next Handler) error {
		ctx, span := tracer.Start(ctx, "skein.instance.slice",
			trace.WithAttributes(
				attribute.String("skein.instance.key", in.Key),
				attribute.String("skein.function", in.Function),
				attribute.Int("skein.function.version", in.FunctionVersion),
				attribute.Int64("skein.sequence", int64(in.Sequence)),
				attribute.String("skein.state", string(in.State)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
