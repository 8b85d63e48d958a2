package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartRequestSpan starts a client span named after the scenario request.
func (p *Provider) StartRequestSpan(ctx context.Context, name, method, url string) (context.Context, trace.Span) {
	spanName := method
	if name != "" {
		spanName = method + " " + name
	}
	return p.Tracer().Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
			attribute.String("stagefire.request", name),
		),
	)
}

// EndRequestSpan records the outcome and ends span. Statuses of 500 and
// above mark the span as an error, as do transport errors.
func EndRequestSpan(span trace.Span, status int, err error) {
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status >= 500:
		span.SetStatus(codes.Error, "server error")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Inject returns a copy of headers carrying the trace context of ctx.
// headers itself is never modified.
func (p *Provider) Inject(ctx context.Context, headers map[string]string) map[string]string {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		carrier[k] = v
	}
	if p != nil && p.propagator != nil {
		p.propagator.Inject(ctx, carrier)
	}
	return carrier
}
