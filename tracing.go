package restlimit

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ryhazerus/restlimit"

// startAttempt opens the span covering one network attempt.
func (c *Client) startAttempt(ctx context.Context, r *request, b *bucket, attempt int) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "restlimit.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.method),
			attribute.String("restlimit.route", r.route.ID),
			attribute.String("restlimit.bucket", b.id),
			attribute.String("restlimit.request_id", r.id),
			attribute.Int("restlimit.attempt", attempt),
		),
	)
}

func endAttempt(span trace.Span, resp *http.Response, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		if resp.StatusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
	}
	span.End()
}
