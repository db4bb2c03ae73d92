package observe

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/voxbridge/voxbridge/internal/observe"

// attrUpgrade marks spans of requests that asked for a websocket upgrade
// (the /status/ws feed).
const attrUpgrade = attribute.Key("voxbridge.http.upgrade")

var traceContext = propagation.TraceContext{}

// startRequestSpan opens the server span for r. An incoming traceparent is
// continued. Websocket upgrades are named "WS <path>" so a long-lived status
// feed is not mistaken for a slow GET.
func startRequestSpan(r *http.Request) (context.Context, trace.Span) {
	ctx := traceContext.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	name := r.Method + " " + r.URL.Path
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.URLPath(r.URL.Path),
	}
	if isUpgrade(r) {
		name = "WS " + r.URL.Path
		attrs = append(attrs, attrUpgrade.Bool(true))
	}
	return otel.Tracer(scopeName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

// injectTraceContext writes the span in ctx into the response headers and
// returns its correlation ID.
func injectTraceContext(ctx context.Context, h http.Header) string {
	cid := CorrelationID(ctx)
	if cid != "" {
		h.Set("X-Correlation-ID", cid)
	}
	traceContext.Inject(ctx, propagation.HeaderCarrier(h))
	return cid
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns slog.Default with trace_id and span_id of the request span
// in ctx. Handlers use it so their lines join the middleware's completion line.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
