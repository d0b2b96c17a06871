package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/academy-hub/audit-trail/internal/telemetry"
)

// TraceIDHeader carries the active trace id back to the caller
const TraceIDHeader = "X-Trace-ID"

// Tracing wraps the whole router with OpenTelemetry instrumentation. It extracts
// the caller's traceparent, starts a server span and echoes the trace id in
// X-Trace-ID. With no tracer provider installed the spans are no-ops.
func Tracing(next http.Handler, opts ...otelhttp.Option) http.Handler {
	opts = append([]otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
	}, opts...)

	return otelhttp.NewHandler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if traceID := telemetry.TraceIDFromContext(r.Context()); traceID != "" {
				w.Header().Set(TraceIDHeader, traceID)
			}
			next.ServeHTTP(w, r)
		}),
		"http.request",
		opts...,
	)
}

// TraceRoute renames the server span after the matched route template once gin
// has routed the request, so span names do not carry record ids.
func TraceRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			return
		}
		span := trace.SpanFromContext(c.Request.Context())
		span.SetName(c.Request.Method + " " + route)
		if actor := GetActor(c); actor != nil {
			span.SetAttributes(
				attribute.String("academy.actor.user_id", actor.UserID),
				attribute.String("academy.actor.role", actor.Role),
			)
		}
	}
}
