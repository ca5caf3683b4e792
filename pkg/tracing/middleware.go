package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware wraps gflowd's router so every request to /jobs, /gpus,
// and friends starts a span named "<method> <path>", tagged with the
// caller's remote address and user agent (usually the gflow/gjob/gctl
// CLI's own default Go http.Client string, which is enough to tell CLI
// traffic apart from a script hitting the API directly).
func HTTPMiddleware(provider *Provider, serviceName string) func(http.Handler) http.Handler {
	tracer := provider.Tracer()
	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			spanName := r.Method + " " + r.URL.Path
			ctx, span := tracer.Start(ctx, spanName,
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.url", r.URL.String()),
					attribute.String("http.host", r.Host),
					attribute.String("http.scheme", r.URL.Scheme),
					attribute.String("http.remote_addr", r.RemoteAddr),
					attribute.String("http.user_agent", r.Header.Get("User-Agent")),
				),
			)
			defer span.End()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			propagator.Inject(ctx, propagation.HeaderCarrier(rw.Header()))

			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(
				attribute.Int("http.status_code", rw.statusCode),
			)

			// A 429 from pkg/ratelimit or a 5xx from a handler both count
			// as an error for trace-level alerting; a 4xx that just means
			// "job not found" does not.
			if rw.statusCode >= 500 || rw.statusCode == http.StatusTooManyRequests {
				span.SetAttributes(attribute.Bool("error", true))
			}
		})
	}
}

// responseWriter records the status code a handler wrote, since
// http.ResponseWriter itself does not expose it after the fact.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// InjectHTTPHeaders stamps trace context onto an outbound request. Not
// currently used by gflow's own CLI clients (cliclient talks to a
// same-host daemon with tracing disabled by default), but available for
// a deployment that fronts several gflowd instances with a tracing-aware
// proxy.
func InjectHTTPHeaders(ctx context.Context, req *http.Request) {
	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// ExtractHTTPHeaders reads trace context back out of an inbound request,
// the counterpart to InjectHTTPHeaders.
func ExtractHTTPHeaders(ctx context.Context, req *http.Request) context.Context {
	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	return propagator.Extract(ctx, propagation.HeaderCarrier(req.Header))
}
