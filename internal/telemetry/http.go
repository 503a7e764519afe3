package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPInstrumentationName is the tracer and meter name of the ops server
	HTTPInstrumentationName = "github.com/stacklok/fleet-feed-connector/http"

	maxUserAgentLength = 256
	unknownRoute       = "unknown_route"
)

// untracedPaths are hit by orchestrators and scrapers every few seconds.
// They are still counted in metrics.
var untracedPaths = map[string]struct{}{
	"/health":    {},
	"/readiness": {},
	"/metrics":   {},
}

// HTTPInstrumentation traces and measures requests to the ops server. Either
// half may be absent: a nil tracer provider disables spans and a nil meter
// provider disables metrics.
type HTTPInstrumentation struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	duration metric.Float64Histogram
	requests metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

// NewHTTPInstrumentation creates the instruments of the ops server
func NewHTTPInstrumentation(tp trace.TracerProvider, mp metric.MeterProvider) (*HTTPInstrumentation, error) {
	h := &HTTPInstrumentation{
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	}
	if tp != nil {
		h.tracer = tp.Tracer(HTTPInstrumentationName)
	}
	if mp == nil {
		return h, nil
	}

	meter := mp.Meter(HTTPInstrumentationName)
	var err error

	h.duration, err = meter.Float64Histogram(
		"fleet_connector_http_request_duration_seconds",
		metric.WithDescription("Duration of ops server requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	h.requests, err = meter.Int64Counter(
		"fleet_connector_http_requests_total",
		metric.WithDescription("Total number of ops server requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	h.inFlight, err = meter.Int64UpDownCounter(
		"fleet_connector_http_active_requests",
		metric.WithDescription("Number of ops server requests in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-flight counter: %w", err)
	}

	return h, nil
}

// Middleware wraps next. With neither tracing nor metrics configured it
// returns next unchanged.
func (h *HTTPInstrumentation) Middleware(next http.Handler) http.Handler {
	if h == nil || (h.tracer == nil && h.requests == nil) {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var span trace.Span
		if _, skip := untracedPaths[r.URL.Path]; h.tracer != nil && !skip {
			ctx = h.propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
			ctx, span = h.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(truncateUserAgent(r.UserAgent())),
				),
			)
			defer span.End()
		}

		if h.inFlight != nil {
			h.inFlight.Add(ctx, 1)
		}
		next.ServeHTTP(ww, r.WithContext(ctx))
		if h.inFlight != nil {
			h.inFlight.Add(ctx, -1)
		}

		// chi fills the route pattern while routing, so it is only known now.
		// Patterns keep span names and metric labels free of path parameters.
		route := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		if span != nil {
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				semconv.HTTPRouteKey.String(route),
				semconv.HTTPResponseStatusCode(status),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		}

		if h.requests != nil {
			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status_code", strconv.Itoa(status)),
			)
			h.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			h.requests.Add(ctx, 1, attrs)
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unknownRoute
}

func truncateUserAgent(ua string) string {
	if len(ua) > maxUserAgentLength {
		return ua[:maxUserAgentLength]
	}
	return ua
}
