package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"brokerfund/observability"
)

// RequestIDHeader carries the request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID assigns a uuid to requests that arrive without one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := r.Context()
		ctx = contextWithRequestID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Observability traces, measures and logs each request.
type Observability struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// NewObservability returns request instrumentation for serviceName.
func NewObservability(serviceName string, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observability{logger: logger, tracer: otel.Tracer(serviceName)}
}

// Middleware records the request under its chi route pattern.
func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := o.tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
		))
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", recorder.status))
		span.End()
		elapsed := time.Since(start)
		observability.ModuleMetrics().Observe(route, r.Method, recorder.status, elapsed)
		o.logger.Info("request",
			"method", r.Method,
			"route", route,
			"status", recorder.status,
			"duration", elapsed,
			"requestId", RequestIDFrom(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
