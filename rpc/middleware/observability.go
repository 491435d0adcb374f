package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stakeledger/observability"
)

// Observability traces requests and records per-route metrics.
type Observability struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	logRequests bool
}

func NewObservability(service string, logRequests bool, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	if service == "" {
		service = "accruald"
	}
	return &Observability{logger: logger, tracer: otel.Tracer(service), logRequests: logRequests}
}

func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			span.End()
			elapsed := time.Since(start)
			observability.ModuleMetrics().Observe(route, r.Method, recorder.status, elapsed)
			if o.logRequests {
				o.logger.Info("request served",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", recorder.status),
					slog.Duration("elapsed", elapsed))
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
