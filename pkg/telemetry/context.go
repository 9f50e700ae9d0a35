package telemetry

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

// Telemetry bundles logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config

	metricsServer *http.Server
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment, cfg.ResourceAttributes)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// MetricsFromContext returns the metrics of the telemetry in ctx, or nil.
// All Metrics methods accept a nil receiver.
func MetricsFromContext(ctx context.Context) *Metrics {
	if tel := FromTelemetryContext(ctx); tel != nil {
		return tel.Metrics
	}
	return nil
}

// Shutdown stops the metrics endpoint and flushes the tracer. Failures of
// independent components are combined.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	if t.metricsServer != nil {
		err = multierr.Append(err, t.metricsServer.Shutdown(ctx))
	}
	err = multierr.Append(err, t.Tracer.Shutdown(ctx))
	return err
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	srv, err := t.Metrics.StartMetricsServer()
	if err != nil {
		return err
	}
	t.metricsServer = srv
	return nil
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx       context.Context
	Span      trace.Span
	Logger    *Logger
	Timer     *Timer
	operation string
	metrics   *Metrics
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:       ctx,
			Logger:    FromContext(ctx).WithField("operation", operation),
			Timer:     NewTimer(),
			operation: operation,
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := FromContext(ctx).WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	tel.Metrics.RecordOperationStarted(operation)

	return &InstrumentedContext{
		Ctx:       logger.WithContext(spanCtx),
		Span:      span,
		Logger:    logger,
		Timer:     NewTimer(),
		operation: operation,
		metrics:   tel.Metrics,
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	ic.metrics.RecordOperationCompleted(ic.operation, status, ic.Timer.Duration())
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// WithRunContext creates a context enriched with run-specific telemetry.
func WithRunContext(ctx context.Context, runID string) context.Context {
	logger := FromContext(ctx).WithRunID(runID)
	ctx = logger.WithContext(ctx)

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartImportSpan(ctx, runID)
	tel.Metrics.RecordOperationStarted("import")

	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, runTimerKey{}, NewTimer())
	return spanCtx
}

// runSpanKey is the context key for run spans.
type runSpanKey struct{}

// runTimerKey is the context key for run timers.
type runTimerKey struct{}

// EndRunContext completes the run context, recording metrics.
func EndRunContext(ctx context.Context, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrRunStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(runTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}
	tel.Metrics.RecordOperationCompleted("import", status, duration)
}

// entitySpanKey is the context key for entity spans.
type entitySpanKey struct{}

// entityTimerKey is the context key for entity timers.
type entityTimerKey struct{}

// WithEntityContext creates a context enriched with entity-specific telemetry.
// phase is "export" or "import".
func WithEntityContext(ctx context.Context, phase, entityType, entityID string) context.Context {
	logger := FromContext(ctx).WithEntity(entityType, entityID)
	ctx = logger.WithContext(ctx)
	ctx = context.WithValue(ctx, entityTimerKey{}, NewTimer())

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartEntitySpan(ctx, phase, entityType, entityID)
	return context.WithValue(spanCtx, entitySpanKey{}, span)
}

// EndEntityContext completes the entity context, recording metrics. errKind
// is the classification of err, empty on success.
func EndEntityContext(ctx context.Context, phase, entityType, outcome, errKind string, err error) {
	var duration time.Duration
	if timer, ok := ctx.Value(entityTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(entitySpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrOperation.String(outcome))
		if err != nil {
			span.SetAttributes(AttrErrorKind.String(errKind))
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	switch phase {
	case "export":
		tel.Metrics.RecordEntityExported(entityType, outcome)
	default:
		tel.Metrics.RecordEntityImported(entityType, outcome, duration)
	}
	if err != nil {
		tel.Metrics.RecordError(errKind)
	}
}
