package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/responder/pipeline"
)

const instrumentationName = "github.com/zero-day-ai/responder"

// Metrics records pipeline activity as OpenTelemetry spans and metrics.
type Metrics struct {
	tracer trace.Tracer
	meter  metric.Meter

	processed metric.Int64Counter
	actions   metric.Int64Counter
	attempts  metric.Int64Histogram
	duration  metric.Float64Histogram
}

var _ pipeline.Observer = (*Metrics)(nil)

// NewMetrics creates the instruments on meter and traces with tracer.
func NewMetrics(meter metric.Meter, tracer trace.Tracer) (*Metrics, error) {
	m := &Metrics{tracer: tracer, meter: meter}
	var err error

	m.processed, err = meter.Int64Counter(
		"responder.findings.processed",
		metric.WithDescription("Number of events that reached a terminal state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create processed counter: %w", err)
	}

	m.actions, err = meter.Int64Counter(
		"responder.actions",
		metric.WithDescription("Number of finished actions by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create actions counter: %w", err)
	}

	m.attempts, err = meter.Int64Histogram(
		"responder.action.attempts",
		metric.WithDescription("Attempts made per action"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create attempts histogram: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"responder.event.duration",
		metric.WithDescription("End-to-end event processing time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return m, nil
}

// NewGlobalMetrics uses the globally installed providers.
func NewGlobalMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(instrumentationName), otel.Tracer(instrumentationName))
}

// StartAction implements pipeline.Observer.
func (m *Metrics) StartAction(ctx context.Context, findingID string, action pipeline.ActionName) (context.Context, func(pipeline.ActionOutcome)) {
	ctx, span := m.tracer.Start(ctx, "responder."+string(action),
		trace.WithAttributes(
			attribute.String("finding.id", findingID),
			attribute.String("action", string(action)),
		),
	)

	return ctx, func(o pipeline.ActionOutcome) {
		defer span.End()

		span.SetAttributes(
			attribute.String("outcome", string(o.Status)),
			attribute.Int("attempts", o.Attempts),
		)
		if o.Status == pipeline.OutcomeFailed {
			span.SetAttributes(attribute.String("error.code", o.ErrorCode))
			span.SetStatus(codes.Error, o.Error)
		} else {
			span.SetStatus(codes.Ok, "")
		}

		attrs := metric.WithAttributes(
			attribute.String("action", string(o.Action)),
			attribute.String("status", string(o.Status)),
			attribute.String("error_code", o.ErrorCode),
		)
		m.actions.Add(ctx, 1, attrs)
		if o.Attempts > 0 {
			m.attempts.Record(ctx, int64(o.Attempts), metric.WithAttributes(attribute.String("action", string(o.Action))))
		}
	}
}

// EventProcessed implements pipeline.Observer.
func (m *Metrics) EventProcessed(ctx context.Context, summary pipeline.Summary, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("state", string(summary.State)),
		attribute.String("triage_action", string(summary.TriageAction)),
	)
	m.processed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// DepthFunc reports the number of pending events.
type DepthFunc func(ctx context.Context) (int64, error)

// RegisterQueueDepth exposes depth as the responder.queue.depth gauge.
func (m *Metrics) RegisterQueueDepth(depth DepthFunc) error {
	gauge, err := m.meter.Int64ObservableGauge(
		"responder.queue.depth",
		metric.WithDescription("Events waiting in the intake queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("create queue depth gauge: %w", err)
	}

	_, err = m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := depth(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("register queue depth callback: %w", err)
	}
	return nil
}
