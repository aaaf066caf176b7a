package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/mdvault/internal/eventbus"
)

const busScopeName = "github.com/steveyegge/mdvault/eventbus"

// instrumentedHandler wraps an event handler with OTel tracing and
// metrics. Every dispatch gets a span and is counted in vd.events.*.
type instrumentedHandler struct {
	inner  eventbus.Handler
	tracer trace.Tracer
	events metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapHandler returns h decorated with OTel instrumentation. When
// telemetry is disabled, h is returned as-is with zero overhead.
func WrapHandler(h eventbus.Handler) eventbus.Handler {
	if !Enabled() {
		return h
	}
	m := Meter(busScopeName)
	events, _ := m.Int64Counter("vd.events.handled",
		metric.WithDescription("Total events dispatched to handlers"),
	)
	dur, _ := m.Float64Histogram("vd.events.handler.duration",
		metric.WithDescription("Handler execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("vd.events.handler.errors",
		metric.WithDescription("Total handler errors (pre-retry)"),
	)
	return &instrumentedHandler{
		inner:  h,
		tracer: Tracer(busScopeName),
		events: events,
		dur:    dur,
		errs:   errs,
	}
}

func (ih *instrumentedHandler) ID() string { return ih.inner.ID() }

func (ih *instrumentedHandler) Handles() []string { return ih.inner.Handles() }

func (ih *instrumentedHandler) Priority() int { return ih.inner.Priority() }

func (ih *instrumentedHandler) Handle(ctx context.Context, env *eventbus.Envelope) error {
	attrs := []attribute.KeyValue{
		attribute.String("event.type", env.Type),
		attribute.String("event.source", env.Source),
		attribute.String("handler.name", ih.inner.ID()),
	}
	ctx, span := ih.tracer.Start(ctx, "handle."+env.Type,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	start := time.Now()
	err := ih.inner.Handle(ctx, env)

	ih.events.Add(ctx, 1, metric.WithAttributes(attrs...))
	ih.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ih.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return err
}
