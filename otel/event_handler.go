package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terraskye/cqrs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type telemetryEventHandler struct {
	next cqrs.EventHandler
	cfg  *config
}

// WithEventTelemetry wraps a single event handler with a span per handled
// event. The envelope values are read from the context, as set by
// cqrs.WithEnvelope. Handlers created with cqrs.OnEvent keep their event name,
// so the result can still be grouped with cqrs.NewEventGroupProcessor.
func WithEventTelemetry(next cqrs.EventHandler, options ...Option) cqrs.EventHandler {
	return &telemetryEventHandler{next: next, cfg: newConfig(options)}
}

// EventName forwards the name of the wrapped handler, if it has one.
func (h *telemetryEventHandler) EventName() string {
	if named, ok := h.next.(interface{ EventName() string }); ok {
		return named.EventName()
	}
	return ""
}

func (h *telemetryEventHandler) Handle(ctx context.Context, event cqrs.Event) error {
	attr := h.cfg.attributes(ctx,
		AttrEventType.String(event.EventType()),
		AttrEventID.String(cqrs.EventIDFromContext(ctx).String()),
		AttrEventGlobalPos.Int64(int64(cqrs.GlobalPositionFromContext(ctx))),
		AttrEventStreamPos.Int64(int64(cqrs.SequenceFromContext(ctx))),
		AttrStreamID.String(cqrs.StreamIDFromContext(ctx)),
	)

	ctx, span := tracer.Start(ctx, h.cfg.operation(ctx, fmt.Sprintf("events.handle %s", event.EventType())),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attr...),
	)
	defer span.End()

	typeAttr := metric.WithAttributes(AttrEventType.String(event.EventType()))

	startTime := time.Now()
	err := h.next.Handle(ctx, event)
	ProcessorDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), typeAttr)

	if err != nil {
		if errors.As(err, new(cqrs.ErrSkippedEvent)) {
			span.SetStatus(codes.Ok, "event skipped")
			return err
		}
		ProcessorErrors.Add(ctx, 1, typeAttr)
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return err
	}

	ProcessorHandled.Add(ctx, 1, typeAttr)
	span.SetStatus(codes.Ok, "")
	return nil
}

// linkAttributes marks links from a consumer span to the span that
// committed the event.
var linkAttributes = []attribute.KeyValue{
	attribute.String("link.reason", "event.consumed.from.stream"),
}
