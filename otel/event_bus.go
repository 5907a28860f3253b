package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/terraskye/cqrs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ cqrs.Processor = (*TelemetryProcessor)(nil)

// TelemetryProcessor wraps a Processor with a consumer span per dispatched
// batch.
//
// The trace context written into the event metadata by TelemetryStore is
// extracted and linked, so a projection span can be followed back to the
// command that committed its events.
type TelemetryProcessor struct {
	next cqrs.Processor
	cfg  *config
}

// WithProcessorTelemetry wraps a Processor with OpenTelemetry tracing and
// metrics.
//
// For every dispatched batch the wrapper:
//  1. Extracts the producer trace context of every envelope from its metadata.
//  2. Starts a consumer span named "processor.dispatch {name}" linked to those traces.
//  3. Invokes the underlying processor.
//  4. Records ProcessorHandled, ProcessorDuration and, on failure, ProcessorErrors.
//
// Example Usage:
//
//	views := otel.WithProcessorTelemetry(bank.NewAccountViewProcessor(repo, store))
//	exec := cqrs.NewCommandExecutor(store, agg, cqrs.WithProcessors(views))
func WithProcessorTelemetry(next cqrs.Processor, options ...Option) *TelemetryProcessor {
	return &TelemetryProcessor{next: next, cfg: newConfig(options)}
}

func (t *TelemetryProcessor) Name() string {
	return t.next.Name()
}

// Unwrap returns the wrapped processor.
func (t *TelemetryProcessor) Unwrap() cqrs.Processor {
	return t.next
}

func (t *TelemetryProcessor) Dispatch(ctx context.Context, stream cqrs.StreamID, events []*cqrs.Envelope) error {
	name := t.next.Name()

	links := make([]trace.Link, 0, len(events))
	seen := make(map[trace.SpanID]struct{}, len(events))
	for _, envelope := range events {
		carrier := propagation.MapCarrier(envelope.Metadata)
		producer := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), carrier))
		if !producer.IsValid() {
			continue
		}
		if _, ok := seen[producer.SpanID()]; ok {
			continue
		}
		seen[producer.SpanID()] = struct{}{}
		links = append(links, trace.Link{SpanContext: producer, Attributes: linkAttributes})
	}

	attr := t.cfg.attributes(ctx,
		AttrProcessorName.String(name),
		AttrStreamID.String(stream.String()),
		AttrEventCount.Int(len(events)),
	)
	if n := len(events); n > 0 {
		attr = append(attr,
			AttrEventStreamPos.Int64(int64(events[n-1].Sequence)),
			AttrEventGlobalPos.Int64(int64(events[n-1].GlobalPosition)),
		)
	}

	ctx, span := tracer.Start(ctx, t.cfg.operation(ctx, fmt.Sprintf("processor.dispatch %s", name)),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithLinks(links...),
		trace.WithAttributes(attr...),
	)
	defer span.End()

	nameAttr := metric.WithAttributes(AttrProcessorName.String(name))

	startTime := time.Now()
	err := t.next.Dispatch(ctx, stream, events)
	ProcessorDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), nameAttr)

	if err != nil {
		ProcessorErrors.Add(ctx, 1, nameAttr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	ProcessorHandled.Add(ctx, int64(len(events)), nameAttr)
	span.SetStatus(codes.Ok, "")
	return nil
}

var _ cqrs.EventBus = (*TelemetryEventBus)(nil)

// TelemetryEventBus wraps an EventBus so that every subscribed processor is
// decorated with WithProcessorTelemetry and every published batch is
// counted.
type TelemetryEventBus struct {
	next cqrs.EventBus
	cfg  *config
}

// WithEventBusTelemetry wraps an EventBus with OpenTelemetry tracing and metrics.
//
// Options apply to the processor spans of every subscription.
//
// Example Usage:
//
//	bus := otel.WithEventBusTelemetry(memory.NewEventBus())
//	err := bus.Subscribe(ctx, bank.NewAuditLog(os.Stdout))
func WithEventBusTelemetry(next cqrs.EventBus, options ...Option) *TelemetryEventBus {
	return &TelemetryEventBus{next: next, cfg: newConfig(options)}
}

func (t *TelemetryEventBus) Dispatch(ctx context.Context, stream cqrs.StreamID, events []*cqrs.Envelope) {
	ProcessorPublished.Add(ctx, int64(len(events)),
		metric.WithAttributes(AttrAggregateType.String(stream.AggregateType)))
	t.next.Dispatch(ctx, stream, events)
}

// Subscribe wraps processor and subscribes it to the underlying bus. The
// subscriber gauge is decremented once ctx is done.
func (t *TelemetryEventBus) Subscribe(ctx context.Context, processor cqrs.Processor, options ...cqrs.SubscriberOption) error {
	wrapped := &TelemetryProcessor{next: processor, cfg: t.cfg}
	if err := t.next.Subscribe(ctx, wrapped, options...); err != nil {
		return err
	}

	nameAttr := metric.WithAttributes(AttrProcessorName.String(processor.Name()))
	ProcessorSubscribers.Add(ctx, 1, nameAttr)
	context.AfterFunc(ctx, func() {
		ProcessorSubscribers.Add(context.Background(), -1, nameAttr)
	})
	return nil
}

// Errors returns the error channel from the underlying event bus.
func (t *TelemetryEventBus) Errors() <-chan error {
	return t.next.Errors()
}

// Close closes the underlying event bus and waits for all handlers to finish.
func (t *TelemetryEventBus) Close() error {
	return t.next.Close()
}
