package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/terraskye/cqrs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Metadata keys written by TelemetryStore.Save.
const (
	CausationIDKey   = "causation_id"
	CorrelationIDKey = "correlation_id"
)

var _ cqrs.EventStore = (*TelemetryStore)(nil)

// TelemetryStore traces and measures every call of the wrapped EventStore.
//
// Save also writes the trace context into the metadata of the appended
// events, so processors can link their spans to the producing command.
type TelemetryStore struct {
	next cqrs.EventStore
	cfg  *config
}

// NewTelemetryStore wraps next.
func NewTelemetryStore(next cqrs.EventStore, options ...Option) *TelemetryStore {
	return &TelemetryStore{next: next, cfg: newConfig(options)}
}

// Save with metrics + span
func (t *TelemetryStore) Save(ctx context.Context, events []cqrs.Envelope, revision cqrs.StreamState) (cqrs.AppendResult, error) {
	var streamID cqrs.StreamID
	if len(events) > 0 {
		streamID = events[0].StreamID
	}

	ctx, span := tracer.Start(ctx, t.cfg.operation(ctx, "eventstore.save"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.cfg.attributes(ctx,
			AttrOperation.String("save"),
			AttrStreamID.String(streamID.String()),
			AttrExpectedRevision.String(expectedRevision(revision)),
			AttrEventCount.Int(len(events)),
		)...),
	)
	defer span.End()

	{
		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)

		causationID := cqrs.CausationFromContext(ctx)

		for i := range events {
			md := events[i].Metadata.Clone()
			if md == nil {
				md = cqrs.Metadata{}
			}
			if causationID != "" {
				md[CausationIDKey] = causationID
			}
			if span.SpanContext().HasTraceID() {
				md[CorrelationIDKey] = span.SpanContext().TraceID().String()
			}
			for key, value := range carrier {
				md[key] = value
			}
			events[i].Metadata = md
		}
	}

	opAttr := metric.WithAttributes(AttrOperation.String("save"))

	start := time.Now()
	result, err := t.next.Save(ctx, events, revision)
	EventStoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()), opAttr)
	EventStoreSaves.Add(ctx, 1, opAttr)

	if err != nil {
		kind := cqrs.Classify(err)
		if kind == cqrs.KindConflict {
			ConcurrencyConflicts.Add(ctx, 1, metric.WithAttributes(AttrAggregateType.String(streamID.AggregateType)))
		} else {
			EventStoreErrors.Add(ctx, 1, opAttr)
		}
		span.SetAttributes(AttrErrorKind.String(kind.String()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	EventsAppended.Add(ctx, int64(len(events)), metric.WithAttributes(AttrAggregateType.String(streamID.AggregateType)))
	span.SetAttributes(AttrStreamVersion.Int64(int64(result.NextExpectedVersion)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// LoadStream with inline tracing middleware
func (t *TelemetryStore) LoadStream(ctx context.Context, id cqrs.StreamID) (*cqrs.Iterator[*cqrs.Envelope], error) {
	iter, err := t.next.LoadStream(ctx, id)
	return t.traceLoad(ctx, "load_stream", iter, err, AttrStreamID.String(id.String()))
}

// LoadStreamFrom with inline tracing middleware
func (t *TelemetryStore) LoadStreamFrom(ctx context.Context, id cqrs.StreamID, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	iter, err := t.next.LoadStreamFrom(ctx, id, after)
	return t.traceLoad(ctx, "load_stream_from", iter, err,
		AttrStreamID.String(id.String()),
		AttrEventStreamPos.Int64(int64(after)),
	)
}

// LoadFromAll with inline tracing middleware
func (t *TelemetryStore) LoadFromAll(ctx context.Context, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	iter, err := t.next.LoadFromAll(ctx, after)
	return t.traceLoad(ctx, "load_from_all", iter, err, AttrEventGlobalPos.Int64(int64(after)))
}

// traceLoad wraps iter in a span that starts with the first Next and ends
// when the iterator is exhausted or fails.
func (t *TelemetryStore) traceLoad(ctx context.Context, operation string, iter *cqrs.Iterator[*cqrs.Envelope], err error, attr ...attribute.KeyValue) (*cqrs.Iterator[*cqrs.Envelope], error) {
	opAttr := metric.WithAttributes(AttrOperation.String(operation))
	EventStoreLoads.Add(ctx, 1, opAttr)
	if err != nil {
		EventStoreErrors.Add(ctx, 1, opAttr)
		return iter, err
	}

	attr = t.cfg.attributes(ctx, append(attr, AttrOperation.String(operation))...)

	var (
		started     bool
		startedAt   time.Time
		loadSpan    trace.Span
		eventCount  int64
		parent      = ctx
		spanContext context.Context
	)

	return cqrs.NewIteratorFunc(func(ctx context.Context) (*cqrs.Envelope, error) {
		if !started {
			started = true
			startedAt = time.Now()
			spanContext, loadSpan = tracer.Start(parent, t.cfg.operation(ctx, "eventstore."+operation),
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attr...),
			)
		}

		if !iter.Next(ctx) {
			loadSpan.SetAttributes(AttrEventCount.Int64(eventCount))
			EventStoreDuration.Record(spanContext, float64(time.Since(startedAt).Milliseconds()), opAttr)

			if err := iter.Err(); err != nil {
				EventStoreErrors.Add(spanContext, 1, opAttr)
				loadSpan.RecordError(err)
				loadSpan.SetStatus(codes.Error, err.Error())
				loadSpan.End()
				return nil, err
			}

			loadSpan.SetStatus(codes.Ok, "")
			loadSpan.End()
			return nil, io.EOF
		}

		eventCount++
		EventsLoaded.Add(spanContext, 1, opAttr)
		return iter.Value(), nil
	}), nil
}

func expectedRevision(revision cqrs.StreamState) string {
	switch rev := revision.(type) {
	case cqrs.Revision:
		return fmt.Sprintf("%d", uint64(rev))
	case cqrs.Any:
		return "any"
	case cqrs.NoStream:
		return "no_stream"
	case cqrs.StreamExists:
		return "stream_exists"
	default:
		return fmt.Sprintf("%T", revision)
	}
}

// Close just forwards
func (t *TelemetryStore) Close() error {
	return t.next.Close()
}
