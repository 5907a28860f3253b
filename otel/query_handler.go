package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/terraskye/cqrs"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WithQueryTelemetry wraps a QueryHandler with OpenTelemetry tracing and metrics.
//
// The wrapper performs the following steps for each query execution:
//  1. Starts a span named after the query type.
//  2. Increments the in-flight query metric before execution and decrements it after completion.
//  3. Invokes the underlying query handler.
//  4. Records the duration and counts the query as handled or failed.
//
// Example Usage:
//
//	handler := otel.WithQueryTelemetry(bank.NewGetAccountHandler(views))
//	view, err := handler.HandleQuery(ctx, bank.GetAccount{AccountID: "A"})
func WithQueryTelemetry[T cqrs.Query, R any](next cqrs.QueryHandler[T, R], options ...Option) cqrs.QueryHandler[T, R] {
	return &telemetryQueryHandler[T, R]{
		next: next,
		cfg:  newConfig(options),
	}
}

type telemetryQueryHandler[T cqrs.Query, R any] struct {
	next cqrs.QueryHandler[T, R]
	cfg  *config
}

func (h *telemetryQueryHandler[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	queryType := qry.QueryType()
	typeAttr := metric.WithAttributes(AttrQueryType.String(queryType))

	ctx, span := tracer.Start(ctx, h.cfg.operation(ctx, fmt.Sprintf("query.handle %s", queryType)),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(h.cfg.attributes(ctx, AttrQueryType.String(queryType))...),
	)
	defer span.End()

	QueriesInFlight.Add(ctx, 1, typeAttr)
	defer QueriesInFlight.Add(ctx, -1, typeAttr)

	startTime := time.Now()
	result, err := h.next.HandleQuery(ctx, qry)

	QueriesDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), typeAttr)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		QueriesFailed.Add(ctx, 1, typeAttr)
		return result, err
	}

	span.SetStatus(codes.Ok, "")
	QueriesHandled.Add(ctx, 1, typeAttr)

	return result, nil
}
