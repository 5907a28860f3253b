// Package otel decorates executors, event stores, processors and query
// handlers with OpenTelemetry spans and metrics.
//
// Instruments are created from the global providers. Install the SDK
// providers with otel.SetTracerProvider and otel.SetMeterProvider before the
// first command runs.
package otel

import (
	"github.com/terraskye/cqrs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/terraskye/cqrs"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Command attributes
	AttrCommandType   = attribute.Key("cqrs.command.type")
	AttrAggregateType = attribute.Key("cqrs.aggregate.type")
	AttrAggregateID   = attribute.Key("cqrs.aggregate.id")
	AttrPhase         = attribute.Key("cqrs.command.phase")
	AttrAttempts      = attribute.Key("cqrs.command.attempts")

	// Stream attributes
	AttrStreamID         = attribute.Key("cqrs.stream.id")
	AttrStreamVersion    = attribute.Key("cqrs.stream.version")
	AttrExpectedRevision = attribute.Key("cqrs.stream.expected_revision")

	// Event attributes
	AttrEventType      = attribute.Key("cqrs.event.type")
	AttrEventID        = attribute.Key("cqrs.event.id")
	AttrEventCount     = attribute.Key("cqrs.events.count")
	AttrEventGlobalPos = attribute.Key("cqrs.event.global_position")
	AttrEventStreamPos = attribute.Key("cqrs.event.stream_position")

	// Query attributes
	AttrQueryType = attribute.Key("cqrs.query.type")

	// Processor attributes
	AttrProcessorName = attribute.Key("cqrs.processor.name")

	// Error attributes
	AttrErrorKind = attribute.Key("cqrs.error.kind")

	// Operation attributes
	AttrOperation = attribute.Key("cqrs.operation")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(cqrs.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(cqrs.InstrumentationVersion))

	// Command metrics
	CommandsHandled, _ = meter.Int64Counter(
		"cqrs.commands.handled",
		metric.WithDescription("Total number of commands handled"),
		metric.WithUnit("{command}"),
	)

	CommandsDuration, _ = meter.Float64Histogram(
		"cqrs.commands.duration",
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)

	CommandsInFlight, _ = meter.Int64UpDownCounter(
		"cqrs.commands.in_flight",
		metric.WithDescription("Number of commands currently being processed"),
		metric.WithUnit("{command}"),
	)

	CommandsFailed, _ = meter.Int64Counter(
		"cqrs.commands.failed",
		metric.WithDescription("Number of failed commands"),
		metric.WithUnit("{command}"),
	)

	CommandsRejected, _ = meter.Int64Counter(
		"cqrs.commands.rejected",
		metric.WithDescription("Number of commands refused by a business rule"),
		metric.WithUnit("{command}"),
	)

	// Event metrics
	EventsAppended, _ = meter.Int64Counter(
		"cqrs.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)

	EventsLoaded, _ = meter.Int64Counter(
		"cqrs.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)

	// Processor metrics
	ProcessorPublished, _ = meter.Int64Counter(
		"cqrs.processor.published",
		metric.WithDescription("Number of events handed to an event bus"),
		metric.WithUnit("{event}"),
	)

	ProcessorHandled, _ = meter.Int64Counter(
		"cqrs.processor.handled",
		metric.WithDescription("Number of events handled by processors"),
		metric.WithUnit("{event}"),
	)

	ProcessorErrors, _ = meter.Int64Counter(
		"cqrs.processor.errors",
		metric.WithDescription("Number of failed processor dispatches"),
		metric.WithUnit("{error}"),
	)

	ProcessorSubscribers, _ = meter.Int64UpDownCounter(
		"cqrs.processor.subscribers",
		metric.WithDescription("Number of processors subscribed to event buses"),
		metric.WithUnit("{subscriber}"),
	)

	ProcessorDuration, _ = meter.Float64Histogram(
		"cqrs.processor.duration",
		metric.WithDescription("Processor dispatch duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	// Query metrics
	QueriesHandled, _ = meter.Int64Counter(
		"cqrs.queries.handled",
		metric.WithDescription("Total number of queries handled"),
		metric.WithUnit("{query}"),
	)

	QueriesDuration, _ = meter.Float64Histogram(
		"cqrs.queries.duration",
		metric.WithDescription("Query handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	QueriesInFlight, _ = meter.Int64UpDownCounter(
		"cqrs.queries.in_flight",
		metric.WithDescription("Number of queries currently being processed"),
		metric.WithUnit("{query}"),
	)

	QueriesFailed, _ = meter.Int64Counter(
		"cqrs.queries.failed",
		metric.WithDescription("Number of failed queries"),
		metric.WithUnit("{query}"),
	)

	// EventStore metrics
	EventStoreSaves, _ = meter.Int64Counter(
		"cqrs.eventstore.saves",
		metric.WithDescription("Number of save operations"),
		metric.WithUnit("{operation}"),
	)

	EventStoreLoads, _ = meter.Int64Counter(
		"cqrs.eventstore.loads",
		metric.WithDescription("Number of load operations"),
		metric.WithUnit("{operation}"),
	)

	EventStoreDuration, _ = meter.Float64Histogram(
		"cqrs.eventstore.duration",
		metric.WithDescription("Event store operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	EventStoreErrors, _ = meter.Int64Counter(
		"cqrs.eventstore.errors",
		metric.WithDescription("Number of event store errors"),
		metric.WithUnit("{error}"),
	)

	// System metrics
	ConcurrencyConflicts, _ = meter.Int64Counter(
		"cqrs.concurrency.conflicts",
		metric.WithDescription("Number of concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	)

	StreamVersionGauge, _ = meter.Int64Gauge(
		"cqrs.stream.version",
		metric.WithDescription("Current version of streams"),
		metric.WithUnit("{version}"),
	)
)
