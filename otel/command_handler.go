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

// ResultExecutor is an Executor that also reports how an execution ended.
// *cqrs.CommandExecutor implements it.
type ResultExecutor interface {
	cqrs.Executor
	ExecuteWithResult(ctx context.Context, aggregateID string, cmd cqrs.Command, metadata cqrs.Metadata) (cqrs.ExecutionResult, error)
}

// TelemetryExecutor traces and measures every execution of the wrapped
// Executor.
type TelemetryExecutor struct {
	next cqrs.Executor
	cfg  *config
}

// WithCommandTelemetry wraps an Executor with OpenTelemetry tracing and metrics.
//
// The wrapper performs the following steps for each command execution:
//  1. Starts a span named after the command type.
//  2. Attaches base attributes such as command type and aggregate ID.
//  3. Increments the in-flight command metric before execution and decrements it after completion.
//  4. Invokes the underlying executor.
//  5. Updates span attributes and metrics based on the outcome.
//
// When next is a ResultExecutor the span also carries the final phase, the
// number of attempts and the new stream version, and every retried attempt
// counts as a concurrency conflict.
//
// Metrics recorded:
//   - CommandsInFlight: increments/decrements in-flight commands.
//   - CommandsDuration: duration of command handling in milliseconds.
//   - CommandsHandled: successful commands.
//   - CommandsRejected: commands refused by a business rule.
//   - CommandsFailed: every other failure.
//   - ConcurrencyConflicts: conflicts, retried or final.
//
// A business rule violation is an expected outcome: its span ends with
// status Ok and a "command.rejected" event.
//
// Example Usage:
//
//	exec := otel.WithCommandTelemetry(cqrs.NewCommandExecutor(store, agg))
//	err := exec.Execute(ctx, "A", bank.DepositMoney{Amount: 200}, nil)
func WithCommandTelemetry(next cqrs.Executor, options ...Option) *TelemetryExecutor {
	return &TelemetryExecutor{next: next, cfg: newConfig(options)}
}

// Execute implements cqrs.Executor.
func (t *TelemetryExecutor) Execute(ctx context.Context, aggregateID string, cmd cqrs.Command, metadata cqrs.Metadata) error {
	_, err := t.ExecuteWithResult(ctx, aggregateID, cmd, metadata)
	return err
}

// ExecuteWithResult executes cmd. The result is zero unless the wrapped
// executor is a ResultExecutor.
func (t *TelemetryExecutor) ExecuteWithResult(ctx context.Context, aggregateID string, cmd cqrs.Command, metadata cqrs.Metadata) (cqrs.ExecutionResult, error) {
	commandType := cmd.CommandType()
	typeAttr := metric.WithAttributes(AttrCommandType.String(commandType))

	attr := t.cfg.attributes(ctx,
		AttrCommandType.String(commandType),
		AttrAggregateID.String(aggregateID),
	)

	ctx, span := tracer.Start(ctx, t.cfg.operation(ctx, fmt.Sprintf("command.execute %s", commandType)),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attr...),
	)
	defer span.End()

	CommandsInFlight.Add(ctx, 1, typeAttr)
	defer CommandsInFlight.Add(ctx, -1, typeAttr)

	startTime := time.Now()

	var (
		result cqrs.ExecutionResult
		err    error
	)
	if re, ok := t.next.(ResultExecutor); ok {
		result, err = re.ExecuteWithResult(ctx, aggregateID, cmd, metadata)
		t.recordResult(ctx, span, result)
	} else {
		err = t.next.Execute(ctx, aggregateID, cmd, metadata)
	}

	CommandsDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), typeAttr)

	kind := cqrs.Classify(err)
	switch kind {
	case cqrs.KindNone:
		span.SetStatus(codes.Ok, "")
		CommandsHandled.Add(ctx, 1, typeAttr)
	case cqrs.KindDomain:
		span.AddEvent("command.rejected", trace.WithAttributes(AttrErrorKind.String(kind.String())))
		span.SetStatus(codes.Ok, "")
		CommandsRejected.Add(ctx, 1, typeAttr)
	default:
		span.SetAttributes(AttrErrorKind.String(kind.String()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		CommandsFailed.Add(ctx, 1, metric.WithAttributes(
			AttrCommandType.String(commandType),
			AttrErrorKind.String(kind.String()),
		))
		if kind == cqrs.KindConflict && result.Attempts == 0 {
			ConcurrencyConflicts.Add(ctx, 1, typeAttr)
		}
	}

	return result, err
}

func (t *TelemetryExecutor) recordResult(ctx context.Context, span trace.Span, result cqrs.ExecutionResult) {
	version := result.Revision
	if n := len(result.Events); n > 0 {
		version = result.Events[n-1].Sequence
	}

	span.SetAttributes(
		AttrStreamID.String(result.StreamID.String()),
		AttrAggregateType.String(result.StreamID.AggregateType),
		AttrPhase.String(result.Phase.String()),
		AttrAttempts.Int(result.Attempts),
		AttrEventCount.Int(len(result.Events)),
		AttrStreamVersion.Int64(int64(version)),
	)

	conflicts := result.Attempts - 1
	if result.Phase == cqrs.PhaseConflicted {
		conflicts = result.Attempts
	}
	if conflicts > 0 {
		ConcurrencyConflicts.Add(ctx, int64(conflicts),
			metric.WithAttributes(AttrAggregateType.String(result.StreamID.AggregateType)))
	}
	if len(result.Events) > 0 {
		StreamVersionGauge.Record(ctx, int64(version),
			metric.WithAttributes(AttrAggregateType.String(result.StreamID.AggregateType)))
	}
}
