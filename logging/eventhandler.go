package logging

import (
	"context"
	"log/slog"

	"github.com/terraskye/cqrs"
)

// WithLoggingMiddleware logs around a single event handler. The envelope
// values are read from the context set by cqrs.WithEnvelope.
func WithLoggingMiddleware(logger *slog.Logger, next cqrs.EventHandler) cqrs.EventHandler {
	return &eventHandlerLogger{logger: logger, next: next}
}

type eventHandlerLogger struct {
	logger *slog.Logger
	next   cqrs.EventHandler
}

// EventName keeps handlers created with cqrs.OnEvent groupable.
func (h *eventHandlerLogger) EventName() string {
	if named, ok := h.next.(interface{ EventName() string }); ok {
		return named.EventName()
	}
	return ""
}

func (h *eventHandlerLogger) Handle(ctx context.Context, event cqrs.Event) error {
	l := h.logger.With(
		"stream-id", cqrs.StreamIDFromContext(ctx),
		"causation", cqrs.CausationFromContext(ctx),
		"sequence", cqrs.SequenceFromContext(ctx),
		"global-position", cqrs.GlobalPositionFromContext(ctx),
		"aggregateId", cqrs.AggregateIDFromContext(ctx),
		"event-type", event.EventType(),
	)

	l.DebugContext(ctx, "event processing started")

	err := h.next.Handle(ctx, event)

	if err != nil {
		l.ErrorContext(ctx, "error processing event", "error", err)
	} else {
		l.DebugContext(ctx, "event processed successfully")
	}

	return err
}

type processorLogger struct {
	logger *slog.Logger
	next   cqrs.Processor
}

// WithProcessorLogging logs every batch dispatched to next.
func WithProcessorLogging(logger *slog.Logger, next cqrs.Processor) cqrs.Processor {
	return &processorLogger{
		logger: logger.With("processor", next.Name()),
		next:   next,
	}
}

func (p *processorLogger) Name() string {
	return p.next.Name()
}

func (p *processorLogger) Dispatch(ctx context.Context, stream cqrs.StreamID, events []*cqrs.Envelope) error {
	if len(events) == 0 {
		return p.next.Dispatch(ctx, stream, events)
	}

	l := p.logger.With(
		"stream-id", stream.String(),
		"first-sequence", events[0].Sequence,
		"last-sequence", events[len(events)-1].Sequence,
		"count", len(events),
	)

	l.DebugContext(ctx, "dispatch started")

	err := p.next.Dispatch(ctx, stream, events)
	if err != nil {
		l.ErrorContext(ctx, "dispatch failed", "error", err)
		return err
	}

	l.DebugContext(ctx, "dispatch finished")
	return nil
}

// ErrorHandler reports processor failures to logger. It is meant for
// cqrs.NewSyncDispatcher and the event bus error channels.
func ErrorHandler(logger *slog.Logger) cqrs.ErrorHandler {
	return func(ctx context.Context, processor string, err error) {
		logger.ErrorContext(ctx, "processor failed",
			slog.String("processor", processor),
			slog.String("stream-id", cqrs.StreamIDFromContext(ctx)),
			slog.String("kind", cqrs.Classify(err).String()),
			slog.Any("error", err),
		)
	}
}
