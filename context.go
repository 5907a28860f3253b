package cqrs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

// Define constants for context keys
const (
	streamIDKey       ctxKey = "streamID"
	aggregateTypeKey  ctxKey = "aggregateType"
	aggregateIDKey    ctxKey = "aggregateID"
	eventIDKey        ctxKey = "eventID"
	eventTypeKey      ctxKey = "eventType"
	sequenceKey       ctxKey = "sequence"
	globalPositionKey ctxKey = "globalPosition"
	occurredAtKey     ctxKey = "occurredAt"
	metadataKey       ctxKey = "metadata"
	causationKey      ctxKey = "causation"
)

// WithEnvelope adds the context of the Event to the context
func WithEnvelope(ctx context.Context, env *Envelope) context.Context {
	ctx = context.WithValue(ctx, streamIDKey, env.StreamID.String())
	ctx = context.WithValue(ctx, aggregateTypeKey, env.StreamID.AggregateType)
	ctx = context.WithValue(ctx, aggregateIDKey, env.StreamID.AggregateID)
	ctx = context.WithValue(ctx, eventIDKey, env.EventID)
	ctx = context.WithValue(ctx, eventTypeKey, env.EventType)
	ctx = context.WithValue(ctx, sequenceKey, env.Sequence)
	ctx = context.WithValue(ctx, globalPositionKey, env.GlobalPosition)
	ctx = context.WithValue(ctx, occurredAtKey, env.OccurredAt)
	ctx = context.WithValue(ctx, metadataKey, env.Metadata)
	ctx = context.WithValue(ctx, causationKey, env.EventID.String())
	return ctx
}

// WithStreamID adds the stream a command or event belongs to to the context.
// The executor calls it before running the decider.
func WithStreamID(ctx context.Context, stream StreamID) context.Context {
	ctx = context.WithValue(ctx, streamIDKey, stream.String())
	ctx = context.WithValue(ctx, aggregateTypeKey, stream.AggregateType)
	ctx = context.WithValue(ctx, aggregateIDKey, stream.AggregateID)
	return ctx
}

// WithCausation records the id of whatever caused the work carried by ctx.
func WithCausation(ctx context.Context, causationID string) context.Context {
	return context.WithValue(ctx, causationKey, causationID)
}

func stringFromContext(ctx context.Context, key ctxKey) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// StreamIDFromContext returns the stream name or "" if not present
func StreamIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, streamIDKey)
}

// AggregateTypeFromContext returns the aggregate type or "" if not present
func AggregateTypeFromContext(ctx context.Context) string {
	return stringFromContext(ctx, aggregateTypeKey)
}

// AggregateIDFromContext returns the aggregate id or "" if not present
func AggregateIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, aggregateIDKey)
}

// EventTypeFromContext returns the event type or "" if not present
func EventTypeFromContext(ctx context.Context) string {
	return stringFromContext(ctx, eventTypeKey)
}

// CausationFromContext returns the causation id or "" if not present
func CausationFromContext(ctx context.Context) string {
	return stringFromContext(ctx, causationKey)
}

// EventIDFromContext returns the EventID or uuid.Nil if not present
func EventIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(eventIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// SequenceFromContext returns the stream sequence or 0 if not present
func SequenceFromContext(ctx context.Context) uint64 {
	if v, ok := ctx.Value(sequenceKey).(uint64); ok {
		return v
	}
	return 0
}

// GlobalPositionFromContext returns the global position or 0 if not present
func GlobalPositionFromContext(ctx context.Context) uint64 {
	if v, ok := ctx.Value(globalPositionKey).(uint64); ok {
		return v
	}
	return 0
}

// OccurredAtFromContext returns OccurredAt or zero time if not present
func OccurredAtFromContext(ctx context.Context) time.Time {
	if t, ok := ctx.Value(occurredAtKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// MetadataFromContext returns Metadata or nil if not present
func MetadataFromContext(ctx context.Context) Metadata {
	if md, ok := ctx.Value(metadataKey).(Metadata); ok {
		return md
	}
	return nil
}
