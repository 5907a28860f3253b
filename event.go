package cqrs

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event describing a change that has happened to an aggregate.
//
// Events are plain values. The stream they belong to, their position in that
// stream and the metadata of the execution that produced them live on the
// Envelope that carries them.
type Event interface {
	// EventType returns the stable name used to persist and route the event.
	EventType() string

	// EventVersion returns the payload schema version of the event.
	EventVersion() string
}

// StreamID identifies one aggregate instance's event stream.
type StreamID struct {
	AggregateType string
	AggregateID   string
}

// NewStreamID returns the StreamID of the given aggregate instance.
func NewStreamID(aggregateType, aggregateID string) StreamID {
	return StreamID{AggregateType: aggregateType, AggregateID: aggregateID}
}

// String returns the stream name in the form "type-id".
func (s StreamID) String() string {
	if s.AggregateType == "" {
		return s.AggregateID
	}
	return s.AggregateType + "-" + s.AggregateID
}

// IsZero reports whether the stream has no aggregate id.
func (s StreamID) IsZero() bool {
	return s.AggregateID == ""
}

// Metadata is the free-form string map attached to a command execution and
// copied onto every event it produces.
type Metadata map[string]string

// Clone returns an independent copy of m. The result is never nil.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	maps.Copy(out, m)
	return out
}

// Merge returns a copy of m overlaid with other. Keys in other win.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	maps.Copy(out, other)
	return out
}

// Envelope is the immutable record of a committed (or about to be committed)
// event.
type Envelope struct {
	EventID  uuid.UUID
	StreamID StreamID

	// Sequence is the 1-based position of the event within its stream.
	Sequence uint64

	// GlobalPosition is the store-assigned commit position across all
	// streams. Zero until the event has been committed by a store that
	// tracks one.
	GlobalPosition uint64

	EventType    string
	EventVersion string
	Event        Event
	Metadata     Metadata
	OccurredAt   time.Time
}

var now = time.Now

// NewEnvelope wraps event for the given stream position.
func NewEnvelope(stream StreamID, sequence uint64, event Event, metadata Metadata) Envelope {
	return Envelope{
		EventID:      uuid.New(),
		StreamID:     stream,
		Sequence:     sequence,
		EventType:    event.EventType(),
		EventVersion: event.EventVersion(),
		Event:        event,
		Metadata:     metadata.Clone(),
		OccurredAt:   now().UTC(),
	}
}
