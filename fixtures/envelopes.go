package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/terraskye/cqrs"
)

// OrderStream returns the stream of order id.
func OrderStream(id string) cqrs.StreamID {
	return cqrs.NewStreamID("order", id)
}

// EnvelopeOption is a functional option for configuring an Envelope.
type EnvelopeOption func(*cqrs.Envelope)

// NewEnvelope creates an Envelope with the given event and options. It
// defaults to sequence 1 of OrderStream("order-1").
func NewEnvelope(event cqrs.Event, opts ...EnvelopeOption) *cqrs.Envelope {
	env := &cqrs.Envelope{
		EventID:      uuid.New(),
		StreamID:     OrderStream("order-1"),
		Sequence:     1,
		EventType:    event.EventType(),
		EventVersion: event.EventVersion(),
		Event:        event,
		OccurredAt:   time.Now().UTC(),
		Metadata:     cqrs.Metadata{},
	}

	for _, opt := range opts {
		opt(env)
	}

	return env
}

// WithEventID sets a specific event ID.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *cqrs.Envelope) {
		e.EventID = id
	}
}

// WithStreamID overrides the stream.
func WithStreamID(id cqrs.StreamID) EnvelopeOption {
	return func(e *cqrs.Envelope) {
		e.StreamID = id
	}
}

// WithSequence sets the stream sequence.
func WithSequence(v uint64) EnvelopeOption {
	return func(e *cqrs.Envelope) {
		e.Sequence = v
	}
}

// WithGlobalPosition sets the global position.
func WithGlobalPosition(v uint64) EnvelopeOption {
	return func(e *cqrs.Envelope) {
		e.GlobalPosition = v
	}
}

// WithTimestamp sets the occurred-at timestamp.
func WithTimestamp(t time.Time) EnvelopeOption {
	return func(e *cqrs.Envelope) {
		e.OccurredAt = t
	}
}

// WithMetadata adds one metadata entry.
func WithMetadata(key, value string) EnvelopeOption {
	return func(e *cqrs.Envelope) {
		if e.Metadata == nil {
			e.Metadata = cqrs.Metadata{}
		}
		e.Metadata[key] = value
	}
}

// Batch wraps events for stream starting right after the sequence after,
// ready to be passed to EventStore.Save.
func Batch(stream cqrs.StreamID, after uint64, md cqrs.Metadata, events ...cqrs.Event) []cqrs.Envelope {
	out := make([]cqrs.Envelope, len(events))
	for i, ev := range events {
		out[i] = cqrs.NewEnvelope(stream, after+uint64(i)+1, ev, md)
	}
	return out
}

// History is Batch returning pointers, shaped like committed events handed
// to processors.
func History(stream cqrs.StreamID, events ...cqrs.Event) []*cqrs.Envelope {
	batch := Batch(stream, 0, nil, events...)
	out := make([]*cqrs.Envelope, len(batch))
	for i := range batch {
		out[i] = &batch[i]
	}
	return out
}
