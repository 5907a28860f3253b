// Package kurrentdb provides a cqrs.EventStore backed by KurrentDB.
//
// Each aggregate stream maps to the KurrentDB stream named StreamID.String().
// Because that name cannot be split back reliably, the aggregate type and id
// travel in the event's user metadata next to the caller's metadata.
package kurrentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/terraskye/cqrs"
)

const readToEnd = math.MaxInt64

// Option configures an EventStore.
type Option func(*EventStore)

// WithRegistry sets the registry used to decode payloads. Defaults to
// cqrs.DefaultRegistry.
func WithRegistry(r *cqrs.Registry) Option {
	return func(e *EventStore) {
		e.registry = r
	}
}

// EventStore implements cqrs.EventStore over a KurrentDB client.
//
// KurrentDB assigns commit positions on read, so Save stamps Sequence only;
// GlobalPosition is filled on events returned by the Load methods.
type EventStore struct {
	client   *kurrentdb.Client
	registry *cqrs.Registry
}

var _ cqrs.EventStore = (*EventStore)(nil)

// NewEventStore creates a KurrentDB-backed eventstore
func NewEventStore(client *kurrentdb.Client, opts ...Option) *EventStore {
	e := &EventStore{client: client, registry: cqrs.DefaultRegistry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dial connects to the KurrentDB server described by connectionString, e.g.
// "kurrentdb://localhost:2113?tls=false".
func Dial(connectionString string, opts ...Option) (*EventStore, error) {
	cfg, err := kurrentdb.ParseConnectionString(connectionString)
	if err != nil {
		return nil, fmt.Errorf("parse kurrentdb connection string: %w", err)
	}
	client, err := kurrentdb.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kurrentdb client: %w", err)
	}
	return NewEventStore(client, opts...), nil
}

// Client returns the underlying client, e.g. to subscribe to $all.
func (e *EventStore) Client() *kurrentdb.Client {
	return e.client
}

// storedMetadata is the user metadata written next to every event.
type storedMetadata struct {
	AggregateType string        `json:"aggregate_type"`
	AggregateID   string        `json:"aggregate_id"`
	EventVersion  string        `json:"event_version"`
	OccurredAt    time.Time     `json:"occurred_at"`
	Metadata      cqrs.Metadata `json:"metadata"`
}

func (e *EventStore) Save(ctx context.Context, events []cqrs.Envelope, revision cqrs.StreamState) (cqrs.AppendResult, error) {
	if len(events) == 0 {
		return cqrs.AppendResult{Successful: true}, nil
	}

	stream, err := cqrs.ValidateBatch(events)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("save events to stream %s: %w", stream, err))
	}

	state, expected, err := streamState(revision)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("save events to stream %s: %w", stream, err))
	}

	kevents := make([]kurrentdb.EventData, len(events))
	for i, ev := range events {
		eventData, err := cqrs.MarshalEvent(ev.Event)
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}

		metaData, err := json.Marshal(storedMetadata{
			AggregateType: stream.AggregateType,
			AggregateID:   stream.AggregateID,
			EventVersion:  ev.EventVersion,
			OccurredAt:    ev.OccurredAt.UTC(),
			Metadata:      ev.Metadata,
		})
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}

		kevents[i] = kurrentdb.EventData{
			EventID:     ev.EventID,
			EventType:   ev.EventType,
			ContentType: kurrentdb.ContentTypeJson,
			Data:        eventData,
			Metadata:    metaData,
		}
	}

	result, err := e.client.AppendToStream(ctx, stream.String(), kurrentdb.AppendToStreamOptions{
		StreamState: state,
	}, kevents...)
	if err != nil {
		if hasCode(err, kurrentdb.ErrorCodeWrongExpectedVersion) {
			actual, _ := e.streamLength(ctx, stream)
			return cqrs.AppendResult{StreamID: stream}, &cqrs.StreamRevisionConflictError{
				Stream: stream, ExpectedRevision: expected, ActualRevision: actual,
			}
		}
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("append to %s: %w", stream, err))
	}

	// NextExpectedVersion is the 0-based number of the last appended event.
	last := result.NextExpectedVersion + 1
	first := last - uint64(len(events)) + 1
	for i := range events {
		events[i].Sequence = first + uint64(i)
	}

	return cqrs.AppendResult{
		Successful:          true,
		StreamID:            stream,
		FirstSequence:       first,
		NextExpectedVersion: last,
	}, nil
}

// streamState maps a cqrs.StreamState onto KurrentDB's 0-based revisions.
func streamState(revision cqrs.StreamState) (kurrentdb.StreamState, uint64, error) {
	switch rev := revision.(type) {
	case cqrs.Any:
		return kurrentdb.Any{}, 0, nil
	case cqrs.NoStream:
		return kurrentdb.NoStream{}, 0, nil
	case cqrs.StreamExists:
		return kurrentdb.StreamExists{}, 0, nil
	case cqrs.Revision:
		if rev == 0 {
			return kurrentdb.NoStream{}, 0, nil
		}
		return kurrentdb.StreamRevision{Value: uint64(rev) - 1}, uint64(rev), nil
	default:
		return nil, 0, fmt.Errorf("unsupported revision type %T: %w", revision, cqrs.ErrInvalidRevision)
	}
}

// streamLength reads the last event of stream backwards.
func (e *EventStore) streamLength(ctx context.Context, stream cqrs.StreamID) (uint64, error) {
	rs, err := e.client.ReadStream(ctx, stream.String(), kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Backwards,
		From:      kurrentdb.End{},
	}, 1)
	if err != nil {
		return 0, err
	}
	defer rs.Close()

	ev, err := rs.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) || hasCode(err, kurrentdb.ErrorCodeResourceNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return ev.OriginalEvent().EventNumber + 1, nil
}

func (e *EventStore) LoadStream(ctx context.Context, id cqrs.StreamID) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return e.LoadStreamFrom(ctx, id, 0)
}

// LoadStreamFrom returns the events of id after sequence after. The event
// with sequence after+1 is KurrentDB revision after.
func (e *EventStore) LoadStreamFrom(ctx context.Context, id cqrs.StreamID, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	var from kurrentdb.StreamPosition = kurrentdb.Start{}
	if after > 0 {
		from = kurrentdb.StreamRevision{Value: after}
	}

	streamer, err := e.client.ReadStream(ctx, id.String(), kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Forwards,
		From:      from,
	}, readToEnd)
	if err != nil {
		if hasCode(err, kurrentdb.ErrorCodeResourceNotFound) {
			return cqrs.EmptyIterator[*cqrs.Envelope](), nil
		}
		return nil, cqrs.WrapEventStoreError(err)
	}

	return cqrs.NewIteratorFunc(func(ctx context.Context) (*cqrs.Envelope, error) {
		if err := ctx.Err(); err != nil {
			streamer.Close()
			return nil, err
		}

		kEvent, err := streamer.Recv()
		if err != nil {
			streamer.Close()
			if errors.Is(err, io.EOF) || hasCode(err, kurrentdb.ErrorCodeResourceNotFound) {
				return nil, io.EOF
			}
			return nil, cqrs.WrapEventStoreError(err)
		}
		return e.decode(kEvent.OriginalEvent())
	}), nil
}

// LoadFromAll reads $all from the start and skips system events and events
// at or before after.
func (e *EventStore) LoadFromAll(ctx context.Context, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	streamer, err := e.client.ReadAll(ctx, kurrentdb.ReadAllOptions{
		Direction: kurrentdb.Forwards,
		From:      kurrentdb.Start{},
	}, readToEnd)
	if err != nil {
		return nil, cqrs.WrapEventStoreError(err)
	}

	return cqrs.NewIteratorFunc(func(ctx context.Context) (*cqrs.Envelope, error) {
		for {
			if err := ctx.Err(); err != nil {
				streamer.Close()
				return nil, err
			}

			kEvent, err := streamer.Recv()
			if err != nil {
				streamer.Close()
				if errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, cqrs.WrapEventStoreError(err)
			}

			recorded := kEvent.OriginalEvent()
			if isSystemEvent(recorded) || recorded.Position.Commit <= after {
				continue
			}
			return e.decode(recorded)
		}
	}), nil
}

func (e *EventStore) Close() error {
	return e.client.Close()
}

// Decode turns a recorded KurrentDB event into an Envelope.
func (e *EventStore) decode(recorded *kurrentdb.RecordedEvent) (*cqrs.Envelope, error) {
	return Decode(e.registry, recorded)
}

// Decode turns a recorded KurrentDB event written by EventStore into an
// Envelope, using registry for the payload.
func Decode(registry *cqrs.Registry, recorded *kurrentdb.RecordedEvent) (*cqrs.Envelope, error) {
	ev, err := registry.Decode(recorded.EventType, recorded.Data)
	if err != nil {
		return nil, err
	}

	var meta storedMetadata
	if len(recorded.UserMetadata) > 0 {
		if err := json.Unmarshal(recorded.UserMetadata, &meta); err != nil {
			return nil, &cqrs.DeserializationError{Err: fmt.Errorf("decode metadata of %s: %w", recorded.EventID, err)}
		}
	}
	if meta.Metadata == nil {
		meta.Metadata = cqrs.Metadata{}
	}

	stream := cqrs.NewStreamID(meta.AggregateType, meta.AggregateID)
	if stream.IsZero() {
		stream = cqrs.StreamID{AggregateID: recorded.StreamID}
	}
	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = recorded.CreatedDate.UTC()
	}

	return &cqrs.Envelope{
		EventID:        recorded.EventID,
		StreamID:       stream,
		Sequence:       recorded.EventNumber + 1,
		GlobalPosition: recorded.Position.Commit,
		EventType:      recorded.EventType,
		EventVersion:   meta.EventVersion,
		Event:          ev,
		Metadata:       meta.Metadata,
		OccurredAt:     occurredAt,
	}, nil
}

func isSystemEvent(recorded *kurrentdb.RecordedEvent) bool {
	return strings.HasPrefix(recorded.EventType, "$") || strings.HasPrefix(recorded.StreamID, "$")
}

func hasCode(err error, code kurrentdb.ErrorCode) bool {
	var kErr *kurrentdb.Error
	if !errors.As(err, &kErr) {
		return false
	}
	return kErr.Code() == code
}
