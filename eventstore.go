package cqrs

import (
	"context"
	"fmt"
)

// EventStore defines the contract for an append-only event store
// used in event-sourced systems. An EventStore persists events
// associated with a given stream in sequential order, allowing
// for full reconstruction of aggregate state at any point in time.
//
// Implementations must guarantee:
//   - Events for a given stream are stored in order, with gap-free sequences
//     starting at 1.
//   - Save is an atomic compare-and-append: either every event of the batch
//     is appended or none is.
//   - Iteration order from all Load* methods is deterministic (oldest → newest).
//   - Once Save returns successfully the events are visible to every
//     subsequent load.
//
// The returned iterators should be consumed immediately; no assumptions should
// be made about reusability or thread-safety after iteration completes.
type EventStore interface {
	// Save appends all events in the given slice to the event stream they
	// belong to. Every envelope must carry the same StreamID and consecutive
	// sequences following the current end of the stream.
	//
	// The store stamps Sequence (and GlobalPosition where it tracks one) on
	// the given envelopes in place.
	//
	// revision is the expected stream state:
	//   - Revision(n): the stream must hold exactly n events.
	//   - NoStream: the stream must not exist.
	//   - StreamExists: the stream must exist.
	//   - Any: no check.
	//
	// Errors:
	//   - *StreamRevisionConflictError when the expectation does not hold.
	//     Nothing is appended.
	//   - *EventStoreError for any storage failure.
	Save(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error)

	// LoadStream loads all events of the stream in ascending sequence order.
	// An unknown stream yields an empty iterator, not an error.
	LoadStream(ctx context.Context, id StreamID) (*Iterator[*Envelope], error)

	// LoadStreamFrom loads the events of the stream whose sequence is greater
	// than after.
	LoadStreamFrom(ctx context.Context, id StreamID, after uint64) (*Iterator[*Envelope], error)

	// LoadFromAll loads the events of every stream whose global position is
	// greater than after, in commit order.
	LoadFromAll(ctx context.Context, after uint64) (*Iterator[*Envelope], error)

	// Close releases any resources held by the EventStore, such as network
	// connections or file handles. Implementations should make Close
	// idempotent.
	Close() error
}

// AppendResult describes the outcome of an append operation.
type AppendResult struct {
	Successful bool
	StreamID   StreamID

	// FirstSequence is the sequence of the first appended event.
	FirstSequence uint64

	// NextExpectedVersion is the revision the stream now has, i.e. the
	// sequence of its last event.
	NextExpectedVersion uint64
}

// ValidateBatch checks that events all belong to one stream and carry
// consecutive sequences. It returns the stream.
func ValidateBatch(events []Envelope) (StreamID, error) {
	if len(events) == 0 {
		return StreamID{}, nil
	}
	stream := events[0].StreamID
	if stream.IsZero() {
		return stream, ErrInvalidEventBatch
	}
	for i, env := range events {
		if env.StreamID != stream {
			return stream, &invalidBatchError{index: i, reason: "different stream " + env.StreamID.String()}
		}
		if i > 0 && env.Sequence != events[i-1].Sequence+1 {
			return stream, &invalidBatchError{index: i, reason: "non consecutive sequence"}
		}
		if env.Event == nil {
			return stream, &invalidBatchError{index: i, reason: "nil event"}
		}
	}
	return stream, nil
}

type invalidBatchError struct {
	index  int
	reason string
}

func (e *invalidBatchError) Error() string {
	return fmt.Sprintf("%v: event %d: %s", ErrInvalidEventBatch, e.index, e.reason)
}

func (e *invalidBatchError) Unwrap() error {
	return ErrInvalidEventBatch
}

// CheckStreamState verifies revision against a stream currently holding
// current events.
func CheckStreamState(stream StreamID, current uint64, revision StreamState) error {
	switch rev := revision.(type) {
	case Any:
		return nil
	case NoStream:
		if current != 0 {
			return &StreamRevisionConflictError{Stream: stream, ExpectedRevision: 0, ActualRevision: current}
		}
	case StreamExists:
		if current == 0 {
			return fmt.Errorf("stream %s: should exist: %w", stream, ErrStreamNotFound)
		}
	case Revision:
		if current != uint64(rev) {
			return &StreamRevisionConflictError{Stream: stream, ExpectedRevision: uint64(rev), ActualRevision: current}
		}
	default:
		return fmt.Errorf("unsupported revision type %T for stream %s: %w", revision, stream, ErrInvalidRevision)
	}
	return nil
}
