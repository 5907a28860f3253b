package cqrs

// StreamState is the concurrency requirement passed to EventStore.Save.
type StreamState interface {
	streamState()
}

// Any means append without checking current revision.
type Any struct{}

func (Any) streamState() {}

// NoStream means the stream should not exist yet.
type NoStream struct{}

func (NoStream) streamState() {}

// StreamExists means the stream must exist.
type StreamExists struct{}

func (StreamExists) streamState() {}

// Revision matches exactly the number of events already in the stream, which
// is also the sequence of its last event.
type Revision uint64

func (Revision) streamState() {}
