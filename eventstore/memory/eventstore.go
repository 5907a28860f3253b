// Package memory provides an in-process EventStore. It keeps every event in
// memory and is meant for tests, demos and the default serve mode.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/terraskye/cqrs"
)

// MemoryStore is a goroutine safe in-memory cqrs.EventStore.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool
	global []*cqrs.Envelope
	events map[cqrs.StreamID][]*cqrs.Envelope
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[cqrs.StreamID][]*cqrs.Envelope),
		global: make([]*cqrs.Envelope, 0),
	}
}

func (m *MemoryStore) Save(ctx context.Context, events []cqrs.Envelope, revision cqrs.StreamState) (cqrs.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
	}

	if len(events) == 0 {
		return cqrs.AppendResult{Successful: true}, nil
	}

	streamID, err := cqrs.ValidateBatch(events)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("save events to stream %s: %w", streamID, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("save events to stream %s: store closed", streamID))
	}

	currentVersion := uint64(len(m.events[streamID]))
	if err := cqrs.CheckStreamState(streamID, currentVersion, revision); err != nil {
		return cqrs.AppendResult{StreamID: streamID}, err
	}

	// Append events
	first := currentVersion + 1
	for i := range events {
		currentVersion++
		events[i].Sequence = currentVersion
		events[i].GlobalPosition = uint64(len(m.global)) + 1

		stored := events[i]
		stored.Metadata = events[i].Metadata.Clone()
		m.events[streamID] = append(m.events[streamID], &stored)
		m.global = append(m.global, &stored)
	}

	return cqrs.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		FirstSequence:       first,
		NextExpectedVersion: currentVersion,
	}, nil
}

func (m *MemoryStore) LoadStream(ctx context.Context, id cqrs.StreamID) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return m.LoadStreamFrom(ctx, id, 0)
}

// LoadStreamFrom returns the events of id after the given sequence. An
// unknown stream, or one shorter than after, yields nothing.
func (m *MemoryStore) LoadStreamFrom(ctx context.Context, id cqrs.StreamID, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, cqrs.WrapEventStoreError(fmt.Errorf("load stream %s: store closed", id))
	}

	events := m.events[id]
	if after >= uint64(len(events)) {
		return cqrs.EmptyIterator[*cqrs.Envelope](), nil
	}
	return cqrs.NewSliceIterator(copyEnvelopes(events[after:])), nil
}

// LoadFromAll returns every event after the given global position.
func (m *MemoryStore) LoadFromAll(ctx context.Context, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, cqrs.WrapEventStoreError(fmt.Errorf("load all: store closed"))
	}

	if after >= uint64(len(m.global)) {
		return cqrs.EmptyIterator[*cqrs.Envelope](), nil
	}
	return cqrs.NewSliceIterator(copyEnvelopes(m.global[after:])), nil
}

// copyEnvelopes hands out copies so readers cannot alter stored history.
func copyEnvelopes(events []*cqrs.Envelope) []*cqrs.Envelope {
	out := make([]*cqrs.Envelope, len(events))
	for i, env := range events {
		c := *env
		c.Metadata = env.Metadata.Clone()
		out[i] = &c
	}
	return out
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
