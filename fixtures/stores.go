package fixtures

import (
	"context"
	"sync"

	"github.com/terraskye/cqrs"
	"github.com/terraskye/cqrs/eventstore/memory"
)

// StoreSpy is an EventStore for testing. It delegates to an inner store,
// tracks calls and allows injecting custom behavior or failures.
type StoreSpy struct {
	mu    sync.Mutex
	inner cqrs.EventStore

	// Function overrides for custom behavior
	LoadStreamFromFn func(ctx context.Context, id cqrs.StreamID, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error)
	SaveFn           func(ctx context.Context, events []cqrs.Envelope, revision cqrs.StreamState) (cqrs.AppendResult, error)

	// Call tracking
	LoadCalls        int
	LoadFromAllCalls int
	SaveCalls        int
	CloseCalls       int

	// Captured arguments from last call
	LastSaveEvents   []cqrs.Envelope
	LastSaveRevision cqrs.StreamState
	LastLoadAfter    uint64

	// Error injection
	loadErr error
	saveErr error
}

// NewStoreSpy creates a StoreSpy over an empty in-memory store.
func NewStoreSpy() *StoreSpy {
	return WrapStore(memory.NewMemoryStore())
}

// WrapStore creates a StoreSpy over inner.
func WrapStore(inner cqrs.EventStore) *StoreSpy {
	return &StoreSpy{inner: inner}
}

// WithEvents appends events to stream through the inner store.
func (s *StoreSpy) WithEvents(ctx context.Context, stream cqrs.StreamID, events ...cqrs.Event) *StoreSpy {
	if _, err := s.inner.Save(ctx, Batch(stream, 0, nil, events...), cqrs.NoStream{}); err != nil {
		panic(err)
	}
	return s
}

// FailOnLoad configures the store to return an error on load operations.
func (s *StoreSpy) FailOnLoad(err error) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
	return s
}

// FailOnSave configures the store to return an error on save operations.
func (s *StoreSpy) FailOnSave(err error) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
	return s
}

// LoadStream implements EventStore.LoadStream.
func (s *StoreSpy) LoadStream(ctx context.Context, id cqrs.StreamID) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

// LoadStreamFrom implements EventStore.LoadStreamFrom.
func (s *StoreSpy) LoadStreamFrom(ctx context.Context, id cqrs.StreamID, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	s.mu.Lock()
	s.LoadCalls++
	s.LastLoadAfter = after
	loadErr := s.loadErr
	s.mu.Unlock()

	if s.LoadStreamFromFn != nil {
		return s.LoadStreamFromFn(ctx, id, after)
	}
	if loadErr != nil {
		return nil, loadErr
	}
	return s.inner.LoadStreamFrom(ctx, id, after)
}

// LoadFromAll implements EventStore.LoadFromAll.
func (s *StoreSpy) LoadFromAll(ctx context.Context, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	s.mu.Lock()
	s.LoadFromAllCalls++
	loadErr := s.loadErr
	s.mu.Unlock()

	if loadErr != nil {
		return nil, loadErr
	}
	return s.inner.LoadFromAll(ctx, after)
}

// Save implements EventStore.Save.
func (s *StoreSpy) Save(ctx context.Context, events []cqrs.Envelope, revision cqrs.StreamState) (cqrs.AppendResult, error) {
	s.mu.Lock()
	s.SaveCalls++
	s.LastSaveEvents = events
	s.LastSaveRevision = revision
	saveErr := s.saveErr
	s.mu.Unlock()

	if s.SaveFn != nil {
		return s.SaveFn(ctx, events, revision)
	}
	if saveErr != nil {
		return cqrs.AppendResult{Successful: false}, saveErr
	}
	return s.inner.Save(ctx, events, revision)
}

// Close implements EventStore.Close.
func (s *StoreSpy) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	return s.inner.Close()
}

// Calls returns the number of loads and saves so far.
func (s *StoreSpy) Calls() (loads, saves int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LoadCalls, s.SaveCalls
}

// Pre-built store scenarios.

// FailingStore returns a StoreSpy that fails on all operations.
func FailingStore(err error) *StoreSpy {
	return NewStoreSpy().FailOnLoad(err).FailOnSave(err)
}

// ConcurrencyConflictStore returns a StoreSpy whose first conflicts saves
// lose against a writer that appends ev just before them.
func ConcurrencyConflictStore(conflicts int, ev cqrs.Event) *StoreSpy {
	store := NewStoreSpy()
	remaining := conflicts
	store.SaveFn = func(ctx context.Context, events []cqrs.Envelope, revision cqrs.StreamState) (cqrs.AppendResult, error) {
		if remaining > 0 && len(events) > 0 {
			remaining--
			stream := events[0].StreamID
			iter, err := store.inner.LoadStream(ctx, stream)
			if err != nil {
				return cqrs.AppendResult{}, err
			}
			current, err := iter.All(ctx)
			if err != nil {
				return cqrs.AppendResult{}, err
			}
			if _, err := store.inner.Save(ctx, Batch(stream, uint64(len(current)), nil, ev), cqrs.Revision(len(current))); err != nil {
				return cqrs.AppendResult{}, err
			}
		}
		return store.inner.Save(ctx, events, revision)
	}
	return store
}
