package cqrs

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// ViewRecord is a materialized view together with the sequence of the last
// event applied to it.
type ViewRecord[V any] struct {
	ID           StreamID
	LastSequence uint64
	View         V
}

// ViewRepository stores the view records of one processor.
type ViewRepository[V any] interface {
	// Load returns the record of id. found is false when no view exists.
	Load(ctx context.Context, id StreamID) (record ViewRecord[V], found bool, err error)

	// Save inserts or replaces the record.
	Save(ctx context.Context, record ViewRecord[V]) error
}

// Projector applies one event to a view and returns the updated view.
// Events it does not care about should return the view unchanged.
type Projector[V any] func(view V, envelope *Envelope) V

const viewLockStripes = 64

// ViewProcessor keeps one view per stream up to date.
//
// Each event is applied exactly once and in sequence order: events at or
// below the record's LastSequence are skipped. When the processor has an
// event store and receives events past a gap, it first loads the missing
// events from the store; without one the batch is refused. Dispatches for
// the same stream are serialized.
type ViewProcessor[V any] struct {
	name    string
	repo    ViewRepository[V]
	project Projector[V]
	store   EventStore

	locks [viewLockStripes]sync.Mutex
}

// NewViewProcessor returns a processor named name that projects events with
// project into repo. store may be nil, which disables CatchUp and makes a
// batch arriving after a gap fail with ErrSequenceGap.
func NewViewProcessor[V any](name string, repo ViewRepository[V], project Projector[V], store EventStore) *ViewProcessor[V] {
	return &ViewProcessor[V]{
		name:    name,
		repo:    repo,
		project: project,
		store:   store,
	}
}

func (p *ViewProcessor[V]) Name() string {
	return p.name
}

func (p *ViewProcessor[V]) lock(id StreamID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id.String()))
	return &p.locks[h.Sum32()%viewLockStripes]
}

// Dispatch applies events to the view of stream.
func (p *ViewProcessor[V]) Dispatch(ctx context.Context, stream StreamID, events []*Envelope) error {
	if len(events) == 0 {
		return nil
	}

	mu := p.lock(stream)
	mu.Lock()
	defer mu.Unlock()

	record, err := p.load(ctx, stream)
	if err != nil {
		return err
	}

	pending := events
	if next := record.LastSequence + 1; events[0].Sequence > next {
		if p.store == nil {
			return fmt.Errorf("view %s: %s expects sequence %d, got %d: %w", p.name, stream, next, events[0].Sequence, ErrSequenceGap)
		}
		missing, err := p.loadAfter(ctx, stream, record.LastSequence)
		if err != nil {
			return err
		}
		pending = append(missing, events...)
	}

	return p.apply(ctx, record, pending)
}

// CatchUp applies every stored event of stream the view has not seen yet.
func (p *ViewProcessor[V]) CatchUp(ctx context.Context, stream StreamID) error {
	if p.store == nil {
		return fmt.Errorf("view %s: catch up without event store", p.name)
	}

	mu := p.lock(stream)
	mu.Lock()
	defer mu.Unlock()

	record, err := p.load(ctx, stream)
	if err != nil {
		return err
	}
	missing, err := p.loadAfter(ctx, stream, record.LastSequence)
	if err != nil {
		return err
	}
	return p.apply(ctx, record, missing)
}

// LoadView returns the view of stream. found is false when no event of the
// stream has been projected yet.
func (p *ViewProcessor[V]) LoadView(ctx context.Context, stream StreamID) (V, bool, error) {
	record, found, err := p.repo.Load(ctx, stream)
	if err != nil {
		var zero V
		return zero, false, WrapViewStoreError(err)
	}
	return record.View, found, nil
}

// LoadRecord returns the view of stream together with its last applied
// sequence.
func (p *ViewProcessor[V]) LoadRecord(ctx context.Context, stream StreamID) (ViewRecord[V], bool, error) {
	record, found, err := p.repo.Load(ctx, stream)
	return record, found, WrapViewStoreError(err)
}

func (p *ViewProcessor[V]) load(ctx context.Context, stream StreamID) (ViewRecord[V], error) {
	record, found, err := p.repo.Load(ctx, stream)
	if err != nil {
		return record, WrapViewStoreError(fmt.Errorf("view %s: load %s: %w", p.name, stream, err))
	}
	if !found {
		record = ViewRecord[V]{ID: stream}
	}
	return record, nil
}

func (p *ViewProcessor[V]) loadAfter(ctx context.Context, stream StreamID, after uint64) ([]*Envelope, error) {
	iter, err := p.store.LoadStreamFrom(ctx, stream, after)
	if err != nil {
		return nil, WrapEventStoreError(fmt.Errorf("view %s: load %s: %w", p.name, stream, err))
	}
	missing, err := iter.All(ctx)
	if err != nil {
		return nil, WrapEventStoreError(fmt.Errorf("view %s: read %s: %w", p.name, stream, err))
	}
	return missing, nil
}

func (p *ViewProcessor[V]) apply(ctx context.Context, record ViewRecord[V], events []*Envelope) error {
	changed := false
	for _, envelope := range events {
		if envelope.Sequence <= record.LastSequence {
			continue
		}
		record.View = p.project(record.View, envelope)
		record.LastSequence = envelope.Sequence
		changed = true
	}
	if !changed {
		return nil
	}
	if err := p.repo.Save(ctx, record); err != nil {
		return WrapViewStoreError(fmt.Errorf("view %s: save %s: %w", p.name, record.ID, err))
	}
	return nil
}

// Replay feeds every event committed after the global position after to
// processors, one stream batch at a time. It returns the global position of
// the last replayed event.
func Replay(ctx context.Context, store EventStore, after uint64, processors ...Processor) (uint64, error) {
	iter, err := store.LoadFromAll(ctx, after)
	if err != nil {
		return after, WrapEventStoreError(err)
	}

	position := after
	var batch []*Envelope
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stream := batch[0].StreamID
		for _, p := range processors {
			if err := SafeDispatch(ctx, p, stream, batch); err != nil {
				return fmt.Errorf("replay %s into %s: %w", stream, p.Name(), err)
			}
		}
		position = batch[len(batch)-1].GlobalPosition
		batch = nil
		return nil
	}

	for iter.Next(ctx) {
		envelope := iter.Value()
		if len(batch) > 0 && batch[0].StreamID != envelope.StreamID {
			if err := flush(); err != nil {
				return position, err
			}
		}
		batch = append(batch, envelope)
	}
	if err := iter.Err(); err != nil {
		return position, WrapEventStoreError(err)
	}
	if err := flush(); err != nil {
		return position, err
	}
	return position, nil
}
