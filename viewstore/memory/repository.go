// Package memory provides an in-process cqrs.ViewRepository.
package memory

import (
	"context"
	"sync"

	"github.com/terraskye/cqrs"
)

// Repository keeps view records in a map. Views are stored by value, so a
// view type holding maps or slices must not be mutated after Save.
type Repository[V any] struct {
	mu      sync.RWMutex
	records map[cqrs.StreamID]cqrs.ViewRecord[V]
}

var _ cqrs.ViewRepository[struct{}] = (*Repository[struct{}])(nil)

// NewRepository returns an empty repository.
func NewRepository[V any]() *Repository[V] {
	return &Repository[V]{records: make(map[cqrs.StreamID]cqrs.ViewRecord[V])}
}

func (r *Repository[V]) Load(ctx context.Context, id cqrs.StreamID) (cqrs.ViewRecord[V], bool, error) {
	if err := ctx.Err(); err != nil {
		return cqrs.ViewRecord[V]{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[id]
	return record, ok, nil
}

func (r *Repository[V]) Save(ctx context.Context, record cqrs.ViewRecord[V]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return nil
}

// Len returns the number of stored views.
func (r *Repository[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
