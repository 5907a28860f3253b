package cqrs

import (
	"context"
	"errors"
	"io"
)

// Iterator is a lazy, pull-based sequence of T. The producing function
// returns io.EOF when the sequence is exhausted.
type Iterator[T any] struct {
	nextFunc func(ctx context.Context) (T, error)
	current  T
	err      error
	done     bool
}

// NewIteratorFunc creates an Iterator from a function that produces the next
// value. The function should return io.EOF when the iterator is finished, or
// any other error on failure.
func NewIteratorFunc[T any](nextFunc func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{nextFunc: nextFunc}
}

// NewSliceIterator iterates over a copy of items.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	snapshot := make([]T, len(items))
	copy(snapshot, items)
	index := 0
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if index >= len(snapshot) {
			return zero, io.EOF
		}
		v := snapshot[index]
		index++
		return v, nil
	})
}

// EmptyIterator returns an iterator that yields nothing.
func EmptyIterator[T any]() *Iterator[T] {
	return NewSliceIterator[T](nil)
}

// Next advances the iterator. Returns false if the iterator is done or an
// error occurred.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	v, err := it.nextFunc(ctx)
	if err != nil {
		it.done = true
		var zero T
		it.current = zero
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		return false
	}
	it.current = v
	return true
}

// Value returns the current value.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the error that stopped the iteration, if any. Reaching the end
// of the sequence is not an error.
func (it *Iterator[T]) Err() error {
	return it.err
}

// All consumes the iterator and returns all items in a slice.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
