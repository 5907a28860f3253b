package fixtures

import (
	"context"
	"io"

	"github.com/terraskye/cqrs"
)

// FailingIterator returns an iterator that fails with the given error.
func FailingIterator(err error) *cqrs.Iterator[*cqrs.Envelope] {
	return cqrs.NewIteratorFunc(func(ctx context.Context) (*cqrs.Envelope, error) {
		return nil, err
	})
}

// FailAfterNIterator returns an iterator that yields n items, then fails.
func FailAfterNIterator(envelopes []*cqrs.Envelope, n int, err error) *cqrs.Iterator[*cqrs.Envelope] {
	idx := 0
	return cqrs.NewIteratorFunc(func(ctx context.Context) (*cqrs.Envelope, error) {
		if idx >= n {
			return nil, err
		}
		if idx >= len(envelopes) {
			return nil, io.EOF
		}
		env := envelopes[idx]
		idx++
		return env, nil
	})
}
