package cqrs

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Processor consumes the events of one stream after they were committed.
// Events arrive in ascending sequence order.
type Processor interface {
	// Name identifies the processor in error reports and shared view stores.
	Name() string

	// Dispatch handles the committed events of stream.
	Dispatch(ctx context.Context, stream StreamID, events []*Envelope) error
}

// Dispatcher delivers committed events to processors. Dispatch never fails
// the caller: processor failures are reported out of band.
type Dispatcher interface {
	Dispatch(ctx context.Context, stream StreamID, events []*Envelope)
}

// ErrorHandler receives the failure of one processor.
type ErrorHandler func(ctx context.Context, processor string, err error)

// DefaultErrorHandler logs the failure with slog.
func DefaultErrorHandler(ctx context.Context, processor string, err error) {
	slog.ErrorContext(ctx, "processor failed",
		slog.String("processor", processor),
		slog.String("stream_id", StreamIDFromContext(ctx)),
		slog.Any("error", err),
	)
}

// SyncDispatcher fans events out to every processor concurrently and waits
// for all of them. A failing or panicking processor does not affect the
// others.
type SyncDispatcher struct {
	processors []Processor
	onError    ErrorHandler
}

// NewSyncDispatcher returns a dispatcher over processors. A nil onError
// falls back to DefaultErrorHandler.
func NewSyncDispatcher(onError ErrorHandler, processors ...Processor) *SyncDispatcher {
	if onError == nil {
		onError = DefaultErrorHandler
	}
	return &SyncDispatcher{processors: processors, onError: onError}
}

// Processors returns the registered processors.
func (d *SyncDispatcher) Processors() []Processor {
	return d.processors
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, stream StreamID, events []*Envelope) {
	if len(events) == 0 {
		return
	}

	var g errgroup.Group
	for _, p := range d.processors {
		g.Go(func() error {
			if err := SafeDispatch(ctx, p, stream, events); err != nil {
				d.onError(ctx, p.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SafeDispatch calls p and turns a panic into an error.
func SafeDispatch(ctx context.Context, p Processor, stream StreamID, events []*Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Dispatch(ctx, stream, events)
}

// NopDispatcher drops every event.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, StreamID, []*Envelope) {}
