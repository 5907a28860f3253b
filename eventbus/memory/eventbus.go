// Package memory provides an in-process asynchronous cqrs.EventBus.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/terraskye/cqrs"
)

const defaultQueueSize = 64

type batch struct {
	ctx    context.Context
	stream cqrs.StreamID
	events []*cqrs.Envelope
}

type subscriber struct {
	processor cqrs.Processor
	queue     chan batch
	done      chan struct{}
}

type eventBus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
	errs   chan error
	wg     sync.WaitGroup
}

// NewEventBus returns a bus that runs every subscribed processor on its own
// goroutine, fed by a FIFO queue.
//
// Dispatch blocks while a subscriber's queue is full rather than dropping
// events. Processing errors and panics are sent to Errors; when nobody
// drains that channel fast enough they are logged instead.
func NewEventBus() cqrs.EventBus {
	return &eventBus{
		subs: make(map[string]*subscriber),
		errs: make(chan error, 64),
	}
}

// Subscribe registers a processor under its name.
func (b *eventBus) Subscribe(ctx context.Context, processor cqrs.Processor, opts ...cqrs.SubscriberOption) error {
	if processor == nil {
		return errors.New("processor cannot be nil")
	}

	cfg := cqrs.SubscriberConfig{QueueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return cqrs.ErrBusClosed
	}

	name := processor.Name()
	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("processor %q already subscribed: %w", name, cqrs.ErrDuplicateHandler)
	}

	s := &subscriber{
		processor: processor,
		queue:     make(chan batch, cfg.QueueSize),
		done:      make(chan struct{}),
	}
	b.subs[name] = s

	b.wg.Add(1)
	go b.runSubscriber(s)

	// Automatically remove when caller's ctx finishes
	go func() {
		select {
		case <-ctx.Done():
			b.removeSubscriber(name)
		case <-s.done:
		}
	}()

	return nil
}

func (b *eventBus) Errors() <-chan error {
	return b.errs
}

// Dispatch queues the batch for every subscriber. The batch is processed
// with a context that keeps ctx's values but not its cancellation.
func (b *eventBus) Dispatch(ctx context.Context, stream cqrs.StreamID, events []*cqrs.Envelope) {
	if len(events) == 0 {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	item := batch{ctx: context.WithoutCancel(ctx), stream: stream, events: events}
	for _, s := range b.subs {
		select {
		case s.queue <- item:
		case <-ctx.Done():
			b.report(fmt.Errorf("processor %q: dropped %d events of %s: %w", s.processor.Name(), len(events), stream, ctx.Err()))
		}
	}
}

// Close stops accepting events, lets every subscriber drain its queue and
// waits for them.
func (b *eventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for name, s := range b.subs {
		close(s.queue)
		delete(b.subs, name)
	}
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)
	return nil
}

// runSubscriber processes batches for a single processor.
func (b *eventBus) runSubscriber(s *subscriber) {
	defer b.wg.Done()
	defer close(s.done)

	for item := range s.queue {
		if err := cqrs.SafeDispatch(item.ctx, s.processor, item.stream, item.events); err != nil {
			b.report(fmt.Errorf("processor %q: %w", s.processor.Name(), err))
		}
	}
}

func (b *eventBus) report(err error) {
	select {
	case b.errs <- err:
	default:
		slog.Error("event bus error dropped", slog.String("error", err.Error()))
	}
}

func (b *eventBus) removeSubscriber(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.subs[name]
	if !ok {
		return
	}
	delete(b.subs, name)
	close(s.queue)
}
