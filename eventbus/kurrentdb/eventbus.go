// Package kurrentdb provides a cqrs.EventBus fed by KurrentDB $all
// subscriptions.
//
// Events reach processors from the server rather than from the executor, so
// Dispatch is a no-op and the bus also delivers events written by other
// processes. Each processor runs its own catch-up subscription and receives
// events one at a time, in commit order.
package kurrentdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/terraskye/cqrs"
	kstore "github.com/terraskye/cqrs/eventstore/kurrentdb"
)

type eventBus struct {
	db       *kurrentdb.Client
	registry *cqrs.Registry
	subs     map[string]*subscriber
	mu       sync.RWMutex
	closed   bool
	errs     chan error
	wg       sync.WaitGroup
}

type subscriber struct {
	processor cqrs.Processor
	cancel    context.CancelFunc
}

// NewEventBus creates a KurrentDB-backed event bus decoding payloads with
// registry.
func NewEventBus(db *kurrentdb.Client, registry *cqrs.Registry) cqrs.EventBus {
	return &eventBus{
		db:       db,
		registry: registry,
		subs:     make(map[string]*subscriber),
		errs:     make(chan error, 64),
	}
}

// Dispatch does nothing: subscribers read committed events from the server.
func (b *eventBus) Dispatch(context.Context, cqrs.StreamID, []*cqrs.Envelope) {}

// Subscribe starts a subscription to $all for processor. Use
// cqrs.StartAfter to resume from a checkpoint.
func (b *eventBus) Subscribe(ctx context.Context, processor cqrs.Processor, opts ...cqrs.SubscriberOption) error {
	if processor == nil {
		return errors.New("processor cannot be nil")
	}

	var cfg cqrs.SubscriberConfig
	for _, o := range opts {
		o(&cfg)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return cqrs.ErrBusClosed
	}
	name := processor.Name()
	if _, exists := b.subs[name]; exists {
		b.mu.Unlock()
		return fmt.Errorf("subscriber %q already exists: %w", name, cqrs.ErrDuplicateHandler)
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscriber{processor: processor, cancel: cancel}
	b.subs[name] = sub
	b.mu.Unlock()

	var from kurrentdb.AllPosition = kurrentdb.Start{}
	if cfg.After > 0 {
		from = kurrentdb.Position{Commit: cfg.After, Prepare: cfg.After}
	}
	options := kurrentdb.SubscribeToAllOptions{
		From:   from,
		Filter: kurrentdb.ExcludeSystemEventsFilter(),
	}

	b.wg.Add(1)
	go b.runSubscriber(workerCtx, sub, options, cfg.After)

	// Remove subscriber when caller context is done
	go func() {
		select {
		case <-ctx.Done():
			b.removeSubscriber(name)
		case <-workerCtx.Done():
		}
	}()

	return nil
}

func (b *eventBus) runSubscriber(ctx context.Context, s *subscriber, options kurrentdb.SubscribeToAllOptions, after uint64) {
	defer b.wg.Done()
	name := s.processor.Name()

	stream, err := b.db.SubscribeToAll(ctx, options)
	if err != nil {
		b.report(fmt.Errorf("subscriber %q: %w", name, err))
		return
	}
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		event := stream.Recv()
		if event.SubscriptionDropped != nil {
			if ctx.Err() == nil {
				b.report(fmt.Errorf("subscriber %q: subscription dropped: %w", name, event.SubscriptionDropped.Error))
			}
			return
		}
		if event.EventAppeared == nil {
			continue
		}

		recorded := event.EventAppeared.OriginalEvent()
		if recorded.Position.Commit <= after {
			continue
		}

		envelope, err := kstore.Decode(b.registry, recorded)
		if err != nil {
			b.report(fmt.Errorf("subscriber %q: event %s: %w", name, recorded.EventID, err))
			continue
		}

		if err := cqrs.SafeDispatch(ctx, s.processor, envelope.StreamID, []*cqrs.Envelope{envelope}); err != nil {
			b.report(fmt.Errorf("subscriber %q: %w", name, err))
		}
	}
}

func (b *eventBus) report(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

func (b *eventBus) removeSubscriber(name string) {
	b.mu.Lock()
	sub, ok := b.subs[name]
	if ok {
		delete(b.subs, name)
		sub.cancel()
	}
	b.mu.Unlock()
}

func (b *eventBus) Errors() <-chan error {
	return b.errs
}

// Close cancels every subscription and waits for the subscribers to stop.
func (b *eventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for _, sub := range b.subs {
		sub.cancel()
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)
	return nil
}
