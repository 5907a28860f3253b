package cqrs

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// EventHandler represents a generic event handler that can handle an Event.
// The envelope of the event is available from ctx (see WithEnvelope).
type EventHandler interface {
	// Handle processes the given Event within the provided context.
	Handle(ctx context.Context, event Event) error
}

// NewEventHandlerFunc creates an EventHandler from a plain function.
//
// There is no type-checking or filtering: the handler receives every event
// it is invoked with. If you need type safety, use OnEvent[T] instead.
//
// Example Usage:
//
//	handler := NewEventHandlerFunc(func(ctx context.Context, ev Event) error {
//	    fmt.Println("Received event:", ev.EventType())
//	    return nil
//	})
func NewEventHandlerFunc(fn func(ctx context.Context, event Event) error) EventHandler {
	return eventHandlerFunc(fn)
}

// eventHandlerFunc is a function type that implements EventHandler.
type eventHandlerFunc func(ctx context.Context, event Event) error

func (h eventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return h(ctx, event)
}

// typedEventHandler is a strongly typed event handler for a specific Event type T.
type typedEventHandler[T Event] func(ctx context.Context, ev T) error

// EventName returns the name of the event type T.
// It is used internally by EventGroupProcessor for routing.
func (h typedEventHandler[T]) EventName() string {
	var zero T
	return zero.EventType()
}

// Handle processes the event if it matches the type T.
// Returns ErrSkippedEvent if the event is of the wrong type.
func (h typedEventHandler[T]) Handle(ctx context.Context, event Event) error {
	ev, ok := event.(T)
	if !ok {
		return ErrSkippedEvent{EventType: event.EventType()}
	}
	return h(ctx, ev)
}

// OnEvent creates a strongly-typed EventHandler for a specific event type.
//
// When called through an EventGroupProcessor the handler only receives
// events of type T. T must be a value type: its zero value is asked for its
// EventType.
//
// Example Usage:
//
//	handler := OnEvent(func(ctx context.Context, ev CustomerDepositedMoney) error {
//	    fmt.Println("deposit on", AggregateIDFromContext(ctx))
//	    return nil
//	})
func OnEvent[T Event](fn func(ctx context.Context, ev T) error) EventHandler {
	return typedEventHandler[T](fn)
}

// EventGroupProcessor is a named collection of typed event handlers.
// It routes incoming events to the correct handler based on event type and
// is a Processor.
type EventGroupProcessor struct {
	name     string
	handlers map[string]EventHandler // key = EventName()
}

// NewEventGroupProcessor creates a group of typed event handlers.
//
// Panics if a handler was not created with OnEvent or two handlers handle
// the same event type.
//
// Example Usage:
//
//	group := NewEventGroupProcessor("audit",
//	    OnEvent(p.OnAccountOpened),
//	    OnEvent(p.OnCustomerDepositedMoney),
//	)
func NewEventGroupProcessor(name string, handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {

		u, ok := h.(interface{ EventName() string })
		if !ok {
			panic(fmt.Errorf("handler %T does not have a function `EventName()`", h))
		}

		name := u.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for event %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{
		name:     name,
		handlers: m,
	}
}

func (p *EventGroupProcessor) Name() string {
	return p.name
}

// Handle routes the given event to the correct typed handler.
// Returns ErrSkippedEvent if no handler exists for the event type.
func (p *EventGroupProcessor) Handle(ctx context.Context, ev Event) error {
	h, ok := p.handlers[ev.EventType()]
	if !ok {
		return ErrSkippedEvent{EventType: ev.EventType()}
	}
	return h.Handle(ctx, ev)
}

// Dispatch hands every envelope to its handler in order, with the envelope
// in the context. Events without a handler are skipped. The first failure
// stops the batch.
func (p *EventGroupProcessor) Dispatch(ctx context.Context, stream StreamID, events []*Envelope) error {
	for _, envelope := range events {
		err := p.Handle(WithEnvelope(ctx, envelope), envelope.Event)
		if err == nil || errors.As(err, new(ErrSkippedEvent)) {
			continue
		}
		return fmt.Errorf("%s: handle %s #%d: %w", p.name, stream, envelope.Sequence, err)
	}
	return nil
}

// StreamFilter returns a sorted list of all event names handled by this group.
func (p *EventGroupProcessor) StreamFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out) // deterministic order
	return out
}
