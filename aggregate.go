package cqrs

import (
	"context"
	"fmt"
	"sort"
)

// Decider determines which events should occur based on the current state and
// a command.
//
// S represents the aggregate state type.
//
// Notes:
//   - The Decider should not mutate the input state; the events it returns
//     update the state once applied through the aggregate's handlers.
//   - Business rule violations are reported as *DomainError and no events.
//   - Returning no events and no error means the command had no effect.
//   - ctx is only meant for collaborators the decider calls, such as
//     external validation services.
type Decider[S any] func(ctx context.Context, state S, cmd Command) ([]Event, error)

// Aggregate bundles the pure decision and state transition logic of one
// aggregate type.
type Aggregate[S any] struct {
	// Type names the aggregate type and is the first half of every StreamID.
	Type string

	// Initial is the state of an aggregate without history.
	Initial S

	decide   Decider[S]
	handlers map[string]HydrateHandler[S]
}

// NewAggregate returns the aggregate of the given type.
//
// Panics if decide is nil or two handlers handle the same event type.
func NewAggregate[S any](aggregateType string, initial S, decide Decider[S], handlers ...HydrateHandler[S]) *Aggregate[S] {
	if decide == nil {
		panic("cannot create aggregate with nil decider")
	}
	return &Aggregate[S]{
		Type:     aggregateType,
		Initial:  initial,
		decide:   decide,
		handlers: hydrateTable(handlers),
	}
}

// StreamID returns the stream of the aggregate instance with the given id.
func (a *Aggregate[S]) StreamID(aggregateID string) StreamID {
	return NewStreamID(a.Type, aggregateID)
}

// Decide runs the decider against state.
func (a *Aggregate[S]) Decide(ctx context.Context, state S, cmd Command) ([]Event, error) {
	return a.decide(ctx, state, cmd)
}

// Evolve applies one committed event to state.
//
// An event type without a handler yields ErrUnknownEventType: the history
// holds something this aggregate never decided.
func (a *Aggregate[S]) Evolve(state S, envelope *Envelope) (S, error) {
	handler, ok := a.handlers[envelope.EventType]
	if !ok {
		return state, fmt.Errorf("aggregate %s: %w: %s", a.Type, ErrUnknownEventType, envelope.EventType)
	}
	return handler.Apply(state, envelope), nil
}

// Replay folds the events of iter into state. It returns the resulting
// state and the sequence of the last applied event, or after when iter was
// empty.
func (a *Aggregate[S]) Replay(ctx context.Context, state S, after uint64, iter *Iterator[*Envelope]) (S, uint64, error) {
	last := after
	for iter.Next(ctx) {
		envelope := iter.Value()
		next, err := a.Evolve(state, envelope)
		if err != nil {
			return state, last, err
		}
		state = next
		last = envelope.Sequence
	}
	if err := iter.Err(); err != nil {
		return state, last, err
	}
	return state, last, nil
}

// Fold replays an in-memory history on top of the initial state.
func (a *Aggregate[S]) Fold(history []*Envelope) (S, error) {
	state := a.Initial
	for _, envelope := range history {
		next, err := a.Evolve(state, envelope)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}

// Covers verifies that every given event has an apply handler. Domain
// packages call it at construction time with the full list of events their
// decider can emit.
func (a *Aggregate[S]) Covers(events ...Event) error {
	var missing []string
	for _, ev := range events {
		if _, ok := a.handlers[ev.EventType()]; !ok {
			missing = append(missing, ev.EventType())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("aggregate %s: no apply handler for %v: %w", a.Type, missing, ErrHandlerNotFound)
	}
	return nil
}

// Evolver returns the apply logic of the aggregate as an Evolver. Unknown
// events leave the state unchanged.
func (a *Aggregate[S]) Evolver() Evolver[S] {
	return func(state S, envelope *Envelope) S {
		next, err := a.Evolve(state, envelope)
		if err != nil {
			return state
		}
		return next
	}
}
