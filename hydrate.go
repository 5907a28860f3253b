package cqrs

import "fmt"

// Evolver evolves the given state into a new state with the event applied.
//
// S represents the aggregate state type. The evolver must not mutate the
// state it is given; it returns the next state.
type Evolver[S any] func(state S, envelope *Envelope) S

// HydrateHandler applies one event type to an aggregate state.
type HydrateHandler[S any] interface {
	// NewEvent returns the zero value of the handled event type.
	NewEvent() Event

	// Apply returns state with the event of envelope applied.
	Apply(state S, envelope *Envelope) S
}

type genericHydrateHandler[S any, E Event] struct {
	handleFunc func(state S, event E) S
}

// OnApply creates a HydrateHandler for the event type E, inferred from the
// function argument.
//
// E must be a value type: its zero value is asked for its EventType.
//
// Example Usage:
//
//	cqrs.OnApply(func(s Account, e CustomerDepositedMoney) Account {
//	    s.Balance = e.Balance
//	    return s
//	})
func OnApply[S any, E Event](handleFunc func(state S, event E) S) HydrateHandler[S] {
	return genericHydrateHandler[S, E]{handleFunc: handleFunc}
}

func (h genericHydrateHandler[S, E]) NewEvent() Event {
	var zero E
	return zero
}

func (h genericHydrateHandler[S, E]) Apply(state S, envelope *Envelope) S {
	event, ok := envelope.Event.(E)
	if !ok {
		return state
	}
	return h.handleFunc(state, event)
}

func hydrateTable[S any](handlers []HydrateHandler[S]) map[string]HydrateHandler[S] {
	table := make(map[string]HydrateHandler[S], len(handlers))
	for _, handler := range handlers {
		name := handler.NewEvent().EventType()
		if _, exists := table[name]; exists {
			panic(fmt.Errorf("duplicate apply handler for event %s: %w", name, ErrDuplicateHandler))
		}
		table[name] = handler
	}
	return table
}

// Hydrate combines handlers into an Evolver. Events without a handler leave
// the state unchanged.
//
// Panics if two handlers handle the same event type.
func Hydrate[S any](handlers ...HydrateHandler[S]) Evolver[S] {
	table := hydrateTable(handlers)

	return func(state S, envelope *Envelope) S {
		if handler, ok := table[envelope.EventType]; ok {
			return handler.Apply(state, envelope)
		}
		return state
	}
}
