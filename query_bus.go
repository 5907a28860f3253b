package cqrs

import (
	"context"
	"fmt"
	"sync"
)

// QueryBus acts as a central registry for query handlers. It stores
// handlers keyed by their query and result types, allowing multiple
// query types to be registered in a single bus.
//
// Handlers are executed through a typed QueryGateway.
//
// Example Usage:
//
//	bus := NewQueryBus()
//	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q GetAccount) (AccountView, error) {
//	    return views.Get(ctx, q.AccountID)
//	}))
type QueryBus struct {
	mu       sync.RWMutex
	handlers map[string]any
}

// NewQueryBus creates a new QueryBus instance.
func NewQueryBus() *QueryBus {
	return &QueryBus{
		handlers: make(map[string]any),
	}
}

func queryKey[T Query, R any]() string {
	return fmt.Sprintf("%T|%T", *new(T), *new(R))
}

// RegisterQueryHandler registers a QueryHandler for a specific query
// and result type on the provided QueryBus.
//
// Panics if a handler is already registered for the pair.
func RegisterQueryHandler[T Query, R any](bus *QueryBus, handler QueryHandler[T, R]) {
	key := queryKey[T, R]()

	bus.mu.Lock()
	defer bus.mu.Unlock()

	if _, exists := bus.handlers[key]; exists {
		panic(fmt.Errorf("query handler %s: %w", key, ErrDuplicateHandler))
	}
	bus.handlers[key] = handler
}

// QueryGateway provides a typed interface for executing queries registered
// on a QueryBus. It implements QueryHandler[T,R].
type QueryGateway[T Query, R any] struct {
	bus *QueryBus
}

// NewQueryGateway creates a typed gateway for a specific query type
// backed by a QueryBus.
//
// Example Usage:
//
//	gateway := NewQueryGateway[GetAccount, AccountView](bus)
//	view, err := gateway.HandleQuery(ctx, GetAccount{AccountID: "A"})
func NewQueryGateway[T Query, R any](bus *QueryBus) QueryGateway[T, R] {
	return QueryGateway[T, R]{bus: bus}
}

// HandleQuery executes the registered handler for a given query. It returns
// ErrHandlerNotFound when nothing is registered for T and R.
func (g QueryGateway[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	key := queryKey[T, R]()

	g.bus.mu.RLock()
	h, ok := g.bus.handlers[key]
	g.bus.mu.RUnlock()

	if !ok {
		var zero R
		return zero, fmt.Errorf("no handler registered for query %s: %w", key, ErrHandlerNotFound)
	}

	handler, ok := h.(QueryHandler[T, R])
	if !ok {
		var zero R
		return zero, fmt.Errorf("handler type mismatch for query %s", key)
	}

	return handler.HandleQuery(ctx, qry)
}
