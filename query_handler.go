package cqrs

import (
	"context"
)

// Query is the interface that must be implemented by any type to be considered a query.
type Query interface {
	QueryType() string
}

// QueryHandler represents a handler for a specific query type T that
// produces a result of type R.
//
// Example Usage:
//
//	type GetAccount struct { AccountID string }
//
//	handler := NewQueryHandlerFunc(func(ctx context.Context, q GetAccount) (AccountView, error) {
//	    return AccountView{Balance: 200}, nil
//	})
//
//	var _ QueryHandler[GetAccount, AccountView] = handler
type QueryHandler[T Query, R any] interface {
	HandleQuery(ctx context.Context, qry T) (R, error)
}

// queryHandlerFunc is a helper type to allow ordinary functions to
// implement QueryHandler[T,R].
type queryHandlerFunc[T Query, R any] func(ctx context.Context, qry T) (R, error)

// HandleQuery calls the underlying function.
func (f queryHandlerFunc[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	return f(ctx, qry)
}

// NewQueryHandlerFunc creates a QueryHandler from a function.
func NewQueryHandlerFunc[T Query, R any](fn func(ctx context.Context, qry T) (R, error)) QueryHandler[T, R] {
	return queryHandlerFunc[T, R](fn)
}
