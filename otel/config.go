package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// config holds the options of one decorator.
type config struct {
	// Operation replaces the default span name.
	Operation string

	// GetOperation is an optional function that can set the span name based on the existing operation
	// and information in the context.
	//
	// If the function is nil, or the returned operation is empty, the existing operation is used.
	GetOperation func(ctx context.Context, operation string) string

	// Attributes holds the default attributes for each span created by the decorator.
	Attributes []attribute.KeyValue

	// GetAttributes is an optional function that can extract trace attributes
	// from the context and add them to the span.
	GetAttributes func(ctx context.Context) []attribute.KeyValue
}

func newConfig(options []Option) *config {
	cfg := &config{}
	for _, o := range options {
		o.apply(cfg)
	}
	return cfg
}

func (c *config) operation(ctx context.Context, operation string) string {
	if c.Operation != "" {
		operation = c.Operation
	}
	if c.GetOperation != nil {
		if op := c.GetOperation(ctx, operation); op != "" {
			return op
		}
	}
	return operation
}

func (c *config) attributes(ctx context.Context, base ...attribute.KeyValue) []attribute.KeyValue {
	attr := append(base, c.Attributes...)
	if c.GetAttributes != nil {
		attr = append(attr, c.GetAttributes(ctx)...)
	}
	return attr
}

// Option configures a decorator.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) {
	o(c)
}

// WithOperation sets the span name of a decorator.
func WithOperation(operation string) Option {
	return optionFunc(func(o *config) {
		o.Operation = operation
	})
}

// WithOperationGetter sets an operation name getter function in config.
func WithOperationGetter(fn func(ctx context.Context, name string) string) Option {
	return optionFunc(func(o *config) {
		o.GetOperation = fn
	})
}

// WithAttributes sets the default attributes for the spans created by the decorator.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.Attributes = attrs
	})
}

// WithAttributeGetter extracts additional attributes from the context.
func WithAttributeGetter(fn func(ctx context.Context) []attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.GetAttributes = fn
	})
}
