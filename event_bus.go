package cqrs

import "context"

// SubscriberConfig holds the per subscription settings of an EventBus.
type SubscriberConfig struct {
	// QueueSize is the number of batches buffered for the subscriber.
	QueueSize int

	// After is the global position after which a store backed bus starts
	// delivering. In-process buses ignore it.
	After uint64
}

// SubscriberOption configures a subscription.
type SubscriberOption func(cfg *SubscriberConfig)

// WithQueueSize sets the number of batches buffered for the subscriber.
func WithQueueSize(size int) SubscriberOption {
	return func(cfg *SubscriberConfig) {
		if size > 0 {
			cfg.QueueSize = size
		}
	}
}

// StartAfter makes a store backed subscription deliver events committed
// after the global position.
func StartAfter(position uint64) SubscriberOption {
	return func(cfg *SubscriberConfig) {
		cfg.After = position
	}
}

// EventBus is an asynchronous Dispatcher. Every subscribed processor gets
// its own ordered queue, so per stream order is kept for each processor
// while processors progress independently.
type EventBus interface {
	Dispatcher

	// Subscribe adds a processor. The subscription ends when ctx is done or
	// the bus is closed. Names must be unique.
	Subscribe(ctx context.Context, processor Processor, options ...SubscriberOption) error

	// Errors returns a channel where async processing errors are sent.
	Errors() <-chan error

	// Close stops accepting events, drains the queues and waits for all
	// processors to finish.
	Close() error
}
