package cqrs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Executor runs one command against one aggregate instance.
//
// It is the decoration point for logging, telemetry and queueing: wrappers
// take an Executor and return one.
type Executor interface {
	Execute(ctx context.Context, aggregateID string, cmd Command, metadata Metadata) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, aggregateID string, cmd Command, metadata Metadata) error

func (f ExecutorFunc) Execute(ctx context.Context, aggregateID string, cmd Command, metadata Metadata) error {
	return f(ctx, aggregateID, cmd, metadata)
}

// Phase is the state of one command execution.
type Phase int

const (
	// PhaseIdle means nothing has been loaded yet.
	PhaseIdle Phase = iota
	// PhaseLoaded means the history was replayed into the current state.
	PhaseLoaded
	// PhaseDecided means the decider produced candidate events.
	PhaseDecided
	// PhaseCommitted means the events were appended.
	PhaseCommitted
	// PhaseConflicted means another writer appended first.
	PhaseConflicted
	// PhaseRejected means the decider refused the command.
	PhaseRejected
	// PhaseFailed means a technical failure stopped the execution.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoaded:
		return "loaded"
	case PhaseDecided:
		return "decided"
	case PhaseCommitted:
		return "committed"
	case PhaseConflicted:
		return "conflicted"
	case PhaseRejected:
		return "rejected"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ExecutionResult describes how an execution ended.
type ExecutionResult struct {
	Phase    Phase
	StreamID StreamID

	// Events holds the committed envelopes. Empty unless Phase is
	// PhaseCommitted and the decider produced events.
	Events []*Envelope

	// Revision is the stream revision the last attempt decided on.
	Revision uint64

	// Attempts counts load-decide-append cycles, retries included.
	Attempts int
}

// ExecutorOption defines a function type that modifies executorOptions.
// These options are applied when constructing a NewCommandExecutor to customize behavior.
type ExecutorOption func(cfg *executorOptions)

// executorOptions defines configuration for a CommandExecutor.
type executorOptions struct {
	// RetryStrategy builds the back-off policy of one execution. Only
	// concurrency conflicts are retried. Defaults to no retries.
	RetryStrategy func() backoff.BackOff

	// MetadataFuncs enrich the metadata of every execution. Explicit
	// metadata passed to Execute wins over extracted keys.
	MetadataFuncs []func(ctx context.Context) Metadata

	// Dispatcher receives the committed events.
	Dispatcher Dispatcher
}

// WithRetryStrategy sets the retry strategy for a NewCommandExecutor.
//
// newStrategy is called once per execution because back-off policies are
// stateful. Retries only happen on concurrency conflicts and reload only the
// events appended since the previous attempt.
//
// Usage:
//
//	exec := NewCommandExecutor(store, agg, WithRetryStrategy(func() backoff.BackOff {
//	    return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
//	}))
func WithRetryStrategy(newStrategy func() backoff.BackOff) ExecutorOption {
	return func(cfg *executorOptions) { cfg.RetryStrategy = newStrategy }
}

// WithMaxRetries retries conflicts up to n times with a short constant delay.
func WithMaxRetries(n uint64) ExecutorOption {
	return WithRetryStrategy(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), n)
	})
}

// WithMetadataExtractor adds a metadata function to a NewCommandExecutor.
//
// Each metadata function is called for every execution and can inject
// additional key-value pairs into the event envelopes. Extractors are applied
// in order of registration.
func WithMetadataExtractor(fn func(ctx context.Context) Metadata) ExecutorOption {
	return func(cfg *executorOptions) {
		cfg.MetadataFuncs = append(cfg.MetadataFuncs, fn)
	}
}

// WithDispatcher sets where committed events go.
func WithDispatcher(d Dispatcher) ExecutorOption {
	return func(cfg *executorOptions) { cfg.Dispatcher = d }
}

// WithProcessors dispatches committed events synchronously to processors,
// logging failures with DefaultErrorHandler.
func WithProcessors(processors ...Processor) ExecutorOption {
	return WithDispatcher(NewSyncDispatcher(nil, processors...))
}

// CommandExecutor orchestrates load, decide, append and dispatch for one
// aggregate type.
type CommandExecutor[S any] struct {
	store     EventStore
	aggregate *Aggregate[S]
	cfg       executorOptions
}

// NewCommandExecutor returns the executor of aggregate on top of store.
//
// It performs the following steps for every command:
//  1. Load the event history of the stream (only the new part on retries).
//  2. Replay it into the current state.
//  3. Decide which events the command produces.
//  4. Wrap them in envelopes carrying the execution metadata.
//  5. Append them expecting the stream to still be at the loaded revision.
//  6. Dispatch the committed envelopes.
//
// Events are never dispatched before they are committed, and a dispatch
// failure never fails the execution.
//
// Example Usage:
//
//	exec := NewCommandExecutor(store, bank.NewAggregate(services), WithProcessors(views))
//	err := exec.Execute(ctx, "A", bank.DepositMoney{Amount: 200}, md)
func NewCommandExecutor[S any](store EventStore, aggregate *Aggregate[S], opts ...ExecutorOption) *CommandExecutor[S] {
	cfg := executorOptions{
		RetryStrategy: func() backoff.BackOff { return &backoff.StopBackOff{} },
		Dispatcher:    NopDispatcher{},
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &CommandExecutor[S]{store: store, aggregate: aggregate, cfg: cfg}
}

// Aggregate returns the aggregate the executor runs.
func (e *CommandExecutor[S]) Aggregate() *Aggregate[S] {
	return e.aggregate
}

// Execute implements Executor.
func (e *CommandExecutor[S]) Execute(ctx context.Context, aggregateID string, cmd Command, metadata Metadata) error {
	_, err := e.ExecuteWithResult(ctx, aggregateID, cmd, metadata)
	return err
}

// ExecuteWithResult executes cmd and reports the phase it ended in.
//
// Errors:
//   - *DomainError (wrapped) when the decider rejects the command.
//   - *StreamRevisionConflictError (wrapped) when retries are exhausted.
//   - *DeserializationError when stored events cannot be decoded.
//   - *EventStoreError for storage failures.
func (e *CommandExecutor[S]) ExecuteWithResult(ctx context.Context, aggregateID string, cmd Command, metadata Metadata) (ExecutionResult, error) {
	stream := e.aggregate.StreamID(aggregateID)
	result := ExecutionResult{Phase: PhaseIdle, StreamID: stream}

	if aggregateID == "" {
		result.Phase = PhaseRejected
		return result, fmt.Errorf("execute %s: %w", cmd.CommandType(), ErrEmptyAggregateID)
	}
	ctx = WithStreamID(ctx, stream)

	md := Metadata{}
	for _, fn := range e.cfg.MetadataFuncs {
		md = md.Merge(fn(ctx))
	}
	md = md.Merge(metadata)

	state := e.aggregate.Initial
	var revision uint64

	committed, err := backoff.RetryWithData(func() ([]*Envelope, error) {
		result.Attempts++
		result.Phase = PhaseIdle

		// --- Load history ---
		iter, err := e.store.LoadStreamFrom(ctx, stream, revision)
		if err != nil {
			result.Phase = PhaseFailed
			return nil, backoff.Permanent(fmt.Errorf("execute %s on %s: load failed: %w", cmd.CommandType(), stream, WrapEventStoreError(err)))
		}

		// --- Evolve state ---
		state, revision, err = e.aggregate.Replay(ctx, state, revision, iter)
		if err != nil {
			result.Phase = PhaseFailed
			return nil, backoff.Permanent(fmt.Errorf("execute %s on %s: replay failed: %w", cmd.CommandType(), stream, replayError(err)))
		}
		result.Phase = PhaseLoaded
		result.Revision = revision

		// --- Decide events ---
		events, err := e.aggregate.Decide(ctx, state, cmd)
		if err != nil {
			result.Phase = PhaseRejected
			return nil, backoff.Permanent(fmt.Errorf("execute %s on %s: %w", cmd.CommandType(), stream, err))
		}
		result.Phase = PhaseDecided

		// If no events, return success without saving
		if len(events) == 0 {
			result.Phase = PhaseCommitted
			return nil, nil
		}

		// --- Wrap events in envelopes ---
		envelopes := make([]Envelope, len(events))
		for i, event := range events {
			envelopes[i] = NewEnvelope(stream, revision+uint64(i)+1, event, md)
		}

		// --- Persist events ---
		if _, err := e.store.Save(ctx, envelopes, Revision(revision)); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				// retried from the revision we already hold
				result.Phase = PhaseConflicted
				return nil, fmt.Errorf("execute %s on %s: %w", cmd.CommandType(), stream, err)
			}
			result.Phase = PhaseFailed
			return nil, backoff.Permanent(fmt.Errorf("execute %s on %s: save failed: %w", cmd.CommandType(), stream, WrapEventStoreError(err)))
		}

		result.Phase = PhaseCommitted
		out := make([]*Envelope, len(envelopes))
		for i := range envelopes {
			out[i] = &envelopes[i]
		}
		return out, nil
	}, backoff.WithContext(e.cfg.RetryStrategy(), ctx))

	if err != nil {
		if result.Phase == PhaseIdle || result.Phase == PhaseLoaded || result.Phase == PhaseDecided {
			// cancelled between attempts
			result.Phase = PhaseFailed
		}
		return result, err
	}

	result.Events = committed
	if len(committed) > 0 {
		e.cfg.Dispatcher.Dispatch(ctx, stream, committed)
	}
	return result, nil
}

func replayError(err error) error {
	if errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrUnknownEventType) {
		return err
	}
	return WrapEventStoreError(err)
}
