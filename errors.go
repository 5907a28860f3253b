package cqrs

import (
	"errors"
	"fmt"
)

var (
	// ErrBusinessRuleViolation is matched by every *DomainError.
	ErrBusinessRuleViolation = errors.New("business rule violation")

	// ErrConcurrencyConflict is matched by every *StreamRevisionConflictError.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrMalformedPayload is matched by every *DeserializationError.
	ErrMalformedPayload = errors.New("malformed payload")

	ErrStreamExists      = errors.New("stream already exists")
	ErrStreamNotFound    = errors.New("stream not found")
	ErrInvalidRevision   = errors.New("invalid revision")
	ErrInvalidEventBatch = errors.New("invalid event batch")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrDuplicateHandler  = errors.New("duplicate handler")
	ErrHandlerNotFound   = errors.New("handler not found")
	ErrBusStopped        = errors.New("command bus is stopped")
	ErrBusClosed         = errors.New("event bus is closed")
	ErrEmptyAggregateID  = errors.New("empty aggregate id")
	ErrSequenceGap       = errors.New("sequence gap")
)

// DomainError reports a well-formed command that violates a business rule.
// It is terminal for the invocation and never retried.
type DomainError struct {
	Reason string
}

// NewDomainError returns a DomainError with the given reason.
func NewDomainError(reason string) *DomainError {
	return &DomainError{Reason: reason}
}

func (e *DomainError) Error() string {
	return e.Reason
}

func (e *DomainError) Is(target error) bool {
	return target == ErrBusinessRuleViolation
}

// StreamRevisionConflictError is returned by EventStore.Save when another
// writer appended to the stream after the caller loaded it.
type StreamRevisionConflictError struct {
	Stream           StreamID
	ExpectedRevision uint64
	ActualRevision   uint64
}

func (e *StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %q: (expected version %d, actual %d)",
		e.Stream.String(), e.ExpectedRevision, e.ActualRevision)
}

func (e *StreamRevisionConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// ErrSkippedEvent is returned when a handler cannot handle the event type.
type ErrSkippedEvent struct {
	EventType string
}

func (e ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %s", e.EventType)
}

// EventStoreError wraps a technical failure of the event store.
type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error {
	return e.Err
}

// WrapEventStoreError wraps err as an *EventStoreError. Conflicts, already
// wrapped errors and nil pass through unchanged.
func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *EventStoreError
	if errors.As(err, &storeErr) || errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	return &EventStoreError{Err: err}
}

// ViewStoreError wraps a technical failure of a view repository.
type ViewStoreError struct {
	Err error
}

func (e *ViewStoreError) Error() string {
	return fmt.Sprintf("viewstore error: %v", e.Err)
}

func (e *ViewStoreError) Unwrap() error {
	return e.Err
}

// WrapViewStoreError wraps err as a *ViewStoreError unless it is nil or
// already wrapped.
func WrapViewStoreError(err error) error {
	if err == nil {
		return nil
	}
	var viewErr *ViewStoreError
	if errors.As(err, &viewErr) {
		return err
	}
	return &ViewStoreError{Err: err}
}

// DeserializationError reports a command or event payload that could not be
// decoded.
type DeserializationError struct {
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialization error: %v", e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

func (e *DeserializationError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// ErrorKind is the coarse classification used by boundary layers.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindDomain
	KindConflict
	KindDeserialization
	KindStorage
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDomain:
		return "domain"
	case KindConflict:
		return "conflict"
	case KindDeserialization:
		return "deserialization"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Classify maps err onto the error taxonomy of the executor.
func Classify(err error) ErrorKind {
	var (
		storeErr *EventStoreError
		viewErr  *ViewStoreError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrBusinessRuleViolation):
		return KindDomain
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConflict
	case errors.Is(err, ErrMalformedPayload):
		return KindDeserialization
	case errors.As(err, &storeErr), errors.As(err, &viewErr):
		return KindStorage
	default:
		return KindUnknown
	}
}
