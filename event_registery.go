package cqrs

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// EventDecoder turns a persisted payload back into a concrete Event.
type EventDecoder func(data []byte) (Event, error)

// Registry maps persisted event type names to decoders. Stores use it to
// rebuild typed events from their payloads.
//
// The zero value is not usable; create registries with NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]EventDecoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]EventDecoder)}
}

// DefaultRegistry is the registry used by stores that are not given one
// explicitly.
var DefaultRegistry = NewRegistry()

// Register adds a decoder under name.
//
// Panics:
//   - If decode is nil.
//   - If name is empty or already registered.
func (r *Registry) Register(name string, decode EventDecoder) {
	if decode == nil {
		panic("cannot register nil decoder")
	}
	if name == "" {
		panic("cannot register event with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decoders[name]; exists {
		panic(fmt.Sprintf("event already registered: %s", name))
	}
	r.decoders[name] = decode
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Decode rebuilds the event registered under name from data.
//
// Errors are *DeserializationError; an unregistered name also matches
// ErrUnknownEventType.
func (r *Registry) Decode(name string, data []byte) (Event, error) {
	r.mu.RLock()
	decode, ok := r.decoders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &DeserializationError{Err: fmt.Errorf("%w: %s", ErrUnknownEventType, name)}
	}
	ev, err := decode(data)
	if err != nil {
		return nil, &DeserializationError{Err: fmt.Errorf("decode event %s: %w", name, err)}
	}
	return ev, nil
}

// RegisterEvent registers the JSON decoder of T under T's EventType.
//
// Example Usage:
//
//	cqrs.RegisterEvent[InventoryChanged](cqrs.DefaultRegistry)
func RegisterEvent[T Event](r *Registry) {
	var zero T
	RegisterEventByName[T](r, zero.EventType())
}

// RegisterEventByName registers the JSON decoder of T under a custom name.
func RegisterEventByName[T Event](r *Registry, name string) {
	r.Register(name, func(data []byte) (Event, error) {
		var ev T
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	})
}

// MarshalEvent encodes the payload of ev.
func MarshalEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.EventType(), err)
	}
	return data, nil
}

// MarshalMetadata encodes metadata. Nil metadata encodes as an empty object.
func MarshalMetadata(md Metadata) ([]byte, error) {
	if md == nil {
		md = Metadata{}
	}
	return json.Marshal(md)
}

// UnmarshalMetadata decodes metadata written by MarshalMetadata.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	md := Metadata{}
	if len(data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, &DeserializationError{Err: fmt.Errorf("decode metadata: %w", err)}
	}
	return md, nil
}
