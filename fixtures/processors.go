package fixtures

import (
	"context"
	"sync"

	"github.com/terraskye/cqrs"
)

// Dispatch captures one call to ProcessorSpy.Dispatch.
type Dispatch struct {
	Stream cqrs.StreamID
	Events []*cqrs.Envelope
}

// ProcessorSpy is a cqrs.Processor for testing. It records every dispatch
// and can be told to fail.
type ProcessorSpy struct {
	mu sync.Mutex

	name       string
	err        error
	DispatchFn func(ctx context.Context, stream cqrs.StreamID, events []*cqrs.Envelope) error

	Dispatches []Dispatch
}

// NewProcessorSpy creates a ProcessorSpy called name.
func NewProcessorSpy(name string) *ProcessorSpy {
	return &ProcessorSpy{name: name}
}

// FailWith makes every dispatch return err.
func (p *ProcessorSpy) FailWith(err error) *ProcessorSpy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	return p
}

func (p *ProcessorSpy) Name() string {
	return p.name
}

func (p *ProcessorSpy) Dispatch(ctx context.Context, stream cqrs.StreamID, events []*cqrs.Envelope) error {
	p.mu.Lock()
	p.Dispatches = append(p.Dispatches, Dispatch{Stream: stream, Events: events})
	err := p.err
	p.mu.Unlock()

	if p.DispatchFn != nil {
		return p.DispatchFn(ctx, stream, events)
	}
	return err
}

// Sequences returns the sequences received for stream, in order.
func (p *ProcessorSpy) Sequences(stream cqrs.StreamID) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uint64
	for _, d := range p.Dispatches {
		if d.Stream != stream {
			continue
		}
		for _, env := range d.Events {
			out = append(out, env.Sequence)
		}
	}
	return out
}

// Count returns the number of dispatches so far.
func (p *ProcessorSpy) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Dispatches)
}
