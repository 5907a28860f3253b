package cqrs

import (
	"errors"
	"testing"
)

func TestAggregateReplayIsDeterministic(t *testing.T) {
	agg := newCounter()
	history := counterHistory(3, 4, -2, 10)

	first, err := agg.Fold(history)
	if err != nil {
		t.Fatal(err)
	}
	second, err := agg.Fold(history)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || first != 15 {
		t.Fatalf("expected 15 twice, got %d and %d", first, second)
	}
}

func TestAggregateReplayFromIterator(t *testing.T) {
	agg := newCounter()
	history := counterHistory(1, 2, 3)

	state, last, err := agg.Replay(t.Context(), 1, 1, NewSliceIterator(history[1:]))
	if err != nil {
		t.Fatal(err)
	}
	if state != 6 || last != 3 {
		t.Fatalf("expected state 6 at 3, got %d at %d", state, last)
	}

	state, last, err = agg.Replay(t.Context(), state, last, EmptyIterator[*Envelope]())
	if err != nil || state != 6 || last != 3 {
		t.Fatalf("empty replay must keep state and revision, got %d at %d (%v)", state, last, err)
	}
}

func TestAggregateEvolveUnknownEvent(t *testing.T) {
	agg := newCounter()
	env := NewEnvelope(agg.StreamID("c1"), 1, forgotten{}, nil)

	state, err := agg.Evolve(7, &env)
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
	if state != 7 {
		t.Fatalf("expected state untouched, got %d", state)
	}
	if next := agg.Evolver()(7, &env); next != 7 {
		t.Fatalf("Evolver must ignore unknown events, got %d", next)
	}
}

func TestAggregateCovers(t *testing.T) {
	agg := newCounter()

	if err := agg.Covers(incremented{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := agg.Covers(incremented{}, forgotten{}); !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestNewAggregatePanics(t *testing.T) {
	t.Run("nil decider", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic on nil decider")
			}
		}()
		NewAggregate[int]("counter", 0, nil)
	})

	t.Run("duplicate apply handler", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic on duplicate handler")
			}
		}()
		NewAggregate("counter", 0, decideCounter,
			OnApply(func(s int, e incremented) int { return s }),
			OnApply(func(s int, e incremented) int { return s }),
		)
	})
}

func TestHydrate(t *testing.T) {
	evolve := Hydrate(
		OnApply(func(s []string, e incremented) []string { return append(s, "inc") }),
	)

	history := counterHistory(1, 1)
	other := NewEnvelope(NewStreamID("counter", "c1"), 3, forgotten{}, nil)
	history = append(history, &other)

	var state []string
	for _, env := range history {
		state = evolve(state, env)
	}
	if len(state) != 2 {
		t.Fatalf("expected 2 applied events, got %v", state)
	}
}
