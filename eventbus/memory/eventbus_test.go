package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraskye/cqrs"
	"github.com/terraskye/cqrs/eventbus/memory"
	"github.com/terraskye/cqrs/fixtures"
)

func TestEventBusDeliversInOrder(t *testing.T) {
	bus := memory.NewEventBus()
	first := fixtures.NewProcessorSpy("first")
	second := fixtures.NewProcessorSpy("second")

	require.NoError(t, bus.Subscribe(t.Context(), first))
	require.NoError(t, bus.Subscribe(t.Context(), second, cqrs.WithQueueSize(1)))

	stream := fixtures.OrderStream("order-1")
	history := fixtures.History(stream, fixtures.OrderEvents("order-1")...)
	for _, env := range history {
		bus.Dispatch(t.Context(), stream, []*cqrs.Envelope{env})
	}

	require.NoError(t, bus.Close())

	want := []uint64{1, 2, 3, 4}
	assert.Equal(t, want, first.Sequences(stream))
	assert.Equal(t, want, second.Sequences(stream))
}

func TestEventBusReportsErrorsAndPanics(t *testing.T) {
	bus := memory.NewEventBus()
	boom := errors.New("boom")

	failing := fixtures.NewProcessorSpy("failing").FailWith(boom)
	panicking := fixtures.NewProcessorSpy("panicking")
	panicking.DispatchFn = func(context.Context, cqrs.StreamID, []*cqrs.Envelope) error {
		panic("kaboom")
	}
	healthy := fixtures.NewProcessorSpy("healthy")

	for _, p := range []cqrs.Processor{failing, panicking, healthy} {
		require.NoError(t, bus.Subscribe(t.Context(), p))
	}

	stream := fixtures.OrderStream("order-1")
	bus.Dispatch(t.Context(), stream, fixtures.History(stream, fixtures.OrderCreated{}))
	require.NoError(t, bus.Close())

	var errs []error
	for err := range bus.Errors() {
		errs = append(errs, err)
	}
	require.Len(t, errs, 2)
	assert.True(t, errors.Is(errs[0], boom) || errors.Is(errs[1], boom))
	assert.Equal(t, 1, healthy.Count())
}

func TestEventBusKeepsValuesNotCancellation(t *testing.T) {
	bus := memory.NewEventBus()
	got := make(chan string, 1)
	spy := fixtures.NewProcessorSpy("ctx")
	spy.DispatchFn = func(ctx context.Context, _ cqrs.StreamID, _ []*cqrs.Envelope) error {
		if ctx.Err() != nil {
			got <- "cancelled"
			return nil
		}
		got <- cqrs.CausationFromContext(ctx)
		return nil
	}
	require.NoError(t, bus.Subscribe(t.Context(), spy))

	ctx, cancel := context.WithCancel(cqrs.WithCausation(t.Context(), "cmd-1"))
	stream := fixtures.OrderStream("order-1")
	bus.Dispatch(ctx, stream, fixtures.History(stream, fixtures.OrderCreated{}))
	cancel()

	select {
	case v := <-got:
		assert.Equal(t, "cmd-1", v)
	case <-time.After(time.Second):
		t.Fatal("processor not called")
	}
	require.NoError(t, bus.Close())
}

func TestEventBusSubscribe(t *testing.T) {
	bus := memory.NewEventBus()

	require.NoError(t, bus.Subscribe(t.Context(), fixtures.NewProcessorSpy("views")))
	err := bus.Subscribe(t.Context(), fixtures.NewProcessorSpy("views"))
	assert.ErrorIs(t, err, cqrs.ErrDuplicateHandler)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err = bus.Subscribe(t.Context(), fixtures.NewProcessorSpy("late"))
	assert.ErrorIs(t, err, cqrs.ErrBusClosed)
}

func TestEventBusUnsubscribesOnContextDone(t *testing.T) {
	bus := memory.NewEventBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(t.Context())
	spy := fixtures.NewProcessorSpy("short-lived")
	require.NoError(t, bus.Subscribe(ctx, spy))
	cancel()

	// Resubscribing under the same name succeeds once the old one is gone.
	require.Eventually(t, func() bool {
		return bus.Subscribe(t.Context(), fixtures.NewProcessorSpy("short-lived")) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestEventBusAsExecutorDispatcher(t *testing.T) {
	bus := memory.NewEventBus()
	spy := fixtures.NewProcessorSpy("views")
	require.NoError(t, bus.Subscribe(t.Context(), spy))

	var d cqrs.Dispatcher = bus
	stream := fixtures.OrderStream("order-1")
	d.Dispatch(t.Context(), stream, fixtures.History(stream, fixtures.OrderCreated{}, fixtures.ItemAdded{}))

	require.NoError(t, bus.Close())
	assert.Equal(t, []uint64{1, 2}, spy.Sequences(stream))
}
