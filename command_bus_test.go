package cqrs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// ---- Test Stubs ----

type testCmd struct {
	Value int
}

func (testCmd) CommandType() string { return "TestCmd" }

type testCmd2 struct{}

func (testCmd2) CommandType() string { return "TestCmd2" }

func okExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, id string, cmd Command, md Metadata) error {
		return nil
	})
}

// ---- Tests ----

func TestCommandBus_Success(t *testing.T) {
	bus := NewCommandBus(10, 2)
	defer bus.Stop()

	var gotID string
	var gotMD Metadata
	Register[testCmd](bus, ExecutorFunc(func(ctx context.Context, id string, cmd Command, md Metadata) error {
		gotID, gotMD = id, md
		return nil
	}))

	if err := bus.Execute(t.Context(), "abc", testCmd{}, Metadata{"k": "v"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotID != "abc" || gotMD["k"] != "v" {
		t.Fatalf("executor got id %q metadata %v", gotID, gotMD)
	}
}

func TestCommandBus_NoHandler(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	err := bus.Execute(t.Context(), "missing", testCmd2{}, nil)
	if !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestCommandBus_HandlerPanic(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	Register[testCmd](bus, ExecutorFunc(func(ctx context.Context, id string, cmd Command, md Metadata) error {
		panic("boom")
	}))

	if err := bus.Execute(t.Context(), "x", testCmd{}, nil); err == nil {
		t.Fatalf("expected panic recovery error")
	}

	// the worker survives the panic
	Register[testCmd2](bus, okExecutor())
	if err := bus.Execute(t.Context(), "x", testCmd2{}, nil); err != nil {
		t.Fatalf("expected worker to keep running, got %v", err)
	}
}

func TestCommandBus_ContextCancelBeforeEnqueue(t *testing.T) {
	bus := NewCommandBus(0, 1) // zero buffer so enqueue blocks
	defer bus.Stop()

	Register[testCmd](bus, okExecutor())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := bus.Execute(ctx, "slow", testCmd{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCommandBus_ContextCancelWhileWaiting(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	Register[testCmd](bus, ExecutorFunc(func(ctx context.Context, id string, cmd Command, md Metadata) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	if err := bus.Execute(ctx, "slow-op", testCmd{}, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestRegister_DuplicateHandlerPanics(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	Register[testCmd](bus, okExecutor())

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on duplicate handler")
		}
	}()

	Register[testCmd](bus, okExecutor())
}

func TestCommandBus_Stop(t *testing.T) {
	bus := NewCommandBus(10, 1)

	Register[testCmd](bus, okExecutor())

	if err := bus.Execute(t.Context(), "x", testCmd{}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bus.Stop()
	bus.Stop()

	if err := bus.Execute(t.Context(), "x", testCmd{}, nil); !errors.Is(err, ErrBusStopped) {
		t.Fatalf("expected ErrBusStopped after Stop, got %v", err)
	}
}

func TestCommandBus_SerializesSameAggregate(t *testing.T) {
	bus := NewCommandBus(100, 4)
	defer bus.Stop()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
	)
	Register[testCmd](bus, ExecutorFunc(func(ctx context.Context, id string, cmd Command, md Metadata) error {
		mu.Lock()
		running++
		if running > maxSeen {
			maxSeen = running
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Execute(t.Context(), "same", testCmd{Value: i}, nil)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected commands for one aggregate to run one at a time, saw %d", maxSeen)
	}
}

func TestCommandBus_ShardDeterministic(t *testing.T) {
	bus := NewCommandBus(10, 3)
	defer bus.Stop()

	s1 := bus.selectShard("abc")
	s2 := bus.selectShard("abc")

	if s1 != s2 {
		t.Fatalf("shard hashing not deterministic")
	}
	if s1 < 0 || s1 >= 3 {
		t.Fatalf("shard %d out of range", s1)
	}
}
