package cqrs

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// queuedCommand represents a command enqueued in the command bus for processing.
// Each queuedCommand includes the context for cancellation, the target
// aggregate, the command itself and a response channel for the result.
type queuedCommand struct {
	Ctx         context.Context
	AggregateID string
	Command     Command
	Metadata    Metadata
	ResponseCh  chan<- error
}

// CommandBus is an in-memory command dispatcher. Commands for the same
// aggregate id always land on the same shard and run one after another,
// which keeps concurrency conflicts for hot aggregates rare. Different
// shards run in parallel.
//
// The CommandBus supports:
//   - Typed registration of an Executor per command type
//   - Safe shutdown that waits for in-flight commands to complete
//   - Panic recovery in executors to prevent the bus from crashing
//
// CommandBus implements Executor.
type CommandBus struct {
	handlers   map[string]Executor
	queues     []chan queuedCommand
	stopCh     chan struct{}
	inflight   sync.WaitGroup
	workers    sync.WaitGroup
	mu         sync.RWMutex
	stopped    bool
	shardCount int
}

// NewCommandBus creates a new CommandBus with shardCount workers, each with
// a queue of bufferSize commands.
//
// Example:
//
//	bus := NewCommandBus(100, 8)
func NewCommandBus(bufferSize int, shardCount int) *CommandBus {

	if shardCount <= 0 {
		shardCount = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}

	bus := &CommandBus{
		queues:     make([]chan queuedCommand, shardCount),
		handlers:   make(map[string]Executor),
		stopCh:     make(chan struct{}),
		shardCount: shardCount,
	}

	for i := 0; i < shardCount; i++ {
		bus.queues[i] = make(chan queuedCommand, bufferSize)
		bus.workers.Add(1)
		go bus.worker(bus.queues[i])
	}

	return bus
}

// Execute enqueues a command and waits for the result. It is safe to call
// concurrently.
//
// Notes:
//   - Returns ErrBusStopped if the bus has been stopped.
//   - Returns ctx.Err() when ctx ends before the command ran. A command that
//     already started keeps running; its events may still be committed.
func (b *CommandBus) Execute(ctx context.Context, aggregateID string, cmd Command, metadata Metadata) error {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return ErrBusStopped
	}
	b.inflight.Add(1)
	b.mu.RUnlock()
	defer b.inflight.Done()

	responseCh := make(chan error, 1)
	shard := b.selectShard(aggregateID)

	select {
	case b.queues[shard] <- queuedCommand{Ctx: ctx, AggregateID: aggregateID, Command: cmd, Metadata: metadata, ResponseCh: responseCh}:
		select {
		case err := <-responseCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker processes commands from a single shard queue.
func (b *CommandBus) worker(queue chan queuedCommand) {
	defer b.workers.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case cmd := <-queue:
			cmd.ResponseCh <- b.handle(cmd)
		}
	}
}

func (b *CommandBus) handle(cmd queuedCommand) (err error) {
	if err := cmd.Ctx.Err(); err != nil {
		return err
	}

	name := cmd.Command.CommandType()
	b.mu.RLock()
	h, exists := b.handlers[name]
	b.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no executor for command %s: %w", name, ErrHandlerNotFound)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in executor for %s: %v", name, r)
		}
	}()
	return h.Execute(cmd.Ctx, cmd.AggregateID, cmd.Command, cmd.Metadata)
}

func (b *CommandBus) selectShard(aggregateID string) int {
	hash := fnv.New32a()
	hash.Write([]byte(aggregateID))
	return int(hash.Sum32() % uint32(b.shardCount))
}

// Register routes commands of type C to exec.
//
// Panics if an executor is already registered for the same command type.
//
// Example:
//
//	Register[bank.DepositMoney](bus, executor)
func Register[C Command](b *CommandBus, exec Executor) {
	var zero C
	name := zero.CommandType()

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[name]; exists {
		panic(fmt.Errorf("executor already registered for command type %s: %w", name, ErrDuplicateHandler))
	}
	b.handlers[name] = exec
}

// Stop shuts down the CommandBus safely.
//
// Behavior:
//   - Stops accepting new commands.
//   - Waits for all in-flight commands to finish.
//   - Stops the workers.
//
// Stop is idempotent.
func (b *CommandBus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	b.inflight.Wait()
	close(b.stopCh)
	b.workers.Wait()
}
