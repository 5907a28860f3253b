package fixtures

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraskye/cqrs"
)

// EventStoreSuite checks that an EventStore honours the append and load
// contract. newStore must return a store that decodes the events of
// Registry. Stream ids are random so the suite can run against a shared
// server.
func EventStoreSuite(t *testing.T, newStore func(t *testing.T) cqrs.EventStore) {
	t.Run("unknown stream is empty", func(t *testing.T) {
		store := newStore(t)

		iter, err := store.LoadStream(t.Context(), OrderStream(uuid.NewString()))
		require.NoError(t, err)
		events, err := iter.All(t.Context())
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("save and load in order", func(t *testing.T) {
		store := newStore(t)
		stream := OrderStream(uuid.NewString())
		history := OrderEvents(stream.AggregateID)

		batch := Batch(stream, 0, cqrs.Metadata{"uri": "/order"}, history...)
		result, err := store.Save(t.Context(), batch, cqrs.Revision(0))
		require.NoError(t, err)
		assert.True(t, result.Successful)
		assert.Equal(t, stream, result.StreamID)
		assert.Equal(t, uint64(1), result.FirstSequence)
		assert.Equal(t, uint64(len(history)), result.NextExpectedVersion)

		iter, err := store.LoadStream(t.Context(), stream)
		require.NoError(t, err)
		loaded, err := iter.All(t.Context())
		require.NoError(t, err)
		require.Len(t, loaded, len(history))

		for i, env := range loaded {
			assert.Equal(t, uint64(i+1), env.Sequence)
			assert.Equal(t, stream, env.StreamID)
			assert.Equal(t, batch[i].EventID, env.EventID)
			assert.Equal(t, history[i].EventType(), env.EventType)
			assert.Equal(t, history[i].EventVersion(), env.EventVersion)
			assert.Equal(t, history[i], env.Event)
			assert.Equal(t, "/order", env.Metadata["uri"])
			assert.WithinDuration(t, batch[i].OccurredAt, env.OccurredAt, time.Millisecond)
		}
	})

	t.Run("load from sequence", func(t *testing.T) {
		store := newStore(t)
		stream := OrderStream(uuid.NewString())
		_, err := store.Save(t.Context(), Batch(stream, 0, nil, OrderEvents(stream.AggregateID)...), cqrs.NoStream{})
		require.NoError(t, err)

		iter, err := store.LoadStreamFrom(t.Context(), stream, 2)
		require.NoError(t, err)
		loaded, err := iter.All(t.Context())
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, uint64(3), loaded[0].Sequence)
		assert.Equal(t, uint64(4), loaded[1].Sequence)

		iter, err = store.LoadStreamFrom(t.Context(), stream, 10)
		require.NoError(t, err)
		loaded, err = iter.All(t.Context())
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("stale revision conflicts and appends nothing", func(t *testing.T) {
		store := newStore(t)
		stream := OrderStream(uuid.NewString())
		_, err := store.Save(t.Context(), Batch(stream, 0, nil, OrderCreated{OrderID: stream.AggregateID}), cqrs.Revision(0))
		require.NoError(t, err)

		_, err = store.Save(t.Context(), Batch(stream, 0, nil, ItemAdded{OrderID: stream.AggregateID}), cqrs.Revision(0))
		require.Error(t, err)
		assert.True(t, errors.Is(err, cqrs.ErrConcurrencyConflict), "expected conflict, got %v", err)

		var conflict *cqrs.StreamRevisionConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, uint64(0), conflict.ExpectedRevision)

		_, err = store.Save(t.Context(), Batch(stream, 1, nil, ItemAdded{OrderID: stream.AggregateID}), cqrs.NoStream{})
		assert.True(t, errors.Is(err, cqrs.ErrConcurrencyConflict), "expected conflict, got %v", err)

		iter, err := store.LoadStream(t.Context(), stream)
		require.NoError(t, err)
		loaded, err := iter.All(t.Context())
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("stream exists on missing stream", func(t *testing.T) {
		store := newStore(t)
		stream := OrderStream(uuid.NewString())

		_, err := store.Save(t.Context(), Batch(stream, 0, nil, OrderCreated{OrderID: stream.AggregateID}), cqrs.StreamExists{})
		assert.Error(t, err)
	})

	t.Run("mixed stream batch is rejected", func(t *testing.T) {
		store := newStore(t)
		a := Batch(OrderStream(uuid.NewString()), 0, nil, OrderCreated{})
		b := Batch(OrderStream(uuid.NewString()), 1, nil, ItemAdded{})

		_, err := store.Save(t.Context(), append(a, b...), cqrs.Any{})
		assert.ErrorIs(t, err, cqrs.ErrInvalidEventBatch)
		assert.Equal(t, cqrs.KindStorage, cqrs.Classify(err))
	})

	t.Run("load from all in commit order", func(t *testing.T) {
		store := newStore(t)
		first := OrderStream(uuid.NewString())
		second := OrderStream(uuid.NewString())

		_, err := store.Save(t.Context(), Batch(first, 0, nil, OrderCreated{OrderID: first.AggregateID}), cqrs.Revision(0))
		require.NoError(t, err)

		iter, err := store.LoadStream(t.Context(), first)
		require.NoError(t, err)
		head, err := iter.All(t.Context())
		require.NoError(t, err)
		require.Len(t, head, 1)
		mark := head[0].GlobalPosition

		_, err = store.Save(t.Context(), Batch(second, 0, nil, OrderCreated{OrderID: second.AggregateID}), cqrs.Revision(0))
		require.NoError(t, err)
		_, err = store.Save(t.Context(), Batch(first, 1, nil, ItemAdded{OrderID: first.AggregateID}), cqrs.Revision(1))
		require.NoError(t, err)

		iter, err = store.LoadFromAll(t.Context(), mark)
		require.NoError(t, err)
		all, err := iter.All(t.Context())
		require.NoError(t, err)

		var mine []*cqrs.Envelope
		for _, env := range all {
			if env.StreamID == first || env.StreamID == second {
				mine = append(mine, env)
			}
		}
		require.Len(t, mine, 2)
		assert.Equal(t, second, mine[0].StreamID)
		assert.Equal(t, first, mine[1].StreamID)
		assert.Equal(t, uint64(2), mine[1].Sequence)
		assert.Greater(t, mine[0].GlobalPosition, mark)
		assert.Greater(t, mine[1].GlobalPosition, mine[0].GlobalPosition)
	})

	t.Run("concurrent writers commit once", func(t *testing.T) {
		store := newStore(t)
		stream := OrderStream(uuid.NewString())

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Save(t.Context(), Batch(stream, 0, nil, OrderCreated{OrderID: stream.AggregateID}), cqrs.Revision(0))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, cqrs.ErrConcurrencyConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, writers-1, conflicts)

		iter, err := store.LoadStream(t.Context(), stream)
		require.NoError(t, err)
		loaded, err := iter.All(t.Context())
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})
}
