package kurrentdb_test

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	kdb "github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraskye/cqrs"
	"github.com/terraskye/cqrs/eventbus/kurrentdb"
	kstore "github.com/terraskye/cqrs/eventstore/kurrentdb"
	"github.com/terraskye/cqrs/fixtures"
)

func TestSubscriptionDeliversCommittedEvents(t *testing.T) {
	url := os.Getenv("KURRENTDB_URL")
	if url == "" {
		t.Skip("KURRENTDB_URL not set")
	}

	cfg, err := kdb.ParseConnectionString(url)
	require.NoError(t, err)
	client, err := kdb.NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	registry := fixtures.Registry()
	store := kstore.NewEventStore(client, kstore.WithRegistry(registry))
	bus := kurrentdb.NewEventBus(client, registry)

	stream := fixtures.OrderStream(uuid.NewString())
	spy := fixtures.NewProcessorSpy("orders")
	require.NoError(t, bus.Subscribe(t.Context(), spy))

	_, err = store.Save(t.Context(), fixtures.Batch(stream, 0, nil, fixtures.OrderEvents(stream.AggregateID)...), cqrs.NoStream{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(spy.Sequences(stream)) == 4
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3, 4}, spy.Sequences(stream))

	require.NoError(t, bus.Close())
}
