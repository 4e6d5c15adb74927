package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/pkg/logger"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{Logger: logger.Discard()})
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var entered, all int
	require.NoError(t, bus.Subscribe(shared.EventPresenceEntered, func(shared.Event) error {
		entered++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		all++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewPresenceEnteredEvent("s-1", t0)))
	require.NoError(t, bus.Publish(shared.NewPresenceExitedEvent("s-1", time.Minute, t0)))

	assert.Equal(t, 1, entered)
	assert.Equal(t, 2, all)
}

func TestInMemoryEventBus_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var after int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("nope") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		after++
		return nil
	}))

	assert.NoError(t, bus.Publish(shared.NewStudentCheckedInEvent("s-1", t0)))
	assert.Equal(t, 1, after)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 2,
		Logger:         logger.Discard(),
	})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(10 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewReminderIssuedEvent("break", 30, false, t0)))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(5), handled.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewPresenceEnteredEvent("s-1", t0)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventPresenceEntered, nil))
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

type fakeRedisClient struct {
	mu        sync.Mutex
	published []string
	messages  chan RedisMessage
	failPub   bool
	closed    bool
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{messages: make(chan RedisMessage, 8)}
}

func (f *fakeRedisClient) Publish(_ context.Context, _ string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPub {
		return errors.New("redis down")
	}
	f.published = append(f.published, message.(string))
	return nil
}

func (f *fakeRedisClient) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	return f.messages, nil
}

func (f *fakeRedisClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRedisEventBus_PublishesEnvelopeAndHandlesLocally(t *testing.T) {
	client := newFakeRedisClient()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:     client,
		InstanceID: "desk-1",
		Logger:     logger.Discard(),
	})
	require.NoError(t, err)

	var local int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		local++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewPresenceEnteredEvent("s-1", t0)))
	require.NoError(t, bus.Close())

	assert.Equal(t, 1, local)
	assert.True(t, client.closed)
	require.Len(t, client.published, 1)

	var env eventEnvelope
	require.NoError(t, json.Unmarshal([]byte(client.published[0]), &env))
	assert.Equal(t, "desk-1", env.InstanceID)
	assert.Equal(t, shared.EventPresenceEntered, env.EventType)
	assert.Equal(t, "s-1", env.Payload["student_id"])
}

func TestRedisEventBus_PublishFailureStillHandlesLocally(t *testing.T) {
	client := newFakeRedisClient()
	client.failPub = true
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: client, Logger: logger.Discard()})
	require.NoError(t, err)
	defer bus.Close()

	var local int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		local++
		return nil
	}))

	assert.NoError(t, bus.Publish(shared.NewPresenceEnteredEvent("s-1", t0)))
	assert.Equal(t, 1, local)
}

func TestRedisEventBus_RemoteEventsSkipSelf(t *testing.T) {
	client := newFakeRedisClient()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:     client,
		InstanceID: "desk-1",
		Logger:     logger.Discard(),
	})
	require.NoError(t, err)
	defer bus.Close()

	got := make(chan shared.Event, 4)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		got <- e
		return nil
	}))

	self, err := encodeEnvelope("desk-1", shared.NewPresenceEnteredEvent("s-1", t0))
	require.NoError(t, err)
	remote, err := encodeEnvelope("desk-2", shared.NewPresenceExitedEvent("s-2", time.Minute, t0))
	require.NoError(t, err)

	client.messages <- RedisMessage{Payload: string(self)}
	client.messages <- RedisMessage{Payload: "not json"}
	client.messages <- RedisMessage{Payload: string(remote)}

	select {
	case e := <-got:
		assert.Equal(t, shared.EventPresenceExited, e.EventType())
		assert.Equal(t, "s-2", e.Payload()["student_id"])
		assert.True(t, t0.Equal(e.OccurredAt()))
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}
	assert.Empty(t, got)
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
