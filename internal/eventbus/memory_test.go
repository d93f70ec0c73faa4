package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewEvalEvent("job-1", "storage", StatusStart)))

	msg := receive(t, sub)
	assert.Equal(t, "job-1", msg.Event.JobID)
	assert.Equal(t, "storage", msg.Event.Name)
	assert.Equal(t, StatusStart, msg.Event.Status)
	assert.JSONEq(t, `{"type":"eval","name":"storage","status":"start","job_id":"job-1"}`, string(msg.Raw))
}

func TestMemoryBusPublishWithoutSubscribersIsDropped(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	require.NoError(t, bus.Publish(context.Background(), NewEvalEvent("job-1", "a", StatusDone)))

	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected replay of %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusSubscriptionEndsWithContext(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers())

	cancel()

	assert.Eventually(t, func() bool { return bus.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
	_, ok := <-sub.Messages()
	assert.False(t, ok)
	assert.NoError(t, sub.Close())
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus()
	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	_, ok := <-sub.Messages()
	assert.False(t, ok)

	assert.ErrorIs(t, bus.Publish(context.Background(), NewEvalEvent("j", "a", StatusDone)), ErrClosed)
	_, err = bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"eval","name":"reviewer","status":"error","job_id":"j1"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusError, msg.Event.Status)

	_, err = Decode([]byte(`{"type":"eval"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
