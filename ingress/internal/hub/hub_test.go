package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/auditflow/internal/eventbus"
)

func newTestHub(t *testing.T) (*Hub, *eventbus.MemoryBus) {
	t.Helper()
	bus := eventbus.NewMemoryBus()
	h := NewHub(bus)
	t.Cleanup(func() {
		h.Close()
		_ = bus.Close()
	})
	return h, bus
}

func register(t *testing.T, h *Hub, buffer int) *Connection {
	t.Helper()
	c := NewConnection("test", buffer)
	require.True(t, c.Authenticate())
	require.NoError(t, h.Register(c))
	return c
}

func waitListening(t *testing.T, bus *eventbus.MemoryBus, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return bus.Subscribers() == n }, time.Second, 5*time.Millisecond)
}

func publish(t *testing.T, bus eventbus.Bus, jobID, name string, status eventbus.Status) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), eventbus.NewEvalEvent(jobID, name, status)))
}

func receive(t *testing.T, c *Connection) []byte {
	t.Helper()
	select {
	case data, ok := <-c.Outbound():
		require.True(t, ok, "outbound closed")
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func assertNothing(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case data, ok := <-c.Outbound():
		if ok {
			t.Fatalf("unexpected frame %s", data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterRequiresAuthentication(t *testing.T) {
	h, _ := newTestHub(t)

	c := NewConnection("test", 4)
	assert.Equal(t, StateConnecting, c.State())
	assert.ErrorIs(t, h.Register(c), ErrNotAuthenticated)
	assert.Equal(t, 0, h.ConnectionCount())
	assert.False(t, h.ListenerRunning())

	require.True(t, c.Authenticate())
	assert.False(t, c.Authenticate())
	require.NoError(t, h.Register(c))
	assert.Equal(t, StateActive, c.State())
	assert.ErrorIs(t, h.Register(c), ErrNotAuthenticated)
}

func TestListenerIsReferenceCounted(t *testing.T) {
	h, bus := newTestHub(t)

	a := register(t, h, 4)
	b := register(t, h, 4)
	assert.True(t, h.ListenerRunning())
	assert.Equal(t, 1, h.ListenerStarts())
	waitListening(t, bus, 1)

	assert.True(t, h.Unregister(a))
	assert.True(t, h.ListenerRunning())

	assert.True(t, h.Unregister(b))
	assert.False(t, h.Unregister(b))
	assert.False(t, h.ListenerRunning())
	waitListening(t, bus, 0)

	c := register(t, h, 4)
	assert.Equal(t, 2, h.ListenerStarts())
	waitListening(t, bus, 1)
	require.NoError(t, h.Subscribe(c, "job-1"))
	publish(t, bus, "job-1", "a", eventbus.StatusStart)
	assert.JSONEq(t, `{"type":"eval","name":"a","status":"start","job_id":"job-1"}`, string(receive(t, c)))
}

func TestDeliveryFansOutToEverySubscriber(t *testing.T) {
	h, bus := newTestHub(t)

	a := register(t, h, 4)
	b := register(t, h, 4)
	other := register(t, h, 4)
	waitListening(t, bus, 1)

	require.NoError(t, h.Subscribe(a, "job-1"))
	require.NoError(t, h.Subscribe(b, "job-1"))
	require.NoError(t, h.Subscribe(other, "job-2"))
	assert.Equal(t, 2, h.Subscribers("job-1"))

	publish(t, bus, "job-1", "reviewer", eventbus.StatusDone)

	for _, c := range []*Connection{a, b} {
		assert.JSONEq(t, `{"type":"eval","name":"reviewer","status":"done","job_id":"job-1"}`, string(receive(t, c)))
	}
	assertNothing(t, other)
}

func TestConnectionFollowsManyJobs(t *testing.T) {
	h, bus := newTestHub(t)

	c := register(t, h, 4)
	waitListening(t, bus, 1)
	require.NoError(t, h.Subscribe(c, "job-b"))
	require.NoError(t, h.Subscribe(c, "job-a"))
	require.NoError(t, h.Subscribe(c, "job-a"))
	assert.Equal(t, []string{"job-a", "job-b"}, h.JobsOf(c))

	publish(t, bus, "job-a", "x", eventbus.StatusStart)
	publish(t, bus, "job-b", "y", eventbus.StatusStart)
	assert.Contains(t, string(receive(t, c)), `"job-a"`)
	assert.Contains(t, string(receive(t, c)), `"job-b"`)

	h.Unregister(c)
	assert.Equal(t, 0, h.JobCount())
	assert.Empty(t, h.JobsOf(c))
}

func TestEventWithoutSubscriberIsDropped(t *testing.T) {
	h, bus := newTestHub(t)

	c := register(t, h, 4)
	waitListening(t, bus, 1)
	require.NoError(t, h.Subscribe(c, "marker"))

	publish(t, bus, "nobody", "a", eventbus.StatusStart)
	publish(t, bus, "marker", "a", eventbus.StatusStart)
	assert.Contains(t, string(receive(t, c)), `"marker"`)

	// no replay for late subscribers
	require.NoError(t, h.Subscribe(c, "nobody"))
	assertNothing(t, c)
}

func TestUnregisteredConnectionReceivesNothing(t *testing.T) {
	h, bus := newTestHub(t)

	keep := register(t, h, 4)
	gone := register(t, h, 4)
	waitListening(t, bus, 1)
	require.NoError(t, h.Subscribe(keep, "job-1"))
	require.NoError(t, h.Subscribe(gone, "job-1"))

	h.Unregister(gone)
	assert.Equal(t, StateClosed, gone.State())
	assert.ErrorIs(t, h.Subscribe(gone, "job-1"), ErrNotActive)
	assert.ErrorIs(t, h.Send(gone, []byte("x")), ErrNotActive)

	publish(t, bus, "job-1", "a", eventbus.StatusDone)
	receive(t, keep)

	_, ok := <-gone.Outbound()
	assert.False(t, ok)
}

func TestFullBufferDropsConnection(t *testing.T) {
	h, bus := newTestHub(t)

	slow := register(t, h, 1)
	fast := register(t, h, 8)
	waitListening(t, bus, 1)
	require.NoError(t, h.Subscribe(slow, "job-1"))
	require.NoError(t, h.Subscribe(fast, "job-1"))

	publish(t, bus, "job-1", "a", eventbus.StatusStart)
	publish(t, bus, "job-1", "a", eventbus.StatusDone)

	require.Eventually(t, func() bool { return slow.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.Subscribers("job-1"))
	assert.Equal(t, 1, h.ConnectionCount())

	receive(t, fast)
	receive(t, fast)

	// the frame queued before the overflow is still readable, then the channel is closed
	receive(t, slow)
	_, ok := <-slow.Outbound()
	assert.False(t, ok)
}

func TestSendOnFullBuffer(t *testing.T) {
	h, _ := newTestHub(t)

	c := register(t, h, 1)
	require.NoError(t, h.Send(c, []byte("one")))
	assert.ErrorIs(t, h.Send(c, []byte("two")), ErrBufferFull)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 0, h.ConnectionCount())
}

func TestStaleListenerGenerationIsIgnored(t *testing.T) {
	h, bus := newTestHub(t)

	c := register(t, h, 4)
	waitListening(t, bus, 1)
	require.NoError(t, h.Subscribe(c, "job-1"))

	msg := eventbus.Message{Event: eventbus.NewEvalEvent("job-1", "a", eventbus.StatusStart), Raw: []byte(`{}`)}
	assert.Equal(t, 0, h.deliver(h.generation+1, msg))
	assert.Equal(t, 1, h.deliver(h.generation, msg))
}

func TestConcurrentRegisterSubscribeUnregister(t *testing.T) {
	h, bus := newTestHub(t)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewConnection(fmt.Sprintf("client-%d", i), 4)
			c.Authenticate()
			if err := h.Register(c); err != nil {
				t.Errorf("register: %v", err)
				return
			}
			for j := 0; j < 5; j++ {
				_ = h.Subscribe(c, fmt.Sprintf("job-%d", (i+j)%7))
			}
			_ = bus.Publish(context.Background(), eventbus.NewEvalEvent(fmt.Sprintf("job-%d", i%7), "a", eventbus.StatusStart))
			h.Unregister(c)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, h.ConnectionCount())
	assert.Equal(t, 0, h.JobCount())
	assert.False(t, h.ListenerRunning())
	waitListening(t, bus, 0)
}

func TestCloseUnregistersEverything(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	defer bus.Close()
	h := NewHub(bus)

	a := register(t, h, 4)
	b := register(t, h, 4)
	require.NoError(t, h.Subscribe(a, "job-1"))

	h.Close()
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, h.ListenerRunning())
	assert.Equal(t, 0, bus.Subscribers())
}
