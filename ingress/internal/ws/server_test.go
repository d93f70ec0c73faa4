package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/auditflow/ingress/internal/config"
	"github.com/xiaot623/auditflow/ingress/internal/hub"
	"github.com/xiaot623/auditflow/internal/auth"
	"github.com/xiaot623/auditflow/internal/eventbus"
	"github.com/xiaot623/auditflow/internal/protocol"
)

const testSecret = "test-secret"

type testEnv struct {
	hub    *hub.Hub
	bus    *eventbus.MemoryBus
	server *httptest.Server
}

func newTestEnv(t *testing.T, interval, grace time.Duration) *testEnv {
	t.Helper()
	t.Setenv("WS_SECRET", testSecret)
	t.Setenv("HEARTBEAT_INTERVAL", interval.String())
	t.Setenv("HEARTBEAT_GRACE", grace.String())
	cfg, err := config.Load()
	require.NoError(t, err)

	bus := eventbus.NewMemoryBus()
	h := hub.NewHub(bus)
	srv := NewServer(cfg, h, auth.NewVerifier(cfg.Auth.Secret, auth.WithWindow(cfg.Auth.Window)))

	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)

	t.Cleanup(func() {
		ts.Close()
		h.Close()
		_ = bus.Close()
	})
	return &testEnv{hub: h, bus: bus, server: ts}
}

func (env *testEnv) url(signature string, ts int64) string {
	base := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	return fmt.Sprintf("%s?%s=%s&%s=%d", base, protocol.ParamSignature, signature, protocol.ParamTimestamp, ts)
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ts := time.Now().Unix()
	conn, _, err := websocket.DefaultDialer.Dial(env.url(auth.Sign(testSecret, ts, "/ws"), ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return env.hub.ConnectionCount() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func (env *testEnv) subscribe(t *testing.T, conn *websocket.Conn, jobID string) {
	t.Helper()
	before := env.hub.Subscribers(jobID)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(protocol.SubscribeLine(jobID))))
	require.Eventually(t, func() bool { return env.hub.Subscribers(jobID) > before }, time.Second, 5*time.Millisecond)
}

// readEvent returns the next frame that is not a heartbeat.
func readEvent(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if !protocol.IsHeartbeat(data) {
			return data
		}
	}
}

func TestRejectsBadHandshake(t *testing.T) {
	env := newTestEnv(t, time.Hour, time.Second)
	now := time.Now().Unix()

	tests := []struct {
		name string
		url  string
	}{
		{"missing params", "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"},
		{"wrong secret", env.url(auth.Sign("other", now, "/ws"), now)},
		{"wrong path", env.url(auth.Sign(testSecret, now, "/other"), now)},
		{"expired", env.url(auth.Sign(testSecret, now-330, "/ws"), now-330)},
		{"future", env.url(auth.Sign(testSecret, now+330, "/ws"), now+330)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, err := websocket.DefaultDialer.Dial(tt.url, nil)
			require.NoError(t, err)
			defer conn.Close()

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, _, err = conn.ReadMessage()
			var closeErr *websocket.CloseError
			require.True(t, errors.As(err, &closeErr), "got %v", err)
			assert.Equal(t, protocol.CloseUnauthorized, closeErr.Code)
			assert.Equal(t, protocol.CloseReasonUnauthorized, closeErr.Text)
			assert.Equal(t, 0, env.hub.ConnectionCount())
			assert.False(t, env.hub.ListenerRunning())
		})
	}
}

func TestAcceptsTimestampInsideWindow(t *testing.T) {
	env := newTestEnv(t, time.Hour, time.Second)

	ts := time.Now().Add(-299 * time.Second).Unix()
	conn, _, err := websocket.DefaultDialer.Dial(env.url(auth.Sign(testSecret, ts, "/ws"), ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubscribeAndReceive(t *testing.T) {
	env := newTestEnv(t, time.Hour, time.Second)
	ctx := context.Background()

	conn := env.dial(t)
	require.Eventually(t, func() bool { return env.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	env.subscribe(t, conn, "job-1")

	require.NoError(t, env.bus.Publish(ctx, eventbus.NewEvalEvent("job-2", "a", eventbus.StatusStart)))
	require.NoError(t, env.bus.Publish(ctx, eventbus.NewEvalEvent("job-1", "reviewer", eventbus.StatusDone)))

	assert.JSONEq(t, `{"type":"eval","name":"reviewer","status":"done","job_id":"job-1"}`, string(readEvent(t, conn)))
}

func TestTwoClientsFollowSameJob(t *testing.T) {
	env := newTestEnv(t, time.Hour, time.Second)

	a := env.dial(t)
	b := env.dial(t)
	require.Eventually(t, func() bool { return env.hub.ConnectionCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return env.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	env.subscribe(t, a, "job-1")
	env.subscribe(t, b, "job-1")

	require.NoError(t, env.bus.Publish(context.Background(), eventbus.NewEvalEvent("job-1", "x", eventbus.StatusStart)))
	assert.Contains(t, string(readEvent(t, a)), `"job-1"`)
	assert.Contains(t, string(readEvent(t, b)), `"job-1"`)
}

func TestClientCloseUnregisters(t *testing.T) {
	env := newTestEnv(t, time.Hour, time.Second)

	conn := env.dial(t)
	env.subscribe(t, conn, "job-1")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	require.Eventually(t, func() bool { return env.hub.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, env.hub.JobCount())
	assert.False(t, env.hub.ListenerRunning())
}

func TestHeartbeatEvictsSilentClient(t *testing.T) {
	interval, grace := 50*time.Millisecond, 50*time.Millisecond
	const slack = 150 * time.Millisecond
	env := newTestEnv(t, interval, grace)

	opened := time.Now()
	conn := env.dial(t)
	env.subscribe(t, conn, "job-1")

	var heartbeats, events atomic.Int32
	closed := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				closed <- err
				return
			}
			if protocol.IsHeartbeat(data) {
				heartbeats.Add(1)
			} else {
				events.Add(1)
			}
		}
	}()

	require.Eventually(t, func() bool { return env.hub.ConnectionCount() == 0 },
		interval+grace+slack-time.Since(opened), 5*time.Millisecond)
	assert.Equal(t, 0, env.hub.Subscribers("job-1"))
	assert.GreaterOrEqual(t, heartbeats.Load(), int32(1))

	require.NoError(t, env.bus.Publish(context.Background(), eventbus.NewEvalEvent("job-1", "a", eventbus.StatusStart)))

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client socket was not closed after eviction")
	}
	assert.Equal(t, int32(0), events.Load())
}

func TestPongKeepsClientAlive(t *testing.T) {
	interval, grace := 40*time.Millisecond, 40*time.Millisecond
	env := newTestEnv(t, interval, grace)

	conn := env.dial(t)
	env.subscribe(t, conn, "job-1")

	var heartbeats atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if protocol.IsHeartbeat(data) {
				heartbeats.Add(1)
				if err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.Pong)); err != nil {
					return
				}
			}
		}
	}()

	time.Sleep(8 * (interval + grace))
	assert.Equal(t, 1, env.hub.ConnectionCount())
	assert.Equal(t, 1, env.hub.Subscribers("job-1"))
	assert.GreaterOrEqual(t, heartbeats.Load(), int32(3))

	_ = conn.Close()
	<-done
}
