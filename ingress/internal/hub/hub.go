// Package hub is the registry of live connections and the job ids they follow.
//
// Every map is guarded by Hub.mu. Sends on a connection's channel and the
// close of that channel also happen under Hub.mu, so a send never races a close.
package hub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/ingress/internal/metrics"
	"github.com/xiaot623/auditflow/internal/eventbus"
)

const subscribeRetryDelay = time.Second

var (
	// ErrNotAuthenticated is returned when registering a connection that did
	// not pass authentication.
	ErrNotAuthenticated = errors.New("connection is not authenticated")
	// ErrNotActive is returned for operations on a connection that is not registered.
	ErrNotActive = errors.New("connection is not active")
	// ErrBufferFull is returned when a send finds the connection's buffer full.
	// The connection has been unregistered by then.
	ErrBufferFull = errors.New("send buffer full")
)

// Hub manages live connections, their job subscriptions and the shared bus
// listener. The listener runs while at least one connection is registered.
type Hub struct {
	bus eventbus.Bus

	mu    sync.Mutex
	conns map[*Connection]struct{}
	jobs  map[string]map[*Connection]struct{}

	listener   *listener
	generation uint64
	starts     int
	wg         sync.WaitGroup
}

type listener struct {
	gen    uint64
	cancel context.CancelFunc
}

// NewHub creates a hub relaying events from bus.
func NewHub(bus eventbus.Bus) *Hub {
	return &Hub{
		bus:   bus,
		conns: make(map[*Connection]struct{}),
		jobs:  make(map[string]map[*Connection]struct{}),
	}
}

// Register records an authenticated connection and marks it ACTIVE. The
// first registered connection starts the bus listener.
func (h *Hub) Register(c *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive)) {
		return ErrNotAuthenticated
	}
	h.conns[c] = struct{}{}
	if len(h.conns) == 1 {
		h.startListenerLocked()
	}
	metrics.SetConnections(len(h.conns))

	zap.S().Named("hub").Debugw("connection registered", "conn_id", c.ID, "connections", len(h.conns))
	return nil
}

// Subscribe adds jobID to the connection's interests. A job id may be
// followed by many connections at once.
func (h *Hub) Subscribe(c *Connection, jobID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok || c.State() != StateActive {
		return ErrNotActive
	}
	subs, ok := h.jobs[jobID]
	if !ok {
		subs = make(map[*Connection]struct{})
		h.jobs[jobID] = subs
	}
	subs[c] = struct{}{}
	c.jobs[jobID] = struct{}{}
	metrics.SetSubscriptions(len(h.jobs))

	zap.S().Named("hub").Debugw("subscribed", "conn_id", c.ID, "job_id", jobID)
	return nil
}

// Unregister removes the connection and every subscription it holds, marks it
// CLOSED and closes its send channel. The last connection out stops the bus
// listener. Unregister is idempotent and reports whether it did anything.
func (h *Hub) Unregister(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Connection) bool {
	if _, ok := h.conns[c]; !ok {
		c.state.Store(int32(StateClosed))
		return false
	}
	delete(h.conns, c)
	for jobID := range c.jobs {
		if subs, ok := h.jobs[jobID]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.jobs, jobID)
			}
		}
	}
	c.jobs = make(map[string]struct{})
	c.state.Store(int32(StateClosed))
	close(c.send)

	if len(h.conns) == 0 {
		h.stopListenerLocked()
	}
	metrics.SetConnections(len(h.conns))
	metrics.SetSubscriptions(len(h.jobs))

	zap.S().Named("hub").Debugw("connection unregistered", "conn_id", c.ID, "connections", len(h.conns))
	return true
}

// Send queues data for one connection without blocking. A full buffer drops
// the connection.
func (h *Hub) Send(c *Connection, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return ErrNotActive
	}
	select {
	case c.send <- data:
		return nil
	default:
		zap.S().Named("hub").Warnw("send buffer full, dropping connection", "conn_id", c.ID)
		h.unregisterLocked(c)
		metrics.IncreaseEvictionsMetric(metrics.EvictionBufferFull)
		return ErrBufferFull
	}
}

// deliver forwards one bus message to every active subscriber of its job.
// Messages from a listener that has since been stopped are discarded.
func (h *Hub) deliver(gen uint64, msg eventbus.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listener == nil || h.listener.gen != gen {
		return 0
	}

	subs := h.jobs[msg.Event.JobID]
	if len(subs) == 0 {
		metrics.IncreaseEventsMetric(metrics.EventNoSubscriber)
		return 0
	}

	delivered := 0
	var full []*Connection
	for c := range subs {
		if c.State() != StateActive {
			continue
		}
		select {
		case c.send <- msg.Raw:
			delivered++
		default:
			full = append(full, c)
		}
	}
	for _, c := range full {
		zap.S().Named("hub").Warnw("send buffer full, dropping connection", "conn_id", c.ID, "job_id", msg.Event.JobID)
		h.unregisterLocked(c)
		metrics.IncreaseEvictionsMetric(metrics.EvictionBufferFull)
	}
	if delivered > 0 {
		metrics.IncreaseEventsMetric(metrics.EventDelivered)
	}
	return delivered
}

func (h *Hub) startListenerLocked() {
	if h.listener != nil {
		return
	}
	h.generation++
	ctx, cancel := context.WithCancel(context.Background())
	h.listener = &listener{gen: h.generation, cancel: cancel}
	h.starts++
	metrics.IncreaseListenerStartsMetric()

	h.wg.Add(1)
	go h.listen(ctx, h.generation)
}

func (h *Hub) stopListenerLocked() {
	if h.listener == nil {
		return
	}
	h.listener.cancel()
	h.listener = nil
}

func (h *Hub) listen(ctx context.Context, gen uint64) {
	defer h.wg.Done()
	logger := zap.S().Named("hub").With("listener", gen)

	for {
		sub, err := h.bus.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnw("failed to subscribe to event bus, retrying", "error", err)
			select {
			case <-time.After(subscribeRetryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		logger.Info("bus listener started")
		h.consume(ctx, gen, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			logger.Info("bus listener stopped")
			return
		}
		logger.Warn("event bus subscription ended, resubscribing")
	}
}

func (h *Hub) consume(ctx context.Context, gen uint64, sub eventbus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			h.deliver(gen, msg)
		}
	}
}

// Close unregisters every connection and waits for the listener to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.conns {
		h.unregisterLocked(c)
	}
	h.stopListenerLocked()
	h.mu.Unlock()

	h.wg.Wait()
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// JobCount returns the number of job ids with at least one subscriber.
func (h *Hub) JobCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs)
}

// Subscribers returns the number of connections following jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs[jobID])
}

// JobsOf lists the job ids c follows, sorted.
func (h *Hub) JobsOf(c *Connection) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	jobs := make([]string, 0, len(c.jobs))
	for jobID := range c.jobs {
		jobs = append(jobs, jobID)
	}
	sort.Strings(jobs)
	return jobs
}

// ListenerRunning reports whether the shared bus listener is active.
func (h *Hub) ListenerRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listener != nil
}

// ListenerStarts counts listener starts over the hub's lifetime.
func (h *Hub) ListenerStarts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts
}
