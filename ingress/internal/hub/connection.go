package hub

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// State is the lifecycle stage of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection is the registry's view of one live client.
type Connection struct {
	ID         string
	RemoteAddr string

	state        atomic.Int32
	awaitingPong atomic.Bool

	send chan []byte
	// guarded by Hub.mu
	jobs map[string]struct{}
}

// NewConnection creates a CONNECTING connection with a send buffer of size buffer.
func NewConnection(remoteAddr string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		send:       make(chan []byte, buffer),
		jobs:       make(map[string]struct{}),
	}
}

// Authenticate moves a CONNECTING connection to AUTHENTICATED.
func (c *Connection) Authenticate() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated))
}

// State returns the current lifecycle stage.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Outbound is the queue of frames to write. It is closed on unregister.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// MarkAwaitingPong records that a heartbeat probe is outstanding.
func (c *Connection) MarkAwaitingPong() {
	c.awaitingPong.Store(true)
}

// Touch records inbound traffic, which answers any outstanding probe.
func (c *Connection) Touch() {
	c.awaitingPong.Store(false)
}

// AwaitingPong reports whether the last probe is still unanswered.
func (c *Connection) AwaitingPong() bool {
	return c.awaitingPong.Load()
}
