package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus for single-process deployments and tests.
// A subscriber whose buffer is full misses the event.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[*memorySubscription]struct{}
	closed bool
	buffer int
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: subscriptionBuffer,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := Message{Event: e, Raw: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs {
		select {
		case sub.out <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		bus:  b,
		out:  make(chan Message, b.buffer),
		done: make(chan struct{}),
	}
	b.subs[sub] = struct{}{}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub, nil
}

// Subscribers reports the number of open subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.release()
	}
	return nil
}

type memorySubscription struct {
	bus  *MemoryBus
	out  chan Message
	done chan struct{}
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; ok {
		s.release()
	}
	return nil
}

// release must be called with the bus lock held.
func (s *memorySubscription) release() {
	delete(s.bus.subs, s)
	close(s.out)
	close(s.done)
}
