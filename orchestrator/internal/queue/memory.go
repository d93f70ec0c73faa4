package queue

import (
	"context"
	"time"
)

// MemoryQueue is a Queue for single-process deployments and tests.
type MemoryQueue struct {
	ch          chan string
	pollTimeout time.Duration
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan string, size), pollTimeout: DefaultBlockTimeout}
}

// Enqueue blocks while the queue is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	timer := time.NewTimer(q.pollTimeout)
	defer timer.Stop()
	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", ErrEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
