// Package queue hands job ids from the API to workers.
package queue

import (
	"context"
	"errors"
)

// ErrEmpty is returned by Dequeue when nothing arrived within the poll timeout.
var ErrEmpty = errors.New("queue empty")

// Queue is a FIFO of job ids. Delivery is at-most-once; jobs lost in a crash
// are picked up again by recovery.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Dequeue(ctx context.Context) (string, error)
}
