package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultBlockTimeout = 2 * time.Second

// RedisQueue is a Redis list used with LPUSH/BRPOP.
type RedisQueue struct {
	client       *redis.Client
	queue        string
	blockTimeout time.Duration
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(client *redis.Client, queue string, blockTimeout time.Duration) *RedisQueue {
	if blockTimeout <= 0 {
		blockTimeout = DefaultBlockTimeout
	}
	return &RedisQueue{client: client, queue: queue, blockTimeout: blockTimeout}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.client.LPush(ctx, q.queue, jobID).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	vals, err := q.client.BRPop(ctx, q.blockTimeout, q.queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", err
	}
	if len(vals) < 2 {
		return "", fmt.Errorf("unexpected BRPop response: %v", vals)
	}
	return vals[1], nil
}

// Len returns the number of queued ids.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queue).Result()
}
