package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const subscriptionBuffer = 256

// RedisBus is a Bus backed by a Redis pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus creates a bus publishing to and subscribing on the given channel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription with the server before returning, so
// events published after Subscribe returns are observed.
func (b *RedisBus) Subscribe(ctx context.Context) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.run(ctx)
	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	out       chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.out)
	logger := zap.S().Named("redis_bus")

	in := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg, err := Decode([]byte(m.Payload))
			if err != nil {
				logger.Warnw("dropping malformed event", "error", err, "payload", m.Payload)
				continue
			}
			select {
			case s.out <- msg:
			case <-s.done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
