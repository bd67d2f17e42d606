package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jkyberneees/process-eventemitter/internal/core"
)

// RedisBus implements Bus using Redis Pub/Sub with automatic reconnection.
type RedisBus struct {
	mu            sync.Mutex
	client        *redis.Client
	options       *redis.Options
	subscriptions map[string]*redis.PubSub
	logger        logrus.FieldLogger
}

// NewRedisBus creates a Redis backed bus using the given options.
func NewRedisBus(opts *redis.Options, logger logrus.FieldLogger) *RedisBus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisBus{
		client:        redis.NewClient(opts),
		options:       opts,
		subscriptions: make(map[string]*redis.PubSub),
		logger:        logger.WithField("component", "eventbus"),
	}
}

// ensureConnection pings the server and reconnects if necessary.
func (b *RedisBus) ensureConnection(ctx context.Context) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.logger.WithError(err).Warn("reconnecting to redis")
		_ = b.client.Close()
		b.client = redis.NewClient(b.options)
	}
}

// Publish sends rec to channel as JSON.
func (b *RedisBus) Publish(ctx context.Context, channel string, rec core.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.ensureConnection(ctx)
	client := b.client
	b.mu.Unlock()
	return client.Publish(ctx, channel, data).Err()
}

func (b *RedisBus) receive(ctx context.Context, pubsub *redis.PubSub) <-chan core.Record {
	ch := make(chan core.Record)
	go func() {
		defer close(ch)
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				b.logger.WithError(err).Warn("receive failed")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			var rec core.Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				b.logger.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed record")
				continue
			}
			select {
			case ch <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (b *RedisBus) subscribe(ctx context.Context, key string, open func(*redis.Client) *redis.PubSub) (<-chan core.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureConnection(ctx)
	ps := open(b.client)
	// wait for the confirmation so no publish after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if old, ok := b.subscriptions[key]; ok {
		_ = old.Close()
	}
	b.subscriptions[key] = ps
	return b.receive(ctx, ps), nil
}

// Subscribe listens for records on channel.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan core.Record, error) {
	return b.subscribe(ctx, channel, func(c *redis.Client) *redis.PubSub {
		return c.Subscribe(ctx, channel)
	})
}

// SubscribePattern listens for records on every channel matching a glob
// pattern such as "eventemitter.response.*".
func (b *RedisBus) SubscribePattern(ctx context.Context, pattern string) (<-chan core.Record, error) {
	return b.subscribe(ctx, pattern, func(c *redis.Client) *redis.PubSub {
		return c.PSubscribe(ctx, pattern)
	})
}

// Unsubscribe stops listening on a channel or pattern.
func (b *RedisBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.subscriptions[channel]
	if !ok {
		return nil
	}
	delete(b.subscriptions, channel)
	return ps.Close()
}

// Close terminates all subscriptions and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ps := range b.subscriptions {
		_ = ps.Close()
	}
	b.subscriptions = make(map[string]*redis.PubSub)
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
