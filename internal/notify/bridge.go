package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel envelopes travel on.
const DefaultChannel = "beacon:notify"

// Publisher hands an envelope to every instance's hub.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// LocalPublisher delivers straight to one hub, for single-instance setups
// and tests.
type LocalPublisher struct {
	Hub *Hub
}

// Publish delivers env to the local hub.
func (p LocalPublisher) Publish(_ context.Context, env Envelope) error {
	p.Hub.Deliver(env)
	return nil
}

// Bridge carries envelopes between instances over Redis pub/sub.
type Bridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger
}

// NewBridge constructs a Bridge. An empty channel uses DefaultChannel.
func NewBridge(client *redis.Client, channel string, hub *Hub, logger *slog.Logger) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, channel: channel, hub: hub, logger: logger}
}

// Publish sends env to every subscribed instance, this one included.
func (b *Bridge) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notify: encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Run subscribes and feeds the local hub until ctx is cancelled. ready, when
// non-nil, is closed once the subscription is confirmed.
func (b *Bridge) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = pubsub.Close() }()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("discard malformed envelope", slog.Any("error", err))
				continue
			}
			b.hub.Deliver(env)
		}
	}
}
