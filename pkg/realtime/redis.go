package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "hustl:realtime:"

// RedisBroker fans events out through Redis pub/sub so every API instance
// sees inserts made by any other. Delivery is at-most-once.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker builds a broker on a shared client.
func NewRedisBroker(client *redis.Client, prefix string) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("realtime redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBroker{client: client, prefix: prefix}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.prefix+channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	s := newSubscription(channel, pubsub.Close)
	msgs := pubsub.Channel()

	go func() {
		defer close(s.done)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("realtime decode failed", "channel", channel, "err", err)
					continue
				}
				h(ev)
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}()
	return s, nil
}

// Close is a no-op; the shared client is owned by the caller.
func (b *RedisBroker) Close() error {
	return nil
}
