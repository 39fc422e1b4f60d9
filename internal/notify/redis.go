package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix namespaces Redis channels.
const DefaultChannelPrefix = "cmdgate"

// RedisBus publishes events as JSON on Redis pub/sub channels named
// "<prefix>:<topic>", so several gateway processes can feed one audience.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus wraps an existing client.
func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBus{client: client, prefix: prefix}
}

// DialRedis parses url, pings the server and returns a bus.
func DialRedis(ctx context.Context, url, prefix string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBus(client, prefix), nil
}

// Channel returns the Redis channel for topic.
func (b *RedisBus) Channel(topic string) string {
	return b.prefix + ":" + topic
}

// Publish sends evt to the topic's channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, evt Event) error {
	evt.Topic = topic
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(topic), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
