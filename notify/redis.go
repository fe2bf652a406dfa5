package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/responder/responderr"
)

// DefaultRedisChannel is the pub/sub channel alerts are published on.
const DefaultRedisChannel = "responder:alerts"

// RedisChannel publishes alerts on a Redis pub/sub channel.
type RedisChannel struct {
	client  *redis.Client
	channel string
}

// redisEnvelope is the JSON published for each alert.
type redisEnvelope struct {
	ID string `json:"id"`
	Message
}

// NewRedisChannel creates a channel publishing on name, or on
// DefaultRedisChannel when name is empty.
func NewRedisChannel(client *redis.Client, name string) *RedisChannel {
	if name == "" {
		name = DefaultRedisChannel
	}
	return &RedisChannel{client: client, channel: name}
}

// Name implements Channel.
func (c *RedisChannel) Name() string {
	return "redis"
}

// Publish implements Channel.
func (c *RedisChannel) Publish(ctx context.Context, msg Message) (string, error) {
	id := uuid.New().String()
	data, err := json.Marshal(redisEnvelope{ID: id, Message: msg})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		return "", responderr.NotificationDelivery(c.Name(), err)
	}
	return id, nil
}

// Subscribe returns a subscription to the alert channel.
func (c *RedisChannel) Subscribe(ctx context.Context) *redis.PubSub {
	return c.client.Subscribe(ctx, c.channel)
}

// Close is a no-op; the client is owned by the caller.
func (c *RedisChannel) Close() error {
	return nil
}
