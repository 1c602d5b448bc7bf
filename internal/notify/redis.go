package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list the external notifier consumes with BRPOP.
const QueueKey = "airlift:notifications"

// RedisDeliverer pushes JSON-encoded intents onto a Redis list.
type RedisDeliverer struct {
	client *redis.Client
}

// NewRedisDeliverer creates a deliverer over the given client.
func NewRedisDeliverer(client *redis.Client) *RedisDeliverer {
	return &RedisDeliverer{client: client}
}

// Deliver LPUSHes the intent for the notifier to pick up.
func (d *RedisDeliverer) Deliver(ctx context.Context, intent Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", intent.Kind, err)
	}
	if err := d.client.LPush(ctx, QueueKey, payload).Err(); err != nil {
		return fmt.Errorf("notify: push %s: %w", intent.Kind, err)
	}
	return nil
}
