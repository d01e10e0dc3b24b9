package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
)

const (
	subscriptionVersionKey = "webhooks:version"
	loadTimeout            = 5 * time.Second
)

// SubscriptionCache keeps active subscriptions per event type in Redis. Keys carry a
// version that Bump increments, so a write invalidates every event type at once.
type SubscriptionCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewSubscriptionCache builds the cache. A nil client disables caching.
func NewSubscriptionCache(client *redis.Client, ttl time.Duration) *SubscriptionCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SubscriptionCache{client: client, ttl: ttl}
}

// Active returns cached subscriptions for eventType, loading them on a miss.
// Concurrent misses for the same key share one load.
func (c *SubscriptionCache) Active(ctx context.Context, eventType inventory.EventType, load func(context.Context) ([]Webhook, error)) ([]Webhook, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key, err := c.key(ctx, eventType)
	if err != nil {
		return nil, err
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var hooks []Webhook
		if err := json.Unmarshal(raw, &hooks); err == nil {
			return hooks, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Shared by every waiter on key, so it must outlive the caller that started it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		hooks, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(hooks)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(loadCtx, key, payload, c.ttl).Err(); err != nil {
			return nil, err
		}
		return hooks, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Webhook), nil
	}
}

// Bump invalidates every cached subscription list.
func (c *SubscriptionCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, subscriptionVersionKey).Err()
}

func (c *SubscriptionCache) key(ctx context.Context, eventType inventory.EventType) (string, error) {
	ver, err := c.client.Get(ctx, subscriptionVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		ver = 0
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("webhooks:active:%s:%d", eventType, ver), nil
}
