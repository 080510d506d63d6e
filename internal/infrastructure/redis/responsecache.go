package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedResponse is a replayable HTTP response stored for an Idempotency-Key.
type CachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// ResponseCache backs the HTTP idempotency middleware. Entries share the
// ledger's bounded-retention model: Redis TTL, no explicit cleanup.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResponseCache(client *redis.Client, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResponseCache{client: client, ttl: ttl}
}

// Get returns the cached response for key, or nil when absent.
func (c *ResponseCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	raw, err := c.client.Get(ctx, fmt.Sprintf("idem:response:%s", key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached response: %w", err)
	}
	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

func (c *ResponseCache) Set(ctx context.Context, key string, resp *CachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	if err := c.client.Set(ctx, fmt.Sprintf("idem:response:%s", key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached response: %w", err)
	}
	return nil
}
