package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"killboard/internal/logging"
)

const cacheKeyPrefix = "killboard:api:response:"

// ResponseCache keeps rendered statistic responses in Redis for a short TTL.
// Statistics only move when new killmails land, so a short cache absorbs
// dashboard refresh storms.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
	log    logging.Interface
}

// NewResponseCache builds a cache with the given TTL.
func NewResponseCache(client *redis.Client, ttl time.Duration) *ResponseCache {
	return &ResponseCache{client: client, ttl: ttl, log: logging.Component("api-cache")}
}

// Get returns a cached response body, if present.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	body, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warnf("cache read failed: %v", err)
		return nil, false
	}
	return body, true
}

// Put stores a response body. Failures are logged and ignored, a cold cache
// only costs recomputation.
func (c *ResponseCache) Put(ctx context.Context, key string, body []byte) {
	if err := c.client.Set(ctx, cacheKey(key), body, c.ttl).Err(); err != nil {
		c.log.Warnf("cache write failed: %v", err)
	}
}

func cacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
