package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates the requested key is absent from the cache.
var ErrCacheMiss = errors.New("httpapi: cache miss")

// ResponseCache is a read-through cache for GET/POST responses that are
// expensive to recompute (getExchanges' sorted candidate list, getHisto's
// multi-pair payload) but safe to serve slightly stale for a short window,
// following the teacher's RedisClient Set/Get-with-TTL shape.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResponseCache dials addr and pings it so a misconfigured cache fails
// fast at startup rather than on the first request.
func NewResponseCache(addr, password string, db int, ttl time.Duration) (*ResponseCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("httpapi: failed to connect to redis: %w", err)
	}

	return &ResponseCache{client: client, ttl: ttl}, nil
}

// Close releases the underlying Redis connection pool.
func (c *ResponseCache) Close() error { return c.client.Close() }

// Set JSON-encodes value and stores it under key with the cache's TTL.
func (c *ResponseCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("httpapi: marshal cache value: %w", err)
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Get decodes the cached value at key into dest, returning ErrCacheMiss if
// the key is absent.
func (c *ResponseCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		return fmt.Errorf("httpapi: get cache key %s: %w", key, err)
	}
	return json.Unmarshal([]byte(data), dest)
}
