package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"seqjoin/internal/search"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "seqjoin:outcome:"

// RedisCache implements Cache with one Redis hash per entry under
// seqjoin:outcome:<key>: a JSON "payloads" field and an RFC 3339 "stored_at"
// field, expiring after the TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a cache on an existing client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Open connects to redisURL (redis://host:port/db) and verifies the connection.
func Open(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisCache(client, ttl), nil
}

// Put stores the entry with the configured TTL.
func (c *RedisCache) Put(ctx context.Context, key string, e Entry) error {
	payloads, err := json.Marshal(e.Payloads)
	if err != nil {
		return fmt.Errorf("failed to encode payloads: %w", err)
	}

	data := map[string]interface{}{
		"payloads":  string(payloads),
		"stored_at": e.StoredAt.Format(time.RFC3339),
	}

	// HSET + EXPIRE in one round trip
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, keyPrefix+key, data)
	pipe.Expire(ctx, keyPrefix+key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store outcome: %w", err)
	}
	return nil
}

// Get returns the entry for key, or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := c.client.HGetAll(ctx, keyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	raw, ok := data["payloads"]
	if !ok {
		return nil, errors.New("cached outcome has no payloads")
	}
	var payloads []search.Payload
	if err := json.Unmarshal([]byte(raw), &payloads); err != nil {
		return nil, fmt.Errorf("failed to decode cached outcome: %w", err)
	}
	if len(payloads) == 0 {
		return nil, errors.New("cached outcome has no payloads")
	}

	e := &Entry{Payloads: payloads}
	if storedAt, exists := data["stored_at"]; exists {
		if t, err := time.Parse(time.RFC3339, storedAt); err == nil {
			e.StoredAt = t
		}
	}
	return e, nil
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
