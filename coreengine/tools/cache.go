package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
)

// DefaultCacheTTL is used when a cache is built without a TTL.
const DefaultCacheTTL = time.Hour

const cacheKeyPrefix = "leadflow:lookup:"

// RedisCache stores successful lookup results in redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logging.Logger
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration, logger logging.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl, logger), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration, logger logging.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger.Bind("component", "lookup_cache")}
}

// Close closes the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CacheKey is the redis key for one tool input.
func CacheKey(name Name, input string) string {
	sum := sha256.Sum256([]byte(string(name) + "\x00" + input))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Wrap returns a lookup that consults the cache before calling next.
func (c *RedisCache) Wrap(name Name, next Lookup) Lookup {
	return &cachedLookup{cache: c, name: name, next: next}
}

type cachedLookup struct {
	cache *RedisCache
	name  Name
	next  Lookup
}

func (l *cachedLookup) Lookup(ctx context.Context, input string) (string, error) {
	key := CacheKey(l.name, input)

	cached, err := l.cache.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		observability.RecordLookup(string(l.name), "cache_hit")
		return cached, nil
	case errors.Is(err, redis.Nil):
	default:
		l.cache.logger.Warn("lookup_cache_get_failed", "tool", l.name, "error", err)
	}

	out, err := l.next.Lookup(ctx, input)
	if err != nil {
		return "", err
	}
	if err := l.cache.client.Set(ctx, key, out, l.cache.ttl).Err(); err != nil {
		l.cache.logger.Warn("lookup_cache_set_failed", "tool", l.name, "error", err)
	}
	return out, nil
}
