package unfurl

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = 6 * time.Hour

// Cache stores unfurl results by normalized URL.
type Cache interface {
	Get(ctx context.Context, url string) (Result, bool, error)
	Set(ctx context.Context, url string, res Result) error
}

// RedisCache keeps results in Redis as JSON with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, prefix: "unfurl:", ttl: ttl}
}

func (c *RedisCache) key(url string) string {
	return c.prefix + url
}

func (c *RedisCache) Get(ctx context.Context, url string) (Result, bool, error) {
	raw, err := c.client.Get(ctx, c.key(url)).Result()
	if err == redis.Nil {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("lookup unfurl cache: %w", err)
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, false, fmt.Errorf("unmarshal unfurl cache: %w", err)
	}
	return res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, url string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal unfurl result: %w", err)
	}
	if err := c.client.Set(ctx, c.key(url), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save unfurl result: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Cached serves results from cache and stores successful fetches. Cache
// failures are logged and never fail an unfurl.
type Cached struct {
	next  Unfurler
	cache Cache
}

func NewCached(next Unfurler, cache Cache) *Cached {
	return &Cached{next: next, cache: cache}
}

func (c *Cached) Unfurl(ctx context.Context, rawURL string) (Result, error) {
	target, err := Normalize(rawURL)
	if err != nil {
		return Result{}, err
	}
	key := target.String()
	if res, ok, err := c.cache.Get(ctx, key); err != nil {
		log.Printf("unfurl cache: %v", err)
	} else if ok {
		return res, nil
	}
	res, err := c.next.Unfurl(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if err := c.cache.Set(ctx, key, res); err != nil {
		log.Printf("unfurl cache: %v", err)
	}
	return res, nil
}
