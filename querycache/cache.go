// Package querycache is an optional, process-external second tier for
// queryengine's memoization cache, letting several hipcheck processes
// sharing one CI fleet avoid re-querying the same plugin for the same
// key within one logical run. It is never required for correctness:
// queryengine's in-process cache is authoritative on its own.
package querycache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection backing a Cache.
type Options struct {
	URL string

	TLS *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// TTL bounds how long an entry may serve stale answers to other
	// processes in the fleet; zero disables expiry.
	TTL time.Duration
}

// Cache is the shared-memoization surface queryengine.Engine consults
// before falling back to an in-process plugin query.
type Cache interface {
	// Get returns the cached JSON value for key, or ok=false on a miss.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value for key, subject to Options.TTL.
	Set(ctx context.Context, key string, value string) error
	Close() error
}

// RedisCache implements Cache using go-redis/v9.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New dials Redis per opts and verifies the connection with a Ping.
func New(opts Options) (*RedisCache, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 2 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: client, ttl: opts.TTL}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value string) error {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
