package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	DefaultKeyPrefix = "anova:report:"
	DefaultTTL       = 24 * time.Hour
	pingTimeout      = 5 * time.Second
)

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisCache keeps zstd-compressed report payloads in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and pings it. The client is closed and an
// error returned when the server is unreachable.
func NewRedisCache(ctx context.Context, logger *zap.Logger, opts RedisOptions) (*RedisCache, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultKeyPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return &RedisCache{client: client, logger: logger, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

// Open returns a RedisCache when addr is set and reachable, and Nop
// otherwise.
func Open(ctx context.Context, logger *zap.Logger, opts RedisOptions) ReportCache {
	if opts.Addr == "" {
		return Nop{}
	}
	c, err := NewRedisCache(ctx, logger, opts)
	if err != nil {
		logger.Warn("Redis connection failed, running without report cache",
			zap.String("addr", opts.Addr),
			zap.Error(err))
		return Nop{}
	}
	return c
}

// Get fetches and decompresses the payload stored under key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	cacheKey := c.prefix + key
	data, err := c.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache read failed: %w", err)
	}
	payload, err := Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached report %s: %w", cacheKey, err)
	}
	c.logger.Debug("Retrieved report from Redis cache",
		zap.String("cacheKey", cacheKey),
		zap.Int("compressedBytes", len(data)))
	return payload, nil
}

// Set compresses payload and stores it under key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, payload []byte) error {
	cacheKey := c.prefix + key
	data, err := Compress(payload)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache report in redis: %w", err)
	}
	c.logger.Debug("Cached report in Redis",
		zap.String("cacheKey", cacheKey),
		zap.Duration("ttl", c.ttl),
		zap.Int("bytes", len(payload)),
		zap.Int("compressedBytes", len(data)))
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
