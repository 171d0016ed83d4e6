package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/promptlift/internal/observability"
)

// Config contains expansion cache settings.
// When Enabled, a hit replays a stored expansion and no expansion call is made.
type Config struct {
	Enabled  bool   `env:"CACHE_ENABLED"        envDefault:"false"`
	Addr     string `env:"CACHE_REDIS_ADDR"     envDefault:"localhost:6379"`
	Password string `env:"CACHE_REDIS_PASSWORD"`
	DB       int    `env:"CACHE_REDIS_DB"       envDefault:"0"`
}

// ExpansionCache implements domain.ExpansionCache on Redis strings.
type ExpansionCache struct {
	client *redis.Client
}

// NewClient creates a Redis client from cfg.
func NewClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewExpansionCache creates a cache adapter over client.
func NewExpansionCache(client *redis.Client) (*ExpansionCache, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	return &ExpansionCache{client: client}, nil
}

// Ping verifies connectivity.
func (c *ExpansionCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Get returns the cached expansion for key.
func (c *ExpansionCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}

	observability.FromContext(ctx).Debug("expansion cache hit", observability.String("cache_key", key))
	return value, true, nil
}

// Set stores an expansion; ttl <= 0 keeps it until evicted.
func (c *ExpansionCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *ExpansionCache) Close() error {
	return c.client.Close()
}
