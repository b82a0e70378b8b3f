package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs Cache with a distributed store, letting the Model Cost
// Resolver's 24h TTL be shared across every span-ingestion worker
// replica instead of re-warming per process.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to url (a redis:// connection string).
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

func (c *Redis) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(val), true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	return c.client.Set(ctx, key, []byte(value), ttl).Err()
}

// Close releases the underlying connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}
