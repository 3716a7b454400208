package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache is a TTL key/value store. Get reports absence explicitly so callers
// never have to guess whether a zero value was stored or missing.
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dest any) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Redis implements Cache on top of a Redis client with JSON-encoded values.
type Redis struct {
	R      *redis.Client
	Prefix string
}

// Set stores value under key with the provided TTL. A non-positive TTL means
// the entry is not stored at all; expired-on-arrival entries must never be
// readable.
func (c Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.R == nil {
		return errors.New("cache: redis client not configured")
	}
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, c.key(key), data, ttl).Err()
}

// Get loads the value stored under key into dest. The boolean reports whether
// the key was present.
func (c Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c.R == nil {
		return false, errors.New("cache: redis client not configured")
	}
	data, err := c.R.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the entry stored under key.
func (c Redis) Delete(ctx context.Context, key string) error {
	if c.R == nil {
		return errors.New("cache: redis client not configured")
	}
	return c.R.Del(ctx, c.key(key)).Err()
}

func (c Redis) key(key string) string {
	if c.Prefix == "" {
		return key
	}
	return c.Prefix + ":" + key
}
