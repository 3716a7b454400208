package cache

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// Carts clears storefront cart sessions once payment reaches a terminal
// state. The cart contents themselves belong to the storefront; the gateway
// only ever empties them.
type Carts struct {
	R *redis.Client
}

// Clear removes the cart session associated with the order key.
func (c Carts) Clear(ctx context.Context, orderKey string) error {
	if c.R == nil {
		return errors.New("carts: redis client not configured")
	}
	return c.R.Del(ctx, "cart:"+orderKey).Err()
}
