package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OrderLocker serializes state transitions per order so overlapping callback
// deliveries and checkout submissions cannot double-apply side effects.
type OrderLocker struct {
	R            *redis.Client
	TTL          time.Duration
	RetryBackoff time.Duration
}

// WithOrderLock runs fn while holding the lock for orderID. The lock is
// released when fn returns; acquisition retries until the context is done.
func (l OrderLocker) WithOrderLock(ctx context.Context, orderID string, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	key := "lock:order:" + orderID
	token := uuid.NewString()

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer l.release(key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// release deletes the lock only when still owned by this holder.
func (l OrderLocker) release(key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	ctx := context.Background()
	if err := l.R.Eval(ctx, script, []string{key}, token).Err(); err != nil {
		_ = l.R.Del(ctx, key).Err()
	}
}
