package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Notice kinds shown to the buyer on the next storefront render.
const (
	NoticeKindError  = "error"
	NoticeKindNotice = "notice"
)

// Notice is a deferred buyer-facing message produced while handling a
// callback and consumed on the next order-received render.
type Notice struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// Outbox stores pending notices keyed by the order's opaque key. Take has
// single-consume semantics: a notice is read and deleted atomically.
type Outbox struct {
	R   *redis.Client
	TTL time.Duration
}

func (o Outbox) key(orderKey string) string {
	return "notice:" + orderKey
}

// Put stores the notice for orderKey, replacing any previous one.
func (o Outbox) Put(ctx context.Context, orderKey string, n Notice) error {
	if o.R == nil {
		return errors.New("outbox: redis client not configured")
	}
	ttl := o.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return o.R.Set(ctx, o.key(orderKey), data, ttl).Err()
}

// Take atomically reads and deletes the notice for orderKey. The boolean
// reports whether a notice was pending.
func (o Outbox) Take(ctx context.Context, orderKey string) (Notice, bool, error) {
	var n Notice
	if o.R == nil {
		return n, false, errors.New("outbox: redis client not configured")
	}
	data, err := o.R.GetDel(ctx, o.key(orderKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return n, false, nil
	}
	if err != nil {
		return n, false, err
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return n, false, err
	}
	return n, true, nil
}
