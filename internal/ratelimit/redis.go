package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window counter shared by every instance pointing at the
// same Redis.
type Redis struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRedis(rdb *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{redis: rdb, limit: int64(limit), window: window, now: time.Now}
}

func (r *Redis) windowKey(key string) string {
	slot := r.now().UnixNano() / int64(r.window)
	return "ratelimit:" + key + ":" + strconv.FormatInt(slot, 10)
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := r.windowKey(key)

	n, err := r.redis.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if n == 1 {
		if err := r.redis.Expire(ctx, k, r.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return n <= r.limit, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (r *Redis) Close() error { return nil }
