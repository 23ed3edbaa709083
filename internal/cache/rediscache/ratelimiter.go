package rediscache

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared by every process that talks
// to the same Redis.
type RateLimiter struct {
	c      *redis.Client
	prefix string
	now    func() time.Time
}

func NewRateLimiter(addr, prefix string) *RateLimiter {
	return &RateLimiter{
		c:      redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		now:    time.Now,
	}
}

func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// Allow делает INCR по ключу текущего окна и ставит TTL окна.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if window <= 0 {
		return false, 0, errors.New("rate limit window must be positive")
	}
	k := rl.windowKey(key, window)

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

func (rl *RateLimiter) windowKey(key string, window time.Duration) string {
	bucket := rl.now().UnixNano() / int64(window)
	return rl.prefix + key + ":" + strconv.FormatInt(bucket, 10)
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}

