package rediscache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/BarnabyWild/logistack-sub000/internal/cache"
)

var (
	_ cache.BytesCache  = (*RedisCache)(nil)
	_ cache.LatestCache = (*RedisCache)(nil)
)

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	key := cache.LatestLocationKey("L1")
	require.Equal(t, "load:L1:location:latest", key)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []byte(`{"latitude":41.8}`), 10*time.Minute))
	b, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"latitude":41.8}`, string(b))
	require.Equal(t, 10*time.Minute, mr.TTL(key))

	mr.FastForward(11 * time.Minute)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []byte("x"), time.Minute))
	require.NoError(t, c.Delete(ctx, key))
	require.False(t, mr.Exists(key))
	require.NoError(t, c.Ping(ctx))
}

func TestRedisCache_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.Error(t, c.Ping(context.Background()))
}

func TestRedisCache_SetIfNewer(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	key := cache.LatestLocationKey("L1")

	ok, err := c.SetIfNewer(ctx, key, []byte("v20"), 20, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Minute, mr.TTL(key))
	require.Equal(t, time.Minute, mr.TTL(cache.VersionKey(key)))

	ok, err = c.SetIfNewer(ctx, key, []byte("v10"), 10, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	b, _, _ := c.Get(ctx, key)
	require.Equal(t, "v20", string(b))

	ok, err = c.SetIfNewer(ctx, key, []byte("v20b"), 20, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.SetIfNewer(ctx, key, []byte("v30"), 30, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	b, _, _ = c.Get(ctx, key)
	require.Equal(t, "v30", string(b))

	_, err = c.SetIfNewer(ctx, key, []byte("x"), 40, 0)
	require.Error(t, err)

	require.NoError(t, c.Delete(ctx, key))
	require.False(t, mr.Exists(cache.VersionKey(key)))
}

func TestRedisCache_SetIfNewerConcurrent(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	key := cache.LatestLocationKey("L1")
	// микросекунды реального времени, как у recordedAt
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMicro()

	const writers = 50
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := writers - 1; i >= 0; i-- {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			_, err := c.SetIfNewer(ctx, key, []byte(strconv.FormatInt(v, 10)), v, time.Minute)
			errs <- err
		}(base + int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, strconv.FormatInt(base+writers-1, 10), string(b))
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	now := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	rl := NewRateLimiter(mr.Addr(), "relay:rl:").WithClock(func() time.Time { return now })
	t.Cleanup(func() { _ = rl.Close() })

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "load.events", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "load.events", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "load.events", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// other keys count separately
	ok, _, _ = rl.Allow(ctx, "other", 2, time.Minute)
	require.True(t, ok)

	// the next window starts from zero
	now = now.Add(time.Minute)
	ok, n, _ = rl.Allow(ctx, "load.events", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	_, _, err = rl.Allow(ctx, "load.events", 2, 0)
	require.Error(t, err)
}
