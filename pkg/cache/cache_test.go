package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Series string    `json:"series"`
	Values []float64 `json:"values"`
}

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCacheFromClient(client, "test"), mr
}

func exerciseService(t *testing.T, c Service) {
	ctx := context.Background()

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "missing", &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, Key("fred", "DGS10", "2024-01-01"), payload{Series: "DGS10", Values: []float64{4.1, 4.2}}, time.Minute))
	require.NoError(t, c.Get(ctx, Key("fred", "DGS10", "2024-01-01"), &got))
	assert.Equal(t, "DGS10", got.Series)
	assert.Equal(t, []float64{4.1, 4.2}, got.Values)

	var raw []byte
	require.NoError(t, c.Set(ctx, "raw", []byte(`{"a":1}`), 0))
	require.NoError(t, c.Get(ctx, "raw", &raw))
	assert.Equal(t, `{"a":1}`, string(raw))

	require.NoError(t, c.Delete(ctx, "raw"))
	assert.ErrorIs(t, c.Get(ctx, "raw", &raw), ErrCacheMiss)

	token, ok, err := c.TryLock(ctx, "lock:DGS10", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = c.TryLock(ctx, "lock:DGS10", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, c.Unlock(ctx, "lock:DGS10", "not-the-owner"), ErrNotLocked)
	require.NoError(t, c.Unlock(ctx, "lock:DGS10", token))

	_, ok, err = c.TryLock(ctx, "lock:DGS10", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache(t *testing.T) {
	exerciseService(t, NewMemoryCache())
}

func TestRedisCache(t *testing.T) {
	c, mr := newRedis(t)
	exerciseService(t, c)
	assert.True(t, mr.Exists("test:lock:DGS10"))
}

func TestLayeredCache(t *testing.T) {
	r, _ := newRedis(t)
	exerciseService(t, NewLayeredCache(r, time.Minute))
}

func TestMemoryExpiryAndEviction(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", time.Second))
	now = now.Add(2 * time.Second)
	var s string
	assert.ErrorIs(t, c.Get(ctx, "a", &s), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "b", "2", 0))
	now = now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "c", "3", 0))
	now = now.Add(time.Second)
	require.NoError(t, c.Get(ctx, "b", &s))
	now = now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "d", "4", 0))

	assert.ErrorIs(t, c.Get(ctx, "c", &s), ErrCacheMiss)
	require.NoError(t, c.Get(ctx, "b", &s))
	assert.Equal(t, "2", s)
}

func TestRedisLockExpires(t *testing.T) {
	c, mr := newRedis(t)
	ctx := context.Background()

	_, ok, err := c.TryLock(ctx, "lock:X", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = c.TryLock(ctx, "lock:X", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
