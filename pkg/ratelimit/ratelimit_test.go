package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFixedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory(7, 10*time.Second)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 7; i++ {
		ok, err := l.Allow(ctx, "msg:alice")
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i+1)
	}
	ok, _ := l.Allow(ctx, "msg:alice")
	assert.False(t, ok, "8th hit in window")

	other, _ := l.Allow(ctx, "msg:bob")
	assert.True(t, other, "keys are independent")

	now = now.Add(9 * time.Second)
	ok, _ = l.Allow(ctx, "msg:alice")
	assert.False(t, ok, "window has not elapsed")

	now = now.Add(time.Second)
	ok, _ = l.Allow(ctx, "msg:alice")
	assert.True(t, ok, "new window")
}

func TestMemoryPrunesOldWindows(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewMemory(1, time.Second)
	l.SetClock(func() time.Time { return now })

	for _, k := range []string{"a", "b", "c"} {
		_, _ = l.Allow(ctx, k)
	}
	now = now.Add(2 * time.Second)
	_, _ = l.Allow(ctx, "d")
	assert.Len(t, l.windows, 1)
}

func TestRedisFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	l := NewRedis(rdb, 3, 10*time.Second)

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, MessageKey("alice"))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, MessageKey("alice"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 10*time.Second, mr.TTL(MessageKey("alice")))

	mr.FastForward(10 * time.Second)
	ok, err = l.Allow(ctx, MessageKey("alice"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, err := NewRedis(rdb, 3, time.Second).Allow(context.Background(), "k")
	assert.Error(t, err)
}

// flakyExpire fails the first n EXPIRE calls.
type flakyExpire struct {
	redis.Cmdable
	n int
}

func (f *flakyExpire) Expire(ctx context.Context, key string, d time.Duration) *redis.BoolCmd {
	if f.n > 0 {
		f.n--
		return redis.NewBoolResult(false, errors.New("connection reset"))
	}
	return f.Cmdable.Expire(ctx, key, d)
}

func TestRedisRearmsLostExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	key := MessageKey("alice")
	l := NewRedis(&flakyExpire{Cmdable: rdb, n: 1}, 3, 10*time.Second)

	_, err := l.Allow(ctx, key)
	require.Error(t, err)
	assert.Zero(t, mr.TTL(key), "first expiry was lost")

	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, mr.TTL(key))

	for i := 0; i < 2; i++ {
		ok, err = l.Allow(ctx, key)
		require.NoError(t, err)
	}
	assert.False(t, ok, "window is full")

	mr.FastForward(10 * time.Second)
	ok, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "window ended")
}
