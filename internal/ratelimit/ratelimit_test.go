package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_Burst(t *testing.T) {
	l := NewMemoryLimiter(1, 2)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "student-1"))
	assert.True(t, l.Allow(ctx, "student-1"))
	assert.False(t, l.Allow(ctx, "student-1"))

	// Keys are independent.
	assert.True(t, l.Allow(ctx, "student-2"))
	assert.Equal(t, 2, l.Size())
}

func TestMemoryLimiter_Defaults(t *testing.T) {
	l := NewMemoryLimiter(0, 0)
	assert.Equal(t, float64(defaultRPS), l.rps)
	assert.Equal(t, defaultBurst, l.burst)
	assert.True(t, l.Allow(context.Background(), ""))
}

func TestMemoryLimiter_PrunesIdleKeys(t *testing.T) {
	l := NewMemoryLimiter(1, 1)
	start := time.Now()
	l.now = func() time.Time { return start }
	l.Allow(context.Background(), "old")

	l.now = func() time.Time { return start.Add(time.Hour) }
	l.mu.Lock()
	l.pruneLocked(l.now())
	l.mu.Unlock()
	assert.Equal(t, 0, l.Size())
}

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	_, client := newRedisClient(t)
	l, err := NewRedisLimiter(client, "test:ratelimit", 2, time.Hour, false, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "student-1"))
	assert.True(t, l.Allow(ctx, "student-1"))
	assert.False(t, l.Allow(ctx, "student-1"))
	assert.True(t, l.Allow(ctx, "student-2"))
}

func TestRedisLimiter_RedisDown(t *testing.T) {
	mr, client := newRedisClient(t)
	closed, err := NewRedisLimiter(client, "", 1, time.Second, false, nil)
	require.NoError(t, err)
	open, err := NewRedisLimiter(client, "", 1, time.Second, true, nil)
	require.NoError(t, err)

	mr.Close()
	assert.False(t, closed.Allow(context.Background(), "k"))
	assert.True(t, open.Allow(context.Background(), "k"))
}

func TestRedisLimiter_Validation(t *testing.T) {
	_, client := newRedisClient(t)
	_, err := NewRedisLimiter(client, "", 0, time.Second, false, nil)
	assert.Error(t, err)
	_, err = NewRedisLimiter(nil, "", 1, time.Second, false, nil)
	assert.Error(t, err)
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow(context.Background(), "k"))
	}
}
