package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/core/domain"
)

func TestRedisLock(t *testing.T) {
	addr := os.Getenv("YACALL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("YACALL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := OpenRedis(ctx, RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	lock := NewRedisLock(rdb, time.Minute)
	user := domain.NewUserID()
	first, second := domain.NewCallID(), domain.NewCallID()
	t.Cleanup(func() { _ = rdb.Del(ctx, lock.key(user)).Err() })

	ok, err := lock.Acquire(ctx, user, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, user, second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, user, second), "releasing someone else's lock is a no-op")
	ok, err = lock.Acquire(ctx, user, second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, user, first))
	ok, err = lock.Acquire(ctx, user, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
