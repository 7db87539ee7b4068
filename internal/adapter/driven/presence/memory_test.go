package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/core/domain"
)

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	lock := NewMemoryLock()
	user := domain.NewUserID()
	first, second := domain.NewCallID(), domain.NewCallID()

	ok, err := lock.Acquire(ctx, user, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, user, first)
	require.NoError(t, err)
	assert.True(t, ok, "reentrant for the owning call")

	ok, err = lock.Acquire(ctx, user, second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, user, second))
	ok, _ = lock.Acquire(ctx, user, second)
	assert.False(t, ok, "a foreign release leaves the owner in place")

	require.NoError(t, lock.Release(ctx, user, first))
	ok, _ = lock.Acquire(ctx, user, second)
	assert.True(t, ok)
}
