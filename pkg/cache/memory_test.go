package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rulesEntry struct {
	IDs    []int64 `json:"ids"`
	Symbol string  `json:"symbol"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "rules:TCS", rulesEntry{IDs: []int64{1, 2}, Symbol: "TCS"}, time.Minute))

	var got rulesEntry
	require.NoError(t, mc.Get(ctx, "rules:TCS", &got))
	assert.Equal(t, []int64{1, 2}, got.IDs)

	var raw string
	require.NoError(t, mc.Set(ctx, "plain", "value", 0))
	require.NoError(t, mc.Get(ctx, "plain", &raw))
	assert.Equal(t, "value", raw)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var v string
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	for _, k := range []string{"rules:a", "rules:b", "other"} {
		require.NoError(t, mc.Set(ctx, k, "x", time.Minute))
	}
	require.NoError(t, mc.DeleteByPattern(ctx, "rules:*"))

	var v string
	assert.ErrorIs(t, mc.Get(ctx, "rules:a", &v), ErrCacheMiss)
	assert.ErrorIs(t, mc.Get(ctx, "rules:b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "other", &v))
}

func TestMemoryCacheTryLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "lock:1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "lock:1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, mc.Unlock(ctx, "lock:1", "b"), ErrLockNotHeld)
	require.NoError(t, mc.Unlock(ctx, "lock:1", "a"))
	ok, err = mc.TryLock(ctx, "lock:1", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCacheExpiredLockIsNotReleasedByOldOwner(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "lock:1", "slow", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)

	ok, err = mc.TryLock(ctx, "lock:1", "next", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// the first owner's late unlock must not free the new holder's lock
	assert.ErrorIs(t, mc.Unlock(ctx, "lock:1", "slow"), ErrLockNotHeld)
	ok, err = mc.TryLock(ctx, "lock:1", "third", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheEvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	var v string
	assert.ErrorIs(t, mc.Get(ctx, "a", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "c", &v))
}
