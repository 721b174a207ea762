package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayshreepathak/QuantAlert/pkg/cache"
)

func TestCacheLockerLateUnlockKeepsNewHolder(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	slow := NewCacheLocker(c, 10*time.Millisecond)
	unlockSlow, err := slow.Lock(ctx, 7)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	other := NewCacheLocker(c, time.Minute)
	unlockOther, err := other.Lock(ctx, 7)
	require.NoError(t, err)

	// the expired holder finishes late
	unlockSlow()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = other.Lock(short, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockOther()
	unlock, err := other.Lock(ctx, 7)
	require.NoError(t, err)
	unlock()
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), 1)
	require.NoError(t, err)
	unlock()
	assert.Empty(t, k.locks)
}
