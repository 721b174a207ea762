package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New().WithClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("av", 5, PerMinute(5)), "call %d", i)
	}
	assert.False(t, l.Allow("av", 5, PerMinute(5)))

	// a separate key has its own budget
	assert.True(t, l.Allow("other", 1, 1))

	now = now.Add(13 * time.Second)
	assert.True(t, l.Allow("av", 5, PerMinute(5)))
	assert.False(t, l.Allow("av", 5, PerMinute(5)))
}

func TestReserveReportsDelay(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New().WithClock(func() time.Time { return now })

	assert.Zero(t, l.reserve("k", 1, 0.5))
	assert.Equal(t, 2*time.Second, l.reserve("k", 1, 0.5))
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	assert.NoError(t, l.Wait(context.Background(), "k", 1, 0.01))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, "k", 1, 0.01), context.DeadlineExceeded)
}

func TestWaitReturnsAfterRefill(t *testing.T) {
	l := New()
	assert.True(t, l.Allow("k", 1, 100))
	start := time.Now()
	assert.NoError(t, l.Wait(context.Background(), "k", 1, 100))
	assert.Less(t, time.Since(start), time.Second)
}
