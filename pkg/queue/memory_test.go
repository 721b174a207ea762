package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

type funcJob struct {
	typ string
	fn  func(ctx context.Context, payload interface{}) error
}

func (j funcJob) Name() string { return j.typ + "_job" }
func (j funcJob) Type() string { return j.typ }
func (j funcJob) Handle(ctx context.Context, payload interface{}) error {
	return j.fn(ctx, payload)
}

type greeting struct {
	Name string `json:"name"`
}

func TestMemoryQueueDeliversTypedPayload(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), &QueueConfig{Workers: 2, QueueSize: 8})

	var mu sync.Mutex
	var got []string
	q.RegisterJob(funcJob{typ: "greet", fn: func(_ context.Context, payload interface{}) error {
		g, err := ParsePayload[greeting](payload)
		if err != nil {
			return err
		}
		mu.Lock()
		got = append(got, g.Name)
		mu.Unlock()
		return nil
	}})
	require.NoError(t, q.Start())

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "greet", &greeting{Name: "a"}))
	require.NoError(t, q.Enqueue(ctx, "greet", greeting{Name: "b"}))

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, q.Stop(stopCtx))

	assert.ElementsMatch(t, []string{"a", "b"}, got)
}

func TestMemoryQueueUnknownType(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), nil)
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	assert.Error(t, q.Enqueue(context.Background(), "missing", nil))
}

func TestMemoryQueueFailureGoesToDeadLetters(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), &QueueConfig{Workers: 1})
	var calls atomic.Int32
	q.RegisterJob(funcJob{typ: "fail", fn: func(context.Context, interface{}) error {
		calls.Add(1)
		return errors.New("boom")
	}})
	require.NoError(t, q.Start())
	require.NoError(t, q.Enqueue(context.Background(), "fail", nil))
	require.NoError(t, q.Stop(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, q.DeadLetters())
}

func TestMemoryQueueEnqueueHonoursContextWhenFull(t *testing.T) {
	release := make(chan struct{})
	q := NewMemoryQueue(logger.Nop(), &QueueConfig{Workers: 1, QueueSize: 1})
	q.RegisterJob(funcJob{typ: "slow", fn: func(context.Context, interface{}) error {
		<-release
		return nil
	}})
	require.NoError(t, q.Start())

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "slow", nil))
	// wait until the worker holds the first message so the second one fills the buffer
	require.Eventually(t, func() bool { return len(q.msgCh) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, "slow", nil))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(short, "slow", nil), context.DeadlineExceeded)

	close(release)
	require.NoError(t, q.Stop(ctx))
}

func TestMemoryQueueEnqueueAfterStop(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), nil)
	q.RegisterJob(funcJob{typ: "x", fn: func(context.Context, interface{}) error { return nil }})
	require.NoError(t, q.Start())
	require.NoError(t, q.Stop(context.Background()))

	assert.Error(t, q.Enqueue(context.Background(), "x", nil))
}
