package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
	"github.com/vijayshreepathak/QuantAlert/pkg/metrics"
)

type orderRecorder struct {
	mu    sync.Mutex
	order map[string][]string
	delay time.Duration
}

func (r *orderRecorder) RecordTick(t *models.Tick) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.order == nil {
		r.order = make(map[string][]string)
	}
	r.order[t.Symbol] = append(r.order[t.Symbol], t.Price.String())
	return nil
}

type countingEvaluator struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEvaluator) Evaluate(context.Context, *models.Tick) ([]models.Trigger, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return nil, nil
}

type collectingBroadcaster struct {
	mu    sync.Mutex
	ticks []*models.Tick
}

func (b *collectingBroadcaster) Broadcast(t *models.Tick) {
	b.mu.Lock()
	b.ticks = append(b.ticks, t)
	b.mu.Unlock()
}

type collectingArchive struct {
	mu    sync.Mutex
	ticks int
}

func (a *collectingArchive) Add(*models.Tick) bool {
	a.mu.Lock()
	a.ticks++
	a.mu.Unlock()
	return true
}

func TestPipelinePreservesPerSymbolOrder(t *testing.T) {
	rec := &orderRecorder{delay: 100 * time.Microsecond}
	ev := &countingEvaluator{}
	bc := &collectingBroadcaster{}
	arch := &collectingArchive{}
	egress := NewTickEgress(nil, arch, metrics.Noop{}, logger.Nop(), time.Second)
	p := NewTickPipeline(rec, ev, bc, egress, metrics.Noop{}, logger.Nop(), 4)

	symbols := []string{"RELIANCE", "TCS", "INFY"}
	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				price := fmt.Sprintf("%d", 1000+i)
				assert.NoError(t, p.Submit(context.Background(), tick(sym, price, 1, t0.Add(time.Duration(i)*time.Second))))
			}
		}(sym)
	}
	wg.Wait()
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 3, p.Lanes())
	for _, sym := range symbols {
		got := rec.order[sym]
		require.Len(t, got, 50)
		for i, price := range got {
			assert.Equal(t, fmt.Sprintf("%d", 1000+i), price)
		}
	}
	assert.Equal(t, 150, ev.calls)
	assert.Len(t, bc.ticks, 150)
	assert.Equal(t, 150, arch.ticks)
}

func TestPipelineRejectsInvalidTicks(t *testing.T) {
	p := NewTickPipeline(&orderRecorder{}, &countingEvaluator{}, nil, nil, metrics.Noop{}, logger.Nop(), 1)
	defer p.Stop(context.Background())

	assert.Error(t, p.Submit(context.Background(), tick("", "1", 1, t0)))
	assert.Error(t, p.Submit(context.Background(), &models.Tick{Symbol: "TCS"}))
	assert.Equal(t, 0, p.Lanes())
}

func TestPipelineSubmitAfterStop(t *testing.T) {
	p := NewTickPipeline(&orderRecorder{}, &countingEvaluator{}, nil, nil, metrics.Noop{}, logger.Nop(), 1)
	require.NoError(t, p.Stop(context.Background()))
	assert.ErrorIs(t, p.Submit(context.Background(), tick("TCS", "1", 1, t0)), ErrPipelineStopped)
}

func TestPipelineSubmitHonoursContextWhenLaneFull(t *testing.T) {
	rec := &orderRecorder{delay: 200 * time.Millisecond}
	p := NewTickPipeline(rec, &countingEvaluator{}, nil, nil, metrics.Noop{}, logger.Nop(), 1)
	defer p.Stop(context.Background())

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, tick("TCS", "1", 1, t0)))
	// the lane goroutine holds the first tick; this one fills the buffer
	require.NoError(t, p.Submit(ctx, tick("TCS", "2", 1, t0)))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := p.Submit(short, tick("TCS", "3", 1, t0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type errorCounter struct {
	metrics.Noop
	mu    sync.Mutex
	kinds map[string]int
}

func (m *errorCounter) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kinds == nil {
		m.kinds = make(map[string]int)
	}
	m.kinds[kind]++
}

func TestPipelineDropsLateTicks(t *testing.T) {
	store := NewTimeSeriesStore(time.Minute, 0).WithClock(func() time.Time { return t0.Add(2 * time.Minute) })
	ev := &countingEvaluator{}
	m := &errorCounter{}
	p := NewTickPipeline(store, ev, nil, nil, m, logger.Nop(), 4)

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, tick("TCS", "150", 5, t0.Add(50*time.Second))))
	require.NoError(t, p.Submit(ctx, tick("TCS", "101", 1, t0.Add(2*time.Minute+time.Second))))
	require.NoError(t, p.Stop(ctx))

	assert.Equal(t, 1, ev.calls)
	assert.Equal(t, 1, m.kinds["late_tick"])
	assert.Zero(t, m.kinds["record_tick"])
	assert.Len(t, store.Ticks("TCS"), 1)
}
