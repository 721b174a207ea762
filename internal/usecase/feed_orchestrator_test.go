package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
	"github.com/vijayshreepathak/QuantAlert/pkg/metrics"
)

type fakeFeed struct {
	name     string
	startErr error
	// fetch is consulted per call; nil returns a fresh tick.
	fetch func(call int, symbol string) (*models.Tick, error)

	mu      sync.Mutex
	starts  int
	fetches int
	closed  int
}

func (f *fakeFeed) Name() string                { return f.name }
func (f *fakeFeed) PollInterval() time.Duration { return 5 * time.Millisecond }

func (f *fakeFeed) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeFeed) Fetch(_ context.Context, symbol string) (*models.Tick, error) {
	f.mu.Lock()
	f.fetches++
	call := f.fetches
	f.mu.Unlock()
	t, err := tick(symbol, "100", 1, time.Now()), error(nil)
	if f.fetch != nil {
		t, err = f.fetch(call, symbol)
	}
	if t != nil {
		t.Source = f.name
	}
	return t, err
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeFeed) stats() (starts, fetches, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.fetches, f.closed
}

type tickCollector struct {
	mu    sync.Mutex
	ticks []*models.Tick
}

func (c *tickCollector) sink(_ context.Context, t *models.Tick) error {
	c.mu.Lock()
	c.ticks = append(c.ticks, t)
	c.mu.Unlock()
	return nil
}

func (c *tickCollector) sources() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]int{}
	for _, t := range c.ticks {
		out[t.Source]++
	}
	return out
}

func newOrchestrator(candidates []drepo.FeedSource, fallback drepo.FeedSource, c *tickCollector) *FeedOrchestrator {
	return NewFeedOrchestrator(candidates, fallback, []string{"RELIANCE", "TCS"}, c.sink, time.Second, metrics.Noop{}, logger.Nop())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestratorFailoverStopsAtFirstSuccess(t *testing.T) {
	a := &fakeFeed{name: "a", startErr: fmt.Errorf("auth: %w", models.ErrProviderUnavailable)}
	b := &fakeFeed{name: "b"}
	c := &fakeFeed{name: "c"}
	synth := &fakeFeed{name: "synthetic"}
	col := &tickCollector{}

	o := newOrchestrator([]drepo.FeedSource{a, b, c}, synth, col)
	o.Start(context.Background())
	waitFor(t, func() bool { return col.sources()["b"] >= 4 })
	o.Stop()

	assert.Equal(t, "", o.ActiveProvider())
	aStarts, _, _ := a.stats()
	cStarts, _, _ := c.stats()
	sStarts, _, _ := synth.stats()
	assert.Equal(t, 1, aStarts)
	assert.Equal(t, 0, cStarts)
	assert.Equal(t, 0, sStarts)
	_, _, bClosed := b.stats()
	assert.Equal(t, 1, bClosed)
}

func TestOrchestratorActiveProvider(t *testing.T) {
	b := &fakeFeed{name: "b"}
	col := &tickCollector{}
	o := newOrchestrator([]drepo.FeedSource{b}, nil, col)
	o.Start(context.Background())
	defer o.Stop()

	waitFor(t, func() bool { return o.ActiveProvider() == "b" })
	st := o.Status()
	assert.Equal(t, "b", st.Active)
	assert.False(t, st.Fallback)
	assert.Equal(t, []string{"b"}, st.Candidates)
}

func TestOrchestratorAllFailUsesFallback(t *testing.T) {
	a := &fakeFeed{name: "a", startErr: models.ErrProviderUnavailable}
	b := &fakeFeed{name: "b", fetch: func(int, string) (*models.Tick, error) {
		return nil, errors.New("bad symbol")
	}}
	synth := &fakeFeed{name: "synthetic"}
	col := &tickCollector{}

	o := newOrchestrator([]drepo.FeedSource{a, b}, synth, col)
	o.Start(context.Background())
	waitFor(t, func() bool { return col.sources()["synthetic"] >= 2 })

	assert.Equal(t, "synthetic", o.ActiveProvider())
	assert.True(t, o.Status().Fallback)
	o.Stop()

	_, _, bClosed := b.stats()
	assert.Equal(t, 1, bClosed)
	assert.Zero(t, col.sources()["b"])
}

func TestOrchestratorFirstCycleUnavailableAdvances(t *testing.T) {
	a := &fakeFeed{name: "a", fetch: func(int, string) (*models.Tick, error) {
		return nil, fmt.Errorf("401: %w", models.ErrProviderUnavailable)
	}}
	b := &fakeFeed{name: "b"}
	col := &tickCollector{}

	o := newOrchestrator([]drepo.FeedSource{a, b}, nil, col)
	o.Start(context.Background())
	waitFor(t, func() bool { return col.sources()["b"] > 0 })
	o.Stop()

	_, aFetches, aClosed := a.stats()
	assert.Equal(t, 1, aFetches)
	assert.Equal(t, 1, aClosed)
}

func TestOrchestratorRuntimeUnavailableFailsOverToNext(t *testing.T) {
	a := &fakeFeed{name: "a", fetch: func(call int, symbol string) (*models.Tick, error) {
		if call > 4 {
			return nil, models.ErrProviderUnavailable
		}
		return tick(symbol, "1", 1, time.Now()), nil
	}}
	b := &fakeFeed{name: "b"}
	col := &tickCollector{}

	o := newOrchestrator([]drepo.FeedSource{a, b}, nil, col)
	o.Start(context.Background())
	waitFor(t, func() bool { return col.sources()["b"] > 0 })
	o.Stop()

	assert.Equal(t, 4, col.sources()["a"])
	aStarts, _, aClosed := a.stats()
	assert.Equal(t, 1, aStarts)
	assert.Equal(t, 1, aClosed)
}

func TestOrchestratorTransientErrorsKeepProvider(t *testing.T) {
	a := &fakeFeed{name: "a", fetch: func(call int, symbol string) (*models.Tick, error) {
		if call%2 == 0 {
			return nil, fmt.Errorf("timeout: %w", models.ErrTransientFetch)
		}
		return tick(symbol, "1", 1, time.Now()), nil
	}}
	b := &fakeFeed{name: "b"}
	col := &tickCollector{}

	o := newOrchestrator([]drepo.FeedSource{a, b}, nil, col)
	o.Start(context.Background())
	waitFor(t, func() bool { return col.sources()["a"] >= 3 })
	o.Stop()

	bStarts, _, _ := b.stats()
	assert.Equal(t, 0, bStarts)
}

func TestOrchestratorNoProviderNoFallback(t *testing.T) {
	a := &fakeFeed{name: "a", startErr: models.ErrProviderUnavailable}
	o := newOrchestrator([]drepo.FeedSource{a}, nil, &tickCollector{})
	err := o.Run(context.Background())
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestOrchestratorSkipsEmptyFetches(t *testing.T) {
	a := &fakeFeed{name: "a", fetch: func(int, string) (*models.Tick, error) { return nil, nil }}
	col := &tickCollector{}
	o := newOrchestrator([]drepo.FeedSource{a}, nil, col)
	o.Start(context.Background())
	waitFor(t, func() bool {
		_, fetches, _ := a.stats()
		return fetches >= 6
	})
	o.Stop()
	assert.Empty(t, col.sources())
	assert.Equal(t, "", o.ActiveProvider())
}

func TestNextWait(t *testing.T) {
	iv := time.Second
	clean := cycleResult{ticks: 2}
	bad := cycleResult{transient: 1}

	assert.Equal(t, iv, nextWait(iv, 4*iv, clean))
	assert.Equal(t, 2*iv, nextWait(iv, iv, bad))
	assert.Equal(t, 4*iv, nextWait(iv, 2*iv, bad))
	assert.Equal(t, 8*iv, nextWait(iv, 4*iv, bad))
	assert.Equal(t, 8*iv, nextWait(iv, 8*iv, bad))
}
