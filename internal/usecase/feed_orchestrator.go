package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// maxBackoffFactor caps the poll interval stretch after failing cycles.
const maxBackoffFactor = 8

// FeedStatus is a snapshot of the orchestrator state.
type FeedStatus struct {
	Active      string    `json:"active_provider"`
	Candidates  []string  `json:"candidates"`
	Symbols     []string  `json:"symbols"`
	Fallback    bool      `json:"synthetic_fallback"`
	ActiveSince time.Time `json:"active_since"`
	LastCycle   time.Time `json:"last_cycle"`
	LastTicks   int       `json:"last_cycle_ticks"`
}

type cycleResult struct {
	ticks       int
	transient   int
	failed      int
	unavailable bool
}

// FeedOrchestrator owns the single polling loop over the active provider and fails over
// along the candidate list. Providers are tried once each, in order; when none of them
// comes up the fallback source takes over.
type FeedOrchestrator struct {
	candidates []drepo.FeedSource
	fallback   drepo.FeedSource
	symbols    []string
	sink       drepo.TickSink
	timeout    time.Duration
	metrics    drepo.Metrics
	lgr        *logger.Logger

	mu     sync.RWMutex
	next   int
	active drepo.FeedSource
	status FeedStatus

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeedOrchestrator creates a new FeedOrchestrator. fallback may be nil.
func NewFeedOrchestrator(
	candidates []drepo.FeedSource,
	fallback drepo.FeedSource,
	symbols []string,
	sink drepo.TickSink,
	timeout time.Duration,
	metrics drepo.Metrics,
	lgr *logger.Logger,
) *FeedOrchestrator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Name())
	}
	return &FeedOrchestrator{
		candidates: candidates,
		fallback:   fallback,
		symbols:    symbols,
		sink:       sink,
		timeout:    timeout,
		metrics:    metrics,
		lgr:        lgr,
		status:     FeedStatus{Candidates: names, Symbols: symbols},
	}
}

// ActiveProvider returns the name of the provider owning the loop, or "" before selection.
func (o *FeedOrchestrator) ActiveProvider() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.active == nil {
		return ""
	}
	return o.active.Name()
}

// Status returns a copy of the current state.
func (o *FeedOrchestrator) Status() FeedStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := o.status
	st.Candidates = append([]string(nil), o.status.Candidates...)
	st.Symbols = append([]string(nil), o.status.Symbols...)
	return st
}

// Start runs the loop in the background until Stop or ctx cancellation.
func (o *FeedOrchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	go func() {
		defer close(o.done)
		if err := o.Run(ctx); err != nil {
			o.lgr.Error("feed orchestrator stopped", logger.Error(err))
		}
	}()
}

// Stop cancels the loop and waits for the in-flight poll to finish or time out.
func (o *FeedOrchestrator) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
}

// Run blocks until ctx is cancelled or no provider can be started.
func (o *FeedOrchestrator) Run(ctx context.Context) error {
	for {
		src, first, err := o.selectProvider(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = o.poll(ctx, src, first)
		o.closeSource(src)
		o.setActive(nil)
		if ctx.Err() != nil {
			return nil
		}
		if src == o.fallback {
			return fmt.Errorf("fallback provider %s: %w", src.Name(), err)
		}
		o.lgr.Warn("provider became unavailable, failing over",
			logger.String("provider", src.Name()),
			logger.Error(err))
	}
}

// selectProvider starts candidates from the current position until one survives a first cycle.
func (o *FeedOrchestrator) selectProvider(ctx context.Context) (drepo.FeedSource, cycleResult, error) {
	for {
		o.mu.Lock()
		if o.next >= len(o.candidates) {
			o.mu.Unlock()
			break
		}
		c := o.candidates[o.next]
		o.next++
		o.mu.Unlock()

		if ctx.Err() != nil {
			return nil, cycleResult{}, ctx.Err()
		}
		res, err := o.tryProvider(ctx, c)
		if err == nil {
			return c, res, nil
		}
		o.lgr.Warn("provider failed, trying next",
			logger.String("provider", c.Name()),
			logger.Error(err))
	}

	if o.fallback == nil {
		return nil, cycleResult{}, fmt.Errorf("no feed provider available: %w", models.ErrProviderUnavailable)
	}
	if ctx.Err() != nil {
		return nil, cycleResult{}, ctx.Err()
	}
	o.lgr.Warn("all providers failed, using fallback", logger.String("provider", o.fallback.Name()))
	if err := o.fallback.Start(ctx); err != nil {
		return nil, cycleResult{}, fmt.Errorf("start fallback %s: %w", o.fallback.Name(), err)
	}
	o.setActive(o.fallback)
	o.mu.Lock()
	o.status.Fallback = true
	o.mu.Unlock()
	return o.fallback, o.cycle(ctx, o.fallback), nil
}

func (o *FeedOrchestrator) tryProvider(ctx context.Context, c drepo.FeedSource) (cycleResult, error) {
	if err := c.Start(ctx); err != nil {
		o.closeSource(c)
		return cycleResult{}, fmt.Errorf("start: %w", err)
	}
	o.setActive(c)
	res := o.cycle(ctx, c)
	switch {
	case res.unavailable:
		o.closeSource(c)
		o.setActive(nil)
		return res, models.ErrProviderUnavailable
	case len(o.symbols) > 0 && res.failed == len(o.symbols):
		o.closeSource(c)
		o.setActive(nil)
		return res, fmt.Errorf("every symbol failed on first cycle")
	}
	o.lgr.Info("feed provider active", logger.String("provider", c.Name()), logger.Int("ticks", res.ticks))
	return res, nil
}

func (o *FeedOrchestrator) poll(ctx context.Context, src drepo.FeedSource, last cycleResult) error {
	interval := src.PollInterval()
	if interval <= 0 {
		interval = time.Second
	}
	wait := nextWait(interval, interval, last)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		res := o.cycle(ctx, src)
		if res.unavailable {
			return models.ErrProviderUnavailable
		}
		wait = nextWait(interval, wait, res)
		timer.Reset(wait)
	}
}

// nextWait doubles the wait after a cycle with errors, up to maxBackoffFactor x interval,
// and resets it after a clean cycle.
func nextWait(interval, current time.Duration, res cycleResult) time.Duration {
	if res.transient == 0 && res.failed == 0 {
		return interval
	}
	if current < interval {
		current = interval
	}
	next := current * 2
	if limit := interval * maxBackoffFactor; next > limit {
		next = limit
	}
	return next
}

// cycle polls every symbol once, sequentially, and forwards fresh ticks to the sink.
func (o *FeedOrchestrator) cycle(ctx context.Context, src drepo.FeedSource) cycleResult {
	var res cycleResult
	name := src.Name()
	for _, sym := range o.symbols {
		if ctx.Err() != nil {
			break
		}
		fctx, cancel := context.WithTimeout(ctx, o.timeout)
		t, err := src.Fetch(fctx, sym)
		cancel()

		if err != nil {
			switch {
			case errors.Is(err, models.ErrProviderUnavailable):
				res.unavailable = true
				return res
			case errors.Is(err, models.ErrTransientFetch), errors.Is(err, context.DeadlineExceeded):
				res.transient++
				o.metrics.RecordPollError(name)
				o.lgr.Debug("transient poll error", logger.String("provider", name), logger.String("symbol", sym), logger.Error(err))
			default:
				res.failed++
				o.metrics.RecordPollError(name)
				o.lgr.Warn("poll error", logger.String("provider", name), logger.String("symbol", sym), logger.Error(err))
			}
			continue
		}
		if t == nil {
			continue
		}
		if t.Source == "" {
			t.Source = name
		}
		if err := o.sink(ctx, t); err != nil {
			if ctx.Err() == nil {
				o.lgr.Error("submit tick", logger.String("symbol", sym), logger.Error(err))
			}
			continue
		}
		res.ticks++
	}

	o.mu.Lock()
	o.status.LastCycle = time.Now().UTC()
	o.status.LastTicks = res.ticks
	o.mu.Unlock()
	return res
}

func (o *FeedOrchestrator) setActive(src drepo.FeedSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = src
	if src == nil {
		o.status.Active = ""
		return
	}
	o.status.Active = src.Name()
	o.status.ActiveSince = time.Now().UTC()
	o.metrics.RecordActiveProvider(src.Name())
}

func (o *FeedOrchestrator) closeSource(src drepo.FeedSource) {
	if err := src.Close(); err != nil {
		o.lgr.Warn("close provider", logger.String("provider", src.Name()), logger.Error(err))
	}
}
