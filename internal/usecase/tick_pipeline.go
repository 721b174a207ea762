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

// ErrPipelineStopped is returned by Submit after Stop.
var ErrPipelineStopped = errors.New("tick pipeline stopped")

// TickRecorder is the write side of the time-series store.
type TickRecorder interface {
	RecordTick(t *models.Tick) error
}

// TickEvaluator runs the rules bound to a tick's symbol.
type TickEvaluator interface {
	Evaluate(ctx context.Context, t *models.Tick) ([]models.Trigger, error)
}

// TickPipeline is the orchestrator's sink. Each symbol gets its own lane, so ticks of one
// symbol are recorded and evaluated strictly in arrival order while symbols run in parallel.
type TickPipeline struct {
	store       TickRecorder
	evaluator   TickEvaluator
	broadcaster drepo.Broadcaster
	egress      *TickEgress
	metrics     drepo.Metrics
	lgr         *logger.Logger
	buffer      int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	lanes   map[string]chan *models.Tick
	stopped bool
	wg      sync.WaitGroup
}

// NewTickPipeline creates a new TickPipeline. broadcaster and egress may be nil.
func NewTickPipeline(
	store TickRecorder,
	evaluator TickEvaluator,
	broadcaster drepo.Broadcaster,
	egress *TickEgress,
	metrics drepo.Metrics,
	lgr *logger.Logger,
	buffer int,
) *TickPipeline {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TickPipeline{
		store:       store,
		evaluator:   evaluator,
		broadcaster: broadcaster,
		egress:      egress,
		metrics:     metrics,
		lgr:         lgr,
		buffer:      buffer,
		ctx:         ctx,
		cancel:      cancel,
		lanes:       make(map[string]chan *models.Tick),
	}
}

// Submit validates the tick and queues it on its symbol lane. It blocks while the lane is full.
func (p *TickPipeline) Submit(ctx context.Context, t *models.Tick) error {
	if err := t.Validate(); err != nil {
		p.metrics.RecordError("invalid_tick")
		return fmt.Errorf("invalid tick: %w", err)
	}

	ch, err := p.lane(t.Symbol)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPipelineStopped
	}
	select {
	case ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *TickPipeline) lane(symbol string) (chan *models.Tick, error) {
	p.mu.RLock()
	ch, ok := p.lanes[symbol]
	stopped := p.stopped
	p.mu.RUnlock()
	if stopped {
		return nil, ErrPipelineStopped
	}
	if ok {
		return ch, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrPipelineStopped
	}
	if ch, ok = p.lanes[symbol]; ok {
		return ch, nil
	}
	ch = make(chan *models.Tick, p.buffer)
	p.lanes[symbol] = ch
	p.wg.Add(1)
	go p.run(symbol, ch)
	p.lgr.Debug("lane started", logger.String("symbol", symbol))
	return ch, nil
}

func (p *TickPipeline) run(symbol string, ch <-chan *models.Tick) {
	defer p.wg.Done()
	for t := range ch {
		p.process(t)
	}
	p.lgr.Debug("lane drained", logger.String("symbol", symbol))
}

func (p *TickPipeline) process(t *models.Tick) {
	start := time.Now()

	if err := p.store.RecordTick(t); err != nil {
		if errors.Is(err, models.ErrBucketClosed) {
			p.metrics.RecordError("late_tick")
			p.lgr.Debug("late tick dropped", logger.String("symbol", t.Symbol), logger.Time("ts", t.Timestamp))
			return
		}
		p.metrics.RecordError("record_tick")
		p.lgr.Error("record tick", logger.String("symbol", t.Symbol), logger.Error(err))
		return
	}
	p.metrics.RecordTick(t.Source, t.Symbol)
	p.metrics.RecordLastPrice(t.Symbol, t.Price.InexactFloat64())

	if _, err := p.evaluator.Evaluate(p.ctx, t); err != nil {
		p.lgr.Error("evaluate rules", logger.String("symbol", t.Symbol), logger.Error(err))
	}

	if p.broadcaster != nil {
		p.broadcaster.Broadcast(t)
	}
	if p.egress != nil {
		p.egress.Process(p.ctx, t)
	}

	p.metrics.RecordLatency("pipeline", time.Since(start).Seconds())
}

// Stop rejects further submissions and drains every lane.
func (p *TickPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	for _, ch := range p.lanes {
		close(ch)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("drain lanes: %w", ctx.Err())
	}
}

// Lanes returns the number of symbol lanes started so far.
func (p *TickPipeline) Lanes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.lanes)
}
