package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	domrepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// BatchStore is the downstream the buffer flushes into.
type BatchStore interface {
	StoreBatch(ctx context.Context, ticks []*models.Tick) error
}

// ArchiveBuffer sits between the tick pipeline and the archive.
// It batches ticks, flushes on size or interval, and holds a failed batch for retry
// with capped exponential backoff. When the buffer is full new ticks are dropped.
type ArchiveBuffer struct {
	store     BatchStore
	metrics   domrepo.Metrics
	lgr       *logger.Logger
	batchSize int
	interval  time.Duration
	bufCh     chan *models.Tick
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	mu        sync.Mutex
}

type BufferOption func(*ArchiveBuffer)

// WithBatchSize sets the number of ticks per flush.
func WithBatchSize(n int) BufferOption {
	return func(b *ArchiveBuffer) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithBufferSize sets how many ticks may wait for the archive.
func WithBufferSize(n int) BufferOption {
	return func(b *ArchiveBuffer) {
		if n > 0 {
			b.bufCh = make(chan *models.Tick, n)
		}
	}
}

// WithFlushInterval sets the maximum time a tick waits before a flush.
func WithFlushInterval(d time.Duration) BufferOption {
	return func(b *ArchiveBuffer) {
		if d > 0 {
			b.interval = d
		}
	}
}

// NewArchiveBuffer creates a new buffer.
func NewArchiveBuffer(store BatchStore, metrics domrepo.Metrics, lgr *logger.Logger, opts ...BufferOption) *ArchiveBuffer {
	b := &ArchiveBuffer{
		store:     store,
		metrics:   metrics,
		lgr:       lgr,
		batchSize: 500,
		interval:  2 * time.Second,
		bufCh:     make(chan *models.Tick, 5000),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add queues a tick without blocking.
func (b *ArchiveBuffer) Add(t *models.Tick) bool {
	select {
	case b.bufCh <- t:
		return true
	default:
		b.metrics.RecordError("archive_buffer_full")
		return false
	}
}

// Start launches background flushing of buffered ticks.
func (b *ArchiveBuffer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.loop(ctx)
}

func (b *ArchiveBuffer) loop(ctx context.Context) {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	batch := make([]*models.Tick, 0, b.batchSize)
	backoff := 50 * time.Millisecond

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := b.store.StoreBatch(ctx, batch); err != nil {
			b.metrics.RecordError("archive_flush")
			b.lgr.Warn("archive flush failed",
				logger.Int("ticks", len(batch)),
				logger.Duration("backoff", backoff),
				logger.Error(err))
			// exponential backoff with cap
			select {
			case <-time.After(backoff):
			case <-b.stopCh:
			}
			if backoff < 2*time.Second {
				backoff *= 2
			}
			if len(batch) >= cap(b.bufCh) {
				b.metrics.RecordError("archive_buffer_drop")
				batch = batch[:0]
			}
			return
		}
		backoff = 50 * time.Millisecond
		b.metrics.RecordLatency("archive_flush", time.Since(start).Seconds())
		batch = batch[:0]
	}

	for {
		select {
		case <-b.stopCh:
			for {
				select {
				case t := <-b.bufCh:
					batch = append(batch, t)
				default:
					fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					flush(fctx)
					cancel()
					return
				}
			}
		case t := <-b.bufCh:
			batch = append(batch, t)
			if len(batch) >= b.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Stop flushes what is buffered (one attempt) and stops the background loop.
func (b *ArchiveBuffer) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.mu.Unlock()
	close(b.stopCh)
	<-b.doneCh
}
