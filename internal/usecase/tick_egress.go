package usecase

import (
	"context"
	"time"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// ArchiveSink accepts ticks for asynchronous archiving.
type ArchiveSink interface {
	Add(t *models.Tick) bool
}

// TickEgress forwards recorded ticks to the optional downstream backends:
// a tick event topic and the archive buffer. Either may be nil.
type TickEgress struct {
	pub     drepo.Publisher
	archive ArchiveSink
	metrics drepo.Metrics
	lgr     *logger.Logger
	timeout time.Duration
}

// NewTickEgress creates a new TickEgress instance.
func NewTickEgress(pub drepo.Publisher, archive ArchiveSink, metrics drepo.Metrics, lgr *logger.Logger, timeout time.Duration) *TickEgress {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TickEgress{pub: pub, archive: archive, metrics: metrics, lgr: lgr, timeout: timeout}
}

// Enabled reports whether any backend is configured.
func (e *TickEgress) Enabled() bool {
	return e != nil && (e.pub != nil || e.archive != nil)
}

// Process routes a single tick to the configured backends. Failures are logged, not returned.
func (e *TickEgress) Process(ctx context.Context, t *models.Tick) {
	if e.pub != nil {
		start := time.Now()
		pctx, cancel := context.WithTimeout(ctx, e.timeout)
		err := e.pub.Publish(pctx, t)
		cancel()
		if err != nil {
			e.metrics.RecordError("publish_tick")
			e.lgr.Warn("publish tick", logger.String("symbol", t.Symbol), logger.Error(err))
		} else {
			e.metrics.RecordLatency("publish_tick", time.Since(start).Seconds())
		}
	}
	if e.archive != nil {
		e.archive.Add(t)
	}
}

// Close closes the publisher.
func (e *TickEgress) Close() {
	if e.pub != nil {
		_ = e.pub.Close()
	}
}
